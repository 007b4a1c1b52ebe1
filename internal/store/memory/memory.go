package memory

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/PhuocHoan/CoolWear-sub000/internal/catalog"
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
	"github.com/PhuocHoan/CoolWear-sub000/internal/lifecycle"
	"github.com/PhuocHoan/CoolWear-sub000/internal/store"
	"github.com/PhuocHoan/CoolWear-sub000/internal/xid"
)

//go:embed seed.yaml
var seedCatalog []byte

type Store struct {
	mu              sync.RWMutex
	seq             map[string]int64
	categories      map[int64]domain.ProductCategory
	colors          map[int64]domain.ProductColor
	sizes           map[int64]domain.ProductSize
	paymentMethods  map[int64]domain.PaymentMethod
	products        map[int64]domain.Product
	variants        map[int64]domain.ProductVariant
	customers       map[int64]domain.Customer
	orders          map[int64]domain.Order
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store with no catalog, customers or accounts.
func New() *Store {
	return &Store{
		seq:             make(map[string]int64),
		categories:      make(map[int64]domain.ProductCategory),
		colors:          make(map[int64]domain.ProductColor),
		sizes:           make(map[int64]domain.ProductSize),
		paymentMethods:  make(map[int64]domain.PaymentMethod),
		products:        make(map[int64]domain.Product),
		variants:        make(map[int64]domain.ProductVariant),
		customers:       make(map[int64]domain.Customer),
		orders:          make(map[int64]domain.Order),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

type seedFile struct {
	Categories     []string `yaml:"categories"`
	Colors         []string `yaml:"colors"`
	Sizes          []string `yaml:"sizes"`
	PaymentMethods []string `yaml:"payment_methods"`
	Products       []struct {
		Name        string `yaml:"name"`
		Category    string `yaml:"category"`
		ImportPrice int64  `yaml:"import_price"`
		SalePrice   int64  `yaml:"sale_price"`
		Variants    []struct {
			Color string `yaml:"color"`
			Size  string `yaml:"size"`
			Stock int    `yaml:"stock"`
		} `yaml:"variants"`
	} `yaml:"products"`
	Customers []struct {
		Name    string `yaml:"name"`
		Email   string `yaml:"email"`
		Phone   string `yaml:"phone"`
		Address string `yaml:"address"`
		Points  int64  `yaml:"points"`
	} `yaml:"customers"`
}

// NewSeeded builds a store for dev/demo mode from the embedded catalog plus
// an owner and a staff account. Passwords come from SEED_OWNER_PASSWORD and
// SEED_STAFF_PASSWORD, falling back to dev defaults with a warning. The
// server only uses this store when DATABASE_URL is unset.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	if err := s.loadSeed(seedCatalog); err != nil {
		return nil, fmt.Errorf("load seed catalog: %w", err)
	}

	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s, nil
}

func (s *Store) loadSeed(raw []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return err
	}

	categoryIDs := make(map[string]int64, len(seed.Categories))
	for _, name := range seed.Categories {
		id := s.nextID("category")
		s.categories[id] = domain.ProductCategory{ID: id, Name: name, State: domain.RecordActive}
		categoryIDs[name] = id
	}
	colorIDs := make(map[string]int64, len(seed.Colors))
	for _, name := range seed.Colors {
		id := s.nextID("color")
		s.colors[id] = domain.ProductColor{ID: id, Name: name, State: domain.RecordActive}
		colorIDs[name] = id
	}
	sizeIDs := make(map[string]int64, len(seed.Sizes))
	for _, name := range seed.Sizes {
		id := s.nextID("size")
		s.sizes[id] = domain.ProductSize{ID: id, Name: name, State: domain.RecordActive}
		sizeIDs[name] = id
	}
	for _, name := range seed.PaymentMethods {
		id := s.nextID("payment_method")
		s.paymentMethods[id] = domain.PaymentMethod{ID: id, Name: name}
	}

	for _, p := range seed.Products {
		categoryID, ok := categoryIDs[p.Category]
		if !ok {
			return fmt.Errorf("product %q: unknown category %q", p.Name, p.Category)
		}
		product := domain.Product{
			Name:        p.Name,
			ImportPrice: p.ImportPrice,
			SalePrice:   p.SalePrice,
			CategoryID:  categoryID,
		}
		for _, v := range p.Variants {
			colorID, okColor := colorIDs[v.Color]
			sizeID, okSize := sizeIDs[v.Size]
			if !okColor || !okSize {
				return fmt.Errorf("product %q: unknown variant %s/%s", p.Name, v.Color, v.Size)
			}
			product.Variants = append(product.Variants, domain.ProductVariant{ColorID: colorID, SizeID: sizeID, Stock: v.Stock})
		}
		if _, err := s.insertProduct(product); err != nil {
			return fmt.Errorf("product %q: %w", p.Name, err)
		}
	}

	now := time.Now().UTC()
	for _, c := range seed.Customers {
		id := s.nextID("customer")
		s.customers[id] = domain.Customer{
			ID:        id,
			Name:      c.Name,
			Email:     c.Email,
			Phone:     c.Phone,
			Address:   c.Address,
			Points:    c.Points,
			CreatedAt: now,
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) ListProducts(_ context.Context, categoryID int64, search string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.State.IsActive() {
			continue
		}
		if categoryID > 0 && p.CategoryID != categoryID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		p.Variants = s.variantsOf(p.ID, false)
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Variants = s.variantsOf(id, true)
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertProduct(product)
}

func (s *Store) insertProduct(product domain.Product) (*domain.Product, error) {
	if err := s.validateProductRow(product); err != nil {
		return nil, err
	}
	product.Variants = slices.Clone(product.Variants)
	for i := range product.Variants {
		product.Variants[i].State = domain.RecordActive
	}
	if err := catalog.ValidateVariantSet(product.Variants); err != nil {
		return nil, err
	}
	for _, v := range product.Variants {
		if err := s.validateVariantRow(v); err != nil {
			return nil, err
		}
	}

	product.ID = s.nextID("product")
	product.State = domain.RecordActive
	variants := product.Variants
	product.Variants = nil
	s.products[product.ID] = product
	for _, v := range variants {
		v.ID = s.nextID("variant")
		v.ProductID = product.ID
		s.variants[v.ID] = v
	}

	created := product
	created.Variants = s.variantsOf(product.ID, true)
	return &created, nil
}

// SaveProductGraph writes the product row and its variant plan as one unit.
// Every precondition is checked before the first write.
func (s *Store) SaveProductGraph(_ context.Context, graph store.ProductGraph) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product := graph.Product
	current, ok := s.products[product.ID]
	if !ok || !current.State.IsActive() {
		return nil, &store.StaleEntityError{Entity: "product", ID: product.ID}
	}
	if err := s.validateProductRow(product); err != nil {
		return nil, err
	}

	plan := graph.Plan
	touched := make([]int64, 0, len(plan.Updates)+len(plan.SoftDeletes)+len(plan.HardDeletes))
	for _, u := range plan.Updates {
		if u.NewStock < 0 {
			return nil, catalog.ErrNegativeStock
		}
		touched = append(touched, u.VariantID)
	}
	touched = append(touched, plan.SoftDeletes...)
	touched = append(touched, plan.HardDeletes...)
	for _, id := range touched {
		v, ok := s.variants[id]
		if !ok || v.ProductID != product.ID || !v.State.IsActive() {
			return nil, &store.StaleEntityError{Entity: "variant", ID: id}
		}
	}
	ordered := s.orderedVariantIDs()
	for _, id := range plan.HardDeletes {
		if ordered[id] {
			return nil, fmt.Errorf("variant %d has orders and cannot be hard-deleted: %w", id, store.ErrConflict)
		}
	}
	for _, v := range plan.Additions {
		if err := s.validateVariantRow(v); err != nil {
			return nil, err
		}
	}

	result := plan.Apply(product.ID, s.variantsOf(product.ID, true))
	if err := catalog.ValidateVariantSet(result); err != nil {
		return nil, err
	}

	current.Name = product.Name
	current.ImportPrice = product.ImportPrice
	current.SalePrice = product.SalePrice
	current.CategoryID = product.CategoryID
	current.ImageURL = product.ImageURL
	s.products[product.ID] = current

	for _, id := range plan.HardDeletes {
		delete(s.variants, id)
	}
	for _, v := range result {
		if v.ID == 0 {
			v.ID = s.nextID("variant")
		}
		s.variants[v.ID] = v
	}

	saved := current
	saved.Variants = s.variantsOf(product.ID, true)
	return &saved, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64, soft bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	variants := s.variantsOf(id, true)
	if soft {
		product.State = domain.RecordDeleted
		s.products[id] = product
		for _, v := range variants {
			v.State = domain.RecordDeleted
			s.variants[v.ID] = v
		}
		return nil
	}

	ordered := s.orderedVariantIDs()
	for _, v := range variants {
		if ordered[v.ID] {
			return fmt.Errorf("product %d has orders: %w", id, store.ErrConflict)
		}
	}
	for _, v := range variants {
		delete(s.variants, v.ID)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) VariantHasOrders(_ context.Context, variantIDs []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedVariantIDs()
	result := make(map[int64]bool, len(variantIDs))
	for _, id := range variantIDs {
		result[id] = ordered[id]
	}
	return result, nil
}

func (s *Store) ListColors(_ context.Context) ([]domain.ProductColor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return activeLookups(s.colors, func(c domain.ProductColor) (string, domain.RecordState) { return c.Name, c.State }), nil
}

func (s *Store) CreateColor(_ context.Context, name string) (*domain.ProductColor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	if lookupNameTaken(s.colors, name, func(c domain.ProductColor) (string, domain.RecordState) { return c.Name, c.State }) {
		return nil, fmt.Errorf("color %q exists: %w", name, store.ErrConflict)
	}
	color := domain.ProductColor{ID: s.nextID("color"), Name: name, State: domain.RecordActive}
	s.colors[color.ID] = color
	return &color, nil
}

func (s *Store) DeleteColor(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	color, ok := s.colors[id]
	if !ok || !color.State.IsActive() {
		return store.ErrNotFound
	}
	color.State = domain.RecordDeleted
	s.colors[id] = color
	return nil
}

func (s *Store) ListSizes(_ context.Context) ([]domain.ProductSize, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return activeLookups(s.sizes, func(z domain.ProductSize) (string, domain.RecordState) { return z.Name, z.State }), nil
}

func (s *Store) CreateSize(_ context.Context, name string) (*domain.ProductSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	if lookupNameTaken(s.sizes, name, func(z domain.ProductSize) (string, domain.RecordState) { return z.Name, z.State }) {
		return nil, fmt.Errorf("size %q exists: %w", name, store.ErrConflict)
	}
	size := domain.ProductSize{ID: s.nextID("size"), Name: name, State: domain.RecordActive}
	s.sizes[size.ID] = size
	return &size, nil
}

func (s *Store) DeleteSize(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, ok := s.sizes[id]
	if !ok || !size.State.IsActive() {
		return store.ErrNotFound
	}
	size.State = domain.RecordDeleted
	s.sizes[id] = size
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.ProductCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return activeLookups(s.categories, func(c domain.ProductCategory) (string, domain.RecordState) { return c.Name, c.State }), nil
}

func (s *Store) CreateCategory(_ context.Context, name string) (*domain.ProductCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	if lookupNameTaken(s.categories, name, func(c domain.ProductCategory) (string, domain.RecordState) { return c.Name, c.State }) {
		return nil, fmt.Errorf("category %q exists: %w", name, store.ErrConflict)
	}
	category := domain.ProductCategory{ID: s.nextID("category"), Name: name, State: domain.RecordActive}
	s.categories[category.ID] = category
	return &category, nil
}

// DeleteCategory removes a category that no product refers to.
func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	for _, p := range s.products {
		if p.CategoryID == id {
			return fmt.Errorf("category %d is used by product %d: %w", id, p.ID, store.ErrConflict)
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) ListPaymentMethods(_ context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, m := range s.paymentMethods {
		methods = append(methods, m)
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int { return cmpInt64(a.ID, b.ID) })
	return methods, nil
}

func (s *Store) ListCustomers(_ context.Context, search string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(c.Phone, search) &&
			!strings.Contains(strings.ToLower(c.Email), search) {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" || customer.Points < 0 {
		return nil, store.ErrInvalidInput
	}
	if err := s.checkCustomerEmail(0, customer.Email); err != nil {
		return nil, err
	}
	customer.ID = s.nextID("customer")
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

// UpdateCustomer changes contact details. Points are only moved by orders.
func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if err := s.checkCustomerEmail(customer.ID, customer.Email); err != nil {
		return nil, err
	}
	current.Name = customer.Name
	current.Email = customer.Email
	current.Phone = customer.Phone
	current.Address = customer.Address
	s.customers[customer.ID] = current
	return &current, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	for _, o := range s.orders {
		if o.CustomerID != nil && *o.CustomerID == id {
			return fmt.Errorf("customer %d has orders: %w", id, store.ErrConflict)
		}
	}
	delete(s.customers, id)
	return nil
}

// CreateOrder records a sale. Unit prices and totals are recomputed from the
// catalog; stock and redeemed points are taken in the same step.
func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Items) == 0 || order.PointUsed < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.paymentMethods[order.PaymentMethodID]; !ok {
		return nil, fmt.Errorf("payment method %d: %w", order.PaymentMethodID, store.ErrInvalidInput)
	}

	needed := make(map[int64]int, len(order.Items))
	subtotal := int64(0)
	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		variant, ok := s.variants[item.VariantID]
		if !ok || !variant.State.IsActive() {
			return nil, fmt.Errorf("variant %d unavailable: %w", item.VariantID, store.ErrInvalidInput)
		}
		product := s.products[variant.ProductID]
		if !product.State.IsActive() {
			return nil, fmt.Errorf("product %d unavailable: %w", product.ID, store.ErrInvalidInput)
		}
		needed[variant.ID] += item.Quantity
		if needed[variant.ID] > variant.Stock {
			return nil, store.ErrInsufficientStock
		}
		items = append(items, domain.OrderItem{
			VariantID: variant.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.SalePrice,
		})
		subtotal += int64(item.Quantity) * product.SalePrice
	}

	var customer domain.Customer
	if order.CustomerID != nil {
		c, ok := s.customers[*order.CustomerID]
		if !ok {
			return nil, fmt.Errorf("customer %d: %w", *order.CustomerID, store.ErrNotFound)
		}
		customer = c
		if order.PointUsed > customer.Points {
			return nil, fmt.Errorf("customer has %d points: %w", customer.Points, store.ErrInvalidInput)
		}
	} else if order.PointUsed > 0 {
		return nil, store.ErrInvalidInput
	}
	if order.PointUsed > lifecycle.MaxRedeemablePoints(subtotal) {
		return nil, fmt.Errorf("redeeming %d points exceeds subtotal: %w", order.PointUsed, store.ErrInvalidInput)
	}

	order.ID = s.nextID("order")
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now().UTC()
	}
	order.Status = domain.OrderProcessing
	order.Subtotal = subtotal
	order.NetTotal = subtotal - order.PointUsed*lifecycle.PointValue
	for i := range items {
		items[i].ID = s.nextID("order_item")
		items[i].OrderID = order.ID
	}
	order.Items = items

	for id, qty := range needed {
		v := s.variants[id]
		v.Stock -= qty
		s.variants[id] = v
	}
	if order.CustomerID != nil && order.PointUsed > 0 {
		customer.Points -= order.PointUsed
		s.customers[customer.ID] = customer
	}
	s.orders[order.ID] = cloneOrder(order)
	return ptr(cloneOrder(order)), nil
}

// GetOrderWithItems loads the order with each item's variant attached.
func (s *Store) GetOrderWithItems(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(order)
	// Lines for the same variant share one copy.
	loaded := make(map[int64]*domain.ProductVariant, len(out.Items))
	for i := range out.Items {
		variantID := out.Items[i].VariantID
		if v, ok := loaded[variantID]; ok {
			out.Items[i].Variant = v
			continue
		}
		if v, ok := s.variants[variantID]; ok {
			loaded[variantID] = &v
			out.Items[i].Variant = &v
		}
	}
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerID > 0 && (o.CustomerID == nil || *o.CustomerID != filter.CustomerID) {
			continue
		}
		if !filter.From.IsZero() && o.OrderDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !o.OrderDate.Before(filter.To) {
			continue
		}
		o.Items = nil
		orders = append(orders, o)
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if !a.OrderDate.Equal(b.OrderDate) {
			if a.OrderDate.After(b.OrderDate) {
				return -1
			}
			return 1
		}
		return cmpInt64(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

// SaveOrderTransition persists a status change together with its restock
// and point delta. It refuses to write when the stored status moved away
// from transition.From.
func (s *Store) SaveOrderTransition(_ context.Context, transition store.OrderTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[transition.OrderID]
	if !ok {
		return store.ErrNotFound
	}
	if order.Status != transition.From {
		return &store.StaleEntityError{Entity: "order", ID: order.ID}
	}
	for _, adj := range transition.Restock {
		if _, ok := s.variants[adj.VariantID]; !ok {
			return &store.StaleEntityError{Entity: "variant", ID: adj.VariantID}
		}
	}
	var customer domain.Customer
	if transition.PointDelta != 0 {
		if transition.CustomerID == nil {
			return store.ErrInvalidInput
		}
		c, ok := s.customers[*transition.CustomerID]
		if !ok {
			return &store.StaleEntityError{Entity: "customer", ID: *transition.CustomerID}
		}
		if c.Points+transition.PointDelta < 0 {
			return &store.StaleEntityError{Entity: "customer", ID: c.ID}
		}
		customer = c
	}

	for _, adj := range transition.Restock {
		v := s.variants[adj.VariantID]
		v.Stock += adj.Delta
		s.variants[v.ID] = v
	}
	if transition.PointDelta != 0 {
		customer.Points += transition.PointDelta
		s.customers[customer.ID] = customer
	}
	order.Status = transition.To
	s.orders[order.ID] = order
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("user %q exists: %w", username, store.ErrConflict)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetSalesSource collects completed orders in [from, to) with their lines,
// plus every active variant at or below lowStockThreshold.
func (s *Store) GetSalesSource(_ context.Context, from time.Time, to time.Time, lowStockThreshold int) (domain.SalesSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := domain.SalesSource{GeneratedAt: time.Now().UTC()}
	for _, o := range s.orders {
		if o.Status != domain.OrderCompleted {
			continue
		}
		if o.OrderDate.Before(from) || !o.OrderDate.Before(to) {
			continue
		}
		for _, item := range o.Items {
			variant := s.variants[item.VariantID]
			product := s.products[variant.ProductID]
			source.Lines = append(source.Lines, domain.SalesLine{
				OrderID:     o.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				VariantID:   item.VariantID,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				ImportPrice: product.ImportPrice,
			})
		}
		o.Items = nil
		source.Orders = append(source.Orders, o)
	}
	slices.SortFunc(source.Orders, func(a, b domain.Order) int { return cmpInt64(a.ID, b.ID) })
	slices.SortFunc(source.Lines, func(a, b domain.SalesLine) int {
		if c := cmpInt64(a.OrderID, b.OrderID); c != 0 {
			return c
		}
		return cmpInt64(a.VariantID, b.VariantID)
	})

	for _, v := range s.variants {
		if !v.State.IsActive() || v.Stock > lowStockThreshold {
			continue
		}
		product := s.products[v.ProductID]
		if !product.State.IsActive() {
			continue
		}
		source.LowStock = append(source.LowStock, domain.LowStockVariant{
			VariantID:   v.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			ColorName:   s.colors[v.ColorID].Name,
			SizeName:    s.sizes[v.SizeID].Name,
			Stock:       v.Stock,
		})
	}
	slices.SortFunc(source.LowStock, func(a, b domain.LowStockVariant) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return cmpInt64(a.VariantID, b.VariantID)
	})
	return source, nil
}

func (s *Store) validateProductRow(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" || product.ImportPrice < 0 || product.SalePrice < 0 {
		return store.ErrInvalidInput
	}
	category, ok := s.categories[product.CategoryID]
	if !ok || !category.State.IsActive() {
		return fmt.Errorf("category %d: %w", product.CategoryID, store.ErrInvalidInput)
	}
	return nil
}

func (s *Store) validateVariantRow(v domain.ProductVariant) error {
	if v.Stock < 0 {
		return catalog.ErrNegativeStock
	}
	if color, ok := s.colors[v.ColorID]; !ok || !color.State.IsActive() {
		return fmt.Errorf("color %d: %w", v.ColorID, store.ErrInvalidInput)
	}
	if size, ok := s.sizes[v.SizeID]; !ok || !size.State.IsActive() {
		return fmt.Errorf("size %d: %w", v.SizeID, store.ErrInvalidInput)
	}
	return nil
}

func (s *Store) checkCustomerEmail(selfID int64, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	for _, c := range s.customers {
		if c.ID != selfID && strings.EqualFold(c.Email, email) {
			return fmt.Errorf("email %q in use: %w", email, store.ErrConflict)
		}
	}
	return nil
}

func (s *Store) variantsOf(productID int64, includeDeleted bool) []domain.ProductVariant {
	out := make([]domain.ProductVariant, 0, 8)
	for _, v := range s.variants {
		if v.ProductID != productID {
			continue
		}
		if !includeDeleted && !v.State.IsActive() {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b domain.ProductVariant) int { return cmpInt64(a.ID, b.ID) })
	return out
}

func (s *Store) orderedVariantIDs() map[int64]bool {
	ordered := make(map[int64]bool)
	for _, o := range s.orders {
		for _, item := range o.Items {
			ordered[item.VariantID] = true
		}
	}
	return ordered
}

func activeLookups[T any](rows map[int64]T, fields func(T) (string, domain.RecordState)) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if _, state := fields(row); state.IsActive() {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b T) int {
		nameA, _ := fields(a)
		nameB, _ := fields(b)
		return strings.Compare(nameA, nameB)
	})
	return out
}

func lookupNameTaken[T any](rows map[int64]T, name string, fields func(T) (string, domain.RecordState)) bool {
	for _, row := range rows {
		existing, state := fields(row)
		if state.IsActive() && strings.EqualFold(existing, name) {
			return true
		}
	}
	return false
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	if src.CustomerID != nil {
		id := *src.CustomerID
		dup.CustomerID = &id
	}
	items := make([]domain.OrderItem, len(src.Items))
	copy(items, src.Items)
	for i := range items {
		items[i].Variant = nil
	}
	dup.Items = items
	return dup
}

func ptr[T any](v T) *T {
	return &v
}
