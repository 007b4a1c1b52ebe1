package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/PhuocHoan/CoolWear-sub000/internal/catalog"
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
	"github.com/PhuocHoan/CoolWear-sub000/internal/lifecycle"
	"github.com/PhuocHoan/CoolWear-sub000/internal/store"
	"github.com/PhuocHoan/CoolWear-sub000/internal/xid"
)

const (
	tableCategories = "product_categories"
	tableColors     = "product_colors"
	tableSizes      = "product_sizes"
)

type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, categoryID int64, search string) ([]domain.Product, error) {
	query := `
		SELECT id, name, import_price, sale_price, category_id, image_url, state
		FROM products
		WHERE state = 'active'`
	args := make([]any, 0, 2)
	if categoryID > 0 {
		args = append(args, categoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	if search = strings.TrimSpace(search); search != "" {
		args = append(args, "%"+search+"%")
		query += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.ImportPrice, &p.SalePrice, &p.CategoryID, &p.ImageURL, &p.State); err != nil {
			return nil, err
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variants, err := loadVariants(ctx, s.db, ids, false, false)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = variants[products[i].ID]
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := getProductRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	variants, err := loadVariants(ctx, s.db, []int64{id}, true, false)
	if err != nil {
		return nil, err
	}
	product.Variants = variants[id]
	return product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.ImportPrice < 0 || product.SalePrice < 0 {
		return nil, store.ErrInvalidInput
	}
	variants := make([]domain.ProductVariant, len(product.Variants))
	copy(variants, product.Variants)
	for i := range variants {
		if variants[i].Stock < 0 {
			return nil, catalog.ErrNegativeStock
		}
		variants[i].State = domain.RecordActive
	}
	if err := catalog.ValidateVariantSet(variants); err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := requireActive(ctx, pgTx, tableCategories, []int64{product.CategoryID}); err != nil {
		return nil, err
	}
	if err := requireVariantLookups(ctx, pgTx, variants); err != nil {
		return nil, err
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO products (name, import_price, sale_price, category_id, image_url, state)
		VALUES ($1,$2,$3,$4,$5,'active')
		RETURNING id
	`, product.Name, product.ImportPrice, product.SalePrice, product.CategoryID, product.ImageURL).Scan(&product.ID)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		if _, err := insertVariant(ctx, pgTx, product.ID, v); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

// SaveProductGraph writes the product row and its variant plan in one
// serializable transaction. Rows the plan touches are locked and checked
// before anything is written.
func (s *Store) SaveProductGraph(ctx context.Context, graph store.ProductGraph) (*domain.Product, error) {
	product := graph.Product
	plan := graph.Plan
	if strings.TrimSpace(product.Name) == "" || product.ImportPrice < 0 || product.SalePrice < 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var state domain.RecordState
	err = pgTx.QueryRowContext(ctx, `
		SELECT state FROM products WHERE id = $1 FOR UPDATE
	`, product.ID).Scan(&state)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if errors.Is(err, sql.ErrNoRows) || !state.IsActive() {
		return nil, &store.StaleEntityError{Entity: "product", ID: product.ID}
	}
	if err := requireActive(ctx, pgTx, tableCategories, []int64{product.CategoryID}); err != nil {
		return nil, err
	}

	locked, err := loadVariants(ctx, pgTx, []int64{product.ID}, true, true)
	if err != nil {
		return nil, err
	}
	persisted := locked[product.ID]
	byID := make(map[int64]domain.ProductVariant, len(persisted))
	for _, v := range persisted {
		byID[v.ID] = v
	}
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
		if v, ok := byID[id]; !ok || !v.State.IsActive() {
			return nil, &store.StaleEntityError{Entity: "variant", ID: id}
		}
	}

	if len(plan.HardDeletes) > 0 {
		ordered, err := orderedVariants(ctx, pgTx, plan.HardDeletes)
		if err != nil {
			return nil, err
		}
		for _, id := range plan.HardDeletes {
			if ordered[id] {
				return nil, fmt.Errorf("variant %d has orders and cannot be hard-deleted: %w", id, store.ErrConflict)
			}
		}
	}
	if err := requireVariantLookups(ctx, pgTx, plan.Additions); err != nil {
		return nil, err
	}
	if err := catalog.ValidateVariantSet(plan.Apply(product.ID, persisted)); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, import_price = $3, sale_price = $4, category_id = $5, image_url = $6
		WHERE id = $1
	`, product.ID, product.Name, product.ImportPrice, product.SalePrice, product.CategoryID, product.ImageURL)
	if err != nil {
		return nil, err
	}
	if len(plan.HardDeletes) > 0 {
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM product_variants WHERE id = ANY($1)`, plan.HardDeletes); err != nil {
			return nil, err
		}
	}
	if len(plan.SoftDeletes) > 0 {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE product_variants SET state = 'deleted' WHERE id = ANY($1)
		`, plan.SoftDeletes); err != nil {
			return nil, err
		}
	}
	for _, u := range plan.Updates {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE product_variants SET stock = $2 WHERE id = $1
		`, u.VariantID, u.NewStock); err != nil {
			return nil, err
		}
	}
	for _, v := range plan.Additions {
		if _, err := insertVariant(ctx, pgTx, product.ID, v); err != nil {
			if isUniqueViolation(err) {
				return nil, &catalog.DuplicateVariantError{ColorID: v.ColorID, SizeID: v.SizeID}
			}
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64, soft bool) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := getProductRow(ctx, pgTx, id); err != nil {
		return err
	}

	if soft {
		if _, err := pgTx.ExecContext(ctx, `UPDATE products SET state = 'deleted' WHERE id = $1`, id); err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `UPDATE product_variants SET state = 'deleted' WHERE product_id = $1`, id); err != nil {
			return err
		}
		return pgTx.Commit()
	}

	var hasOrders bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_items oi
			JOIN product_variants v ON v.id = oi.variant_id
			WHERE v.product_id = $1
		)
	`, id).Scan(&hasOrders)
	if err != nil {
		return err
	}
	if hasOrders {
		return fmt.Errorf("product %d has orders: %w", id, store.ErrConflict)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = $1`, id); err != nil {
		return err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) VariantHasOrders(ctx context.Context, variantIDs []int64) (map[int64]bool, error) {
	ordered, err := orderedVariants(ctx, s.db, variantIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[int64]bool, len(variantIDs))
	for _, id := range variantIDs {
		result[id] = ordered[id]
	}
	return result, nil
}

func (s *Store) ListColors(ctx context.Context) ([]domain.ProductColor, error) {
	rows, err := s.listLookup(ctx, tableColors)
	if err != nil {
		return nil, err
	}
	colors := make([]domain.ProductColor, 0, len(rows))
	for _, r := range rows {
		colors = append(colors, domain.ProductColor(r))
	}
	return colors, nil
}

func (s *Store) CreateColor(ctx context.Context, name string) (*domain.ProductColor, error) {
	row, err := s.createLookup(ctx, tableColors, name)
	if err != nil {
		return nil, err
	}
	color := domain.ProductColor(row)
	return &color, nil
}

func (s *Store) DeleteColor(ctx context.Context, id int64) error {
	return s.softDeleteLookup(ctx, tableColors, id)
}

func (s *Store) ListSizes(ctx context.Context) ([]domain.ProductSize, error) {
	rows, err := s.listLookup(ctx, tableSizes)
	if err != nil {
		return nil, err
	}
	sizes := make([]domain.ProductSize, 0, len(rows))
	for _, r := range rows {
		sizes = append(sizes, domain.ProductSize(r))
	}
	return sizes, nil
}

func (s *Store) CreateSize(ctx context.Context, name string) (*domain.ProductSize, error) {
	row, err := s.createLookup(ctx, tableSizes, name)
	if err != nil {
		return nil, err
	}
	size := domain.ProductSize(row)
	return &size, nil
}

func (s *Store) DeleteSize(ctx context.Context, id int64) error {
	return s.softDeleteLookup(ctx, tableSizes, id)
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.ProductCategory, error) {
	rows, err := s.listLookup(ctx, tableCategories)
	if err != nil {
		return nil, err
	}
	categories := make([]domain.ProductCategory, 0, len(rows))
	for _, r := range rows {
		categories = append(categories, domain.ProductCategory(r))
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, name string) (*domain.ProductCategory, error) {
	row, err := s.createLookup(ctx, tableCategories, name)
	if err != nil {
		return nil, err
	}
	category := domain.ProductCategory(row)
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	var inUse bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE category_id = $1)
	`, id).Scan(&inUse); err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("category %d is used by products: %w", id, store.ErrConflict)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM payment_methods ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 4)
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (s *Store) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	query := `
		SELECT id, name, email, phone, address, points, created_at
		FROM customers`
	args := make([]any, 0, 1)
	if search = strings.TrimSpace(search); search != "" {
		args = append(args, "%"+search+"%")
		query += " WHERE name ILIKE $1 OR email ILIKE $1 OR phone LIKE $1"
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Points, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address, points, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Points, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" || customer.Points < 0 {
		return nil, store.ErrInvalidInput
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, email, phone, address, points, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, customer.Name, customer.Email, customer.Phone, customer.Address, customer.Points, customer.CreatedAt).Scan(&customer.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %q in use: %w", customer.Email, store.ErrConflict)
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, email = $3, phone = $4, address = $5
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Email, customer.Phone, customer.Address)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %q in use: %w", customer.Email, store.ErrConflict)
		}
		return nil, err
	}
	if err := requireAffected(res, store.ErrNotFound); err != nil {
		return nil, err
	}
	return s.GetCustomer(ctx, customer.ID)
}

func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	var hasOrders bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1)
	`, id).Scan(&hasOrders); err != nil {
		return err
	}
	if hasOrders {
		return fmt.Errorf("customer %d has orders: %w", id, store.ErrConflict)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}

// CreateOrder records a sale in one serializable transaction: prices come
// from the catalog, stock is taken and redeemed points are deducted.
func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 || order.PointUsed < 0 {
		return nil, store.ErrInvalidInput
	}
	if order.CustomerID == nil && order.PointUsed > 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var methodExists bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM payment_methods WHERE id = $1)
	`, order.PaymentMethodID).Scan(&methodExists); err != nil {
		return nil, err
	}
	if !methodExists {
		return nil, fmt.Errorf("payment method %d: %w", order.PaymentMethodID, store.ErrInvalidInput)
	}

	variantIDs := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		variantIDs = append(variantIDs, item.VariantID)
	}

	type sellable struct {
		stock     int
		salePrice int64
	}
	rows, err := pgTx.QueryContext(ctx, `
		SELECT v.id, v.stock, p.sale_price
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1) AND v.state = 'active' AND p.state = 'active'
		FOR UPDATE OF v
	`, variantIDs)
	if err != nil {
		return nil, err
	}
	available := make(map[int64]sellable, len(variantIDs))
	for rows.Next() {
		var id int64
		var row sellable
		if err := rows.Scan(&id, &row.stock, &row.salePrice); err != nil {
			_ = rows.Close()
			return nil, err
		}
		available[id] = row
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	needed := make(map[int64]int, len(order.Items))
	subtotal := int64(0)
	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		row, ok := available[item.VariantID]
		if !ok {
			return nil, fmt.Errorf("variant %d unavailable: %w", item.VariantID, store.ErrInvalidInput)
		}
		needed[item.VariantID] += item.Quantity
		if needed[item.VariantID] > row.stock {
			return nil, store.ErrInsufficientStock
		}
		items = append(items, domain.OrderItem{VariantID: item.VariantID, Quantity: item.Quantity, UnitPrice: row.salePrice})
		subtotal += int64(item.Quantity) * row.salePrice
	}
	if order.PointUsed > lifecycle.MaxRedeemablePoints(subtotal) {
		return nil, fmt.Errorf("redeeming %d points exceeds subtotal: %w", order.PointUsed, store.ErrInvalidInput)
	}

	if order.CustomerID != nil {
		var points int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT points FROM customers WHERE id = $1 FOR UPDATE
		`, *order.CustomerID).Scan(&points)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("customer %d: %w", *order.CustomerID, store.ErrNotFound)
			}
			return nil, err
		}
		if order.PointUsed > points {
			return nil, fmt.Errorf("customer has %d points: %w", points, store.ErrInvalidInput)
		}
	}

	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now().UTC()
	}
	order.Status = domain.OrderProcessing
	order.Subtotal = subtotal
	order.NetTotal = subtotal - order.PointUsed*lifecycle.PointValue

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO orders (order_date, customer_id, payment_method_id, status, subtotal, point_used, net_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, order.OrderDate, nullInt64(order.CustomerID), order.PaymentMethodID, order.Status, order.Subtotal, order.PointUsed, order.NetTotal).Scan(&order.ID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].OrderID = order.ID
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, variant_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, order.ID, items[i].VariantID, items[i].Quantity, items[i].UnitPrice).Scan(&items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	for id, qty := range needed {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE product_variants SET stock = stock - $2 WHERE id = $1
		`, id, qty); err != nil {
			return nil, err
		}
	}
	if order.CustomerID != nil && order.PointUsed > 0 {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE customers SET points = points - $2 WHERE id = $1
		`, *order.CustomerID, order.PointUsed); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (s *Store) GetOrderWithItems(ctx context.Context, id int64) (*domain.Order, error) {
	var order domain.Order
	var customerID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_date, customer_id, payment_method_id, status, subtotal, point_used, net_total
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.OrderDate, &customerID, &order.PaymentMethodID, &order.Status, &order.Subtotal, &order.PointUsed, &order.NetTotal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.OrderDate = order.OrderDate.UTC()
	if customerID.Valid {
		order.CustomerID = &customerID.Int64
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.id, oi.variant_id, oi.quantity, oi.unit_price,
		       v.id, v.product_id, v.color_id, v.size_id, v.stock, v.state
		FROM order_items oi
		LEFT JOIN product_variants v ON v.id = oi.variant_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loaded := make(map[int64]*domain.ProductVariant)
	for rows.Next() {
		item := domain.OrderItem{OrderID: id}
		var (
			variantID, productID, colorID, sizeID sql.NullInt64
			stock                                 sql.NullInt32
			state                                 sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.VariantID, &item.Quantity, &item.UnitPrice,
			&variantID, &productID, &colorID, &sizeID, &stock, &state); err != nil {
			return nil, err
		}
		if shared, ok := loaded[variantID.Int64]; variantID.Valid && ok {
			item.Variant = shared
		} else if variantID.Valid {
			item.Variant = &domain.ProductVariant{
				ID:        variantID.Int64,
				ProductID: productID.Int64,
				ColorID:   colorID.Int64,
				SizeID:    sizeID.Int64,
				Stock:     int(stock.Int32),
				State:     domain.RecordState(state.String),
			}
			loaded[variantID.Int64] = item.Variant
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	conds := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("order_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("order_date < $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `
		SELECT id, order_date, customer_id, payment_method_id, status, subtotal, point_used, net_total
		FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY order_date DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// SaveOrderTransition writes the status change, restock and point delta in
// one serializable transaction. The status update is a compare-and-set on
// transition.From.
func (s *Store) SaveOrderTransition(ctx context.Context, transition store.OrderTransition) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		UPDATE orders SET status = $2 WHERE id = $1 AND status = $3
	`, transition.OrderID, transition.To, transition.From)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := pgTx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)
		`, transition.OrderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return &store.StaleEntityError{Entity: "order", ID: transition.OrderID}
	}

	for _, adj := range transition.Restock {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE product_variants SET stock = stock + $2 WHERE id = $1
		`, adj.VariantID, adj.Delta)
		if err != nil {
			return err
		}
		if err := requireAffected(res, &store.StaleEntityError{Entity: "variant", ID: adj.VariantID}); err != nil {
			return err
		}
	}

	if transition.PointDelta != 0 {
		if transition.CustomerID == nil {
			return store.ErrInvalidInput
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE customers SET points = points + $2
			WHERE id = $1 AND points + $2 >= 0
		`, *transition.CustomerID, transition.PointDelta)
		if err != nil {
			return err
		}
		if err := requireAffected(res, &store.StaleEntityError{Entity: "customer", ID: *transition.CustomerID}); err != nil {
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q exists: %w", user.Username, store.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) GetSalesSource(ctx context.Context, from time.Time, to time.Time, lowStockThreshold int) (domain.SalesSource, error) {
	source := domain.SalesSource{GeneratedAt: time.Now().UTC()}

	orderRows, err := s.db.QueryContext(ctx, `
		SELECT id, order_date, customer_id, payment_method_id, status, subtotal, point_used, net_total
		FROM orders
		WHERE status = $1 AND order_date >= $2 AND order_date < $3
		ORDER BY id
	`, domain.OrderCompleted, from, to)
	if err != nil {
		return source, err
	}
	for orderRows.Next() {
		order, err := scanOrder(orderRows)
		if err != nil {
			_ = orderRows.Close()
			return source, err
		}
		source.Orders = append(source.Orders, order)
	}
	if err := orderRows.Err(); err != nil {
		_ = orderRows.Close()
		return source, err
	}
	_ = orderRows.Close()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT oi.order_id, p.id, p.name, oi.variant_id, oi.quantity, oi.unit_price, p.import_price
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN product_variants v ON v.id = oi.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE o.status = $1 AND o.order_date >= $2 AND o.order_date < $3
		ORDER BY oi.order_id, oi.variant_id
	`, domain.OrderCompleted, from, to)
	if err != nil {
		return source, err
	}
	for lineRows.Next() {
		var line domain.SalesLine
		if err := lineRows.Scan(&line.OrderID, &line.ProductID, &line.ProductName, &line.VariantID, &line.Quantity, &line.UnitPrice, &line.ImportPrice); err != nil {
			_ = lineRows.Close()
			return source, err
		}
		source.Lines = append(source.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return source, err
	}
	_ = lineRows.Close()

	stockRows, err := s.db.QueryContext(ctx, `
		SELECT v.id, p.id, p.name, c.name, z.name, v.stock
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		JOIN product_colors c ON c.id = v.color_id
		JOIN product_sizes z ON z.id = v.size_id
		WHERE v.state = 'active' AND p.state = 'active' AND v.stock <= $1
		ORDER BY v.stock, v.id
	`, lowStockThreshold)
	if err != nil {
		return source, err
	}
	defer stockRows.Close()
	for stockRows.Next() {
		var low domain.LowStockVariant
		if err := stockRows.Scan(&low.VariantID, &low.ProductID, &low.ProductName, &low.ColorName, &low.SizeName, &low.Stock); err != nil {
			return source, err
		}
		source.LowStock = append(source.LowStock, low)
	}
	return source, stockRows.Err()
}

type lookupRow struct {
	ID    int64
	Name  string
	State domain.RecordState
}

func (s *Store) listLookup(ctx context.Context, table string) ([]lookupRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, state FROM %s WHERE state = 'active' ORDER BY name, id
	`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]lookupRow, 0, 16)
	for rows.Next() {
		var r lookupRow
		if err := rows.Scan(&r.ID, &r.Name, &r.State); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) createLookup(ctx context.Context, table string, name string) (lookupRow, error) {
	row := lookupRow{Name: strings.TrimSpace(name), State: domain.RecordActive}
	if row.Name == "" {
		return row, store.ErrInvalidInput
	}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, state) VALUES ($1, 'active') RETURNING id
	`, table), row.Name).Scan(&row.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return row, fmt.Errorf("%q exists: %w", row.Name, store.ErrConflict)
		}
		return row, err
	}
	return row, nil
}

func (s *Store) softDeleteLookup(ctx context.Context, table string, id int64) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET state = 'deleted' WHERE id = $1 AND state = 'active'
	`, table), id)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}

func getProductRow(ctx context.Context, q queryer, id int64) (*domain.Product, error) {
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT id, name, import_price, sale_price, category_id, image_url, state
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.ImportPrice, &p.SalePrice, &p.CategoryID, &p.ImageURL, &p.State)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// loadVariants returns the variants of each product keyed by product id,
// ordered by variant id.
func loadVariants(ctx context.Context, q queryer, productIDs []int64, includeDeleted bool, forUpdate bool) (map[int64][]domain.ProductVariant, error) {
	result := make(map[int64][]domain.ProductVariant, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT id, product_id, color_id, size_id, stock, state
		FROM product_variants
		WHERE product_id = ANY($1)`
	if !includeDeleted {
		query += " AND state = 'active'"
	}
	query += " ORDER BY id"
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, query, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.ProductVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ColorID, &v.SizeID, &v.Stock, &v.State); err != nil {
			return nil, err
		}
		result[v.ProductID] = append(result[v.ProductID], v)
	}
	return result, rows.Err()
}

func insertVariant(ctx context.Context, q queryer, productID int64, v domain.ProductVariant) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO product_variants (product_id, color_id, size_id, stock, state)
		VALUES ($1,$2,$3,$4,'active')
		RETURNING id
	`, productID, v.ColorID, v.SizeID, v.Stock).Scan(&id)
	return id, err
}

func orderedVariants(ctx context.Context, q queryer, variantIDs []int64) (map[int64]bool, error) {
	ordered := make(map[int64]bool, len(variantIDs))
	if len(variantIDs) == 0 {
		return ordered, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT variant_id FROM order_items WHERE variant_id = ANY($1)
	`, variantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ordered[id] = true
	}
	return ordered, rows.Err()
}

// requireActive fails with ErrInvalidInput unless every id names an active
// row of table.
func requireActive(ctx context.Context, q queryer, table string, ids []int64) error {
	unique := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	if len(unique) == 0 {
		return nil
	}
	var found int
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count(*) FROM %s WHERE id = ANY($1) AND state = 'active'
	`, table), ids).Scan(&found)
	if err != nil {
		return err
	}
	if found != len(unique) {
		return fmt.Errorf("%s reference: %w", table, store.ErrInvalidInput)
	}
	return nil
}

func requireVariantLookups(ctx context.Context, q queryer, variants []domain.ProductVariant) error {
	if len(variants) == 0 {
		return nil
	}
	colorIDs := make([]int64, 0, len(variants))
	sizeIDs := make([]int64, 0, len(variants))
	for _, v := range variants {
		if v.Stock < 0 {
			return catalog.ErrNegativeStock
		}
		colorIDs = append(colorIDs, v.ColorID)
		sizeIDs = append(sizeIDs, v.SizeID)
	}
	if err := requireActive(ctx, q, tableColors, colorIDs); err != nil {
		return err
	}
	return requireActive(ctx, q, tableSizes, sizeIDs)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var customerID sql.NullInt64
	if err := row.Scan(&order.ID, &order.OrderDate, &customerID, &order.PaymentMethodID, &order.Status, &order.Subtotal, &order.PointUsed, &order.NetTotal); err != nil {
		return order, err
	}
	order.OrderDate = order.OrderDate.UTC()
	if customerID.Valid {
		id := customerID.Int64
		order.CustomerID = &id
	}
	return order, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
