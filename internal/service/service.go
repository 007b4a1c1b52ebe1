package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PhuocHoan/CoolWear-sub000/internal/catalog"
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
	"github.com/PhuocHoan/CoolWear-sub000/internal/lifecycle"
	"github.com/PhuocHoan/CoolWear-sub000/internal/report"
	"github.com/PhuocHoan/CoolWear-sub000/internal/store"
	"github.com/PhuocHoan/CoolWear-sub000/internal/xid"
)

var ErrForbidden = errors.New("owner role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Now defaults to time.Now and anchors default report and audit ranges.
	Now func() time.Time
}

type Service struct {
	repo     store.Repository
	reports  *report.Engine
	logger   *zap.Logger
	inflight *inflightGuard
	now      func() time.Time
}

func New(repo store.Repository, reports *report.Engine, logger *zap.Logger, opts Options) *Service {
	if reports == nil {
		reports = report.NewEngine(nil, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:     repo,
		reports:  reports,
		logger:   logger.Named("service"),
		inflight: newInflightGuard(),
		now:      opts.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context, categoryID int64, search string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, categoryID, search)
}

// GetProduct returns an active product with its active variants.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.State.IsActive() {
		return domain.Product{}, store.ErrNotFound
	}
	product.Variants = product.ActiveVariants()
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductSaveRequest) (domain.ProductSaveResponse, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.ProductSaveResponse{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validateProductFields(req); err != nil {
		return domain.ProductSaveResponse{}, err
	}

	plan, err := catalog.ReconcileVariants(desiredVariants(req.Variants), nil, nil)
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:        req.Name,
		ImportPrice: req.ImportPrice,
		SalePrice:   req.SalePrice,
		CategoryID:  req.CategoryID,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Variants:    plan.Additions,
	})
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "product_create", "product", idString(created.ID), fmt.Sprintf("name=%s,variants=%d", created.Name, len(created.Variants)))
	return domain.ProductSaveResponse{Product: *created, Added: len(created.Variants)}, nil
}

// SaveProduct reconciles the edited variant rows against what is stored and
// writes the product and its variant plan together.
func (s *Service) SaveProduct(ctx context.Context, id int64, req domain.ProductSaveRequest) (domain.ProductSaveResponse, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.ProductSaveResponse{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validateProductFields(req); err != nil {
		return domain.ProductSaveResponse{}, err
	}

	release, err := s.inflight.acquire("product:" + idString(id))
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}
	defer release()

	current, err := s.editableProduct(ctx, id)
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}

	updated := *current
	updated.Name = req.Name
	updated.ImportPrice = req.ImportPrice
	updated.SalePrice = req.SalePrice
	updated.CategoryID = req.CategoryID
	updated.ImageURL = strings.TrimSpace(req.ImageURL)

	return s.saveProductPlan(ctx, current, updated, desiredVariants(req.Variants))
}

// EditVariants applies add, remove and set_stock edits in order to the
// product's active variants and saves the result. Adding a pair removed
// earlier in the same batch restores the original variant.
func (s *Service) EditVariants(ctx context.Context, id int64, req domain.VariantEditRequest) (domain.ProductSaveResponse, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.ProductSaveResponse{}, err
	}
	if len(req.Edits) == 0 {
		return domain.ProductSaveResponse{}, fmt.Errorf("no variant edits: %w", store.ErrInvalidInput)
	}

	release, err := s.inflight.acquire("product:" + idString(id))
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}
	defer release()

	current, err := s.editableProduct(ctx, id)
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}

	editor := catalog.NewVariantEditor(current.Variants)
	restored := 0
	for i, edit := range req.Edits {
		switch edit.Action {
		case domain.VariantEditAdd:
			ok, err := editor.Add(edit.ColorID, edit.SizeID, edit.Stock)
			if err != nil {
				return domain.ProductSaveResponse{}, err
			}
			if ok {
				restored++
			}
		case domain.VariantEditRemove:
			if !editor.Remove(edit.ColorID, edit.SizeID) {
				return domain.ProductSaveResponse{}, catalog.ErrVariantNotDisplayed
			}
		case domain.VariantEditSetStock:
			if err := editor.SetStock(edit.ColorID, edit.SizeID, edit.Stock); err != nil {
				return domain.ProductSaveResponse{}, err
			}
		default:
			return domain.ProductSaveResponse{}, fmt.Errorf("edit %d: unknown action %q: %w", i, edit.Action, store.ErrInvalidInput)
		}
	}

	s.logger.Debug("variant edits staged",
		zap.Int64("product_id", id),
		zap.Int("displayed", len(editor.Displayed())),
		zap.Int("pending_removal", len(editor.PendingRemoval())),
		zap.Int("restored", restored),
	)
	return s.saveProductPlan(ctx, current, *current, editor.Desired())
}

// editableProduct loads an active product for editing; a missing or deleted
// product is reported as stale.
func (s *Service) editableProduct(ctx context.Context, id int64) (*domain.Product, error) {
	current, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &store.StaleEntityError{Entity: "product", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if !current.State.IsActive() {
		return nil, &store.StaleEntityError{Entity: "product", ID: id}
	}
	return current, nil
}

func (s *Service) saveProductPlan(ctx context.Context, current *domain.Product, updated domain.Product, desired []catalog.DesiredVariant) (domain.ProductSaveResponse, error) {
	variantIDs := make([]int64, 0, len(current.Variants))
	for _, v := range current.Variants {
		variantIDs = append(variantIDs, v.ID)
	}
	ordered, err := s.repo.VariantHasOrders(ctx, variantIDs)
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}

	plan, err := catalog.ReconcileVariants(desired, current.Variants, func(variantID int64) bool {
		return ordered[variantID]
	})
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}
	if len(plan.Untouched) > 0 {
		s.logger.Warn("variants neither displayed nor removed were left unchanged",
			zap.Int64("product_id", current.ID),
			zap.Int64s("variant_ids", plan.Untouched),
		)
	}

	if plan.Empty() && sameProductFields(*current, updated) {
		unchanged := *current
		unchanged.Variants = unchanged.ActiveVariants()
		return domain.ProductSaveResponse{Product: unchanged}, nil
	}

	saved, err := s.repo.SaveProductGraph(ctx, store.ProductGraph{Product: updated, Plan: plan})
	if err != nil {
		return domain.ProductSaveResponse{}, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "product_save", "product", idString(current.ID), fmt.Sprintf(
		"added=%d,updated=%d,soft_deleted=%d,hard_deleted=%d",
		len(plan.Additions), len(plan.Updates), len(plan.SoftDeletes), len(plan.HardDeletes),
	))

	saved.Variants = saved.ActiveVariants()
	return domain.ProductSaveResponse{
		Product:     *saved,
		Added:       len(plan.Additions),
		Updated:     len(plan.Updates),
		SoftDeleted: len(plan.SoftDeletes),
		HardDeleted: len(plan.HardDeletes),
	}, nil
}

func sameProductFields(a domain.Product, b domain.Product) bool {
	return a.Name == b.Name &&
		a.ImportPrice == b.ImportPrice &&
		a.SalePrice == b.SalePrice &&
		a.CategoryID == b.CategoryID &&
		a.ImageURL == b.ImageURL
}

// DeleteProduct soft-deletes a product any of whose variants was ordered and
// hard-deletes it otherwise. It reports which one happened.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	if err := requireOwner(ctx); err != nil {
		return false, err
	}
	release, err := s.inflight.acquire("product:" + idString(id))
	if err != nil {
		return false, err
	}
	defer release()

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return false, err
	}
	if !product.State.IsActive() {
		return false, store.ErrNotFound
	}
	variantIDs := make([]int64, 0, len(product.Variants))
	for _, v := range product.Variants {
		variantIDs = append(variantIDs, v.ID)
	}
	ordered, err := s.repo.VariantHasOrders(ctx, variantIDs)
	if err != nil {
		return false, err
	}
	soft := false
	for _, hasOrders := range ordered {
		if hasOrders {
			soft = true
			break
		}
	}

	if err := s.repo.DeleteProduct(ctx, id, soft); err != nil {
		return false, err
	}
	s.invalidateReports(ctx)
	s.logAudit(ctx, "product_delete", "product", idString(id), fmt.Sprintf("soft=%t", soft))
	return soft, nil
}

func (s *Service) ListColors(ctx context.Context) ([]domain.ProductColor, error) {
	return s.repo.ListColors(ctx)
}

func (s *Service) CreateColor(ctx context.Context, req domain.LookupCreateRequest) (domain.ProductColor, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.ProductColor{}, err
	}
	color, err := s.repo.CreateColor(ctx, req.Name)
	if err != nil {
		return domain.ProductColor{}, err
	}
	s.logAudit(ctx, "color_create", "color", idString(color.ID), color.Name)
	return *color, nil
}

func (s *Service) DeleteColor(ctx context.Context, id int64) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteColor(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "color_delete", "color", idString(id), "")
	return nil
}

func (s *Service) ListSizes(ctx context.Context) ([]domain.ProductSize, error) {
	return s.repo.ListSizes(ctx)
}

func (s *Service) CreateSize(ctx context.Context, req domain.LookupCreateRequest) (domain.ProductSize, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.ProductSize{}, err
	}
	size, err := s.repo.CreateSize(ctx, req.Name)
	if err != nil {
		return domain.ProductSize{}, err
	}
	s.logAudit(ctx, "size_create", "size", idString(size.ID), size.Name)
	return *size, nil
}

func (s *Service) DeleteSize(ctx context.Context, id int64) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteSize(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "size_delete", "size", idString(id), "")
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.ProductCategory, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.LookupCreateRequest) (domain.ProductCategory, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.ProductCategory{}, err
	}
	category, err := s.repo.CreateCategory(ctx, req.Name)
	if err != nil {
		return domain.ProductCategory{}, err
	}
	s.logAudit(ctx, "category_create", "category", idString(category.ID), category.Name)
	return *category, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "category_delete", "category", idString(id), "")
	return nil
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx)
}

func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, search)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerSaveRequest) (domain.Customer, error) {
	customer, err := customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}
	customer.CreatedAt = s.now().UTC()
	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", idString(created.ID), created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id int64, req domain.CustomerSaveRequest) (domain.Customer, error) {
	customer, err := customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}
	customer.ID = id
	updated, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", idString(id), updated.Name)
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", idString(id), "")
	return nil
}

// Checkout records a sale. The order starts in Processing; loyalty points are
// earned when it is completed.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Order, error) {
	if len(req.Items) == 0 || req.PointUsed < 0 {
		return domain.Order{}, store.ErrInvalidInput
	}
	if req.CustomerID == nil && req.PointUsed > 0 {
		return domain.Order{}, fmt.Errorf("points need a customer: %w", store.ErrInvalidInput)
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.VariantID < 1 || line.Quantity < 1 {
			return domain.Order{}, store.ErrInvalidInput
		}
		items = append(items, domain.OrderItem{VariantID: line.VariantID, Quantity: line.Quantity})
	}

	order, err := s.repo.CreateOrder(ctx, domain.Order{
		OrderDate:       s.now().UTC(),
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		PointUsed:       req.PointUsed,
		Items:           items,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "order_checkout", "order", idString(order.ID), fmt.Sprintf("net_total=%d,point_used=%d,items=%d", order.NetTotal, order.PointUsed, len(order.Items)))
	return *order, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	order, err := s.repo.GetOrderWithItems(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.NextStatuses = lifecycle.NextStatuses(order.Status)
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, store.ErrInvalidInput
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListOrders(ctx, filter)
}

// UpdateOrderStatus moves an order to req.Status. The transition is applied
// to freshly loaded copies and only becomes visible once the repository
// commits it, so a failed write leaves nothing applied. When req.From is set
// the stored status must still equal it.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, req domain.OrderStatusRequest) (domain.OrderStatusResponse, error) {
	if !req.Status.Valid() || (req.From != "" && !req.From.Valid()) {
		return domain.OrderStatusResponse{}, store.ErrInvalidInput
	}

	release, err := s.inflight.acquire("order:" + idString(id))
	if err != nil {
		return domain.OrderStatusResponse{}, err
	}
	defer release()

	order, err := s.repo.GetOrderWithItems(ctx, id)
	if err != nil {
		return domain.OrderStatusResponse{}, err
	}
	var customer *domain.Customer
	if order.CustomerID != nil {
		customer, err = s.repo.GetCustomer(ctx, *order.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.OrderStatusResponse{}, &store.StaleEntityError{Entity: "customer", ID: *order.CustomerID}
		}
		if err != nil {
			return domain.OrderStatusResponse{}, err
		}
	}

	var result lifecycle.TransitionResult
	if req.From != "" {
		result, err = lifecycle.ApplyTransitionFrom(order, req.From, req.Status, customer)
	} else {
		result, err = lifecycle.ApplyOrderStatusTransition(order, req.Status, customer)
	}
	if err != nil {
		return domain.OrderStatusResponse{}, err
	}
	order.NextStatuses = lifecycle.NextStatuses(order.Status)
	resp := domain.OrderStatusResponse{From: result.From, Changed: result.Changed, PointDelta: result.PointDelta}
	if !result.Changed {
		resp.Order = *order
		return resp, nil
	}

	if err := s.repo.SaveOrderTransition(ctx, store.OrderTransition{
		OrderID:    order.ID,
		From:       result.From,
		To:         result.To,
		Restock:    result.Restocked,
		CustomerID: order.CustomerID,
		PointDelta: result.PointDelta,
	}); err != nil {
		return domain.OrderStatusResponse{}, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "order_status", "order", idString(id), fmt.Sprintf(
		"from=%s,to=%s,point_delta=%d,restocked=%d",
		result.From, result.To, result.PointDelta, len(result.Restocked),
	))
	s.logger.Info("order status changed",
		zap.Int64("order_id", id),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
		zap.Int64("point_delta", result.PointDelta),
	)

	resp.Order = *order
	return resp, nil
}

// SalesReport summarizes completed orders between two YYYY-MM-DD dates, both
// inclusive. Empty dates default to the last 30 days.
func (s *Service) SalesReport(ctx context.Context, fromDate string, toDate string) (domain.SalesReport, error) {
	if err := requireOwner(ctx); err != nil {
		return domain.SalesReport{}, err
	}

	today := truncateDay(s.now())
	from := today.AddDate(0, 0, -29)
	to := today
	if strings.TrimSpace(fromDate) != "" {
		parsed, err := time.Parse(time.DateOnly, fromDate)
		if err != nil {
			return domain.SalesReport{}, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	if strings.TrimSpace(toDate) != "" {
		parsed, err := time.Parse(time.DateOnly, toDate)
		if err != nil {
			return domain.SalesReport{}, store.ErrInvalidInput
		}
		to = parsed.UTC()
	}
	if to.Before(from) {
		return domain.SalesReport{}, store.ErrInvalidInput
	}

	return s.reports.Summary(ctx, s.repo, from, to.AddDate(0, 0, 1))
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireOwner(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Actor:      actor.Username,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func requireOwner(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return ErrForbidden
	}
	return nil
}

func validateProductFields(req domain.ProductSaveRequest) error {
	if req.Name == "" || req.CategoryID < 1 {
		return store.ErrInvalidInput
	}
	if req.ImportPrice < 0 || req.SalePrice < 0 {
		return store.ErrInvalidInput
	}
	return nil
}

func desiredVariants(inputs []domain.VariantInput) []catalog.DesiredVariant {
	desired := make([]catalog.DesiredVariant, 0, len(inputs))
	for _, in := range inputs {
		desired = append(desired, catalog.DesiredVariant{
			VariantID:        in.VariantID,
			ColorID:          in.ColorID,
			SizeID:           in.SizeID,
			Stock:            in.Stock,
			MarkedForRemoval: in.Removed,
		})
	}
	return desired
}

func customerFromRequest(req domain.CustomerSaveRequest) (domain.Customer, error) {
	customer := domain.Customer{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	}
	if customer.Name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}
	if customer.Email != "" && !strings.Contains(customer.Email, "@") {
		return domain.Customer{}, fmt.Errorf("email %q: %w", customer.Email, store.ErrInvalidInput)
	}
	return customer, nil
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
