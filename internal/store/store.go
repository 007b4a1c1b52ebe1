package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PhuocHoan/CoolWear-sub000/internal/catalog"
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
)

// StaleEntityError reports that an entity read for an operation was deleted
// or changed before the write landed.
type StaleEntityError struct {
	Entity string
	ID     int64
}

func (e *StaleEntityError) Error() string {
	return fmt.Sprintf("%s %d was changed or removed concurrently", e.Entity, e.ID)
}

// OrderTransition is the persisted side of a status change. The write only
// applies while the stored status still equals From.
type OrderTransition struct {
	OrderID    int64
	From       domain.OrderStatus
	To         domain.OrderStatus
	Restock    []domain.StockAdjustment
	CustomerID *int64
	PointDelta int64
}

type ProductGraph struct {
	Product domain.Product
	Plan    catalog.VariantPlan
}

type Repository interface {
	ListProducts(ctx context.Context, categoryID int64, search string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SaveProductGraph(ctx context.Context, graph ProductGraph) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64, soft bool) error
	VariantHasOrders(ctx context.Context, variantIDs []int64) (map[int64]bool, error)

	ListColors(ctx context.Context) ([]domain.ProductColor, error)
	CreateColor(ctx context.Context, name string) (*domain.ProductColor, error)
	DeleteColor(ctx context.Context, id int64) error
	ListSizes(ctx context.Context) ([]domain.ProductSize, error)
	CreateSize(ctx context.Context, name string) (*domain.ProductSize, error)
	DeleteSize(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]domain.ProductCategory, error)
	CreateCategory(ctx context.Context, name string) (*domain.ProductCategory, error)
	DeleteCategory(ctx context.Context, id int64) error
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)

	ListCustomers(ctx context.Context, search string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderWithItems(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	SaveOrderTransition(ctx context.Context, transition OrderTransition) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	GetSalesSource(ctx context.Context, from time.Time, to time.Time, lowStockThreshold int) (domain.SalesSource, error)
}
