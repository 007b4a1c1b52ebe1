package domain

import "time"

// RecordState replaces the deleted flag carried by catalog rows.
type RecordState string

const (
	RecordActive  RecordState = "active"
	RecordDeleted RecordState = "deleted"
)

func (s RecordState) IsActive() bool {
	return s != RecordDeleted
}

type OrderStatus string

const (
	OrderProcessing OrderStatus = "Processing"
	OrderCompleted  OrderStatus = "Completed"
	OrderCancelled  OrderStatus = "Cancelled"
	OrderReturned   OrderStatus = "Returned"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderProcessing, OrderCompleted, OrderCancelled, OrderReturned:
		return true
	}
	return false
}

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

type ProductCategory struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	State RecordState `json:"state"`
}

type ProductColor struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	State RecordState `json:"state"`
}

type ProductSize struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	State RecordState `json:"state"`
}

type PaymentMethod struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	ImportPrice int64            `json:"import_price"`
	SalePrice   int64            `json:"sale_price"`
	CategoryID  int64            `json:"category_id"`
	ImageURL    string           `json:"image_url,omitempty"`
	State       RecordState      `json:"state"`
	Variants    []ProductVariant `json:"variants,omitempty"`
}

// ActiveVariants returns the variants that are not soft-deleted.
func (p Product) ActiveVariants() []ProductVariant {
	out := make([]ProductVariant, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.State.IsActive() {
			out = append(out, v)
		}
	}
	return out
}

// ProductVariant is a (color, size) combination of a product. ID 0 means the
// variant has not been persisted yet.
type ProductVariant struct {
	ID        int64       `json:"id"`
	ProductID int64       `json:"product_id"`
	ColorID   int64       `json:"color_id"`
	SizeID    int64       `json:"size_id"`
	Stock     int         `json:"stock"`
	State     RecordState `json:"state"`
}

type VariantKey struct {
	ColorID int64
	SizeID  int64
}

func (v ProductVariant) Key() VariantKey {
	return VariantKey{ColorID: v.ColorID, SizeID: v.SizeID}
}

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID              int64       `json:"id"`
	OrderDate       time.Time   `json:"order_date"`
	CustomerID      *int64      `json:"customer_id,omitempty"`
	PaymentMethodID int64       `json:"payment_method_id"`
	Status          OrderStatus `json:"status"`
	Subtotal        int64       `json:"subtotal"`
	PointUsed       int64       `json:"point_used"`
	NetTotal        int64       `json:"net_total"`
	Items           []OrderItem `json:"items,omitempty"`
	// NextStatuses lists the statuses the order may move to next. Only set on
	// single-order reads.
	NextStatuses []OrderStatus `json:"next_statuses,omitempty"`
}

// OrderItem snapshots the unit price at sale time. Variant is populated when
// the order is loaded together with its related entities.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice int64           `json:"unit_price"`
	Variant   *ProductVariant `json:"variant,omitempty"`
}

// StockAdjustment is a signed stock delta for one variant.
type StockAdjustment struct {
	VariantID int64 `json:"variant_id"`
	Delta     int   `json:"delta"`
}

type VariantInput struct {
	VariantID int64 `json:"variant_id"`
	ColorID   int64 `json:"color_id"`
	SizeID    int64 `json:"size_id"`
	Stock     int   `json:"stock"`
	Removed   bool  `json:"removed,omitempty"`
}

type ProductSaveRequest struct {
	Name        string         `json:"name"`
	ImportPrice int64          `json:"import_price"`
	SalePrice   int64          `json:"sale_price"`
	CategoryID  int64          `json:"category_id"`
	ImageURL    string         `json:"image_url"`
	Variants    []VariantInput `json:"variants"`
}

type ProductSaveResponse struct {
	Product     Product `json:"product"`
	Added       int     `json:"added"`
	Updated     int     `json:"updated"`
	SoftDeleted int     `json:"soft_deleted"`
	HardDeleted int     `json:"hard_deleted"`
}

type VariantEditAction string

const (
	VariantEditAdd      VariantEditAction = "add"
	VariantEditRemove   VariantEditAction = "remove"
	VariantEditSetStock VariantEditAction = "set_stock"
)

type VariantEdit struct {
	Action  VariantEditAction `json:"action"`
	ColorID int64             `json:"color_id"`
	SizeID  int64             `json:"size_id"`
	Stock   int               `json:"stock,omitempty"`
}

type VariantEditRequest struct {
	Edits []VariantEdit `json:"edits"`
}

type LookupCreateRequest struct {
	Name string `json:"name"`
}

type CustomerSaveRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type CheckoutLine struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerID      *int64         `json:"customer_id,omitempty"`
	PaymentMethodID int64          `json:"payment_method_id"`
	PointUsed       int64          `json:"point_used"`
	Items           []CheckoutLine `json:"items"`
}

type OrderStatusRequest struct {
	// From, when set, must match the stored status or the request is rejected.
	From     OrderStatus `json:"from,omitempty"`
	Status   OrderStatus `json:"status"`
	OwnerPIN string      `json:"owner_pin,omitempty"`
}

type OrderStatusResponse struct {
	Order      Order       `json:"order"`
	From       OrderStatus `json:"from"`
	Changed    bool        `json:"changed"`
	PointDelta int64       `json:"point_delta"`
}

type OrderFilter struct {
	Status     OrderStatus
	CustomerID int64
	From       time.Time
	To         time.Time
	Limit      int
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// SalesLine is one order line of a completed order, joined with the product
// prices needed by the sales report.
type SalesLine struct {
	OrderID     int64
	ProductID   int64
	ProductName string
	VariantID   int64
	Quantity    int
	UnitPrice   int64
	ImportPrice int64
}

type SalesSource struct {
	Orders      []Order
	Lines       []SalesLine
	LowStock    []LowStockVariant
	GeneratedAt time.Time
}

type LowStockVariant struct {
	VariantID   int64  `json:"variant_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	ColorName   string `json:"color_name"`
	SizeName    string `json:"size_name"`
	Stock       int    `json:"stock"`
}

type TopSeller struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Revenue     int64  `json:"revenue"`
}

type SalesReport struct {
	From            string            `json:"from"`
	To              string            `json:"to"`
	CompletedOrders int64             `json:"completed_orders"`
	Revenue         int64             `json:"revenue"`
	Profit          int64             `json:"profit"`
	PointsRedeemed  int64             `json:"points_redeemed"`
	TopSellers      []TopSeller       `json:"top_sellers"`
	LowStock        []LowStockVariant `json:"low_stock"`
	GeneratedAt     string            `json:"generated_at"`
}
