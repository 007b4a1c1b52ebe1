package lifecycle

import (
	"errors"
	"fmt"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

var (
	ErrNilOrder         = errors.New("order is required")
	ErrMissingVariant   = errors.New("order item variant not loaded")
	ErrCustomerMismatch = errors.New("customer does not belong to order")
)

// InvalidTransitionError is returned for a status change outside the allowed
// transition table.
type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %q to %q", e.From, e.To)
}
