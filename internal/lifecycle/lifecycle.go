// Package lifecycle governs order status changes and the stock and loyalty
// point effects each change carries.
package lifecycle

import (
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

const (
	// PointUnit is the net total that earns one loyalty point.
	PointUnit int64 = 100_000
	// PointValue is what one redeemed point takes off a subtotal.
	PointValue int64 = 1_000
)

var allowed = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderProcessing: {domain.OrderCompleted, domain.OrderCancelled},
	domain.OrderCompleted:  {domain.OrderReturned},
}

// CalculatePoints returns floor(netTotal / PointUnit).
func CalculatePoints(netTotal int64) int64 {
	if netTotal <= 0 {
		return 0
	}
	return netTotal / PointUnit
}

// MaxRedeemablePoints caps redemption so the net total never goes below zero.
func MaxRedeemablePoints(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	return subtotal / PointValue
}

// CanTransition reports whether an order may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from domain.OrderStatus, to domain.OrderStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from the given one.
func NextStatuses(from domain.OrderStatus) []domain.OrderStatus {
	return append([]domain.OrderStatus(nil), allowed[from]...)
}

type TransitionResult struct {
	From         domain.OrderStatus `json:"from"`
	To           domain.OrderStatus `json:"to"`
	Changed      bool               `json:"changed"`
	PointsEarned int64              `json:"points_earned"`
	// PointsReversed is the earned amount taken back by a return.
	PointsReversed int64                    `json:"points_reversed"`
	PointDelta     int64                    `json:"point_delta"`
	Restocked      []domain.StockAdjustment `json:"restocked,omitempty"`
}

// ApplyOrderStatusTransition moves order to status to, restocking item
// variants and adjusting customer points as the transition requires.
//
// customer may be nil when no customer is attached. Every check runs before
// the first mutation, so on error order, its variants and customer are left
// as they were.
func ApplyOrderStatusTransition(order *domain.Order, to domain.OrderStatus, customer *domain.Customer) (TransitionResult, error) {
	if order == nil {
		return TransitionResult{}, ErrNilOrder
	}
	from := order.Status
	if !CanTransition(from, to) {
		return TransitionResult{}, &InvalidTransitionError{From: from, To: to}
	}
	result := TransitionResult{From: from, To: to}
	if from == to {
		return result, nil
	}
	if customer != nil && (order.CustomerID == nil || *order.CustomerID != customer.ID) {
		return TransitionResult{}, ErrCustomerMismatch
	}

	restock := to == domain.OrderCancelled || to == domain.OrderReturned
	if restock {
		for _, item := range order.Items {
			if item.Variant == nil || item.Variant.ID != item.VariantID {
				return TransitionResult{}, ErrMissingVariant
			}
		}
		result.Restocked = aggregateRestock(order.Items)
	}

	earned := CalculatePoints(order.NetTotal)
	switch to {
	case domain.OrderCompleted:
		result.PointsEarned = earned
		if customer != nil {
			result.PointDelta = earned
		}
	case domain.OrderCancelled:
		if customer != nil && order.PointUsed > 0 {
			result.PointDelta = order.PointUsed
		}
	case domain.OrderReturned:
		result.PointsReversed = earned
		if customer != nil {
			delta := order.PointUsed - earned
			if customer.Points+delta < 0 {
				delta = -customer.Points
			}
			result.PointDelta = delta
		}
	}

	if restock {
		for i := range order.Items {
			order.Items[i].Variant.Stock += order.Items[i].Quantity
		}
	}
	if customer != nil {
		customer.Points += result.PointDelta
	}
	order.Status = to
	result.Changed = true

	return result, nil
}

// ApplyTransitionFrom applies the from -> to transition the caller asked for.
// It fails when the order is no longer in status from, so a transition
// repeated after it already happened is rejected instead of treated as a
// same-status no-op.
func ApplyTransitionFrom(order *domain.Order, from domain.OrderStatus, to domain.OrderStatus, customer *domain.Customer) (TransitionResult, error) {
	if order == nil {
		return TransitionResult{}, ErrNilOrder
	}
	if order.Status != from {
		return TransitionResult{}, &InvalidTransitionError{From: order.Status, To: to}
	}
	return ApplyOrderStatusTransition(order, to, customer)
}

func aggregateRestock(items []domain.OrderItem) []domain.StockAdjustment {
	index := make(map[int64]int, len(items))
	out := make([]domain.StockAdjustment, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.VariantID]; ok {
			out[pos].Delta += item.Quantity
			continue
		}
		index[item.VariantID] = len(out)
		out = append(out, domain.StockAdjustment{VariantID: item.VariantID, Delta: item.Quantity})
	}
	return out
}
