package catalog

import (
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

// VariantEditor tracks the variant rows of one product while it is being
// edited: the rows currently displayed and the persisted rows staged for
// removal.
type VariantEditor struct {
	displayed []DesiredVariant
	pending   []DesiredVariant
}

func NewVariantEditor(persisted []domain.ProductVariant) *VariantEditor {
	e := &VariantEditor{
		displayed: make([]DesiredVariant, 0, len(persisted)),
	}
	for _, v := range persisted {
		if !v.State.IsActive() {
			continue
		}
		e.displayed = append(e.displayed, DesiredVariant{
			VariantID: v.ID,
			ColorID:   v.ColorID,
			SizeID:    v.SizeID,
			Stock:     v.Stock,
		})
	}
	return e
}

// Add displays a new (color, size) row. If the pair is staged for removal the
// staged row is restored with the new stock instead, and restored is true.
func (e *VariantEditor) Add(colorID int64, sizeID int64, stock int) (restored bool, err error) {
	if stock < 0 {
		return false, ErrNegativeStock
	}
	key := domain.VariantKey{ColorID: colorID, SizeID: sizeID}
	if e.indexOf(e.displayed, key) >= 0 {
		return false, &DuplicateVariantError{ColorID: colorID, SizeID: sizeID}
	}

	if idx := e.indexOf(e.pending, key); idx >= 0 {
		entry := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		entry.MarkedForRemoval = false
		entry.Stock = stock
		e.displayed = append(e.displayed, entry)
		return true, nil
	}

	e.displayed = append(e.displayed, DesiredVariant{ColorID: colorID, SizeID: sizeID, Stock: stock})
	return false, nil
}

// Remove hides a displayed row. Persisted rows are staged for removal; rows
// that were never saved are dropped.
func (e *VariantEditor) Remove(colorID int64, sizeID int64) bool {
	idx := e.indexOf(e.displayed, domain.VariantKey{ColorID: colorID, SizeID: sizeID})
	if idx < 0 {
		return false
	}
	entry := e.displayed[idx]
	e.displayed = append(e.displayed[:idx], e.displayed[idx+1:]...)
	if entry.VariantID != 0 {
		entry.MarkedForRemoval = true
		e.pending = append(e.pending, entry)
	}
	return true
}

func (e *VariantEditor) SetStock(colorID int64, sizeID int64, stock int) error {
	if stock < 0 {
		return ErrNegativeStock
	}
	idx := e.indexOf(e.displayed, domain.VariantKey{ColorID: colorID, SizeID: sizeID})
	if idx < 0 {
		return ErrVariantNotDisplayed
	}
	e.displayed[idx].Stock = stock
	return nil
}

func (e *VariantEditor) Displayed() []DesiredVariant {
	return append([]DesiredVariant(nil), e.displayed...)
}

func (e *VariantEditor) PendingRemoval() []DesiredVariant {
	return append([]DesiredVariant(nil), e.pending...)
}

// Desired returns the displayed rows followed by the rows staged for
// removal, ready for ReconcileVariants.
func (e *VariantEditor) Desired() []DesiredVariant {
	out := make([]DesiredVariant, 0, len(e.displayed)+len(e.pending))
	out = append(out, e.displayed...)
	out = append(out, e.pending...)
	return out
}

func (e *VariantEditor) indexOf(rows []DesiredVariant, key domain.VariantKey) int {
	for i, row := range rows {
		if row.Key() == key {
			return i
		}
	}
	return -1
}
