// Package catalog holds the product variant reconciliation used by the
// add/edit product flow. Nothing in here touches storage.
package catalog

import (
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

// DesiredVariant is one variant row as the editing screen holds it. Rows the
// user removed stay in the list with MarkedForRemoval set so the reconciler
// can decide between a soft and a hard delete.
type DesiredVariant struct {
	VariantID        int64 `json:"variant_id"`
	ColorID          int64 `json:"color_id"`
	SizeID           int64 `json:"size_id"`
	Stock            int   `json:"stock"`
	MarkedForRemoval bool  `json:"marked_for_removal,omitempty"`
}

func (d DesiredVariant) Key() domain.VariantKey {
	return domain.VariantKey{ColorID: d.ColorID, SizeID: d.SizeID}
}

type StockUpdate struct {
	VariantID int64 `json:"variant_id"`
	OldStock  int   `json:"old_stock"`
	NewStock  int   `json:"new_stock"`
}

// VariantPlan is the set of mutations needed to turn the persisted variants
// into the desired ones.
type VariantPlan struct {
	Additions   []domain.ProductVariant `json:"additions"`
	Updates     []StockUpdate           `json:"updates"`
	SoftDeletes []int64                 `json:"soft_deletes"`
	HardDeletes []int64                 `json:"hard_deletes"`
	// Untouched lists active persisted variants that were neither displayed
	// nor marked for removal. They are left as they are.
	Untouched []int64 `json:"untouched,omitempty"`
}

func (p VariantPlan) Empty() bool {
	return len(p.Additions) == 0 && len(p.Updates) == 0 && len(p.SoftDeletes) == 0 && len(p.HardDeletes) == 0
}

// ReconcileVariants diffs the desired variant rows against the persisted
// variants of one product. wasEverOrdered decides whether a removed variant
// must be kept as soft-deleted history.
//
// A removed row whose (color, size) is also displayed is treated as restored
// and is not deleted. Displayed rows are matched to active persisted variants
// by (color, size), never by id.
func ReconcileVariants(desired []DesiredVariant, persisted []domain.ProductVariant, wasEverOrdered func(int64) bool) (VariantPlan, error) {
	plan := VariantPlan{}

	displayed := make([]DesiredVariant, 0, len(desired))
	removed := make([]DesiredVariant, 0)
	for _, entry := range desired {
		if entry.Stock < 0 {
			return VariantPlan{}, ErrNegativeStock
		}
		if entry.MarkedForRemoval {
			removed = append(removed, entry)
			continue
		}
		displayed = append(displayed, entry)
	}

	displayedByKey := make(map[domain.VariantKey]DesiredVariant, len(displayed))
	for _, entry := range displayed {
		if _, exists := displayedByKey[entry.Key()]; exists {
			return VariantPlan{}, &DuplicateVariantError{ColorID: entry.ColorID, SizeID: entry.SizeID}
		}
		displayedByKey[entry.Key()] = entry
	}

	persistedByID := make(map[int64]domain.ProductVariant, len(persisted))
	for _, v := range persisted {
		persistedByID[v.ID] = v
	}

	handled := make(map[int64]struct{}, len(removed))
	for _, entry := range removed {
		if entry.VariantID == 0 {
			continue
		}
		if _, restored := displayedByKey[entry.Key()]; restored {
			continue
		}
		v, ok := persistedByID[entry.VariantID]
		if !ok || !v.State.IsActive() {
			continue
		}
		if _, dup := handled[v.ID]; dup {
			continue
		}
		handled[v.ID] = struct{}{}
		if wasEverOrdered != nil && wasEverOrdered(v.ID) {
			plan.SoftDeletes = append(plan.SoftDeletes, v.ID)
		} else {
			plan.HardDeletes = append(plan.HardDeletes, v.ID)
		}
	}

	activeByKey := make(map[domain.VariantKey]domain.ProductVariant, len(persisted))
	for _, v := range persisted {
		if !v.State.IsActive() {
			continue
		}
		if _, gone := handled[v.ID]; gone {
			continue
		}
		activeByKey[v.Key()] = v
	}

	matched := make(map[int64]struct{}, len(displayed))
	for _, entry := range displayed {
		if v, ok := activeByKey[entry.Key()]; ok {
			matched[v.ID] = struct{}{}
			if v.Stock != entry.Stock {
				plan.Updates = append(plan.Updates, StockUpdate{VariantID: v.ID, OldStock: v.Stock, NewStock: entry.Stock})
			}
			continue
		}
		plan.Additions = append(plan.Additions, domain.ProductVariant{
			ColorID: entry.ColorID,
			SizeID:  entry.SizeID,
			Stock:   entry.Stock,
			State:   domain.RecordActive,
		})
	}

	for _, v := range persisted {
		if !v.State.IsActive() {
			continue
		}
		if _, ok := matched[v.ID]; ok {
			continue
		}
		if _, ok := handled[v.ID]; ok {
			continue
		}
		plan.Untouched = append(plan.Untouched, v.ID)
	}

	return plan, nil
}

// Apply returns the variant set that results from applying the plan to
// persisted. The input slice is not modified. Additions get productID and
// id 0.
func (p VariantPlan) Apply(productID int64, persisted []domain.ProductVariant) []domain.ProductVariant {
	soft := idSet(p.SoftDeletes)
	hard := idSet(p.HardDeletes)
	updates := make(map[int64]int, len(p.Updates))
	for _, u := range p.Updates {
		updates[u.VariantID] = u.NewStock
	}

	out := make([]domain.ProductVariant, 0, len(persisted)+len(p.Additions))
	for _, v := range persisted {
		if _, ok := hard[v.ID]; ok {
			continue
		}
		if _, ok := soft[v.ID]; ok {
			v.State = domain.RecordDeleted
		}
		if stock, ok := updates[v.ID]; ok {
			v.Stock = stock
		}
		out = append(out, v)
	}
	for _, add := range p.Additions {
		add.ID = 0
		add.ProductID = productID
		add.State = domain.RecordActive
		out = append(out, add)
	}
	return out
}

// ValidateVariantSet checks that no two active variants share a (color, size).
func ValidateVariantSet(variants []domain.ProductVariant) error {
	seen := make(map[domain.VariantKey]struct{}, len(variants))
	for _, v := range variants {
		if !v.State.IsActive() {
			continue
		}
		if _, exists := seen[v.Key()]; exists {
			return &DuplicateVariantError{ColorID: v.ColorID, SizeID: v.SizeID}
		}
		seen[v.Key()] = struct{}{}
	}
	return nil
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
