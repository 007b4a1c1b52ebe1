package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

func persistedShirt() []domain.ProductVariant {
	return []domain.ProductVariant{
		{ID: 1, ProductID: 10, ColorID: 1, SizeID: 1, Stock: 5, State: domain.RecordActive},
		{ID: 2, ProductID: 10, ColorID: 1, SizeID: 2, Stock: 3, State: domain.RecordActive},
		{ID: 3, ProductID: 10, ColorID: 2, SizeID: 1, Stock: 0, State: domain.RecordActive},
	}
}

func orderedIDs(ids ...int64) func(int64) bool {
	set := idSet(ids)
	return func(id int64) bool {
		_, ok := set[id]
		return ok
	}
}

func activeKeys(t *testing.T, variants []domain.ProductVariant) map[domain.VariantKey]int {
	t.Helper()
	keys := make(map[domain.VariantKey]int)
	for _, v := range variants {
		if v.State.IsActive() {
			keys[v.Key()]++
		}
	}
	return keys
}

func TestReconcileUpdatesStockForMatchedVariant(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 9},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3},
		{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 0},
	}

	plan, err := ReconcileVariants(desired, persisted, orderedIDs())
	require.NoError(t, err)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, StockUpdate{VariantID: 1, OldStock: 5, NewStock: 9}, plan.Updates[0])
	assert.Empty(t, plan.Additions)
	assert.Empty(t, plan.SoftDeletes)
	assert.Empty(t, plan.HardDeletes)
	assert.Empty(t, plan.Untouched)

	result := plan.Apply(10, persisted)
	assert.Equal(t, 9, result[0].Stock)
	assert.Equal(t, 5, persisted[0].Stock, "input must not be mutated")
}

func TestReconcileAddsUnmatchedDisplayedEntry(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 5},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3},
		{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 0},
		{ColorID: 3, SizeID: 3, Stock: 7},
	}

	plan, err := ReconcileVariants(desired, persisted, nil)
	require.NoError(t, err)
	require.Len(t, plan.Additions, 1)

	result := plan.Apply(10, persisted)
	require.Len(t, result, 4)
	added := result[3]
	assert.Equal(t, int64(0), added.ID)
	assert.Equal(t, int64(10), added.ProductID)
	assert.Equal(t, 7, added.Stock)
	assert.Equal(t, domain.RecordActive, added.State)
}

func TestReconcileSoftDeletesOrderedVariant(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 5, MarkedForRemoval: true},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3},
		{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 0},
	}

	plan, err := ReconcileVariants(desired, persisted, orderedIDs(1))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, plan.SoftDeletes)
	assert.Empty(t, plan.HardDeletes)

	result := plan.Apply(10, persisted)
	require.Len(t, result, 3)
	assert.Equal(t, int64(1), result[0].ID)
	assert.Equal(t, domain.RecordDeleted, result[0].State)
}

func TestReconcileHardDeletesNeverOrderedVariant(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 5},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3, MarkedForRemoval: true},
		{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 0},
	}

	plan, err := ReconcileVariants(desired, persisted, orderedIDs(1))
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, plan.HardDeletes)

	result := plan.Apply(10, persisted)
	for _, v := range result {
		assert.NotEqual(t, int64(2), v.ID)
	}
	assert.Len(t, result, 2)
}

func TestReconcileIgnoresUnsavedRemovalEntries(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 5},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3},
		{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 0},
		{VariantID: 0, ColorID: 4, SizeID: 4, Stock: 1, MarkedForRemoval: true},
	}

	plan, err := ReconcileVariants(desired, persisted, nil)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestReconcileRejectsDuplicateDisplayedPair(t *testing.T) {
	desired := []DesiredVariant{
		{ColorID: 1, SizeID: 1, Stock: 1},
		{ColorID: 1, SizeID: 1, Stock: 2},
	}

	_, err := ReconcileVariants(desired, nil, nil)
	var dup *DuplicateVariantError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, int64(1), dup.ColorID)
	assert.Equal(t, int64(1), dup.SizeID)
}

func TestReconcileRejectsNegativeStock(t *testing.T) {
	_, err := ReconcileVariants([]DesiredVariant{{ColorID: 1, SizeID: 1, Stock: -1}}, nil, nil)
	require.ErrorIs(t, err, ErrNegativeStock)
}

func TestReconcileRestoresRemovalWhenPairIsDisplayedAgain(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 5, MarkedForRemoval: true},
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 11},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3},
		{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 0},
	}

	plan, err := ReconcileVariants(desired, persisted, orderedIDs(1))
	require.NoError(t, err)
	assert.Empty(t, plan.SoftDeletes)
	assert.Empty(t, plan.HardDeletes)
	assert.Empty(t, plan.Additions)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(1), plan.Updates[0].VariantID)
	assert.Equal(t, 11, plan.Updates[0].NewStock)
}

func TestReconcileFlagsVariantNeitherDisplayedNorRemoved(t *testing.T) {
	persisted := persistedShirt()
	desired := []DesiredVariant{
		{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 5},
		{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3},
	}

	plan, err := ReconcileVariants(desired, persisted, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, plan.Untouched)
	assert.True(t, plan.Empty())

	result := plan.Apply(10, persisted)
	assert.Equal(t, persisted, result)
}

func TestReconcileSoftDeletedPairCanBeAddedAsNewVariant(t *testing.T) {
	persisted := []domain.ProductVariant{
		{ID: 1, ProductID: 10, ColorID: 1, SizeID: 1, Stock: 0, State: domain.RecordDeleted},
	}
	desired := []DesiredVariant{{ColorID: 1, SizeID: 1, Stock: 4}}

	plan, err := ReconcileVariants(desired, persisted, orderedIDs(1))
	require.NoError(t, err)
	require.Len(t, plan.Additions, 1)

	result := plan.Apply(10, persisted)
	require.NoError(t, ValidateVariantSet(result))
	assert.Equal(t, map[domain.VariantKey]int{{ColorID: 1, SizeID: 1}: 1}, activeKeys(t, result))
}

func TestReconcileResultNeverHasDuplicateActivePairs(t *testing.T) {
	persisted := persistedShirt()
	scenarios := [][]DesiredVariant{
		{
			{VariantID: 1, ColorID: 1, SizeID: 1, Stock: 1, MarkedForRemoval: true},
			{ColorID: 1, SizeID: 1, Stock: 2},
		},
		{
			{VariantID: 2, ColorID: 1, SizeID: 2, Stock: 3, MarkedForRemoval: true},
			{VariantID: 3, ColorID: 2, SizeID: 1, Stock: 3, MarkedForRemoval: true},
			{ColorID: 2, SizeID: 1, Stock: 1},
			{ColorID: 5, SizeID: 5, Stock: 1},
		},
		{},
	}

	for i, desired := range scenarios {
		plan, err := ReconcileVariants(desired, persisted, orderedIDs(1, 3))
		require.NoError(t, err, "scenario %d", i)
		result := plan.Apply(10, persisted)
		for key, count := range activeKeys(t, result) {
			assert.Equal(t, 1, count, "scenario %d: duplicate active pair %+v", i, key)
		}
	}
}

func TestValidateVariantSetIgnoresDeletedRows(t *testing.T) {
	variants := []domain.ProductVariant{
		{ID: 1, ColorID: 1, SizeID: 1, State: domain.RecordDeleted},
		{ID: 2, ColorID: 1, SizeID: 1, State: domain.RecordActive},
	}
	require.NoError(t, ValidateVariantSet(variants))

	variants = append(variants, domain.ProductVariant{ID: 3, ColorID: 1, SizeID: 1, State: domain.RecordActive})
	var dup *DuplicateVariantError
	require.ErrorAs(t, ValidateVariantSet(variants), &dup)
}
