package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

func TestEditorStartsWithActiveVariantsOnly(t *testing.T) {
	persisted := append(persistedShirt(), domain.ProductVariant{ID: 4, ColorID: 9, SizeID: 9, State: domain.RecordDeleted})
	editor := NewVariantEditor(persisted)

	assert.Len(t, editor.Displayed(), 3)
	assert.Empty(t, editor.PendingRemoval())
}

func TestEditorAddRejectsDisplayedDuplicate(t *testing.T) {
	editor := NewVariantEditor(persistedShirt())

	_, err := editor.Add(1, 2, 10)
	var dup *DuplicateVariantError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, int64(1), dup.ColorID)
	assert.Equal(t, int64(2), dup.SizeID)
	assert.Contains(t, err.Error(), "color 1, size 2")
}

func TestEditorRemovePersistedStagesRemoval(t *testing.T) {
	editor := NewVariantEditor(persistedShirt())

	require.True(t, editor.Remove(1, 1))
	pending := editor.PendingRemoval()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].VariantID)
	assert.True(t, pending[0].MarkedForRemoval)
	assert.Len(t, editor.Displayed(), 2)
}

func TestEditorRemoveUnsavedDropsRow(t *testing.T) {
	editor := NewVariantEditor(nil)
	_, err := editor.Add(7, 7, 2)
	require.NoError(t, err)

	require.True(t, editor.Remove(7, 7))
	assert.Empty(t, editor.Displayed())
	assert.Empty(t, editor.PendingRemoval())
	assert.False(t, editor.Remove(7, 7))
}

func TestEditorReAddRestoresStagedVariant(t *testing.T) {
	persisted := persistedShirt()
	editor := NewVariantEditor(persisted)
	require.True(t, editor.Remove(1, 1))

	restored, err := editor.Add(1, 1, 42)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Empty(t, editor.PendingRemoval())

	plan, err := ReconcileVariants(editor.Desired(), persisted, orderedIDs(1))
	require.NoError(t, err)
	assert.Empty(t, plan.Additions)
	assert.Empty(t, plan.SoftDeletes)

	result := plan.Apply(10, persisted)
	require.Len(t, result, 3)
	assert.Equal(t, int64(1), result[0].ID)
	assert.Equal(t, 42, result[0].Stock)
	assert.Equal(t, domain.RecordActive, result[0].State)
}

func TestEditorDesiredFeedsReconciler(t *testing.T) {
	persisted := persistedShirt()
	editor := NewVariantEditor(persisted)
	require.True(t, editor.Remove(1, 1))
	require.True(t, editor.Remove(1, 2))
	require.NoError(t, editor.SetStock(2, 1, 6))
	_, err := editor.Add(3, 1, 4)
	require.NoError(t, err)

	plan, err := ReconcileVariants(editor.Desired(), persisted, orderedIDs(1))
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, plan.SoftDeletes)
	assert.Equal(t, []int64{2}, plan.HardDeletes)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(3), plan.Updates[0].VariantID)
	require.Len(t, plan.Additions, 1)
	assert.Equal(t, int64(3), plan.Additions[0].ColorID)
}

func TestEditorSetStockValidates(t *testing.T) {
	editor := NewVariantEditor(persistedShirt())

	require.ErrorIs(t, editor.SetStock(1, 1, -3), ErrNegativeStock)
	require.ErrorIs(t, editor.SetStock(8, 8, 1), ErrVariantNotDisplayed)
	_, err := editor.Add(8, 8, -1)
	require.ErrorIs(t, err, ErrNegativeStock)
}
