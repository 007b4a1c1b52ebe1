package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhuocHoan/CoolWear-sub000/internal/cache"
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

type countingLoader struct {
	calls  int
	source domain.SalesSource
	err    error
}

func (l *countingLoader) GetSalesSource(_ context.Context, _ time.Time, _ time.Time, _ int) (domain.SalesSource, error) {
	l.calls++
	return l.source, l.err
}

func sampleSource() domain.SalesSource {
	return domain.SalesSource{
		Orders: []domain.Order{
			{ID: 1, Status: domain.OrderCompleted, Subtotal: 600_000, PointUsed: 10, NetTotal: 590_000},
			{ID: 2, Status: domain.OrderCompleted, Subtotal: 99_000, NetTotal: 99_000},
		},
		Lines: []domain.SalesLine{
			{OrderID: 1, ProductID: 7, ProductName: "Linen Shirt", VariantID: 70, Quantity: 2, UnitPrice: 300_000, ImportPrice: 150_000},
			{OrderID: 2, ProductID: 9, ProductName: "Canvas Cap", VariantID: 90, Quantity: 1, UnitPrice: 99_000, ImportPrice: 45_000},
		},
		LowStock:    []domain.LowStockVariant{{VariantID: 70, ProductID: 7, Stock: 1}},
		GeneratedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestBuildComputesTotals(t *testing.T) {
	engine := NewEngine(nil, 0, 3)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	report := engine.Build(from, from.AddDate(0, 0, 1), sampleSource())

	assert.Equal(t, int64(2), report.CompletedOrders)
	assert.Equal(t, int64(689_000), report.Revenue)
	assert.Equal(t, int64(10), report.PointsRedeemed)
	assert.Equal(t, int64(300_000+54_000-10_000), report.Profit)
	require.Len(t, report.TopSellers, 2)
	assert.Equal(t, int64(7), report.TopSellers[0].ProductID)
	assert.Equal(t, int64(600_000), report.TopSellers[0].Revenue)
	assert.Len(t, report.LowStock, 1)
	assert.Equal(t, "2026-03-02T08:00:00Z", report.GeneratedAt)
}

func TestSummaryUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(cache.NewMemoryReportCache(), time.Minute, 3)
	loader := &countingLoader{source: sampleSource()}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	first, err := engine.Summary(ctx, loader, from, to)
	require.NoError(t, err)
	second, err := engine.Summary(ctx, loader, from, to)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, loader.calls)

	require.NoError(t, engine.Invalidate(ctx))
	_, err = engine.Summary(ctx, loader, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestSummaryRejectsEmptyRangeAndPropagatesLoaderErrors(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(nil, 0, 3)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := engine.Summary(ctx, &countingLoader{}, day, day)
	require.Error(t, err)

	boom := errors.New("db down")
	_, err = engine.Summary(ctx, &countingLoader{err: boom}, day, day.AddDate(0, 0, 1))
	require.ErrorIs(t, err, boom)
}
