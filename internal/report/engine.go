// Package report builds the owner's sales dashboard from completed orders.
package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/PhuocHoan/CoolWear-sub000/internal/cache"
	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
	"github.com/PhuocHoan/CoolWear-sub000/internal/lifecycle"
)

// SourceLoader supplies the raw rows a report is computed from.
type SourceLoader interface {
	GetSalesSource(ctx context.Context, from time.Time, to time.Time, lowStockThreshold int) (domain.SalesSource, error)
}

type Engine struct {
	cache             cache.ReportCache
	cacheTTL          time.Duration
	lowStockThreshold int
	topSellers        int
}

func NewEngine(cacheStore cache.ReportCache, cacheTTL time.Duration, lowStockThreshold int) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	if lowStockThreshold < 0 {
		lowStockThreshold = 0
	}

	return &Engine{
		cache:             cacheStore,
		cacheTTL:          cacheTTL,
		lowStockThreshold: lowStockThreshold,
		topSellers:        5,
	}
}

// Summary returns the report for [from, to), served from cache while the
// cached copy is fresh and no order changed since it was built. Cache
// failures fall through to a fresh computation.
func (e *Engine) Summary(ctx context.Context, loader SourceLoader, from time.Time, to time.Time) (domain.SalesReport, error) {
	if !from.Before(to) {
		return domain.SalesReport{}, fmt.Errorf("report range %s..%s is empty", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}

	generation, genErr := e.cache.Generation(ctx)
	key := buildCacheKey(from, to, e.lowStockThreshold, generation)
	if genErr == nil {
		if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			return *cached, nil
		}
	}

	source, err := loader.GetSalesSource(ctx, from, to, e.lowStockThreshold)
	if err != nil {
		return domain.SalesReport{}, err
	}
	report := e.Build(from, to, source)
	if genErr == nil {
		_ = e.cache.Set(ctx, key, &report, e.cacheTTL)
	}
	return report, nil
}

// Invalidate drops cached reports after orders or stock changed.
func (e *Engine) Invalidate(ctx context.Context) error {
	return e.cache.Bump(ctx)
}

// Build computes the report from already loaded rows.
//
// Revenue is the sum of net totals. Profit is line margin over import price
// minus the value of redeemed points.
func (e *Engine) Build(from time.Time, to time.Time, source domain.SalesSource) domain.SalesReport {
	report := domain.SalesReport{
		From:        from.UTC().Format(time.RFC3339),
		To:          to.UTC().Format(time.RFC3339),
		TopSellers:  []domain.TopSeller{},
		LowStock:    []domain.LowStockVariant{},
		GeneratedAt: source.GeneratedAt.UTC().Format(time.RFC3339),
	}

	for _, order := range source.Orders {
		report.CompletedOrders++
		report.Revenue += order.NetTotal
		report.PointsRedeemed += order.PointUsed
	}

	sellers := make(map[int64]*domain.TopSeller)
	margin := int64(0)
	for _, line := range source.Lines {
		qty := int64(line.Quantity)
		margin += (line.UnitPrice - line.ImportPrice) * qty

		seller, ok := sellers[line.ProductID]
		if !ok {
			seller = &domain.TopSeller{ProductID: line.ProductID, ProductName: line.ProductName}
			sellers[line.ProductID] = seller
		}
		seller.Quantity += line.Quantity
		seller.Revenue += line.UnitPrice * qty
	}
	report.Profit = margin - report.PointsRedeemed*lifecycle.PointValue

	for _, seller := range sellers {
		report.TopSellers = append(report.TopSellers, *seller)
	}
	sort.Slice(report.TopSellers, func(i, j int) bool {
		a, b := report.TopSellers[i], report.TopSellers[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.ProductID < b.ProductID
	})
	if len(report.TopSellers) > e.topSellers {
		report.TopSellers = report.TopSellers[:e.topSellers]
	}

	report.LowStock = append(report.LowStock, source.LowStock...)
	return report
}

func buildCacheKey(from time.Time, to time.Time, threshold int, generation int64) string {
	raw := fmt.Sprintf("%d|%d|%d|%d", from.UTC().Unix(), to.UTC().Unix(), threshold, generation)
	hash := sha1.Sum([]byte(raw))
	return "coolwear:report:" + hex.EncodeToString(hash[:])
}
