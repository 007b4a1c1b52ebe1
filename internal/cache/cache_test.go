package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

func TestMemoryReportCacheExpiresEntries(t *testing.T) {
	c := NewMemoryReportCache()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", &domain.SalesReport{Revenue: 10}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || got.Revenue != 10 {
		t.Fatalf("expected cached report, got %+v ok=%v err=%v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryReportCacheBumpDropsEntries(t *testing.T) {
	c := NewMemoryReportCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", &domain.SalesReport{}, time.Minute)

	if err := c.Bump(ctx); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if gen, _ := c.Generation(ctx); gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected bump to drop cached reports")
	}
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("COOLWEAR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set COOLWEAR_TEST_REDIS_ADDR to run redis integration test")
	}
	c := NewRedisReportCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := "coolwear:test:" + time.Now().Format(time.RFC3339Nano)
	if err := c.Set(ctx, key, &domain.SalesReport{CompletedOrders: 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || got.CompletedOrders != 3 {
		t.Fatalf("expected cached report, got %+v ok=%v err=%v", got, ok, err)
	}

	before, _ := c.Generation(ctx)
	if err := c.Bump(ctx); err != nil {
		t.Fatalf("bump: %v", err)
	}
	after, _ := c.Generation(ctx)
	if after != before+1 {
		t.Fatalf("expected generation %d, got %d", before+1, after)
	}
}
