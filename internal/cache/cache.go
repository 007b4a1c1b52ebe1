package cache

import (
	"context"
	"sync"
	"time"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
)

// ReportCache stores computed sales reports. Generation is folded into
// report keys so Bump drops every cached report at once.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.SalesReport, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesReport, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.SalesReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.SalesReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Bump(_ context.Context) error {
	return nil
}

// MemoryReportCache is a process-local ReportCache used when Redis is not
// configured.
type MemoryReportCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	generation int64
	now        func() time.Time
}

type memoryEntry struct {
	report    domain.SalesReport
	expiresAt time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryReportCache) Get(_ context.Context, key string) (*domain.SalesReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	report := entry.report
	return &report, true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, key string, value *domain.SalesReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{report: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryReportCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryReportCache) Bump(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	clear(c.entries)
	return nil
}
