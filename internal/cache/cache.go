package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"shoppingbird/backend/internal/domain"
)

// CurrencyCache holds the base currency and the currency list between
// lookups. It is owned by the composition root and invalidated explicitly
// whenever the base flag or the exchange rates change.
type CurrencyCache interface {
	GetBase(ctx context.Context) (*domain.Currency, bool, error)
	SetBase(ctx context.Context, cur domain.Currency) error
	GetList(ctx context.Context) ([]domain.Currency, bool, error)
	SetList(ctx context.Context, list []domain.Currency) error
	Invalidate(ctx context.Context) error
}

type ProductInfoCache interface {
	Get(ctx context.Context, code string) (*domain.ProductInfo, bool, error)
	Set(ctx context.Context, code string, info *domain.ProductInfo, ttl time.Duration) error
}

type NoopProductInfoCache struct{}

func (NoopProductInfoCache) Get(_ context.Context, _ string) (*domain.ProductInfo, bool, error) {
	return nil, false, nil
}

func (NoopProductInfoCache) Set(_ context.Context, _ string, _ *domain.ProductInfo, _ time.Duration) error {
	return nil
}

// MemoryCurrencyCache is the in-process CurrencyCache. A zero ttl keeps
// entries until the next Invalidate.
type MemoryCurrencyCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	base    *domain.Currency
	baseExp time.Time
	list    []domain.Currency
	listExp time.Time
}

func NewMemoryCurrencyCache(ttl time.Duration) *MemoryCurrencyCache {
	return &MemoryCurrencyCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCurrencyCache) fresh(exp time.Time) bool {
	return c.ttl <= 0 || c.now().Before(exp)
}

func (c *MemoryCurrencyCache) GetBase(_ context.Context) (*domain.Currency, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.base == nil || !c.fresh(c.baseExp) {
		return nil, false, nil
	}
	cur := *c.base
	return &cur, true, nil
}

func (c *MemoryCurrencyCache) SetBase(_ context.Context, cur domain.Currency) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.base = &cur
	c.baseExp = c.now().Add(c.ttl)
	return nil
}

func (c *MemoryCurrencyCache) GetList(_ context.Context) ([]domain.Currency, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.list == nil || !c.fresh(c.listExp) {
		return nil, false, nil
	}
	return slices.Clone(c.list), true, nil
}

func (c *MemoryCurrencyCache) SetList(_ context.Context, list []domain.Currency) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list = slices.Clone(list)
	if c.list == nil {
		c.list = []domain.Currency{}
	}
	c.listExp = c.now().Add(c.ttl)
	return nil
}

func (c *MemoryCurrencyCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.base = nil
	c.list = nil
	return nil
}
