package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
)

func TestMemoryCurrencyCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCurrencyCache(0)

	if _, ok, _ := c.GetBase(ctx); ok {
		t.Fatalf("expected empty cache")
	}
	usd := domain.Currency{ID: 1, Code: "USD", Factor: decimal.NewFromInt(1), IsBase: true}
	if err := c.SetBase(ctx, usd); err != nil {
		t.Fatalf("set base: %v", err)
	}
	if err := c.SetList(ctx, []domain.Currency{usd}); err != nil {
		t.Fatalf("set list: %v", err)
	}

	got, ok, err := c.GetBase(ctx)
	if err != nil || !ok || got.Code != "USD" {
		t.Fatalf("expected cached USD base, got %+v ok=%t err=%v", got, ok, err)
	}
	list, ok, _ := c.GetList(ctx)
	if !ok || len(list) != 1 {
		t.Fatalf("expected cached list of 1, got %d ok=%t", len(list), ok)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.GetBase(ctx); ok {
		t.Fatalf("expected base to be dropped after invalidate")
	}
	if _, ok, _ := c.GetList(ctx); ok {
		t.Fatalf("expected list to be dropped after invalidate")
	}
}

func TestMemoryCurrencyCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryCurrencyCache(time.Minute)
	c.now = func() time.Time { return now }

	_ = c.SetBase(ctx, domain.Currency{ID: 1, Code: "USD"})
	if _, ok, _ := c.GetBase(ctx); !ok {
		t.Fatalf("expected fresh entry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.GetBase(ctx); ok {
		t.Fatalf("expected entry to expire after ttl")
	}
}

func TestMemoryCurrencyCacheCopiesList(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCurrencyCache(0)
	list := []domain.Currency{{ID: 1, Code: "USD"}}
	_ = c.SetList(ctx, list)
	list[0].Code = "XXX"

	got, _, _ := c.GetList(ctx)
	if got[0].Code != "USD" {
		t.Fatalf("cache must not alias caller slice, got %q", got[0].Code)
	}
}
