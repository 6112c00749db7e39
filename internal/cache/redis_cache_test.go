package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
)

// Database 15 keeps the test away from a development cache on the same server.
const testRedisDB = 15

func openTestRedis(t *testing.T) *RedisCurrencyCache {
	t.Helper()
	addr := os.Getenv("SHOPPINGBIRD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set SHOPPINGBIRD_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisCurrencyCache(NewRedisClient(addr, os.Getenv("SHOPPINGBIRD_TEST_REDIS_PASSWORD"), testRedisDB), time.Minute)
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("reset currency keys: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Invalidate(context.Background())
		_ = c.Close()
	})
	return c
}

func TestRedisCurrencyCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c := openTestRedis(t)

	if _, ok, err := c.GetBase(ctx); ok || err != nil {
		t.Fatalf("expected empty cache, got ok=%t err=%v", ok, err)
	}
	usd := domain.Currency{ID: 1, Code: "USD", Symbol: "$", DecimalPlaces: 2, Factor: decimal.NewFromInt(1), IsBase: true, Active: true}
	jpy := domain.Currency{ID: 3, Code: "JPY", Symbol: "¥", DecimalPlaces: 0, Factor: decimal.RequireFromString("149.5"), Active: true}
	if err := c.SetBase(ctx, usd); err != nil {
		t.Fatalf("set base: %v", err)
	}
	if err := c.SetList(ctx, []domain.Currency{usd, jpy}); err != nil {
		t.Fatalf("set list: %v", err)
	}

	base, ok, err := c.GetBase(ctx)
	if err != nil || !ok || base.Code != "USD" || !base.IsBase {
		t.Fatalf("expected cached USD base, got %+v ok=%t err=%v", base, ok, err)
	}
	list, ok, err := c.GetList(ctx)
	if err != nil || !ok || len(list) != 2 {
		t.Fatalf("expected two cached currencies, got %+v ok=%t err=%v", list, ok, err)
	}
	if !list[1].Factor.Equal(decimal.RequireFromString("149.5")) || list[1].DecimalPlaces != 0 {
		t.Fatalf("JPY did not survive the JSON round trip: %+v", list[1])
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.GetBase(ctx); ok {
		t.Fatalf("expected base to be dropped")
	}
	if _, ok, _ := c.GetList(ctx); ok {
		t.Fatalf("expected list to be dropped")
	}
}

func TestRedisCurrencyCacheRejectsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c := openTestRedis(t)

	if err := c.client.Set(ctx, currencyBaseKey, "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	if _, ok, err := c.GetBase(ctx); ok || err == nil {
		t.Fatalf("expected decode error, got ok=%t err=%v", ok, err)
	}
}

func TestRedisProductInfoCache(t *testing.T) {
	ctx := context.Background()
	c := openTestRedis(t)
	products := NewRedisProductInfoCache(c.client)
	code := "test-036000291452"
	t.Cleanup(func() { _ = c.client.Del(context.Background(), productKeyPrefix+code).Err() })

	if _, ok, err := products.Get(ctx, code); ok || err != nil {
		t.Fatalf("expected miss, got ok=%t err=%v", ok, err)
	}
	if err := products.Set(ctx, code, nil, time.Minute); err != nil {
		t.Fatalf("nil info should be ignored, got %v", err)
	}
	if _, ok, _ := products.Get(ctx, code); ok {
		t.Fatalf("expected nil info not to be stored")
	}

	info := &domain.ProductInfo{Code: code, Title: "Paper Towels", Brand: "Acme", Tags: []string{"household"}}
	if err := products.Set(ctx, code, info, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := products.Get(ctx, code)
	if err != nil || !ok || got.Title != "Paper Towels" || len(got.Tags) != 1 {
		t.Fatalf("expected cached product, got %+v ok=%t err=%v", got, ok, err)
	}
	ttl, err := c.client.TTL(ctx, productKeyPrefix+code).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within a minute, got %s err=%v", ttl, err)
	}
}
