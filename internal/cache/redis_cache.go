package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shoppingbird/backend/internal/domain"
)

const (
	currencyBaseKey  = "shoppingbird:currency:base"
	currencyListKey  = "shoppingbird:currency:list"
	productKeyPrefix = "shoppingbird:product:"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisCurrencyCache shares the currency cache between server instances so an
// invalidation on one is seen by all.
type RedisCurrencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCurrencyCache(client *redis.Client, ttl time.Duration) *RedisCurrencyCache {
	return &RedisCurrencyCache{client: client, ttl: ttl}
}

func (c *RedisCurrencyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCurrencyCache) Close() error {
	return c.client.Close()
}

func (c *RedisCurrencyCache) GetBase(ctx context.Context) (*domain.Currency, bool, error) {
	var cur domain.Currency
	ok, err := getJSON(ctx, c.client, currencyBaseKey, &cur)
	if !ok || err != nil {
		return nil, false, err
	}
	return &cur, true, nil
}

func (c *RedisCurrencyCache) SetBase(ctx context.Context, cur domain.Currency) error {
	return setJSON(ctx, c.client, currencyBaseKey, cur, c.ttl)
}

func (c *RedisCurrencyCache) GetList(ctx context.Context) ([]domain.Currency, bool, error) {
	var list []domain.Currency
	ok, err := getJSON(ctx, c.client, currencyListKey, &list)
	if !ok || err != nil {
		return nil, false, err
	}
	return list, true, nil
}

func (c *RedisCurrencyCache) SetList(ctx context.Context, list []domain.Currency) error {
	return setJSON(ctx, c.client, currencyListKey, list, c.ttl)
}

func (c *RedisCurrencyCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, currencyBaseKey, currencyListKey).Err()
}

type RedisProductInfoCache struct {
	client *redis.Client
}

func NewRedisProductInfoCache(client *redis.Client) *RedisProductInfoCache {
	return &RedisProductInfoCache{client: client}
}

func (c *RedisProductInfoCache) Get(ctx context.Context, code string) (*domain.ProductInfo, bool, error) {
	var info domain.ProductInfo
	ok, err := getJSON(ctx, c.client, productKeyPrefix+code, &info)
	if !ok || err != nil {
		return nil, false, err
	}
	return &info, true, nil
}

func (c *RedisProductInfoCache) Set(ctx context.Context, code string, info *domain.ProductInfo, ttl time.Duration) error {
	if info == nil {
		return nil
	}
	return setJSON(ctx, c.client, productKeyPrefix+code, info, ttl)
}

func getJSON(ctx context.Context, client *redis.Client, key string, dst any) (bool, error) {
	val, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		return false, err
	}
	return true, nil
}

func setJSON(ctx context.Context, client *redis.Client, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, payload, ttl).Err()
}
