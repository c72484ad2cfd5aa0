package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/pair-tracker/internal/errors"
)

// CacheKeyType namespaces cache keys
type CacheKeyType string

const (
	// CacheKeyPrice is for spot price quotes
	CacheKeyPrice CacheKeyType = "price"
)

// CacheService stores JSON values in Redis under namespaced keys
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// GenerateCacheKey builds <type>:<param1>:<param2>... with params lowercased
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, param := range params {
		parts = append(parts, strings.ToLower(param))
	}
	return strings.Join(parts, ":")
}

// Set stores a value with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get decodes a cached value into dest. A miss returns false and no error.
func (c *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewCacheError("get "+key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, apperrors.NewCacheError("decode "+key, err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// TTL returns the configured TTL for this cache service
func (c *CacheService) TTL() time.Duration {
	return c.ttl
}

// CachedQuote is a spot price as stored in Redis
type CachedQuote struct {
	Pair     string          `json:"pair"`
	Price    decimal.Decimal `json:"price"`
	Source   string          `json:"source"`
	CachedAt time.Time       `json:"cachedAt"`
}

// GetQuote returns the cached quote for pair, if any
func (c *CacheService) GetQuote(ctx context.Context, pair string) (*CachedQuote, bool, error) {
	var quote CachedQuote
	ok, err := c.Get(ctx, c.GenerateCacheKey(CacheKeyPrice, pair), &quote)
	if err != nil || !ok {
		return nil, false, err
	}
	return &quote, true, nil
}

// SetQuote caches a quote under its pair
func (c *CacheService) SetQuote(ctx context.Context, quote *CachedQuote) error {
	return c.Set(ctx, c.GenerateCacheKey(CacheKeyPrice, quote.Pair), quote)
}
