package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/syncedsports/be-expense-approvals/internal/repository"
)

const categoriesKeyPrefix = "expenses:categories:"

// Options configures the Redis connection.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	TTL          time.Duration
}

// ReferenceCache keeps category listings in Redis as JSON.
type ReferenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReferenceCache connects to Redis and verifies the connection.
func NewReferenceCache(ctx context.Context, opts Options) (*ReferenceCache, error) {
	c := newReferenceCache(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return c, nil
}

func newReferenceCache(opts Options) *ReferenceCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
	})
	return &ReferenceCache{client: client, ttl: opts.TTL}
}

// Close releases the Redis connection pool.
func (c *ReferenceCache) Close() error {
	return c.client.Close()
}

func categoriesKey(includeInactive bool) string {
	if includeInactive {
		return categoriesKeyPrefix + "all"
	}
	return categoriesKeyPrefix + "active"
}

// GetCategories returns the cached listing. found is false on a cache miss.
func (c *ReferenceCache) GetCategories(ctx context.Context, includeInactive bool) (categories []*repository.Category, found bool, err error) {
	data, err := c.client.Get(ctx, categoriesKey(includeInactive)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get categories from Redis: %w", err)
	}
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached categories: %w", err)
	}
	return categories, true, nil
}

// SetCategories stores a listing for the configured TTL.
func (c *ReferenceCache) SetCategories(ctx context.Context, includeInactive bool, categories []*repository.Category) error {
	data, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	if err := c.client.Set(ctx, categoriesKey(includeInactive), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set categories in Redis: %w", err)
	}
	return nil
}

// InvalidateCategories drops both cached listings.
func (c *ReferenceCache) InvalidateCategories(ctx context.Context) error {
	if err := c.client.Del(ctx, categoriesKey(true), categoriesKey(false)).Err(); err != nil {
		return fmt.Errorf("invalidate categories in Redis: %w", err)
	}
	return nil
}
