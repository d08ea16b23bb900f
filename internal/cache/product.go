// Package cache keeps recently read products in Redis. The store stays the
// source of truth: services read through the cache and invalidate it after
// every write.
//
// Every product has a generation counter next to its cached document.
// Invalidate bumps the counter. Set only writes while the counter still holds
// the value Get observed before the store was read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/pkg/breaker"
)

// ErrMiss is returned by Get when the product is not cached.
var ErrMiss = errors.New("cache miss")

// errStale aborts a Set whose generation was overtaken by an Invalidate.
var errStale = errors.New("cache generation changed")

const (
	keyPrefix        = "catalog:product:"
	generationPrefix = "catalog:product-gen:"

	// generationTTL must outlive any store read between Get and Set.
	generationTTL = 24 * time.Hour
)

// Generation is the invalidation counter of one product as seen by Get.
type Generation int64

// ProductCache is a read-through cache of products keyed by id. On a miss,
// Get returns the generation that must be handed to Set with the product
// read from the store.
type ProductCache interface {
	Get(ctx context.Context, id string) (*domain.Product, Generation, error)
	Set(ctx context.Context, p *domain.Product, gen Generation) error
	Invalidate(ctx context.Context, id string) error
}

// RedisProductCache implements ProductCache on Redis behind a circuit breaker,
// so a struggling Redis is skipped instead of slowing every read.
//
// Ids whose invalidation failed are remembered in pending. They bypass the
// cache in this process until an invalidation goes through.
type RedisProductCache struct {
	client *redis.Client
	ttl    time.Duration
	cb     *breaker.Breaker[[]any]
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewRedisProductCache creates a Redis-backed product cache.
func NewRedisProductCache(client *redis.Client, ttl time.Duration, cbCfg breaker.Config, logger *slog.Logger) *RedisProductCache {
	return &RedisProductCache{
		client: client,
		ttl:    ttl,
		cb: breaker.New[[]any](cbCfg, logger, func(err error) bool {
			return err == nil || errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr)
		}),
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

func entryKey(id string) string      { return keyPrefix + id }
func generationKey(id string) string { return generationPrefix + id }

// Get returns the cached product, or ErrMiss with the current generation.
func (c *RedisProductCache) Get(ctx context.Context, id string) (*domain.Product, Generation, error) {
	if c.isPending(id) {
		if err := c.Invalidate(ctx, id); err != nil {
			return nil, 0, fmt.Errorf("product %s awaits invalidation: %w", id, err)
		}
	}

	vals, err := c.cb.Execute(func() ([]any, error) {
		return c.client.MGet(ctx, entryKey(id), generationKey(id)).Result()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("redis get product: %w", err)
	}

	gen, err := parseGeneration(vals[1])
	if err != nil {
		return nil, 0, err
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, ErrMiss
	}

	var p domain.Product
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, 0, fmt.Errorf("unmarshal cached product: %w", err)
	}
	return &p, gen, nil
}

// Set caches p without its reviews, unless the product was invalidated
// after Get returned gen. A skipped write is not an error.
func (c *RedisProductCache) Set(ctx context.Context, p *domain.Product, gen Generation) error {
	if c.isPending(p.ID) {
		return nil
	}

	entry := *p
	entry.Reviews = nil
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}

	genKey := generationKey(p.ID)
	_, err = c.cb.Execute(func() ([]any, error) {
		return nil, c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, genKey).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if Generation(current) != gen {
				return errStale
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, entryKey(p.ID), data, c.ttl)
				return nil
			})
			return err
		}, genKey)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		c.logger.DebugContext(ctx, "skipped caching product overtaken by a write",
			slog.String("product_id", p.ID),
		)
		return nil
	default:
		return fmt.Errorf("redis set product: %w", err)
	}
}

// Invalidate bumps the product's generation and drops its cached entry.
// On failure the id stays pending until a later Invalidate succeeds.
func (c *RedisProductCache) Invalidate(ctx context.Context, id string) error {
	_, err := c.cb.Execute(func() ([]any, error) {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, entryKey(id))
			return nil
		})
		return nil, err
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.pending[id] = struct{}{}
		return fmt.Errorf("redis invalidate product: %w", err)
	}
	delete(c.pending, id)
	return nil
}

func (c *RedisProductCache) isPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

func parseGeneration(v any) (Generation, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse product generation %q: %w", s, err)
	}
	return Generation(n), nil
}

// Noop is used when Redis is disabled; every Get misses.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Product, Generation, error) {
	return nil, 0, ErrMiss
}

func (Noop) Set(context.Context, *domain.Product, Generation) error { return nil }

func (Noop) Invalidate(context.Context, string) error { return nil }
