package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaleDjerfi/shopit/internal/domain"
	"github.com/SaleDjerfi/shopit/pkg/breaker"
)

func setupCache(t *testing.T, ttl time.Duration) (*RedisProductCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := breaker.DefaultConfig("test-cache-" + t.Name())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRedisProductCache(client, ttl, cfg, logger), mr
}

func sample() *domain.Product {
	return &domain.Product{
		ID:       "p1",
		Name:     "Lamp",
		Slug:     "lamp-p1",
		Price:    1000,
		Images:   []domain.ProductImage{},
		Category: domain.CategoryHome,
		Rating:   4.5,
		Reviews: map[string]domain.Review{
			"u1": {UserID: "u1", Rating: 4},
			"u2": {UserID: "u2", Rating: 5},
		},
		ReviewCount: 2,
	}
}

func TestRedisProductCache_MissThenHit(t *testing.T) {
	c, _ := setupCache(t, time.Minute)
	ctx := context.Background()

	_, gen, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, Generation(0), gen)

	require.NoError(t, c.Set(ctx, sample(), gen))

	got, _, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Name)
	assert.Equal(t, 4.5, got.Rating)
	assert.Equal(t, 2, got.ReviewCount)
	assert.Nil(t, got.Reviews, "reviews are not cached")
}

func TestRedisProductCache_SetDoesNotMutateInput(t *testing.T) {
	c, _ := setupCache(t, time.Minute)
	p := sample()

	require.NoError(t, c.Set(context.Background(), p, 0))
	assert.Len(t, p.Reviews, 2)
}

func TestRedisProductCache_TTL(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, sample(), 0))

	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"p1"))

	mr.FastForward(2 * time.Minute)
	_, _, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisProductCache_Invalidate(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, sample(), 0))

	require.NoError(t, c.Invalidate(ctx, "p1"))
	assert.False(t, mr.Exists(keyPrefix+"p1"))
	assert.Equal(t, "1", mustGet(t, mr, generationPrefix+"p1"))
	assert.Equal(t, generationTTL, mr.TTL(generationPrefix+"p1"))

	// invalidating an absent key is not an error
	require.NoError(t, c.Invalidate(ctx, "p1"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestRedisProductCache_SetAfterInvalidateIsDropped(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	_, gen, err := c.Get(ctx, "p1")
	require.ErrorIs(t, err, ErrMiss)

	// a write commits and invalidates while the reader is still at the store
	require.NoError(t, c.Invalidate(ctx, "p1"))

	require.NoError(t, c.Set(ctx, sample(), gen))
	assert.False(t, mr.Exists(keyPrefix+"p1"))

	_, gen, err = c.Get(ctx, "p1")
	require.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, Generation(1), gen)

	require.NoError(t, c.Set(ctx, sample(), gen))
	got, _, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Name)
}

func TestRedisProductCache_FailedInvalidateStaysPending(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, sample(), 0))

	mr.Close()
	require.Error(t, c.Invalidate(ctx, "p1"))
	assert.True(t, c.isPending("p1"))
	require.NoError(t, mr.Restart())

	// the old entry survived the outage but is never served
	require.True(t, mr.Exists(keyPrefix+"p1"))
	_, _, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrMiss)
	assert.False(t, mr.Exists(keyPrefix+"p1"))
	assert.False(t, c.isPending("p1"))
}

func TestRedisProductCache_SetSkippedWhilePending(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	mr.Close()
	require.Error(t, c.Invalidate(ctx, "p1"))
	require.NoError(t, mr.Restart())

	require.NoError(t, c.Set(ctx, sample(), 0))
	assert.False(t, mr.Exists(keyPrefix+"p1"))
}

func TestRedisProductCache_MissesDoNotTripBreaker(t *testing.T) {
	c, _ := setupCache(t, time.Minute)
	ctx := context.Background()

	for range 20 {
		_, _, err := c.Get(ctx, "absent")
		require.ErrorIs(t, err, ErrMiss)
	}
	assert.Equal(t, "closed", c.cb.State().String())
}

func TestRedisProductCache_OutageOpensBreaker(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()
	mr.Close()

	for range 5 {
		_, _, err := c.Get(ctx, "p1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMiss)
	}

	_, _, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, breaker.ErrOpen)
}

func TestNoop(t *testing.T) {
	var c ProductCache = Noop{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sample(), 0))
	_, _, err := c.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, c.Invalidate(ctx, "p1"))
}
