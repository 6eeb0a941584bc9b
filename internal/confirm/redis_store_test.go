package confirm

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bot-financas/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*Cache, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rds := cache.NewFromClient(client, logger)
	t.Cleanup(func() { _ = rds.Close() })

	clock := &fakeClock{now: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)}
	store := NewRedisStore(rds, DefaultTTL, logger)
	return New(store, logger, WithClock(clock.Now)), clock, mr
}

func TestRedisStoreOverwritesAndSetsExpiry(t *testing.T) {
	confirmations, _, mr := newRedisCache(t)
	ctx := context.Background()

	confirmations.Save(ctx, "u1", ProductSnapshot{Name: "Fone", RegisteredPrice: price("89.90")})
	confirmations.Save(ctx, "u1", ProductSnapshot{Name: "Carregador", RegisteredPrice: price("45")})

	live := confirmations.Peek(ctx, "u1")
	require.NotNil(t, live)
	assert.Equal(t, "Carregador", live.Product.Name)
	assert.True(t, live.Product.RegisteredPrice.Equal(decimal.NewFromInt(45)))
	assert.Equal(t, DefaultTTL+time.Minute, mr.TTL("confirm:u1"))
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisStoreConsumesOnceAcrossCallers(t *testing.T) {
	confirmations, _, mr := newRedisCache(t)
	ctx := context.Background()
	confirmations.Save(ctx, "u1", ProductSnapshot{Name: "Fone", RegisteredPrice: price("89.90")})

	var registered atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, outcome := confirmations.Consume(ctx, "u1", "sim"); outcome.Kind == Registered {
				registered.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), registered.Load())
	assert.False(t, mr.Exists("confirm:u1"))
}

func TestRedisStoreExpiredContextIsRemoved(t *testing.T) {
	confirmations, clock, mr := newRedisCache(t)
	ctx := context.Background()
	confirmations.Save(ctx, "u1", ProductSnapshot{Name: "Fone"})

	clock.Advance(DefaultTTL + time.Second)
	cls, outcome := confirmations.Consume(ctx, "u1", "sim")

	assert.Equal(t, NoActiveContext, cls.Kind)
	assert.Equal(t, NotPending, outcome.Kind)
	assert.False(t, mr.Exists("confirm:u1"))
}

func TestRedisStoreKeyExpiresWithoutSweep(t *testing.T) {
	confirmations, _, mr := newRedisCache(t)
	ctx := context.Background()
	confirmations.Save(ctx, "u1", ProductSnapshot{Name: "Fone"})

	mr.FastForward(DefaultTTL + 2*time.Minute)
	assert.False(t, mr.Exists("confirm:u1"))
}

func TestRedisStoreSweepRemovesOnlyExpired(t *testing.T) {
	confirmations, clock, mr := newRedisCache(t)
	ctx := context.Background()
	confirmations.Save(ctx, "old", ProductSnapshot{Name: "A"})
	clock.Advance(4 * time.Minute)
	confirmations.Save(ctx, "new", ProductSnapshot{Name: "B"})
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, confirmations.Sweep(ctx))
	assert.False(t, mr.Exists("confirm:old"))
	assert.True(t, mr.Exists("confirm:new"))
}

func TestRedisStoreDropsUndecodablePayload(t *testing.T) {
	confirmations, _, mr := newRedisCache(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("confirm:u1", "{not json"))

	assert.Nil(t, confirmations.Peek(ctx, "u1"))
	assert.False(t, mr.Exists("confirm:u1"))
}

func TestRedisStoreFailureConsumesNothing(t *testing.T) {
	confirmations, _, mr := newRedisCache(t)
	ctx := context.Background()
	confirmations.Save(ctx, "u1", ProductSnapshot{Name: "Fone", RegisteredPrice: price("89.90")})

	mr.SetError("ERR injected failure")
	cls, outcome := confirmations.Consume(ctx, "u1", "sim")
	assert.Equal(t, NoActiveContext, cls.Kind)
	assert.Equal(t, NotPending, outcome.Kind)

	mr.SetError("")
	_, outcome = confirmations.Consume(ctx, "u1", "sim")
	assert.Equal(t, Registered, outcome.Kind)
	assert.True(t, outcome.Price.Equal(decimal.RequireFromString("89.90")))
}
