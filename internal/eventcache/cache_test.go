package eventcache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/nestpulse/presence-api/internal/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestCache_SetAndGet(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	cache := New(client)
	ctx := context.Background()

	event := &domain.PresenceEvent{
		UserID:     "u1",
		Type:       domain.EventHome,
		OccurredAt: time.UnixMilli(1_700_000_000_000).UTC(),
	}

	err := cache.Set(ctx, event)
	assert.NoError(t, err)

	got, err := cache.Get(ctx, "u1")
	assert.NoError(t, err)
	if assert.NotNil(t, got) {
		assert.Equal(t, event.UserID, got.UserID)
		assert.Equal(t, event.Type, got.Type)
		assert.True(t, event.OccurredAt.Equal(got.OccurredAt))
	}
}

func TestCache_MissReturnsNil(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	cache := New(client)

	got, err := cache.Get(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_SetOverwrites(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	cache := New(client)
	ctx := context.Background()

	first := &domain.PresenceEvent{UserID: "u1", Type: domain.EventHome, OccurredAt: time.UnixMilli(1000).UTC()}
	second := &domain.PresenceEvent{UserID: "u1", Type: domain.EventAway, OccurredAt: time.UnixMilli(2000).UTC()}

	assert.NoError(t, cache.Set(ctx, first))
	assert.NoError(t, cache.Set(ctx, second))

	got, err := cache.Get(ctx, "u1")
	assert.NoError(t, err)
	if assert.NotNil(t, got) {
		assert.Equal(t, domain.EventAway, got.Type)
	}
}

func TestCache_NilReceiverIsSafe(t *testing.T) {
	var cache *Cache

	got, err := cache.Get(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, cache.Set(context.Background(), &domain.PresenceEvent{UserID: "u1"}))
}
