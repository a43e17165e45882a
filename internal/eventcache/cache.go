// Package eventcache caches each user's most recent presence event in Redis.
package eventcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/nestpulse/presence-api/internal/domain"
)

// Cache is the fast path for "what is this user doing right now". It is not
// authoritative: a miss falls back to the store and the entry is repopulated.
// There is at most one live value per user, so no expiry is applied.
type Cache struct {
	client *redis.Client
}

// New constructs a latest-event cache backed by the provided Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

type cachedEvent struct {
	UserID     string `json:"user_id"`
	Type       string `json:"type"`
	OccurredAt int64  `json:"occurred_at_ms"`
}

// Get fetches the cached latest event if present. A miss returns (nil, nil).
func (c *Cache) Get(ctx context.Context, userID string) (*domain.PresenceEvent, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached event: %w", err)
	}

	var stored cachedEvent
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode cached event: %w", err)
	}

	return &domain.PresenceEvent{
		UserID:     stored.UserID,
		Type:       domain.EventType(stored.Type),
		OccurredAt: time.UnixMilli(stored.OccurredAt).UTC(),
	}, nil
}

// Set overwrites the cached latest event for the user.
func (c *Cache) Set(ctx context.Context, event *domain.PresenceEvent) error {
	if c == nil || c.client == nil || event == nil {
		return nil
	}

	payload, err := json.Marshal(cachedEvent{
		UserID:     event.UserID,
		Type:       string(event.Type),
		OccurredAt: event.OccurredAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode event for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(event.UserID), payload, 0).Err(); err != nil {
		return fmt.Errorf("set cached event: %w", err)
	}

	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("presence:latest:%s", userID)
}
