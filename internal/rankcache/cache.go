// Package rankcache maintains the score-ordered leaderboard index in Redis.
package rankcache

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const indexKey = "leaderboard:alltime"

// UnrankedSentinel is returned by Rank for users absent from the index.
const UnrankedSentinel = -1

// Entry is one (user, score) pair from the sorted index.
type Entry struct {
	UserID string
	Score  float64
}

// Cache is a derived index over users' all-time scores. It is rebuilt from
// the durable store, never the other way around.
type Cache struct {
	client *redis.Client
}

// New constructs a ranked score cache backed by the provided Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Save idempotently overwrites the user's score in the index.
func (c *Cache) Save(ctx context.Context, userID string, score float64) error {
	if err := c.client.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: userID}).Err(); err != nil {
		return fmt.Errorf("save score: %w", err)
	}

	return nil
}

// Score returns the user's indexed score, or 0 when absent.
func (c *Cache) Score(ctx context.Context, userID string) (float64, error) {
	score, err := c.client.ZScore(ctx, indexKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get score: %w", err)
	}

	return score, nil
}

// Rank returns the user's 0-based position ordered by descending score, or
// UnrankedSentinel when the user is not indexed.
func (c *Cache) Rank(ctx context.Context, userID string) (int64, error) {
	rank, err := c.client.ZRevRank(ctx, indexKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return UnrankedSentinel, nil
		}
		return UnrankedSentinel, fmt.Errorf("get rank: %w", err)
	}

	return rank, nil
}

// Range returns entries between startRank and endRank inclusive, descending
// by score. Equal scores keep a stable order across queries on unchanged
// state (the underlying index breaks ties lexically).
func (c *Cache) Range(ctx context.Context, startRank, endRank int64) ([]Entry, error) {
	members, err := c.client.ZRevRangeWithScores(ctx, indexKey, startRank, endRank).Result()
	if err != nil {
		return nil, fmt.Errorf("get score range: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		userID, ok := member.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{UserID: userID, Score: member.Score})
	}

	return entries, nil
}

// Rebuild atomically replaces the index with the given snapshot.
func (c *Cache) Rebuild(ctx context.Context, entries []Entry) error {
	members := make([]redis.Z, 0, len(entries))
	for _, entry := range entries {
		members = append(members, redis.Z{Score: entry.Score, Member: entry.UserID})
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, indexKey)
	if len(members) > 0 {
		pipe.ZAdd(ctx, indexKey, members...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild score index: %w", err)
	}

	return nil
}
