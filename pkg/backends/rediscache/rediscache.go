// Package rediscache implements backends.ResponseCache on Redis. A cache
// failure never fails a turn: errors are logged and reported as misses.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached reply is served.
const DefaultTTL = time.Hour

type Cache struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func New(client *redis.Client, logger *slog.Logger, ttl time.Duration) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, logger: logger, ttl: ttl}
}

// key hashes the prompt so arbitrary user text never becomes a raw Redis key.
func key(prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("reply:%x", h.Sum64())
}

func (c *Cache) Get(ctx context.Context, prompt string) (string, bool) {
	val, err := c.client.Get(ctx, key(prompt)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("response cache get failed", "error", err)
		return "", false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, prompt, reply string) {
	if err := c.client.Set(ctx, key(prompt), reply, c.ttl).Err(); err != nil {
		c.logger.Warn("response cache set failed", "error", err)
	}
}
