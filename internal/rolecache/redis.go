// Package rolecache caches project membership roles in Redis so hot
// authorization checks skip the membership table. The cache is best-effort:
// misses and Redis failures fall through to the store.
package rolecache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, prefix: "role:", ttl: ttl}, nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: "role:", ttl: ttl}
}

func (c *Cache) key(projectID, userID string) string {
	return c.prefix + projectID + ":" + userID
}

// Get returns the cached role and whether it was present. Errors are
// reported as a miss; the caller re-reads the membership table.
func (c *Cache) Get(ctx context.Context, projectID, userID string) (string, bool) {
	role, err := c.client.Get(ctx, c.key(projectID, userID)).Result()
	if err != nil {
		return "", false
	}
	return role, true
}

func (c *Cache) Set(ctx context.Context, projectID, userID, role string) error {
	if err := c.client.Set(ctx, c.key(projectID, userID), role, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache role: %w", err)
	}
	return nil
}

// Invalidate drops the cached role after a membership mutation.
func (c *Cache) Invalidate(ctx context.Context, projectID, userID string) error {
	if err := c.client.Del(ctx, c.key(projectID, userID)).Err(); err != nil {
		return fmt.Errorf("invalidate role: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
