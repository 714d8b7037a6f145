package doccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"archivum/api/internal/store"
)

// RedisCache implements Cache on a Redis backend. Keys are
// doccache:<documentID>:<strategyVersion>; RemoveAll scans the document's
// key prefix so versions never have to be enumerated by callers.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to the given redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
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

	return &RedisCache{client: client, prefix: "doccache:"}, nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "doccache:"}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(documentID int64, strategyVersion int) string {
	return fmt.Sprintf("%s%d:%d", c.prefix, documentID, strategyVersion)
}

func (c *RedisCache) HasValidEntry(ctx context.Context, documentID int64, strategyVersion int, ref store.Timestamp) (bool, error) {
	entry, err := c.Get(ctx, documentID, strategyVersion)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.ReferenceTimestamp.Equal(ref), nil
}

func (c *RedisCache) Get(ctx context.Context, documentID int64, strategyVersion int) (Entry, error) {
	data, err := c.client.Get(ctx, c.key(documentID, strategyVersion)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return entry, nil
}

func (c *RedisCache) Put(ctx context.Context, documentID int64, strategyVersion int, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(documentID, strategyVersion), data, 0).Err(); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (c *RedisCache) Remove(ctx context.Context, documentID int64, strategyVersion int) error {
	if err := c.client.Del(ctx, c.key(documentID, strategyVersion)).Err(); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

func (c *RedisCache) RemoveAll(ctx context.Context, documentID int64) error {
	pattern := fmt.Sprintf("%s%d:*", c.prefix, documentID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("remove cache entries: %w", err)
	}
	return nil
}
