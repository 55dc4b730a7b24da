package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares entries between API replicas. Each entry is a JSON
// string under prefix+key with retention as its TTL.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, retention), nil
}

func NewRedisStoreWithClient(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &RedisStore{client: client, prefix: "qc:", retention: retention}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, s.retention).Err(); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// MarkStale removes the resource's entries. A missing entry reads the same
// as a stale one, so deletion is the Redis form of marking.
func (s *RedisStore) MarkStale(ctx context.Context, resource string) (int, error) {
	patterns := []string{s.key(globEscape(resource)), s.key(globEscape(resource) + sep + "*")}
	n := 0
	for _, pattern := range patterns {
		iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return n, fmt.Errorf("scan cache entries: %w", err)
		}
		if len(batch) == 0 {
			continue
		}
		deleted, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return n, fmt.Errorf("delete cache entries: %w", err)
		}
		n += int(deleted)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func globEscape(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(value)
}
