// Package querycache is a keyed read cache with resource-wide invalidation.
// Entries are keyed by resource name plus parameters; a successful mutation
// marks every entry of its resource stale so the next read refetches.
package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sep = "|"

type Key struct {
	Resource string
	Params   []string
}

func NewKey(resource string, params ...string) Key {
	return Key{Resource: resource, Params: params}
}

func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Resource
	}
	return k.Resource + sep + strings.Join(k.Params, sep)
}

// Entry is the last known value for a key.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
	Stale     bool            `json:"stale"`
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	// MarkStale flags every entry of resource and returns how many were hit.
	MarkStale(ctx context.Context, resource string) (int, error)
}

type Options struct {
	// StaleTime is how long a fetched value is served without refetching.
	StaleTime time.Duration
	Logger    *zap.Logger
}

type Client struct {
	store     Store
	staleTime time.Duration
	logger    *zap.Logger
	now       func() time.Time

	// generations counts invalidations per resource so a fetch that
	// overlapped one does not cache what it read as fresh.
	mu          sync.Mutex
	generations map[string]uint64
}

func New(store Store, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		store:       store,
		staleTime:   opts.StaleTime,
		logger:      opts.Logger,
		now:         time.Now,
		generations: map[string]uint64{},
	}
}

func (c *Client) generation(resource string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[resource]
}

func (c *Client) fresh(entry Entry) bool {
	if entry.Stale {
		return false
	}
	return c.now().Sub(entry.FetchedAt) < c.staleTime
}

// Fetch returns the cached value for key when fresh, and otherwise runs
// fetch and caches its result. Failed fetches are not cached.
func Fetch[T any](ctx context.Context, c *Client, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	id := key.String()
	entry, ok, err := c.store.Get(ctx, id)
	if err != nil {
		c.logger.Warn("query cache read failed", zap.String("key", id), zap.Error(err))
	}
	if ok && c.fresh(entry) {
		var cached T
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			return cached, nil
		}
	}

	gen := c.generation(key.Resource)
	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if c.generation(key.Resource) != gen {
		return value, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("encode %s: %w", key.Resource, err)
	}
	if err := c.store.Set(ctx, id, Entry{Value: raw, FetchedAt: c.now()}); err != nil {
		c.logger.Warn("query cache write failed", zap.String("key", id), zap.Error(err))
		return value, nil
	}
	// An invalidation may have landed between the check and the write.
	if c.generation(key.Resource) != gen {
		if err := c.store.Set(ctx, id, Entry{Value: raw, FetchedAt: c.now(), Stale: true}); err != nil {
			c.logger.Warn("query cache write failed", zap.String("key", id), zap.Error(err))
		}
	}
	return value, nil
}

// Mutate runs mutate and, when it succeeds, invalidates resource.
func Mutate[T any](ctx context.Context, c *Client, resource string, mutate func(ctx context.Context) (T, error)) (T, error) {
	value, err := mutate(ctx)
	if err != nil {
		return value, err
	}
	if _, err := c.Invalidate(ctx, resource); err != nil {
		c.logger.Warn("query cache invalidation failed", zap.String("resource", resource), zap.Error(err))
	}
	return value, nil
}

// Invalidate marks every entry of resource stale, including values still
// being fetched.
func (c *Client) Invalidate(ctx context.Context, resource string) (int, error) {
	c.mu.Lock()
	c.generations[resource]++
	c.mu.Unlock()
	return c.store.MarkStale(ctx, resource)
}

func belongsTo(key, resource string) bool {
	return key == resource || strings.HasPrefix(key, resource+sep)
}
