package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestKeyString(t *testing.T) {
	if got := NewKey("workflows", "user-1", "org-1").String(); got != "workflows|user-1|org-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := NewKey("organizations").String(); got != "organizations" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestFetchServesFreshValueFromCache(t *testing.T) {
	ctx := context.Background()
	client := New(NewMemoryStore(0), Options{StaleTime: time.Minute})
	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Fetch(ctx, client, NewKey("workflows", "u", "o"), fetch)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("unexpected value %v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
}

func TestFetchRefetchesAfterStaleTime(t *testing.T) {
	ctx := context.Background()
	client := New(NewMemoryStore(0), Options{StaleTime: time.Minute})
	now := time.Now()
	client.now = func() time.Time { return now }

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	key := NewKey("ai_settings", "u", "o")
	if _, err := Fetch(ctx, client, key, fetch); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	got, err := Fetch(ctx, client, key, fetch)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 || calls != 2 {
		t.Fatalf("expected refetch, got value=%d calls=%d", got, calls)
	}
}

func TestFetchErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	client := New(store, Options{StaleTime: time.Minute})
	boom := errors.New("boom")

	_, err := Fetch(ctx, client, NewKey("personas", "u", "o"), func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no cached entry, got %d", store.Len())
	}
}

func TestMutateInvalidatesOnlyMatchingResource(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	client := New(store, Options{StaleTime: time.Hour})

	counts := map[string]int{}
	fetcher := func(name string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			counts[name]++
			return name, nil
		}
	}

	keys := map[string]Key{
		"wf-org1":   NewKey("workflows", "u", "org-1"),
		"wf-org2":   NewKey("workflows", "u", "org-2"),
		"workflow":  NewKey("workflow", "u", "org-1"),
		"rules":     NewKey("assignment_rules", "u", "org-1"),
		"wf-prefix": NewKey("workflows_archive", "u", "org-1"),
	}
	for name, key := range keys {
		if _, err := Fetch(ctx, client, key, fetcher(name)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := Mutate(ctx, client, "workflows", func(context.Context) (bool, error) { return true, nil }); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	for name, key := range keys {
		if _, err := Fetch(ctx, client, key, fetcher(name)); err != nil {
			t.Fatal(err)
		}
	}

	for name, want := range map[string]int{"wf-org1": 2, "wf-org2": 2, "workflow": 1, "rules": 1, "wf-prefix": 1} {
		if counts[name] != want {
			t.Errorf("%s: expected %d fetches, got %d", name, want, counts[name])
		}
	}
}

func TestFailedMutateKeepsCache(t *testing.T) {
	ctx := context.Background()
	client := New(NewMemoryStore(0), Options{StaleTime: time.Hour})
	calls := 0
	fetch := func(context.Context) (int, error) { calls++; return calls, nil }
	key := NewKey("workflows", "u", "o")
	if _, err := Fetch(ctx, client, key, fetch); err != nil {
		t.Fatal(err)
	}

	_, err := Mutate(ctx, client, "workflows", func(context.Context) (int, error) { return 0, errors.New("denied") })
	if err == nil {
		t.Fatal("expected mutate error")
	}
	if _, err := Fetch(ctx, client, key, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected cache to survive failed mutation, got %d fetches", calls)
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	_ = store.Set(ctx, "a", Entry{Value: []byte(`1`), FetchedAt: now})
	_ = store.Set(ctx, "b", Entry{Value: []byte(`2`), FetchedAt: now.Add(-2 * time.Minute)})

	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatal("expected a to expire")
	}
}

func TestFetchOverlappingMutationIsNotCachedFresh(t *testing.T) {
	ctx := context.Background()
	client := New(NewMemoryStore(0), Options{StaleTime: time.Hour})
	key := NewKey("leads", "org-1")

	var mu sync.Mutex
	db := "old"
	read := func() string {
		mu.Lock()
		defer mu.Unlock()
		return db
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 1)
	go func() {
		got, err := Fetch(ctx, client, key, func(context.Context) (string, error) {
			value := read()
			close(started)
			<-release
			return value, nil
		})
		if err != nil {
			t.Errorf("Fetch: %v", err)
		}
		done <- got
	}()

	<-started
	_, err := Mutate(ctx, client, "leads", func(context.Context) (string, error) {
		mu.Lock()
		db = "new"
		mu.Unlock()
		return "new", nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	close(release)
	if got := <-done; got != "old" {
		t.Fatalf("in-flight fetch should return what it read, got %q", got)
	}

	got, err := Fetch(ctx, client, key, func(context.Context) (string, error) { return read(), nil })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "new" {
		t.Fatalf("expected refetch after mutation, got %q", got)
	}
}

// invalidatingStore lets a mutation invalidate just before the first
// write lands, after Fetch has already checked for invalidations.
type invalidatingStore struct {
	*MemoryStore
	client *Client
	once   sync.Once
}

func (s *invalidatingStore) Set(ctx context.Context, key string, entry Entry) error {
	s.once.Do(func() {
		_, _ = s.client.Invalidate(ctx, "workflows")
	})
	return s.MemoryStore.Set(ctx, key, entry)
}

func TestInvalidationDuringWriteLeavesEntryStale(t *testing.T) {
	ctx := context.Background()
	store := &invalidatingStore{MemoryStore: NewMemoryStore(0)}
	client := New(store, Options{StaleTime: time.Hour})
	store.client = client

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	key := NewKey("workflows", "u", "o")
	if _, err := Fetch(ctx, client, key, fetch); err != nil {
		t.Fatal(err)
	}
	got, err := Fetch(ctx, client, key, fetch)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("expected refetch after invalidation, got value %d after %d calls", got, calls)
	}
}

func TestMemoryStoreWritesDropExpiredEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		_ = store.Set(ctx, fmt.Sprintf("embedding|model|q%d", i), Entry{Value: []byte(`[]`), FetchedAt: now})
	}
	now = now.Add(2 * time.Minute)
	_ = store.Set(ctx, "embedding|model|latest", Entry{Value: []byte(`[]`), FetchedAt: now})

	if got := store.Len(); got != 1 {
		t.Fatalf("expected expired entries dropped on write, %d held", got)
	}
}
