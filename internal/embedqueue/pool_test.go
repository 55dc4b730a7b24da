package embedqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPoolProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{}, 3)
	pool := New(func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.LeadID] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, Options{Workers: 2})
	pool.Start()
	defer pool.Stop(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		if !pool.Enqueue(Job{LeadID: id}) {
			t.Fatalf("enqueue %s failed", id)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("jobs not processed")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 leads, got %v", seen)
	}
}

func TestPoolRetriesThenGivesUp(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	outcomes := make(chan string, 10)
	pool := New(func(context.Context, Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("provider down")
	}, Options{Workers: 1, Observer: func(outcome string) { outcomes <- outcome }})
	pool.Start()
	defer pool.Stop(context.Background())

	pool.Enqueue(Job{LeadID: "lead-1"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case outcome := <-outcomes:
			if outcome == "failed" {
				mu.Lock()
				defer mu.Unlock()
				if attempts != maxRetries {
					t.Fatalf("expected %d attempts, got %d", maxRetries, attempts)
				}
				return
			}
		case <-deadline:
			t.Fatal("job never gave up")
		}
	}
}

func TestEnqueueNonBlockingWhenFull(t *testing.T) {
	pool := New(func(context.Context, Job) error { return nil }, Options{QueueCapacity: 1})
	if !pool.Enqueue(Job{LeadID: "a"}) {
		t.Fatal("first enqueue should fit")
	}
	if pool.Enqueue(Job{LeadID: "b"}) {
		t.Fatal("second enqueue should be rejected without workers")
	}
	if pool.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", pool.Pending())
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	pool := New(func(context.Context, Job) error { return nil }, Options{})
	pool.Start()
	pool.Stop(context.Background())
	if pool.Enqueue(Job{LeadID: "a"}) {
		t.Fatal("enqueue after stop should fail")
	}
	pool.Stop(context.Background())
}
