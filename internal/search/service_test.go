package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeEngine struct {
	healthy   bool
	searchFn  func(q Query) ([]Result, int, error)
	mu        sync.Mutex
	indexed   []LeadRecord
	deleted   []string
	indexDone chan struct{}
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(_ context.Context, q Query) ([]Result, int, error) {
	return f.searchFn(q)
}

func (f *fakeEngine) IndexLeads(leads []LeadRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, leads...)
	f.mu.Unlock()
	if f.indexDone != nil {
		f.indexDone <- struct{}{}
	}
	return nil
}

func (f *fakeEngine) DeleteLead(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

type fakeSearcher struct {
	calls int
	fn    func(q Query) ([]Result, int, error)
}

func (f *fakeSearcher) Healthy() bool { return true }

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.calls++
	return f.fn(q)
}

func TestServiceUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeEngine{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		if q.OrganizationID != "org-1" || q.Limit != 20 {
			t.Fatalf("unexpected query %+v", q)
		}
		return []Result{{ID: "lead-1", Name: "Acme"}}, 1, nil
	}}
	fallback := &fakeSearcher{fn: func(Query) ([]Result, int, error) { return nil, 0, nil }}

	resp := NewService(primary, fallback, nil).Search(context.Background(), Query{Text: "acme", OrganizationID: "org-1"})
	if resp.Backend != "meilisearch" || resp.Total != 1 || resp.Results[0].ID != "lead-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback should not run")
	}
}

func TestServiceFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeEngine{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("timeout")
	}}
	fallback := &fakeSearcher{fn: func(Query) ([]Result, int, error) {
		return []Result{{ID: "lead-2"}}, 1, nil
	}}

	resp := NewService(primary, fallback, nil).Search(context.Background(), Query{Text: "dental", OrganizationID: "org-1"})
	if resp.Backend != "postgres" || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServiceSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeEngine{healthy: false, searchFn: func(Query) ([]Result, int, error) {
		t.Fatal("unhealthy primary must not be queried")
		return nil, 0, nil
	}}
	fallback := &fakeSearcher{fn: func(Query) ([]Result, int, error) { return nil, 0, errors.New("db down") }}

	resp := NewService(primary, fallback, nil).Search(context.Background(), Query{Text: "x", OrganizationID: "org-1"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
}

func TestIndexLeadIsAsync(t *testing.T) {
	primary := &fakeEngine{healthy: true, indexDone: make(chan struct{}, 1)}
	svc := NewService(primary, nil, nil)

	svc.IndexLead(LeadRecord{ID: "lead-1", OrganizationID: "org-1"})
	select {
	case <-primary.indexDone:
	case <-time.After(time.Second):
		t.Fatal("lead was not indexed")
	}
	primary.mu.Lock()
	defer primary.mu.Unlock()
	if len(primary.indexed) != 1 || primary.indexed[0].ID != "lead-1" {
		t.Fatalf("unexpected indexed %+v", primary.indexed)
	}
}

type fakeLoader struct{ records []LeadRecord }

func (f fakeLoader) LoadLeadRecords(context.Context) ([]LeadRecord, error) { return f.records, nil }

func TestReindexBatches(t *testing.T) {
	primary := &fakeEngine{healthy: true}
	records := make([]LeadRecord, 1201)
	for i := range records {
		records[i] = LeadRecord{ID: string(rune('a' + i%26))}
	}
	n, err := NewService(primary, nil, nil).Reindex(context.Background(), fakeLoader{records: records})
	if err != nil || n != 1201 {
		t.Fatalf("Reindex = %d, %v", n, err)
	}
	if len(primary.indexed) != 1201 {
		t.Fatalf("expected all records indexed, got %d", len(primary.indexed))
	}
}

func TestFiltersPinOrganization(t *testing.T) {
	got := filters(Query{OrganizationID: "org-1", Status: "won"})
	if len(got) != 2 || got[0] != `organizationId = "org-1"` || got[1] != `status = "won"` {
		t.Fatalf("unexpected filters %v", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape %q", got)
	}
}
