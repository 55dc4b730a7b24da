package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"leadflow/api/internal/backend"
	"leadflow/api/internal/querycache"
)

type fakeBackend struct {
	selectFn func(ctx context.Context, table string, query url.Values, out any) error
	insertFn func(ctx context.Context, table string, row, out any) error
	invokeFn func(ctx context.Context, fn string, req, resp any) error

	calls   int
	selects map[string]int
}

func (f *fakeBackend) Select(ctx context.Context, table string, query url.Values, out any) error {
	f.calls++
	if f.selects == nil {
		f.selects = map[string]int{}
	}
	f.selects[table]++
	if f.selectFn != nil {
		return f.selectFn(ctx, table, query, out)
	}
	return json.Unmarshal([]byte(`[]`), out)
}

func (f *fakeBackend) Insert(ctx context.Context, table string, row, out any) error {
	f.calls++
	if f.insertFn != nil {
		return f.insertFn(ctx, table, row, out)
	}
	return nil
}

func (f *fakeBackend) Update(context.Context, string, string, any, any) error {
	f.calls++
	return nil
}

func (f *fakeBackend) Delete(context.Context, string, string) error {
	f.calls++
	return nil
}

func (f *fakeBackend) Invoke(ctx context.Context, fn string, req, resp any) error {
	f.calls++
	if f.invokeFn != nil {
		return f.invokeFn(ctx, fn, req, resp)
	}
	return nil
}

// respond fills out the way the network decoder would.
func respond(out any, payload string) error {
	return json.Unmarshal([]byte(payload), out)
}

func newClient(fb *fakeBackend, scope Scope, notes *[]Notification) *Client {
	cache := querycache.New(querycache.NewMemoryStore(0), querycache.Options{StaleTime: time.Hour})
	return New(fb, cache, Options{
		Scope: func() Scope { return scope },
		Notify: func(n Notification) {
			if notes != nil {
				*notes = append(*notes, n)
			}
		},
	})
}

func TestReadsWithoutScopeMakeNoCall(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		scope Scope
	}{
		{"no user", Scope{OrganizationID: "org-1"}},
		{"no organization", Scope{UserID: "u1"}},
		{"blank organization", Scope{UserID: "u1", OrganizationID: "  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBackend{}
			c := newClient(fb, tc.scope, nil)

			if _, err := c.Workflows().List(ctx); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("List: expected ErrUnauthenticated, got %v", err)
			}
			if _, err := c.ListLeads(ctx, 0); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("ListLeads: expected ErrUnauthenticated, got %v", err)
			}
			if _, err := c.AssignmentRules().Create(ctx, AssignmentRule{Name: "x"}); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("Create: expected ErrUnauthenticated, got %v", err)
			}
			if fb.calls != 0 {
				t.Fatalf("expected no backend calls, got %d", fb.calls)
			}
		})
	}
}

func TestListIsCachedPerScope(t *testing.T) {
	ctx := context.Background()
	var gotQuery url.Values
	fb := &fakeBackend{selectFn: func(_ context.Context, table string, query url.Values, out any) error {
		gotQuery = query
		return respond(out, `[{"id":"wf-1","organization_id":"org-1","data":{"name":"Welcome","trigger":"lead.created","active":true}}]`)
	}}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, nil)

	for i := 0; i < 3; i++ {
		rows, err := c.Workflows().List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(rows) != 1 || rows[0].Data.Name != "Welcome" || !rows[0].Data.Active {
			t.Fatalf("unexpected rows %+v", rows)
		}
	}
	if fb.selects["workflows"] != 1 {
		t.Fatalf("expected one fetch, got %d", fb.selects["workflows"])
	}
	if gotQuery.Get("organization_id") != "org-1" {
		t.Fatalf("expected organization filter, got %v", gotQuery)
	}
}

func TestMutationInvalidatesResourcePrefixOnly(t *testing.T) {
	ctx := context.Background()
	var notes []Notification
	fb := &fakeBackend{}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, &notes)

	if _, err := c.Workflows().List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AssignmentRules().List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Workflows().Create(ctx, Workflow{Name: "Nurture"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Workflows().List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AssignmentRules().List(ctx); err != nil {
		t.Fatal(err)
	}

	if fb.selects["workflows"] != 2 {
		t.Fatalf("expected workflows refetch, got %d fetches", fb.selects["workflows"])
	}
	if fb.selects["assignment_rules"] != 1 {
		t.Fatalf("assignment rules should stay cached, got %d fetches", fb.selects["assignment_rules"])
	}
	if len(notes) != 1 || notes[0].Level != LevelSuccess || notes[0].Message != "Workflow created" {
		t.Fatalf("unexpected notifications %+v", notes)
	}
}

func TestFailedMutationKeepsCacheAndNotifies(t *testing.T) {
	ctx := context.Background()
	var notes []Notification
	fb := &fakeBackend{insertFn: func(context.Context, string, any, any) error {
		return &backend.Error{Status: 403, Code: "FORBIDDEN", Message: "Insufficient permissions"}
	}}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, &notes)

	if _, err := c.ListLeads(ctx, 50); err != nil {
		t.Fatal(err)
	}
	_, err := c.CreateLead(ctx, NewLead{Name: "Acme"})
	if backend.StatusOf(err) != 403 {
		t.Fatalf("expected server error verbatim, got %v", err)
	}
	if _, err := c.ListLeads(ctx, 50); err != nil {
		t.Fatal(err)
	}
	if fb.selects["leads"] != 1 {
		t.Fatalf("failed write must not invalidate, got %d fetches", fb.selects["leads"])
	}
	if len(notes) != 1 || notes[0].Level != LevelError {
		t.Fatalf("expected an error notification, got %+v", notes)
	}
}

func TestCreateLeadSendsOrganization(t *testing.T) {
	ctx := context.Background()
	var sent map[string]any
	fb := &fakeBackend{insertFn: func(_ context.Context, table string, row, out any) error {
		raw, _ := json.Marshal(row)
		_ = json.Unmarshal(raw, &sent)
		return respond(out, `{"id":"lead-1","name":"Acme","status":"new"}`)
	}}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, nil)

	lead, err := c.CreateLead(ctx, NewLead{Name: "Acme", City: "Porto"})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if lead.ID != "lead-1" || sent["organization_id"] != "org-1" || sent["city"] != "Porto" {
		t.Fatalf("unexpected lead %+v sent %v", lead, sent)
	}
}

func TestOrganizationsNeedOnlyUser(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{selectFn: func(_ context.Context, _ string, _ url.Values, out any) error {
		return respond(out, `[{"id":"org-1","name":"Acme","role":"owner"}]`)
	}}
	c := newClient(fb, Scope{UserID: "u1"}, nil)
	orgs, err := c.ListOrganizations(ctx)
	if err != nil || len(orgs) != 1 || orgs[0].Role != "owner" {
		t.Fatalf("unexpected orgs %+v err=%v", orgs, err)
	}

	anon := newClient(&fakeBackend{}, Scope{}, nil)
	if _, err := anon.ListOrganizations(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
