package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"leadflow/api/internal/backend"
)

func TestAIHooksFailFastWithoutScope(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{}
	c := newClient(fb, Scope{UserID: "u1"}, nil)

	calls := map[string]func() error{
		"analytics": func() error { _, err := c.Analytics(ctx, AnalyticsRequest{}); return err },
		"dedupe":    func() error { _, err := c.Dedupe(ctx, DedupeRequest{}); return err },
		"enrich":    func() error { _, err := c.Enrich(ctx, EnrichRequest{LeadID: "l1"}); return err },
		"followup":  func() error { _, err := c.Followup(ctx, FollowupRequest{}); return err },
		"summary":   func() error { _, err := c.ConversationSummary(ctx, SummaryRequest{}); return err },
		"search":    func() error { _, err := c.SemanticSearch(ctx, SemanticSearchRequest{Query: "x"}); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
	if fb.calls != 0 {
		t.Fatalf("expected no network calls, got %d", fb.calls)
	}
}

func TestAIHookAttachesScopeAndDecodes(t *testing.T) {
	ctx := context.Background()
	var sentFn string
	var sent map[string]any
	fb := &fakeBackend{invokeFn: func(_ context.Context, fn string, req, resp any) error {
		sentFn = fn
		sent = req.(map[string]any)
		return json.Unmarshal([]byte(`{"success":true,"variations":[{"message":"Hi Acme!","confidence":0.8,"tone":"friendly"}]}`), resp)
	}}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, nil)

	out, err := c.Followup(ctx, FollowupRequest{Lead: FollowupLead{Name: "Acme", Business: "Dental"}})
	if err != nil {
		t.Fatalf("Followup: %v", err)
	}
	if sentFn != "ai-followup" || sent["user_id"] != "u1" || sent["organization_id"] != "org-1" {
		t.Fatalf("unexpected call %q %v", sentFn, sent)
	}
	lead, _ := sent["lead"].(map[string]any)
	if lead["business"] != "Dental" {
		t.Fatalf("expected lead fields to pass through, got %v", sent["lead"])
	}
	if len(out.Variations) != 1 || out.Variations[0].Message != "Hi Acme!" {
		t.Fatalf("unexpected variations %+v", out)
	}
	if fb.calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", fb.calls)
	}
}

func TestAIHookSurfacesRemoteErrorOnce(t *testing.T) {
	ctx := context.Background()
	remote := &backend.Error{Status: 502, Code: "AI_PROVIDER_ERROR", Message: "OpenAI API error (429): rate limited"}
	fb := &fakeBackend{invokeFn: func(context.Context, string, any, any) error { return remote }}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, nil)

	_, err := c.ConversationSummary(ctx, SummaryRequest{Messages: []ChatMessage{{From: "lead", Text: "hi"}}})
	if !errors.Is(err, remote) {
		t.Fatalf("expected remote error verbatim, got %v", err)
	}
	if fb.calls != 1 {
		t.Fatalf("expected no retry, got %d calls", fb.calls)
	}
}

func TestSummaryEnumerations(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{invokeFn: func(_ context.Context, _ string, _, resp any) error {
		return json.Unmarshal([]byte(`{"summary":"ok","sentiment":"positive","stage":"negotiation","key_points":[],"next_action":"call"}`), resp)
	}}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, nil)
	got, err := c.ConversationSummary(ctx, SummaryRequest{Messages: []ChatMessage{{From: "lead", Text: "deal?"}}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Sentiment != SentimentPositive || got.Stage != StageNegotiation {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestAppliedEnrichInvalidatesLeads(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{invokeFn: func(_ context.Context, _ string, _, resp any) error {
		return json.Unmarshal([]byte(`{"fields":{"score":80,"tags":[]},"applied":true}`), resp)
	}}
	c := newClient(fb, Scope{UserID: "u1", OrganizationID: "org-1"}, nil)

	if _, err := c.ListLeads(ctx, 0); err != nil {
		t.Fatal(err)
	}
	res, err := c.Enrich(ctx, EnrichRequest{LeadID: "lead-1", Apply: true})
	if err != nil || res.Fields.Score != 80 {
		t.Fatalf("Enrich: %+v %v", res, err)
	}
	if _, err := c.ListLeads(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if fb.selects["leads"] != 2 {
		t.Fatalf("expected leads refetch after applied enrich, got %d", fb.selects["leads"])
	}
}
