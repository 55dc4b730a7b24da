package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"leadflow/api/internal/store"
)

func TestConversationSummaryNormalizesEnums(t *testing.T) {
	ai := newFakeOpenAI(t)
	ai.chatContent = `{"summary":" Asked for pricing. ","sentiment":"Excited","stage":"PROPOSAL","key_points":["pricing"," ",""],"next_action":"Send quote"}`
	svc := newTestService(t, &fakeStore{}, testDeps{ai: ai.client("sk-server")})

	got, err := svc.ConversationSummary(context.Background(), Caller{UserID: "user-1"}, SummaryRequest{
		OrganizationID: "org-1",
		Messages: []ChatMessage{
			{From: "lead", Text: "How much is it?"},
			{From: "agent", Text: "Let me check."},
		},
	})
	if err != nil {
		t.Fatalf("ConversationSummary: %v", err)
	}
	if got.Sentiment != "neutral" {
		t.Fatalf("unknown sentiment should become neutral, got %q", got.Sentiment)
	}
	if got.Stage != "proposal" {
		t.Fatalf("expected proposal, got %q", got.Stage)
	}
	if got.Summary != "Asked for pricing." || len(got.KeyPoints) != 1 {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestNormalizeSummaryUnknownStage(t *testing.T) {
	got := normalizeSummary(ConversationSummary{Sentiment: "negative", Stage: "ghosted"})
	if got.Stage != "contacted" || got.Sentiment != "negative" {
		t.Fatalf("unexpected %+v", got)
	}
	if got.KeyPoints == nil {
		t.Fatal("key points should be an empty list, not nil")
	}
}

func TestConversationSummaryNeedsMessages(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, testDeps{})
	_, err := svc.ConversationSummary(context.Background(), Caller{UserID: "user-1"}, SummaryRequest{
		OrganizationID: "org-1",
		Messages:       []ChatMessage{{From: "lead", Text: "  "}},
	})
	if status, _, _, _ := mapError(err); status != 422 {
		t.Fatalf("expected 422, got %d (%v)", status, err)
	}
}

func TestDedupeGroupsSharedContacts(t *testing.T) {
	fs := &fakeStore{
		listEmbeddedFn: func(context.Context, string) ([]store.EmbeddedLead, error) {
			return []store.EmbeddedLead{
				{Lead: store.Lead{ID: "a", Email: "Ana@Example.com"}},
				{Lead: store.Lead{ID: "b", Email: "ana@example.com"}},
				{Lead: store.Lead{ID: "c", Email: "other@example.com"}},
			}, nil
		},
	}
	svc := newTestService(t, fs, testDeps{})
	groups, err := svc.Dedupe(context.Background(), Caller{UserID: "user-1"}, DedupeRequest{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(groups) != 1 || len(groups[0].LeadIDs) != 2 || groups[0].Reason != "email" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	if _, err := svc.Dedupe(context.Background(), Caller{UserID: "user-1"}, DedupeRequest{OrganizationID: "org-1", Threshold: 1.5}); err == nil {
		t.Fatal("expected threshold validation error")
	}
}

func TestAnalyticsWithoutKeyUsesRules(t *testing.T) {
	var since time.Time
	fs := &fakeStore{
		leadStatsFn: func(_ context.Context, _ string, s time.Time) (store.LeadStats, error) {
			since = s
			return store.LeadStats{
				Total:         10,
				CreatedInSpan: 4,
				Embedded:      7,
				ByStatus:      map[string]int{"won": 2, "new": 8},
				BySource:      map[string]int{"maps": 6, "manual": 4},
			}, nil
		},
	}
	svc := newTestService(t, fs, testDeps{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	got, err := svc.Analytics(context.Background(), Caller{UserID: "user-1"}, AnalyticsRequest{OrganizationID: "org-1", PeriodDays: 7})
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if !since.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("unexpected period start %v", since)
	}
	if got.Source != "rules" || len(got.Insights) != 4 {
		t.Fatalf("unexpected insights %+v", got)
	}
	if !strings.Contains(got.Insights[1], "maps") || !strings.Contains(got.Insights[2], "20%") {
		t.Fatalf("unexpected insight text %q", got.Insights)
	}
}

func TestAnalyticsWithKeyAsksModel(t *testing.T) {
	ai := newFakeOpenAI(t)
	ai.chatContent = `{"insights":["Follow up with new leads faster."," "]}`
	svc := newTestService(t, &fakeStore{}, testDeps{ai: ai.client("sk-server")})

	got, err := svc.Analytics(context.Background(), Caller{UserID: "user-1"}, AnalyticsRequest{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if got.Source != "ai" || got.PeriodDays != defaultPeriodDays || len(got.Insights) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestEnrichClampsScoreAndApplies(t *testing.T) {
	ai := newFakeOpenAI(t)
	ai.chatContent = `{"industry":"Healthcare","score":140,"summary":"Family dental practice"}`
	var patched store.LeadPatch
	fs := &fakeStore{
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, OrganizationID: "org-1", Name: "Acme"}, nil
		},
		updateLeadFn: func(_ context.Context, id string, patch store.LeadPatch) (store.Lead, error) {
			patched = patch
			return store.Lead{ID: id, OrganizationID: "org-1"}, nil
		},
	}
	svc := newTestService(t, fs, testDeps{ai: ai.client("sk-server")})

	fields, err := svc.Enrich(context.Background(), Caller{UserID: "user-1"}, EnrichRequest{OrganizationID: "org-1", LeadID: "lead-1", Apply: true})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if fields.Score != 100 || fields.Tags == nil {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if patched.Score == nil || *patched.Score != 100 || patched.Notes == nil {
		t.Fatalf("expected score and notes patch, got %+v", patched)
	}

	if _, err := svc.Enrich(context.Background(), Caller{UserID: "user-1"}, EnrichRequest{OrganizationID: "org-2", LeadID: "lead-1"}); err == nil {
		t.Fatal("expected lead from another organization to be rejected")
	}
}
