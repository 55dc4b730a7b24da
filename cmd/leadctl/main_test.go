package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadflow/api/internal/config"
	"leadflow/api/internal/prefs"
)

type fakeAPI struct {
	server *httptest.Server
	hits   atomic.Int32
	search map[string]any
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/v1/token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok",
				"expires_at":   time.Now().Add(time.Hour).Unix(),
				"user":         map[string]string{"id": "user-1", "email": "ana@example.com"},
			})
		case "/rest/v1/organizations":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"Authentication required"}`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":"org-1","name":"Acme","role":"owner"},{"id":"org-2","name":"Beta","role":"member"}]`))
		case "/functions/v1/semantic-search":
			_ = json.NewDecoder(r.Body).Decode(&f.search)
			_, _ = w.Write([]byte(`{"success":true,"query":"dentist","results":[{"id":"l1","name":"Smile","similarity":0.91}],"total_results":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

type harness struct {
	api    *fakeAPI
	store  *prefs.MemoryStore
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	return &harness{api: newFakeAPI(t), store: prefs.NewMemoryStore()}
}

// run builds a fresh CLI per invocation, like separate processes sharing
// local state.
func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	c := newCLI(config.CLI{APIURL: h.api.server.URL}, h.store, zap.NewNop(), &h.stdout, &h.stderr)
	return c.run(context.Background(), args)
}

func TestLoginAutoSelectsFirstOrganization(t *testing.T) {
	h := newHarness(t)
	if code := h.run("login", "-email", "ana@example.com", "-password", "secret123"); code != 0 {
		t.Fatalf("login exit %d: %s", code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "Active organization: Acme (org-1)") {
		t.Fatalf("unexpected output %q", h.stdout.String())
	}

	if code := h.run("use-org", "org-2"); code != 0 {
		t.Fatalf("use-org exit %d: %s", code, h.stderr.String())
	}
	if code := h.run("orgs"); code != 0 {
		t.Fatalf("orgs exit %d: %s", code, h.stderr.String())
	}
	for _, line := range strings.Split(h.stdout.String(), "\n") {
		if strings.Contains(line, "org-2") && !strings.HasPrefix(line, "*") {
			t.Fatalf("expected org-2 marked active, got %q", line)
		}
	}
}

func TestSearchWithoutSessionMakesNoCall(t *testing.T) {
	h := newHarness(t)
	if code := h.run("search", "dentist"); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(h.stderr.String(), "leadctl login") {
		t.Fatalf("expected sign-in hint, got %q", h.stderr.String())
	}
	if h.api.hits.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", h.api.hits.Load())
	}
}

func TestSearchSendsScopeAndRemembersQuery(t *testing.T) {
	h := newHarness(t)
	h.run("login", "-email", "ana@example.com", "-password", "secret123")

	if code := h.run("search", "-limit", "5", "dentist", "in", "porto"); code != 0 {
		t.Fatalf("search exit %d: %s", code, h.stderr.String())
	}
	if h.api.search["user_id"] != "user-1" || h.api.search["organization_id"] != "org-1" || h.api.search["query"] != "dentist in porto" {
		t.Fatalf("unexpected request %v", h.api.search)
	}
	if !strings.Contains(h.stdout.String(), "Smile") {
		t.Fatalf("expected result row, got %q", h.stdout.String())
	}

	h.run("search", "-recent")
	if strings.TrimSpace(h.stdout.String()) != "dentist in porto" {
		t.Fatalf("unexpected recent list %q", h.stdout.String())
	}
}

func TestLogoutClearsSessionAndOrganization(t *testing.T) {
	h := newHarness(t)
	h.run("login", "-email", "ana@example.com", "-password", "secret123")
	if code := h.run("logout"); code != 0 {
		t.Fatalf("logout exit %d", code)
	}
	ctx := context.Background()
	if _, ok, _ := prefs.Load[string](ctx, h.store, prefs.NamespaceOrg, "current"); ok {
		t.Fatal("expected active organization cleared")
	}
	if _, err := h.store.Get(ctx, prefs.NamespaceSession, "current"); err == nil {
		t.Fatal("expected session cleared")
	}
}

func TestDismissBanner(t *testing.T) {
	h := newHarness(t)
	if code := h.run("dismiss-banner", "ai-key-missing"); code != 0 {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	h.run("dismiss-banner", "welcome")
	h.run("dismiss-banner", "-list")
	if got := h.stdout.String(); got != "ai-key-missing\nwelcome\n" {
		t.Fatalf("unexpected list %q", got)
	}
	h.run("dismiss-banner", "-reset")
	h.run("dismiss-banner", "-list")
	if h.stdout.Len() != 0 {
		t.Fatalf("expected empty list after reset, got %q", h.stdout.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	if code := h.run("frobnicate"); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestPushRecent(t *testing.T) {
	got := pushRecent([]string{"a", "b", "c"}, "b")
	if strings.Join(got, ",") != "b,a,c" {
		t.Fatalf("unexpected %v", got)
	}
}
