package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"leadflow/api/internal/auth"
	"leadflow/api/internal/config"
	"leadflow/api/internal/keyvault"
	"leadflow/api/internal/openai"
	"leadflow/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	pingFn              func(context.Context) error
	getUserByIDFn       func(context.Context, string) (store.User, error)
	memberRoleFn        func(context.Context, string, string) (string, error)
	listOrganizationsFn func(context.Context, string) ([]store.Organization, error)
	getAPIKeyFn         func(context.Context, string, string) (store.APIKey, error)
	upsertAPIKeyFn      func(context.Context, store.APIKey) error
	deleteAPIKeyFn      func(context.Context, string, string) (bool, error)
	listLeadsFn         func(context.Context, string, int) ([]store.Lead, error)
	getLeadFn           func(context.Context, string) (store.Lead, error)
	createLeadFn        func(context.Context, store.Lead) (store.Lead, error)
	updateLeadFn        func(context.Context, string, store.LeadPatch) (store.Lead, error)
	setLeadEmbeddingFn  func(context.Context, string, []float32) error
	matchLeadsFn        func(context.Context, string, []float32, float64, int) ([]store.LeadMatch, error)
	nearestLeadsFn      func(context.Context, string, []float32, float64, int) ([]store.LeadMatch, error)
	hasEmbeddedFn       func(context.Context, string) (bool, error)
	listEmbeddedFn      func(context.Context, string) ([]store.EmbeddedLead, error)
	leadStatsFn         func(context.Context, string, time.Time) (store.LeadStats, error)
	listRecordsFn       func(context.Context, string, string) ([]store.Record, error)
	getRecordFn         func(context.Context, string, string) (store.Record, error)
	createRecordFn      func(context.Context, store.Record) (store.Record, error)
	insertSearchJobFn   func(context.Context, store.SearchJob) (store.SearchJob, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// GetUserByID defaults to every token subject being a live user.
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, Email: id + "@example.com"}, nil
}

func (f *fakeStore) ListOrganizations(ctx context.Context, userID string) ([]store.Organization, error) {
	if f.listOrganizationsFn != nil {
		return f.listOrganizationsFn(ctx, userID)
	}
	return []store.Organization{}, nil
}

func (f *fakeStore) CreateOrganization(_ context.Context, name, _ string) (store.Organization, error) {
	return store.Organization{ID: "org-new", Name: name, Role: "owner"}, nil
}

// MemberRole defaults to every caller being a member.
func (f *fakeStore) MemberRole(ctx context.Context, orgID, userID string) (string, error) {
	if f.memberRoleFn != nil {
		return f.memberRoleFn(ctx, orgID, userID)
	}
	return "member", nil
}

func (f *fakeStore) GetAPIKey(ctx context.Context, userID, provider string) (store.APIKey, error) {
	if f.getAPIKeyFn != nil {
		return f.getAPIKeyFn(ctx, userID, provider)
	}
	return store.APIKey{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertAPIKey(ctx context.Context, key store.APIKey) error {
	if f.upsertAPIKeyFn != nil {
		return f.upsertAPIKeyFn(ctx, key)
	}
	return nil
}

func (f *fakeStore) DeleteAPIKey(ctx context.Context, userID, provider string) (bool, error) {
	if f.deleteAPIKeyFn != nil {
		return f.deleteAPIKeyFn(ctx, userID, provider)
	}
	return false, nil
}

func (f *fakeStore) ListLeads(ctx context.Context, orgID string, limit int) ([]store.Lead, error) {
	if f.listLeadsFn != nil {
		return f.listLeadsFn(ctx, orgID, limit)
	}
	return []store.Lead{}, nil
}

func (f *fakeStore) GetLead(ctx context.Context, id string) (store.Lead, error) {
	if f.getLeadFn != nil {
		return f.getLeadFn(ctx, id)
	}
	return store.Lead{}, sql.ErrNoRows
}

func (f *fakeStore) CreateLead(ctx context.Context, lead store.Lead) (store.Lead, error) {
	if f.createLeadFn != nil {
		return f.createLeadFn(ctx, lead)
	}
	lead.ID = "lead-new"
	return lead, nil
}

func (f *fakeStore) UpdateLead(ctx context.Context, id string, patch store.LeadPatch) (store.Lead, error) {
	if f.updateLeadFn != nil {
		return f.updateLeadFn(ctx, id, patch)
	}
	return store.Lead{ID: id}, nil
}

func (f *fakeStore) DeleteLead(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) SetLeadEmbedding(ctx context.Context, id string, vec []float32) error {
	if f.setLeadEmbeddingFn != nil {
		return f.setLeadEmbeddingFn(ctx, id, vec)
	}
	return nil
}

func (f *fakeStore) MatchLeads(ctx context.Context, orgID string, vec []float32, threshold float64, count int) ([]store.LeadMatch, error) {
	if f.matchLeadsFn != nil {
		return f.matchLeadsFn(ctx, orgID, vec, threshold, count)
	}
	return nil, nil
}

func (f *fakeStore) NearestLeads(ctx context.Context, orgID string, vec []float32, threshold float64, count int) ([]store.LeadMatch, error) {
	if f.nearestLeadsFn != nil {
		return f.nearestLeadsFn(ctx, orgID, vec, threshold, count)
	}
	return nil, nil
}

// HasEmbeddedLeads defaults to true so searches reach the matcher.
func (f *fakeStore) HasEmbeddedLeads(ctx context.Context, orgID string) (bool, error) {
	if f.hasEmbeddedFn != nil {
		return f.hasEmbeddedFn(ctx, orgID)
	}
	return true, nil
}

func (f *fakeStore) ListEmbeddedLeads(ctx context.Context, orgID string) ([]store.EmbeddedLead, error) {
	if f.listEmbeddedFn != nil {
		return f.listEmbeddedFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) LeadStats(ctx context.Context, orgID string, since time.Time) (store.LeadStats, error) {
	if f.leadStatsFn != nil {
		return f.leadStatsFn(ctx, orgID, since)
	}
	return store.LeadStats{ByStatus: map[string]int{}, BySource: map[string]int{}}, nil
}

func (f *fakeStore) ListRecords(ctx context.Context, resource, orgID string) ([]store.Record, error) {
	if f.listRecordsFn != nil {
		return f.listRecordsFn(ctx, resource, orgID)
	}
	return []store.Record{}, nil
}

func (f *fakeStore) GetRecord(ctx context.Context, resource, id string) (store.Record, error) {
	if f.getRecordFn != nil {
		return f.getRecordFn(ctx, resource, id)
	}
	return store.Record{}, sql.ErrNoRows
}

func (f *fakeStore) CreateRecord(ctx context.Context, record store.Record) (store.Record, error) {
	if f.createRecordFn != nil {
		return f.createRecordFn(ctx, record)
	}
	record.ID = "rec-new"
	return record, nil
}

func (f *fakeStore) UpdateRecord(_ context.Context, resource, id string, data json.RawMessage) (store.Record, error) {
	return store.Record{ID: id, Resource: resource, Data: data}, nil
}

func (f *fakeStore) DeleteRecord(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) InsertSearchJob(ctx context.Context, job store.SearchJob) (store.SearchJob, error) {
	if f.insertSearchJobFn != nil {
		return f.insertSearchJobFn(ctx, job)
	}
	job.ID = "job-1"
	return job, nil
}

// fakeOpenAI answers embeddings with a fixed vector and chat completions
// with chatContent. It records the last Authorization header.
type fakeOpenAI struct {
	server      *httptest.Server
	chatContent string

	mu         sync.Mutex
	lastAuth   string
	embedCalls int
}

func (f *fakeOpenAI) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeOpenAI) embeds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls
}

func newFakeOpenAI(t *testing.T) *fakeOpenAI {
	t.Helper()
	f := &fakeOpenAI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		if r.URL.Path == "/embeddings" {
			f.embedCalls++
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/embeddings":
			vec := make([]float32, openai.EmbeddingDimensions)
			vec[0] = 1
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": vec}}})
		case "/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": f.chatContent}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOpenAI) client(key string) *openai.Client {
	return openai.New(openai.Config{APIKey: key, BaseURL: f.server.URL})
}

type testDeps struct {
	cfg   config.Config
	ai    *openai.Client
	vault *keyvault.Vault
}

func newTestService(t *testing.T, fs *fakeStore, deps testDeps) *Service {
	t.Helper()
	deps.cfg.JWTSecret = testSecret
	return NewService(Deps{
		Config: deps.cfg,
		Store:  fs,
		AI:     deps.ai,
		Vault:  deps.vault,
	})
}

func testToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:   userID,
		Email: userID + "@example.com",
		JTI:   "jti-" + userID,
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// call sends a JSON request as userID (empty for anonymous) and decodes
// an object answer into a map.
func call(t *testing.T, server *HTTPServer, method, path, userID, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+testToken(t, userID))
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	payload := map[string]any{}
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr.Code, payload
}

func mustVault(t *testing.T) *keyvault.Vault {
	t.Helper()
	vault, err := keyvault.New("unit-test-encryption-secret")
	if err != nil {
		t.Fatalf("keyvault: %v", err)
	}
	return vault
}

func fullConfig(webhookURL string) config.Config {
	return config.Config{
		StartSearchWebhookURL: webhookURL,
		WebhookSecret:         "hook-secret",
		OpenAIKey:             "sk-server",
		KeyEncryptionKey:      "enc-key",
	}
}
