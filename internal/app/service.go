package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadflow/api/internal/auth"
	"leadflow/api/internal/authpw"
	"leadflow/api/internal/config"
	"leadflow/api/internal/embedqueue"
	"leadflow/api/internal/keyvault"
	"leadflow/api/internal/metrics"
	"leadflow/api/internal/openai"
	"leadflow/api/internal/querycache"
	"leadflow/api/internal/rbac"
	"leadflow/api/internal/search"
	"leadflow/api/internal/store"
	"leadflow/api/internal/whatsapp"
	"leadflow/api/internal/workflow"
)

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID string
	Email  string
}

type dataStore interface {
	Ping(context.Context) error
	GetUserByID(context.Context, string) (store.User, error)

	ListOrganizations(context.Context, string) ([]store.Organization, error)
	CreateOrganization(context.Context, string, string) (store.Organization, error)
	MemberRole(context.Context, string, string) (string, error)

	GetAPIKey(context.Context, string, string) (store.APIKey, error)
	UpsertAPIKey(context.Context, store.APIKey) error
	DeleteAPIKey(context.Context, string, string) (bool, error)

	ListLeads(context.Context, string, int) ([]store.Lead, error)
	GetLead(context.Context, string) (store.Lead, error)
	CreateLead(context.Context, store.Lead) (store.Lead, error)
	UpdateLead(context.Context, string, store.LeadPatch) (store.Lead, error)
	DeleteLead(context.Context, string) (bool, error)
	SetLeadEmbedding(context.Context, string, []float32) error
	MatchLeads(context.Context, string, []float32, float64, int) ([]store.LeadMatch, error)
	NearestLeads(context.Context, string, []float32, float64, int) ([]store.LeadMatch, error)
	HasEmbeddedLeads(context.Context, string) (bool, error)
	ListEmbeddedLeads(context.Context, string) ([]store.EmbeddedLead, error)
	LeadStats(context.Context, string, time.Time) (store.LeadStats, error)

	ListRecords(context.Context, string, string) ([]store.Record, error)
	GetRecord(context.Context, string, string) (store.Record, error)
	CreateRecord(context.Context, store.Record) (store.Record, error)
	UpdateRecord(context.Context, string, string, json.RawMessage) (store.Record, error)
	DeleteRecord(context.Context, string, string) (bool, error)

	InsertSearchJob(context.Context, store.SearchJob) (store.SearchJob, error)
}

// Check is a named dependency probed by /api/ready.
type Check struct {
	Name string
	Ping func(context.Context) error
}

type Deps struct {
	Config   config.Config
	Store    dataStore
	Auth     *authpw.Service
	Vault    *keyvault.Vault
	AI       *openai.Client
	Cache    *querycache.Client
	Search   *search.Service
	Workflow *workflow.Client
	WhatsApp *whatsapp.Client
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Checks   []Check
}

type Service struct {
	cfg      config.Config
	store    dataStore
	auth     *authpw.Service
	vault    *keyvault.Vault
	ai       *openai.Client
	cache    *querycache.Client
	search   *search.Service
	workflow *workflow.Client
	whatsapp *whatsapp.Client
	embeds   *embedqueue.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger
	checks   []Check
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.AI == nil {
		d.AI = openai.New(openai.Config{})
	}
	if d.Cache == nil {
		d.Cache = querycache.New(querycache.NewMemoryStore(time.Hour), querycache.Options{StaleTime: 10 * time.Minute, Logger: d.Logger})
	}
	if d.Search == nil {
		d.Search = search.NewService(nil, nil, d.Logger)
	}
	if d.Workflow == nil {
		d.Workflow = workflow.NewClient(d.Config.StartSearchWebhookURL, d.Config.WebhookSecret)
	}
	if d.WhatsApp == nil {
		d.WhatsApp = whatsapp.NewClient(d.Config.WhatsAppGatewayURL, d.Config.WhatsAppGatewayToken)
	}
	checks := append([]Check{{Name: "database", Ping: d.Store.Ping}}, d.Checks...)
	return &Service{
		cfg:      d.Config,
		store:    d.Store,
		auth:     d.Auth,
		vault:    d.Vault,
		ai:       d.AI,
		cache:    d.Cache,
		search:   d.Search,
		workflow: d.Workflow,
		whatsapp: d.WhatsApp,
		metrics:  d.Metrics,
		logger:   d.Logger,
		checks:   checks,
		now:      time.Now,
	}
}

// SetEmbedQueue wires the background embedding pool. Lead writes enqueue
// work only once it is set.
func (s *Service) SetEmbedQueue(pool *embedqueue.Pool) {
	s.embeds = pool
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.auth
}

// Authenticate resolves a bearer token to a user that still exists.
func (s *Service) Authenticate(ctx context.Context, token string) (Caller, error) {
	if token == "" {
		return Caller{}, errUnauthorized
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Caller{}, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Caller{}, errUnauthorized
	}
	if err != nil {
		return Caller{}, err
	}
	return Caller{UserID: user.ID, Email: user.Email}, nil
}

// ReadinessReport runs every dependency check.
func (s *Service) ReadinessReport(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			ready = false
			checks[check.Name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[check.Name] = map[string]any{"status": "ok"}
	}
	return ready, checks
}

// authorize checks that caller belongs to organizationID with a role
// allowed to perform action, and returns that role.
func (s *Service) authorize(ctx context.Context, caller Caller, organizationID string, action rbac.Action) (rbac.Role, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return "", validationError("organization_id is required")
	}
	raw, err := s.store.MemberRole(ctx, organizationID, caller.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domainError(http.StatusForbidden, "NOT_A_MEMBER", "You are not a member of this organization", nil)
	}
	if err != nil {
		return "", err
	}
	role := rbac.Normalize(raw)
	if !rbac.Can(role, action) {
		return role, domainError(http.StatusForbidden, "FORBIDDEN", "Your role does not allow this action", map[string]string{"role": string(role), "action": string(action)})
	}
	return role, nil
}

func (s *Service) invalidate(ctx context.Context, resource string) {
	if _, err := s.cache.Invalidate(ctx, resource); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("resource", resource), zap.Error(err))
		return
	}
	s.metrics.CacheInvalidated(resource)
}
