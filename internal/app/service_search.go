package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"leadflow/api/internal/embedqueue"
	"leadflow/api/internal/openai"
	"leadflow/api/internal/querycache"
	"leadflow/api/internal/rbac"
	"leadflow/api/internal/search"
	"leadflow/api/internal/store"
)

const (
	defaultMatchCount     = 10
	maxMatchCount         = 50
	defaultMatchThreshold = 0.5
)

// LeadFields is the optional lead payload embed-lead accepts in place of
// (or on top of) the stored row.
type LeadFields struct {
	Name     string `json:"name"`
	Business string `json:"business"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	City     string `json:"city"`
	Status   string `json:"status"`
	Source   string `json:"source"`
	Notes    string `json:"notes"`
}

type EmbedLeadRequest struct {
	LeadID   string      `json:"lead_id"`
	LeadData *LeadFields `json:"lead_data"`
}

type EmbedLeadResult struct {
	LeadID     string `json:"lead_id"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"`
}

// EmbedLead builds the lead's text blob, embeds it, and stores the vector
// on the lead row.
func (s *Service) EmbedLead(ctx context.Context, caller Caller, req EmbedLeadRequest) (EmbedLeadResult, error) {
	leadID := strings.TrimSpace(req.LeadID)
	if leadID == "" {
		return EmbedLeadResult{}, validationError("lead_id is required")
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return EmbedLeadResult{}, err
	}
	if _, err := s.authorize(ctx, caller, lead.OrganizationID, rbac.ActionInvoke); err != nil {
		return EmbedLeadResult{}, err
	}
	if req.LeadData != nil {
		lead = overlayLead(lead, *req.LeadData)
	}
	client, err := s.resolveAI(ctx, caller.UserID)
	if err != nil {
		return EmbedLeadResult{}, err
	}
	vec, err := s.embedLead(ctx, client, lead)
	if err != nil {
		return EmbedLeadResult{}, err
	}
	return EmbedLeadResult{LeadID: lead.ID, Dimensions: len(vec), Model: client.EmbeddingModel()}, nil
}

// ProcessEmbedJob is the embedding queue's worker function.
func (s *Service) ProcessEmbedJob(ctx context.Context, job embedqueue.Job) error {
	lead, err := s.store.GetLead(ctx, job.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", job.LeadID, err)
	}
	client, err := s.resolveAI(ctx, job.UserID)
	if errors.Is(err, errNoAIKey) {
		s.logger.Debug("skipping lead embedding, no api key", zap.String("lead_id", job.LeadID))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.embedLead(ctx, client, lead)
	return err
}

func (s *Service) embedLead(ctx context.Context, client *openai.Client, lead store.Lead) ([]float32, error) {
	text := leadText(lead)
	if text == "" {
		return nil, validationError("Lead has no text to embed")
	}
	vec, err := client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetLeadEmbedding(ctx, lead.ID, vec); err != nil {
		return nil, fmt.Errorf("store embedding: %w", err)
	}
	s.invalidate(ctx, "leads")
	return vec, nil
}

func (s *Service) enqueueEmbed(lead store.Lead, userID string) {
	if s.embeds == nil {
		return
	}
	if !s.embeds.Enqueue(embedqueue.Job{LeadID: lead.ID, UserID: userID}) {
		s.logger.Warn("embed queue full, lead not embedded", zap.String("lead_id", lead.ID))
	}
}

func overlayLead(lead store.Lead, in LeadFields) store.Lead {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&lead.Name, in.Name)
	set(&lead.Business, in.Business)
	set(&lead.Email, in.Email)
	set(&lead.Phone, in.Phone)
	set(&lead.City, in.City)
	set(&lead.Status, in.Status)
	set(&lead.Source, in.Source)
	set(&lead.Notes, in.Notes)
	return lead
}

// leadText is the blob embedded for a lead: one "Label: value" line per
// non-empty field.
func leadText(lead store.Lead) string {
	fields := []struct{ label, value string }{
		{"Name", lead.Name},
		{"Business", lead.Business},
		{"City", lead.City},
		{"Email", lead.Email},
		{"Phone", lead.Phone},
		{"Status", lead.Status},
		{"Source", lead.Source},
		{"Notes", lead.Notes},
	}
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			lines = append(lines, f.label+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

type SemanticSearchRequest struct {
	Query               string   `json:"query"`
	UserID              string   `json:"user_id"`
	OrganizationID      string   `json:"organization_id"`
	Limit               int      `json:"limit"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

type SemanticSearchResult struct {
	Query        string            `json:"query"`
	Results      []store.LeadMatch `json:"results"`
	TotalResults int               `json:"total_results"`
}

// SemanticSearch embeds the query and ranks the organization's leads by
// cosine similarity. It calls match_leads and falls back to an inline
// distance query when that function is not installed.
func (s *Service) SemanticSearch(ctx context.Context, caller Caller, req SemanticSearchRequest) (SemanticSearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SemanticSearchResult{}, validationError("query is required")
	}
	if req.UserID != "" && req.UserID != caller.UserID {
		return SemanticSearchResult{}, errUnauthorized
	}
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionRead); err != nil {
		return SemanticSearchResult{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultMatchCount
	}
	if limit > maxMatchCount {
		limit = maxMatchCount
	}
	threshold := defaultMatchThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
		if threshold < 0 || threshold > 1 {
			return SemanticSearchResult{}, validationError("similarity_threshold must be between 0 and 1")
		}
	}

	orgID := strings.TrimSpace(req.OrganizationID)
	// Nothing to rank against, so no key or embedding is needed.
	embedded, err := s.store.HasEmbeddedLeads(ctx, orgID)
	if err != nil {
		return SemanticSearchResult{}, err
	}
	if !embedded {
		return SemanticSearchResult{Query: query, Results: []store.LeadMatch{}, TotalResults: 0}, nil
	}

	client, err := s.resolveAI(ctx, caller.UserID)
	if err != nil {
		return SemanticSearchResult{}, err
	}
	vec, err := s.queryEmbedding(ctx, client, query)
	if err != nil {
		return SemanticSearchResult{}, err
	}

	matches, err := s.store.MatchLeads(ctx, orgID, vec, threshold, limit)
	if store.IsUndefinedFunction(err) {
		s.logger.Warn("match_leads missing, using inline distance query")
		matches, err = s.store.NearestLeads(ctx, orgID, vec, threshold, limit)
	}
	if err != nil {
		return SemanticSearchResult{}, err
	}
	if matches == nil {
		matches = []store.LeadMatch{}
	}
	return SemanticSearchResult{Query: query, Results: matches, TotalResults: len(matches)}, nil
}

// queryEmbedding memoizes query vectors per model in the shared cache.
func (s *Service) queryEmbedding(ctx context.Context, client *openai.Client, query string) ([]float32, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	key := querycache.NewKey("embedding", client.EmbeddingModel(), normalized)
	return querycache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]float32, error) {
		return client.Embed(ctx, query)
	})
}

type LeadSearchRequest struct {
	Query          string `json:"query"`
	OrganizationID string `json:"organization_id"`
	Status         string `json:"status"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

// LeadSearch is the keyword counterpart to SemanticSearch.
func (s *Service) LeadSearch(ctx context.Context, caller Caller, req LeadSearchRequest) (search.Response, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{
		Text:           strings.TrimSpace(req.Query),
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		Status:         req.Status,
		Limit:          req.Limit,
		Offset:         req.Offset,
	}), nil
}

func leadRecord(lead store.Lead) search.LeadRecord {
	return search.LeadRecord{
		ID:             lead.ID,
		OrganizationID: lead.OrganizationID,
		Name:           lead.Name,
		Business:       lead.Business,
		Email:          lead.Email,
		Phone:          lead.Phone,
		City:           lead.City,
		Status:         lead.Status,
		Source:         lead.Source,
		Notes:          lead.Notes,
		Score:          lead.Score,
	}
}
