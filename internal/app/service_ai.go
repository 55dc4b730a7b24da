package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"leadflow/api/internal/dedupe"
	"leadflow/api/internal/rbac"
	"leadflow/api/internal/store"
)

const (
	defaultVariations = 3
	maxVariations     = 5
	defaultPeriodDays = 30
	maxPeriodDays     = 365
)

var (
	sentiments = map[string]bool{"positive": true, "neutral": true, "negative": true}
	stages     = map[string]bool{
		"new": true, "contacted": true, "qualified": true, "proposal": true,
		"negotiation": true, "won": true, "lost": true,
	}
)

func errEmptyAIResponse(what string) *DomainError {
	return domainError(http.StatusBadGateway, "AI_EMPTY_RESPONSE", "The model returned no usable "+what, nil)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type FollowupRequest struct {
	OrganizationID string     `json:"organization_id"`
	LeadID         string     `json:"lead_id"`
	Lead           LeadFields `json:"lead"`
	PersonaID      string     `json:"persona_id"`
	Channel        string     `json:"channel"`
	Tone           string     `json:"tone"`
	Count          int        `json:"count"`
}

type Variation struct {
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Tone       string  `json:"tone"`
}

type persona struct {
	Name         string `json:"name"`
	Style        string `json:"style"`
	Instructions string `json:"instructions"`
}

// Followup drafts follow-up messages for a lead, optionally in the voice of
// one of the organization's personas.
func (s *Service) Followup(ctx context.Context, caller Caller, req FollowupRequest) ([]Variation, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionInvoke); err != nil {
		return nil, err
	}
	lead := store.Lead{}
	if id := strings.TrimSpace(req.LeadID); id != "" {
		stored, err := s.store.GetLead(ctx, id)
		if err != nil {
			return nil, err
		}
		if stored.OrganizationID != strings.TrimSpace(req.OrganizationID) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Lead not found", nil)
		}
		lead = stored
	}
	lead = overlayLead(lead, req.Lead)
	if lead.Name == "" && lead.Business == "" {
		return nil, validationError("lead name or business is required")
	}

	var voice *persona
	if id := strings.TrimSpace(req.PersonaID); id != "" {
		record, err := s.store.GetRecord(ctx, "personas", id)
		if err != nil {
			return nil, err
		}
		if record.OrganizationID != strings.TrimSpace(req.OrganizationID) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Persona not found", nil)
		}
		voice = &persona{}
		if err := json.Unmarshal(record.Data, voice); err != nil {
			return nil, fmt.Errorf("decode persona: %w", err)
		}
	}

	count := req.Count
	if count <= 0 {
		count = defaultVariations
	}
	if count > maxVariations {
		count = maxVariations
	}
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = "whatsapp"
	}
	tone := strings.TrimSpace(req.Tone)
	if tone == "" {
		tone = "friendly"
	}

	client, err := s.resolveAI(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	var system strings.Builder
	system.WriteString("You write short sales follow-up messages for small business leads. ")
	fmt.Fprintf(&system, "Answer with JSON {\"variations\":[{\"message\":string,\"confidence\":number between 0 and 1,\"tone\":string}]} containing %d variations. ", count)
	fmt.Fprintf(&system, "The channel is %s and the default tone is %s.", channel, tone)
	if voice != nil {
		fmt.Fprintf(&system, " Write as %s. Style: %s. %s", voice.Name, voice.Style, voice.Instructions)
	}

	var out struct {
		Variations []Variation `json:"variations"`
	}
	if err := client.ChatJSON(ctx, system.String(), leadText(lead), 0.7, &out); err != nil {
		return nil, err
	}

	variations := make([]Variation, 0, len(out.Variations))
	for _, v := range out.Variations {
		v.Message = strings.TrimSpace(v.Message)
		if v.Message == "" {
			continue
		}
		v.Confidence = clamp01(v.Confidence)
		if strings.TrimSpace(v.Tone) == "" {
			v.Tone = tone
		}
		variations = append(variations, v)
	}
	if len(variations) == 0 {
		return nil, errEmptyAIResponse("variations")
	}
	return variations, nil
}

type ChatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
	At   string `json:"at,omitempty"`
}

type SummaryRequest struct {
	OrganizationID string        `json:"organization_id"`
	LeadID         string        `json:"lead_id"`
	Messages       []ChatMessage `json:"messages"`
}

type ConversationSummary struct {
	Summary    string   `json:"summary"`
	Sentiment  string   `json:"sentiment"`
	Stage      string   `json:"stage"`
	KeyPoints  []string `json:"key_points"`
	NextAction string   `json:"next_action"`
}

func (s *Service) ConversationSummary(ctx context.Context, caller Caller, req SummaryRequest) (ConversationSummary, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionInvoke); err != nil {
		return ConversationSummary{}, err
	}
	var transcript strings.Builder
	for _, m := range req.Messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		from := strings.TrimSpace(m.From)
		if from == "" {
			from = "unknown"
		}
		if m.At != "" {
			fmt.Fprintf(&transcript, "[%s] ", m.At)
		}
		fmt.Fprintf(&transcript, "%s: %s\n", from, text)
	}
	if transcript.Len() == 0 {
		return ConversationSummary{}, validationError("messages are required")
	}

	client, err := s.resolveAI(ctx, caller.UserID)
	if err != nil {
		return ConversationSummary{}, err
	}
	system := "Summarize this sales conversation. Answer with JSON " +
		`{"summary":string,"sentiment":"positive"|"neutral"|"negative",` +
		`"stage":"new"|"contacted"|"qualified"|"proposal"|"negotiation"|"won"|"lost",` +
		`"key_points":[string],"next_action":string}.`

	var out ConversationSummary
	if err := client.ChatJSON(ctx, system, transcript.String(), 0.2, &out); err != nil {
		return ConversationSummary{}, err
	}
	return normalizeSummary(out), nil
}

func normalizeSummary(in ConversationSummary) ConversationSummary {
	in.Summary = strings.TrimSpace(in.Summary)
	in.Sentiment = strings.ToLower(strings.TrimSpace(in.Sentiment))
	if !sentiments[in.Sentiment] {
		in.Sentiment = "neutral"
	}
	in.Stage = strings.ToLower(strings.TrimSpace(in.Stage))
	if !stages[in.Stage] {
		in.Stage = "contacted"
	}
	points := make([]string, 0, len(in.KeyPoints))
	for _, p := range in.KeyPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	in.KeyPoints = points
	in.NextAction = strings.TrimSpace(in.NextAction)
	return in
}

type DedupeRequest struct {
	OrganizationID string  `json:"organization_id"`
	Threshold      float64 `json:"threshold"`
}

// Dedupe groups the organization's leads that likely describe the same
// contact. It needs no provider key: vectors are already stored.
func (s *Service) Dedupe(ctx context.Context, caller Caller, req DedupeRequest) ([]dedupe.Group, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionInvoke); err != nil {
		return nil, err
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return nil, validationError("threshold must be between 0 and 1")
	}
	leads, err := s.store.ListEmbeddedLeads(ctx, strings.TrimSpace(req.OrganizationID))
	if err != nil {
		return nil, err
	}
	candidates := make([]dedupe.Candidate, 0, len(leads))
	for _, lead := range leads {
		candidates = append(candidates, dedupe.Candidate{
			ID:        lead.ID,
			Email:     lead.Email,
			Phone:     lead.Phone,
			Embedding: lead.Embedding,
		})
	}
	groups := dedupe.Find(candidates, req.Threshold)
	if groups == nil {
		groups = []dedupe.Group{}
	}
	return groups, nil
}

type EnrichRequest struct {
	OrganizationID string `json:"organization_id"`
	LeadID         string `json:"lead_id"`
	// Apply writes the suggested score back to the lead.
	Apply bool `json:"apply"`
}

type EnrichedFields struct {
	Industry    string   `json:"industry"`
	CompanySize string   `json:"company_size"`
	Website     string   `json:"website"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	Score       int      `json:"score"`
}

func (s *Service) Enrich(ctx context.Context, caller Caller, req EnrichRequest) (EnrichedFields, error) {
	action := rbac.ActionInvoke
	if req.Apply {
		action = rbac.ActionWrite
	}
	if _, err := s.authorize(ctx, caller, req.OrganizationID, action); err != nil {
		return EnrichedFields{}, err
	}
	if strings.TrimSpace(req.LeadID) == "" {
		return EnrichedFields{}, validationError("lead_id is required")
	}
	lead, err := s.store.GetLead(ctx, strings.TrimSpace(req.LeadID))
	if err != nil {
		return EnrichedFields{}, err
	}
	if lead.OrganizationID != strings.TrimSpace(req.OrganizationID) {
		return EnrichedFields{}, domainError(http.StatusNotFound, "NOT_FOUND", "Lead not found", nil)
	}

	client, err := s.resolveAI(ctx, caller.UserID)
	if err != nil {
		return EnrichedFields{}, err
	}
	system := "You enrich sales leads. Infer what you can about the business and answer with JSON " +
		`{"industry":string,"company_size":string,"website":string,"summary":string,"tags":[string],"score":integer 0-100}` +
		". Use empty strings for unknown values."
	var out EnrichedFields
	if err := client.ChatJSON(ctx, system, leadText(lead), 0.3, &out); err != nil {
		return EnrichedFields{}, err
	}
	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}

	if req.Apply {
		patch := store.LeadPatch{Score: &out.Score}
		if lead.Notes == "" && out.Summary != "" {
			patch.Notes = &out.Summary
		}
		updated, err := s.store.UpdateLead(ctx, lead.ID, patch)
		if err != nil {
			return EnrichedFields{}, err
		}
		s.search.IndexLead(leadRecord(updated))
		s.invalidate(ctx, "leads")
	}
	return out, nil
}

type AnalyticsRequest struct {
	OrganizationID string `json:"organization_id"`
	PeriodDays     int    `json:"period_days"`
}

type Analytics struct {
	PeriodDays int             `json:"period_days"`
	Metrics    store.LeadStats `json:"metrics"`
	Insights   []string        `json:"insights"`
	Source     string          `json:"source"`
}

// Analytics reports lead metrics for the period. Insights come from the
// model when a key is available and from fixed rules otherwise.
func (s *Service) Analytics(ctx context.Context, caller Caller, req AnalyticsRequest) (Analytics, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionRead); err != nil {
		return Analytics{}, err
	}
	days := req.PeriodDays
	if days <= 0 {
		days = defaultPeriodDays
	}
	if days > maxPeriodDays {
		days = maxPeriodDays
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := s.store.LeadStats(ctx, strings.TrimSpace(req.OrganizationID), since)
	if err != nil {
		return Analytics{}, err
	}
	result := Analytics{PeriodDays: days, Metrics: stats}

	client, err := s.resolveAI(ctx, caller.UserID)
	if err != nil {
		result.Insights = heuristicInsights(stats, days)
		result.Source = "rules"
		return result, nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return Analytics{}, err
	}
	var out struct {
		Insights []string `json:"insights"`
	}
	system := "You are a sales analyst. Given lead pipeline metrics as JSON, answer with JSON " +
		`{"insights":[string]} holding 3 to 5 short, actionable observations.`
	if err := client.ChatJSON(ctx, system, string(raw), 0.4, &out); err != nil {
		return Analytics{}, err
	}
	insights := make([]string, 0, len(out.Insights))
	for _, line := range out.Insights {
		if line = strings.TrimSpace(line); line != "" {
			insights = append(insights, line)
		}
	}
	result.Insights = insights
	result.Source = "ai"
	return result, nil
}

func heuristicInsights(stats store.LeadStats, days int) []string {
	if stats.Total == 0 {
		return []string{"No leads yet. Start a lead search to fill the pipeline."}
	}
	insights := []string{
		fmt.Sprintf("%d new leads in the last %d days out of %d total.", stats.CreatedInSpan, days, stats.Total),
	}
	if top, n := topKey(stats.BySource); top != "" {
		insights = append(insights, fmt.Sprintf("Most leads come from %s (%d).", top, n))
	}
	if won := stats.ByStatus["won"]; won > 0 {
		insights = append(insights, fmt.Sprintf("Win rate is %.0f%%.", 100*float64(won)/float64(stats.Total)))
	}
	if missing := stats.Total - stats.Embedded; missing > 0 {
		insights = append(insights, fmt.Sprintf("%d leads are not searchable by meaning yet.", missing))
	}
	return insights
}

func topKey(counts map[string]int) (string, int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best, bestN
}
