package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// invoke sends req to fn with the caller's user and organization ids
// attached. There is exactly one call and no retry; server errors are
// returned as they come.
func invoke[Resp any](ctx context.Context, c *Client, fn string, req any) (Resp, error) {
	var out Resp
	scope, err := c.requireScope()
	if err != nil {
		return out, err
	}
	body := map[string]any{}
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			return out, fmt.Errorf("encode %s request: %w", fn, err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return out, fmt.Errorf("encode %s request: %w", fn, err)
		}
	}
	body["user_id"] = scope.UserID
	body["organization_id"] = scope.OrganizationID

	if err := c.backend.Invoke(ctx, fn, body, &out); err != nil {
		return out, err
	}
	return out, nil
}

type LeadStats struct {
	Total           int            `json:"total"`
	CreatedInPeriod int            `json:"created_in_period"`
	Embedded        int            `json:"embedded"`
	ByStatus        map[string]int `json:"by_status"`
	BySource        map[string]int `json:"by_source"`
	AverageScore    float64        `json:"average_score"`
}

type AnalyticsRequest struct {
	PeriodDays int `json:"period_days,omitempty"`
}

type AnalyticsResult struct {
	PeriodDays int       `json:"period_days"`
	Metrics    LeadStats `json:"metrics"`
	Insights   []string  `json:"insights"`
	Source     string    `json:"source"`
}

func (c *Client) Analytics(ctx context.Context, req AnalyticsRequest) (AnalyticsResult, error) {
	return invoke[AnalyticsResult](ctx, c, "ai-analytics", req)
}

type DedupeRequest struct {
	Threshold float64 `json:"threshold,omitempty"`
}

type DuplicateGroup struct {
	LeadIDs    []string `json:"lead_ids"`
	Similarity float64  `json:"similarity"`
	Reason     string   `json:"reason"`
}

type DedupeResult struct {
	Groups []DuplicateGroup `json:"groups"`
}

func (c *Client) Dedupe(ctx context.Context, req DedupeRequest) (DedupeResult, error) {
	return invoke[DedupeResult](ctx, c, "ai-dedupe", req)
}

type EnrichRequest struct {
	LeadID string `json:"lead_id"`
	Apply  bool   `json:"apply,omitempty"`
}

type EnrichedFields struct {
	Industry    string   `json:"industry"`
	CompanySize string   `json:"company_size"`
	Website     string   `json:"website"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	Score       int      `json:"score"`
}

type EnrichResult struct {
	Fields  EnrichedFields `json:"fields"`
	Applied bool           `json:"applied"`
}

// Enrich with Apply writes the score to the lead, so cached lead lists
// are invalidated.
func (c *Client) Enrich(ctx context.Context, req EnrichRequest) (EnrichResult, error) {
	result, err := invoke[EnrichResult](ctx, c, "ai-enrich", req)
	if err == nil && result.Applied {
		if _, err := c.cache.Invalidate(ctx, leadsResource); err != nil {
			c.logger.Warn("invalidate leads failed", zap.Error(err))
		}
	}
	return result, err
}

type FollowupLead struct {
	Name     string `json:"name,omitempty"`
	Business string `json:"business,omitempty"`
	City     string `json:"city,omitempty"`
	Status   string `json:"status,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type FollowupRequest struct {
	LeadID    string       `json:"lead_id,omitempty"`
	Lead      FollowupLead `json:"lead"`
	PersonaID string       `json:"persona_id,omitempty"`
	Channel   string       `json:"channel,omitempty"`
	Tone      string       `json:"tone,omitempty"`
	Count     int          `json:"count,omitempty"`
}

type Variation struct {
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Tone       string  `json:"tone"`
}

type FollowupResult struct {
	Variations []Variation `json:"variations"`
}

func (c *Client) Followup(ctx context.Context, req FollowupRequest) (FollowupResult, error) {
	return invoke[FollowupResult](ctx, c, "ai-followup", req)
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Stage string

const (
	StageNew         Stage = "new"
	StageContacted   Stage = "contacted"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageWon         Stage = "won"
	StageLost        Stage = "lost"
)

type ChatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
	At   string `json:"at,omitempty"`
}

type SummaryRequest struct {
	LeadID   string        `json:"lead_id,omitempty"`
	Messages []ChatMessage `json:"messages"`
}

type ConversationSummary struct {
	Summary    string    `json:"summary"`
	Sentiment  Sentiment `json:"sentiment"`
	Stage      Stage     `json:"stage"`
	KeyPoints  []string  `json:"key_points"`
	NextAction string    `json:"next_action"`
}

func (c *Client) ConversationSummary(ctx context.Context, req SummaryRequest) (ConversationSummary, error) {
	return invoke[ConversationSummary](ctx, c, "ai-conversation-summary", req)
}

type SemanticSearchRequest struct {
	Query               string   `json:"query"`
	Limit               int      `json:"limit,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

type LeadMatch struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Business   string  `json:"business"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone"`
	City       string  `json:"city"`
	Status     string  `json:"status"`
	Source     string  `json:"source"`
	Score      int     `json:"score"`
	Similarity float64 `json:"similarity"`
}

type SemanticSearchResult struct {
	Query        string      `json:"query"`
	Results      []LeadMatch `json:"results"`
	TotalResults int         `json:"total_results"`
}

func (c *Client) SemanticSearch(ctx context.Context, req SemanticSearchRequest) (SemanticSearchResult, error) {
	return invoke[SemanticSearchResult](ctx, c, "semantic-search", req)
}

type StartSearchRequest struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type SearchJob struct {
	ID            string `json:"id"`
	Query         string `json:"query"`
	Location      string `json:"location"`
	Status        string `json:"status"`
	WebhookStatus int    `json:"webhook_status"`
}

type startSearchResult struct {
	Job SearchJob `json:"job"`
}

// StartSearch asks the workflow automation to find new leads.
func (c *Client) StartSearch(ctx context.Context, req StartSearchRequest) (SearchJob, error) {
	out, err := invoke[startSearchResult](ctx, c, "start-search", req)
	return out.Job, err
}

type VariableStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

type WebhookProbe struct {
	Attempted bool   `json:"attempted"`
	Status    int    `json:"status,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type HealthReport struct {
	OverallStatus    string           `json:"overallStatus"`
	Variables        []VariableStatus `json:"variables"`
	MissingVariables []string         `json:"missingVariables"`
	WebhookProbe     WebhookProbe     `json:"webhookProbe"`
	Timestamp        time.Time        `json:"timestamp"`
}

// SearchHealth reports the lead search configuration. It needs a
// signed-in user but no organization.
func (c *Client) SearchHealth(ctx context.Context, probe bool) (HealthReport, error) {
	var out HealthReport
	if strings.TrimSpace(c.scope().UserID) == "" {
		return out, ErrUnauthenticated
	}
	err := c.backend.Invoke(ctx, "start-search-health", map[string]bool{"probe": probe}, &out)
	return out, err
}
