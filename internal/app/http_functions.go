package app

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type functionHandler func(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error)

type function struct {
	handle functionHandler
	// rateLimited functions spend provider quota and share the per-user limit.
	rateLimited bool
}

func (s *HTTPServer) functionTable() map[string]function {
	return map[string]function{
		"ai-secret-status":        {handle: s.fnSecretStatus},
		"ai-user-key-status":      {handle: s.fnKeyStatus},
		"ai-user-key-save":        {handle: s.fnKeySave},
		"ai-user-key-remove":      {handle: s.fnKeyRemove},
		"embed-lead":              {handle: s.fnEmbedLead, rateLimited: true},
		"semantic-search":         {handle: s.fnSemanticSearch, rateLimited: true},
		"lead-search":             {handle: s.fnLeadSearch},
		"start-search-health":     {handle: s.fnStartSearchHealth},
		"start-search":            {handle: s.fnStartSearch},
		"whatsapp-send":           {handle: s.fnWhatsAppSend},
		"whatsapp-status":         {handle: s.fnWhatsAppStatus},
		"ai-followup":             {handle: s.fnFollowup, rateLimited: true},
		"ai-conversation-summary": {handle: s.fnSummary, rateLimited: true},
		"ai-dedupe":               {handle: s.fnDedupe, rateLimited: true},
		"ai-enrich":               {handle: s.fnEnrich, rateLimited: true},
		"ai-analytics":            {handle: s.fnAnalytics, rateLimited: true},
	}
}

// handleFunction runs one named function. Every answer, including
// failures, is a JSON envelope carrying success.
func (s *HTTPServer) handleFunction(w http.ResponseWriter, r *http.Request, name string) {
	fn, ok := s.functions[name]
	if !ok {
		writeFunctionError(w, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown function: "+name, nil))
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeFunctionError(w, domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil))
		return
	}

	started := time.Now()
	outcome := "success"
	defer func() {
		s.service.metrics.ObserveFunction(name, outcome, time.Since(started))
	}()

	caller, err := s.service.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		outcome = "unauthorized"
		writeFunctionError(w, err)
		return
	}
	if fn.rateLimited && !s.limiter.Allow(caller.UserID) {
		outcome = "rate_limited"
		writeFunctionError(w, errRateLimited)
		return
	}

	payload, err := fn.handle(r.Context(), r, caller)
	if err != nil {
		outcome = "error"
		status, _, _, _ := mapError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("function failed", zap.String("function", name), zap.String("user_id", caller.UserID), zap.Error(err))
		}
		writeFunctionError(w, err)
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeFunctionError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	response := map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeFunctionBody(r *http.Request, target any) error {
	if err := decodeBody(r, target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	return nil
}

func (s *HTTPServer) fnSecretStatus(_ context.Context, _ *http.Request, _ Caller) (map[string]any, error) {
	status := s.service.AISecretStatus()
	return map[string]any{
		"configured":            status.Configured,
		"provider":              status.Provider,
		"encryption_configured": status.EncryptionConfigured,
	}, nil
}

type providerBody struct {
	Provider string `json:"provider"`
}

func providerFrom(r *http.Request) (string, error) {
	var body providerBody
	if err := decodeFunctionBody(r, &body); err != nil {
		return "", err
	}
	if body.Provider == "" {
		body.Provider = r.URL.Query().Get("provider")
	}
	return body.Provider, nil
}

func (s *HTTPServer) fnKeyStatus(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	provider, err := providerFrom(r)
	if err != nil {
		return nil, err
	}
	status, err := s.service.UserKeyStatus(ctx, caller, provider)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"has_key":  status.HasKey,
		"provider": status.Provider,
	}
	if status.HasKey {
		out["key_hint"] = status.KeyHint
		out["updated_at"] = status.UpdatedAt
	}
	return out, nil
}

func (s *HTTPServer) fnKeySave(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body SaveKeyRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	saved, err := s.service.SaveUserKey(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"provider": saved.Provider, "key_hint": saved.KeyHint}, nil
}

func (s *HTTPServer) fnKeyRemove(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	provider, err := providerFrom(r)
	if err != nil {
		return nil, err
	}
	removed, err := s.service.RemoveUserKey(ctx, caller, provider)
	if err != nil {
		return nil, err
	}
	return map[string]any{"removed": removed}, nil
}

func (s *HTTPServer) fnEmbedLead(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body EmbedLeadRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	result, err := s.service.EmbedLead(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"lead_id":    result.LeadID,
		"dimensions": result.Dimensions,
		"model":      result.Model,
	}, nil
}

func (s *HTTPServer) fnSemanticSearch(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body SemanticSearchRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	result, err := s.service.SemanticSearch(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":         result.Query,
		"results":       result.Results,
		"total_results": result.TotalResults,
	}, nil
}

func (s *HTTPServer) fnLeadSearch(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body LeadSearchRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	resp, err := s.service.LeadSearch(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   resp.Query,
		"results": resp.Results,
		"total":   resp.Total,
		"backend": resp.Backend,
	}, nil
}

func (s *HTTPServer) fnStartSearchHealth(ctx context.Context, r *http.Request, _ Caller) (map[string]any, error) {
	var body struct {
		Probe *bool `json:"probe"`
	}
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	probe := r.URL.Query().Get("probe") != "false"
	if body.Probe != nil {
		probe = *body.Probe
	}
	report := s.service.StartSearchHealth(ctx, probe)
	return map[string]any{
		"overallStatus":    report.OverallStatus,
		"variables":        report.Variables,
		"missingVariables": report.MissingVariables,
		"webhookProbe":     report.WebhookProbe,
		"timestamp":        report.Timestamp,
	}, nil
}

func (s *HTTPServer) fnStartSearch(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body StartSearchRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	job, err := s.service.StartSearch(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job": job}, nil
}

func (s *HTTPServer) fnWhatsAppSend(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body WhatsAppSendRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	result, err := s.service.WhatsAppSend(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": result.Key.ID, "status": result.Status}, nil
}

func (s *HTTPServer) fnWhatsAppStatus(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body WhatsAppStatusRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	status, err := s.service.WhatsAppStatus(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"instance": status.Instance, "state": status.State, "connected": status.Connected}, nil
}

func (s *HTTPServer) fnFollowup(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body FollowupRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	variations, err := s.service.Followup(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"variations": variations}, nil
}

func (s *HTTPServer) fnSummary(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body SummaryRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	summary, err := s.service.ConversationSummary(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"summary":     summary.Summary,
		"sentiment":   summary.Sentiment,
		"stage":       summary.Stage,
		"key_points":  summary.KeyPoints,
		"next_action": summary.NextAction,
	}, nil
}

func (s *HTTPServer) fnDedupe(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body DedupeRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	groups, err := s.service.Dedupe(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"groups": groups}, nil
}

func (s *HTTPServer) fnEnrich(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body EnrichRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	fields, err := s.service.Enrich(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fields": fields, "applied": body.Apply}, nil
}

func (s *HTTPServer) fnAnalytics(ctx context.Context, r *http.Request, caller Caller) (map[string]any, error) {
	var body AnalyticsRequest
	if err := decodeFunctionBody(r, &body); err != nil {
		return nil, err
	}
	result, err := s.service.Analytics(ctx, caller, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"period_days": result.PeriodDays,
		"metrics":     result.Metrics,
		"insights":    result.Insights,
		"source":      result.Source,
	}, nil
}
