package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadflow/api/internal/rbac"
	"leadflow/api/internal/store"
	"leadflow/api/internal/whatsapp"
)

const (
	StatusHealthy   = "HEALTHY"
	StatusDegraded  = "DEGRADED"
	StatusUnhealthy = "UNHEALTHY"
)

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

// StartSearchHealth reports which start-search variables are set and,
// when probe is true and the webhook is configured, whether it answers.
// Variable values are never included.
func (s *Service) StartSearchHealth(ctx context.Context, probe bool) HealthReport {
	report := HealthReport{
		Variables:        []VariableStatus{},
		MissingVariables: []string{},
		Timestamp:        s.now().UTC(),
	}
	for _, v := range s.cfg.SearchHealthVariables() {
		present := strings.TrimSpace(v.Value) != ""
		report.Variables = append(report.Variables, VariableStatus{Name: v.Name, Present: present})
		if !present {
			report.MissingVariables = append(report.MissingVariables, v.Name)
		}
	}

	if probe && s.workflow.Configured() {
		report.WebhookProbe.Attempted = true
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		status, err := s.workflow.Probe(probeCtx)
		cancel()
		report.WebhookProbe.Status = status
		if err != nil {
			report.WebhookProbe.Error = err.Error()
			s.logger.Warn("start-search webhook probe failed", zap.Error(err))
		} else {
			report.WebhookProbe.OK = true
		}
	}

	switch {
	case len(report.MissingVariables) > 0:
		report.OverallStatus = StatusUnhealthy
	case report.WebhookProbe.Attempted && !report.WebhookProbe.OK:
		report.OverallStatus = StatusDegraded
	default:
		report.OverallStatus = StatusHealthy
	}
	return report
}

type StartSearchRequest struct {
	OrganizationID string `json:"organization_id"`
	Query          string `json:"query"`
	Location       string `json:"location"`
	Limit          int    `json:"limit"`
}

// StartSearch hands a lead-sourcing job to the workflow webhook and records
// it. Results arrive later as leads written by the workflow.
func (s *Service) StartSearch(ctx context.Context, caller Caller, req StartSearchRequest) (store.SearchJob, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionWrite); err != nil {
		return store.SearchJob{}, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return store.SearchJob{}, validationError("query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	orgID := strings.TrimSpace(req.OrganizationID)
	status, err := s.workflow.Dispatch(ctx, "start_search", map[string]any{
		"organization_id": orgID,
		"user_id":         caller.UserID,
		"query":           query,
		"location":        strings.TrimSpace(req.Location),
		"limit":           limit,
	})
	if err != nil {
		return store.SearchJob{}, err
	}
	job, err := s.store.InsertSearchJob(ctx, store.SearchJob{
		OrganizationID: orgID,
		RequestedBy:    caller.UserID,
		Query:          query,
		Location:       strings.TrimSpace(req.Location),
		Status:         "dispatched",
		WebhookStatus:  status,
	})
	if err != nil {
		return store.SearchJob{}, err
	}
	s.invalidate(ctx, "search_jobs")
	return job, nil
}

type WhatsAppSendRequest struct {
	OrganizationID string `json:"organization_id"`
	Instance       string `json:"instance"`
	Number         string `json:"number"`
	Message        string `json:"message"`
}

type instanceData struct {
	InstanceName string `json:"instance_name"`
}

// instanceFor finds the organization's whatsapp_instances record whose id
// or instance_name matches name.
func (s *Service) instanceFor(ctx context.Context, organizationID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("instance is required")
	}
	records, err := s.store.ListRecords(ctx, "whatsapp_instances", organizationID)
	if err != nil {
		return "", err
	}
	for _, record := range records {
		var data instanceData
		_ = json.Unmarshal(record.Data, &data)
		if record.ID == name || data.InstanceName == name {
			if data.InstanceName == "" {
				return record.ID, nil
			}
			return data.InstanceName, nil
		}
	}
	return "", domainError(http.StatusNotFound, "INSTANCE_NOT_FOUND", "WhatsApp instance not found", nil)
}

func (s *Service) WhatsAppSend(ctx context.Context, caller Caller, req WhatsAppSendRequest) (whatsapp.SendResult, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionWrite); err != nil {
		return whatsapp.SendResult{}, err
	}
	if whatsapp.NormalizeNumber(req.Number) == "" {
		return whatsapp.SendResult{}, validationError("number is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return whatsapp.SendResult{}, validationError("message is required")
	}
	instance, err := s.instanceFor(ctx, strings.TrimSpace(req.OrganizationID), req.Instance)
	if err != nil {
		return whatsapp.SendResult{}, err
	}
	return s.whatsapp.SendText(ctx, instance, req.Number, req.Message)
}

type WhatsAppStatusRequest struct {
	OrganizationID string `json:"organization_id"`
	Instance       string `json:"instance"`
}

type WhatsAppStatus struct {
	Instance  string `json:"instance"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

func (s *Service) WhatsAppStatus(ctx context.Context, caller Caller, req WhatsAppStatusRequest) (WhatsAppStatus, error) {
	if _, err := s.authorize(ctx, caller, req.OrganizationID, rbac.ActionRead); err != nil {
		return WhatsAppStatus{}, err
	}
	instance, err := s.instanceFor(ctx, strings.TrimSpace(req.OrganizationID), req.Instance)
	if err != nil {
		return WhatsAppStatus{}, err
	}
	state, err := s.whatsapp.InstanceState(ctx, instance)
	if err != nil {
		return WhatsAppStatus{}, err
	}
	return WhatsAppStatus{Instance: instance, State: state.State, Connected: state.Connected()}, nil
}
