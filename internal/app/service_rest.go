package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"leadflow/api/internal/querycache"
	"leadflow/api/internal/rbac"
	"leadflow/api/internal/store"
)

// Resources served through the generic record table.
var recordResources = map[string]bool{
	"ai_settings":        true,
	"assignment_rules":   true,
	"workflows":          true,
	"whatsapp_instances": true,
	"lead_assignments":   true,
	"personas":           true,
}

func IsRecordResource(resource string) bool {
	return recordResources[resource]
}

func (s *Service) ListOrganizations(ctx context.Context, caller Caller) ([]store.Organization, error) {
	key := querycache.NewKey("organizations", caller.UserID)
	return querycache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]store.Organization, error) {
		return s.store.ListOrganizations(ctx, caller.UserID)
	})
}

func (s *Service) CreateOrganization(ctx context.Context, caller Caller, name string) (store.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Organization{}, validationError("name is required")
	}
	if len(name) > 120 {
		return store.Organization{}, validationError("name must be at most 120 characters")
	}
	return querycache.Mutate(ctx, s.cache, "organizations", func(ctx context.Context) (store.Organization, error) {
		return s.store.CreateOrganization(ctx, name, caller.UserID)
	})
}

// Leads

func (s *Service) ListLeads(ctx context.Context, caller Caller, organizationID string, limit int) ([]store.Lead, error) {
	if _, err := s.authorize(ctx, caller, organizationID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	orgID := strings.TrimSpace(organizationID)
	key := querycache.NewKey("leads", orgID, strconv.Itoa(limit))
	return querycache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]store.Lead, error) {
		return s.store.ListLeads(ctx, orgID, limit)
	})
}

type LeadInput struct {
	OrganizationID string `json:"organization_id"`
	LeadFields
	Score int `json:"score"`
}

func (s *Service) CreateLead(ctx context.Context, caller Caller, in LeadInput) (store.Lead, error) {
	if _, err := s.authorize(ctx, caller, in.OrganizationID, rbac.ActionWrite); err != nil {
		return store.Lead{}, err
	}
	lead := overlayLead(store.Lead{Status: "new", Source: "manual"}, in.LeadFields)
	if lead.Name == "" && lead.Business == "" {
		return store.Lead{}, validationError("name or business is required")
	}
	if in.Score < 0 || in.Score > 100 {
		return store.Lead{}, validationError("score must be between 0 and 100")
	}
	lead.OrganizationID = strings.TrimSpace(in.OrganizationID)
	lead.CreatedBy = caller.UserID
	lead.Score = in.Score

	created, err := s.store.CreateLead(ctx, lead)
	if err != nil {
		return store.Lead{}, err
	}
	s.afterLeadWrite(ctx, created, caller.UserID)
	return created, nil
}

func (s *Service) UpdateLead(ctx context.Context, caller Caller, id string, patch store.LeadPatch) (store.Lead, error) {
	current, err := s.store.GetLead(ctx, id)
	if err != nil {
		return store.Lead{}, err
	}
	if _, err := s.authorize(ctx, caller, current.OrganizationID, rbac.ActionWrite); err != nil {
		return store.Lead{}, err
	}
	if patch.Score != nil && (*patch.Score < 0 || *patch.Score > 100) {
		return store.Lead{}, validationError("score must be between 0 and 100")
	}
	updated, err := s.store.UpdateLead(ctx, id, patch)
	if err != nil {
		return store.Lead{}, err
	}
	s.afterLeadWrite(ctx, updated, caller.UserID)
	return updated, nil
}

func (s *Service) DeleteLead(ctx context.Context, caller Caller, id string) error {
	current, err := s.store.GetLead(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, caller, current.OrganizationID, rbac.ActionWrite); err != nil {
		return err
	}
	deleted, err := s.store.DeleteLead(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Lead not found", nil)
	}
	s.search.DeleteLead(id)
	s.invalidate(ctx, "leads")
	return nil
}

func (s *Service) afterLeadWrite(ctx context.Context, lead store.Lead, userID string) {
	s.search.IndexLead(leadRecord(lead))
	s.enqueueEmbed(lead, userID)
	s.invalidate(ctx, "leads")
}

// Records

func errUnknownResource(resource string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_RESOURCE", "Unknown resource: "+resource, nil)
}

func requireObject(data json.RawMessage) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return validationError("data must be a JSON object")
	}
	if !json.Valid(trimmed) {
		return validationError("data is not valid JSON")
	}
	return nil
}

func (s *Service) ListRecords(ctx context.Context, caller Caller, resource, organizationID string) ([]store.Record, error) {
	if !IsRecordResource(resource) {
		return nil, errUnknownResource(resource)
	}
	if _, err := s.authorize(ctx, caller, organizationID, rbac.ActionRead); err != nil {
		return nil, err
	}
	orgID := strings.TrimSpace(organizationID)
	key := querycache.NewKey(resource, orgID)
	return querycache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]store.Record, error) {
		return s.store.ListRecords(ctx, resource, orgID)
	})
}

func (s *Service) CreateRecord(ctx context.Context, caller Caller, resource, organizationID string, data json.RawMessage) (store.Record, error) {
	if !IsRecordResource(resource) {
		return store.Record{}, errUnknownResource(resource)
	}
	if _, err := s.authorize(ctx, caller, organizationID, rbac.ForResource(resource)); err != nil {
		return store.Record{}, err
	}
	if err := requireObject(data); err != nil {
		return store.Record{}, err
	}
	record, err := s.store.CreateRecord(ctx, store.Record{
		Resource:       resource,
		OrganizationID: strings.TrimSpace(organizationID),
		CreatedBy:      caller.UserID,
		Data:           data,
	})
	if err != nil {
		return store.Record{}, err
	}
	s.invalidate(ctx, resource)
	return record, nil
}

func (s *Service) UpdateRecord(ctx context.Context, caller Caller, resource, id string, data json.RawMessage) (store.Record, error) {
	if !IsRecordResource(resource) {
		return store.Record{}, errUnknownResource(resource)
	}
	current, err := s.store.GetRecord(ctx, resource, id)
	if err != nil {
		return store.Record{}, err
	}
	if _, err := s.authorize(ctx, caller, current.OrganizationID, rbac.ForResource(resource)); err != nil {
		return store.Record{}, err
	}
	if err := requireObject(data); err != nil {
		return store.Record{}, err
	}
	record, err := s.store.UpdateRecord(ctx, resource, id, data)
	if err != nil {
		return store.Record{}, err
	}
	s.invalidate(ctx, resource)
	return record, nil
}

func (s *Service) DeleteRecord(ctx context.Context, caller Caller, resource, id string) error {
	if !IsRecordResource(resource) {
		return errUnknownResource(resource)
	}
	current, err := s.store.GetRecord(ctx, resource, id)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, caller, current.OrganizationID, rbac.ForResource(resource)); err != nil {
		return err
	}
	if _, err := s.store.DeleteRecord(ctx, resource, id); err != nil {
		return err
	}
	s.invalidate(ctx, resource)
	return nil
}
