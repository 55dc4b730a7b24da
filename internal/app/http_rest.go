package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"leadflow/api/internal/store"
)

// handleRest serves the table endpoints under /rest/v1. Bodies and answers
// are plain rows, not function envelopes.
func (s *HTTPServer) handleRest(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	ctx := r.Context()
	resource := parts[0]
	id := ""
	if len(parts) == 2 {
		id = parts[1]
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case resource == "organizations" && id == "" && r.Method == http.MethodGet:
		orgs, err := s.service.ListOrganizations(ctx, caller)
		s.respond(w, http.StatusOK, orgs, err)

	case resource == "organizations" && id == "" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		org, err := s.service.CreateOrganization(ctx, caller, body.Name)
		s.respond(w, http.StatusCreated, org, err)

	case resource == "leads" && id == "" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		leads, err := s.service.ListLeads(ctx, caller, r.URL.Query().Get("organization_id"), limit)
		s.respond(w, http.StatusOK, leads, err)

	case resource == "leads" && id == "" && r.Method == http.MethodPost:
		var body LeadInput
		if !s.decode(w, r, &body) {
			return
		}
		lead, err := s.service.CreateLead(ctx, caller, body)
		s.respond(w, http.StatusCreated, lead, err)

	case resource == "leads" && id != "" && r.Method == http.MethodPatch:
		var patch store.LeadPatch
		if !s.decode(w, r, &patch) {
			return
		}
		lead, err := s.service.UpdateLead(ctx, caller, id, patch)
		s.respond(w, http.StatusOK, lead, err)

	case resource == "leads" && id != "" && r.Method == http.MethodDelete:
		err := s.service.DeleteLead(ctx, caller, id)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)

	case IsRecordResource(resource) && id == "" && r.Method == http.MethodGet:
		records, err := s.service.ListRecords(ctx, caller, resource, r.URL.Query().Get("organization_id"))
		s.respond(w, http.StatusOK, records, err)

	case IsRecordResource(resource) && id == "" && r.Method == http.MethodPost:
		var body struct {
			OrganizationID string          `json:"organization_id"`
			Data           json.RawMessage `json:"data"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		record, err := s.service.CreateRecord(ctx, caller, resource, body.OrganizationID, body.Data)
		s.respond(w, http.StatusCreated, record, err)

	case IsRecordResource(resource) && id != "" && r.Method == http.MethodPatch:
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		record, err := s.service.UpdateRecord(ctx, caller, resource, id, body.Data)
		s.respond(w, http.StatusOK, record, err)

	case IsRecordResource(resource) && id != "" && r.Method == http.MethodDelete:
		err := s.service.DeleteRecord(ctx, caller, resource, id)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		writeError(w, code, errCode, message, details)
		return
	}
	writeJSON(w, status, payload)
}
