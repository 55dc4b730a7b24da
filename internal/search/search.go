package search

import "context"

// Result is a single lead hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Business string `json:"business"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	City     string `json:"city"`
	Status   string `json:"status"`
	Score    int    `json:"score"`
	Snippet  string `json:"snippet,omitempty"`
}

// Query describes a keyword lead search inside one organization.
type Query struct {
	Text           string
	OrganizationID string
	Status         string // empty = any status
	Limit          int
	Offset         int
}

// Response is the envelope returned by the lead-search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

type Indexer interface {
	IndexLeads(leads []LeadRecord) error
	DeleteLead(id string) error
}

// Engine is a search backend that also accepts writes.
type Engine interface {
	Searcher
	Indexer
}

// LeadRecord is the data we index for a lead.
type LeadRecord struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	Business       string `json:"business"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	City           string `json:"city"`
	Status         string `json:"status"`
	Source         string `json:"source"`
	Notes          string `json:"notes"`
	Score          int    `json:"score"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
