package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type APIKey struct {
	UserID       string
	Provider     string
	EncryptedKey string
	IV           string
	KeyHint      string
	UpdatedAt    time.Time
}

type Lead struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	CreatedBy      string     `json:"created_by,omitempty"`
	Name           string     `json:"name"`
	Business       string     `json:"business"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	City           string     `json:"city"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	Notes          string     `json:"notes"`
	Score          int        `json:"score"`
	EmbeddedAt     *time.Time `json:"embedded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LeadPatch carries optional lead field updates; nil fields are left as is.
type LeadPatch struct {
	Name     *string `json:"name"`
	Business *string `json:"business"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	City     *string `json:"city"`
	Status   *string `json:"status"`
	Source   *string `json:"source"`
	Notes    *string `json:"notes"`
	Score    *int    `json:"score"`
}

// LeadMatch is a lead ranked by vector similarity to a query.
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

// EmbeddedLead pairs a lead with its stored vector.
type EmbeddedLead struct {
	Lead
	Embedding []float32
}

type LeadStats struct {
	Total         int            `json:"total"`
	CreatedInSpan int            `json:"created_in_period"`
	Embedded      int            `json:"embedded"`
	ByStatus      map[string]int `json:"by_status"`
	BySource      map[string]int `json:"by_source"`
	AverageScore  float64        `json:"average_score"`
}

// Record is a row of one of the organization-scoped JSON resources
// (ai_settings, assignment_rules, workflows, ...).
type Record struct {
	ID             string          `json:"id"`
	Resource       string          `json:"resource"`
	OrganizationID string          `json:"organization_id"`
	CreatedBy      string          `json:"created_by,omitempty"`
	Data           json.RawMessage `json:"data"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type SearchJob struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	RequestedBy    string    `json:"requested_by"`
	Query          string    `json:"query"`
	Location       string    `json:"location"`
	Status         string    `json:"status"`
	WebhookStatus  int       `json:"webhook_status"`
	CreatedAt      time.Time `json:"created_at"`
}
