package hooks

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"leadflow/api/internal/querycache"
)

// Record is one row of an organization resource with its typed payload.
type Record[T any] struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	CreatedBy      string    `json:"created_by,omitempty"`
	Data           T         `json:"data"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Resource reads and writes one organization resource table. Reads are
// cached per user and organization; every successful write invalidates
// the whole resource.
type Resource[T any] struct {
	client *Client
	name   string
	label  string
}

func NewResource[T any](c *Client, name, label string) *Resource[T] {
	return &Resource[T]{client: c, name: name, label: label}
}

func (r *Resource[T]) Name() string { return r.name }

func (r *Resource[T]) List(ctx context.Context) ([]Record[T], error) {
	scope, err := r.client.requireScope()
	if err != nil {
		return nil, err
	}
	key := querycache.NewKey(r.name, scope.UserID, scope.OrganizationID)
	return querycache.Fetch(ctx, r.client.cache, key, func(ctx context.Context) ([]Record[T], error) {
		var rows []Record[T]
		query := url.Values{"organization_id": {scope.OrganizationID}}
		if err := r.client.backend.Select(ctx, r.name, query, &rows); err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []Record[T]{}
		}
		return rows, nil
	})
}

func (r *Resource[T]) Create(ctx context.Context, data T) (Record[T], error) {
	scope, err := r.client.requireScope()
	if err != nil {
		return Record[T]{}, err
	}
	return mutate(ctx, r.client, r.name, r.label+" created", func(ctx context.Context) (Record[T], error) {
		var out Record[T]
		body := struct {
			OrganizationID string `json:"organization_id"`
			Data           T      `json:"data"`
		}{scope.OrganizationID, data}
		err := r.client.backend.Insert(ctx, r.name, body, &out)
		return out, err
	})
}

func (r *Resource[T]) Update(ctx context.Context, id string, data T) (Record[T], error) {
	if _, err := r.client.requireScope(); err != nil {
		return Record[T]{}, err
	}
	return mutate(ctx, r.client, r.name, r.label+" updated", func(ctx context.Context) (Record[T], error) {
		var out Record[T]
		body := struct {
			Data T `json:"data"`
		}{data}
		err := r.client.backend.Update(ctx, r.name, id, body, &out)
		return out, err
	})
}

func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	if _, err := r.client.requireScope(); err != nil {
		return err
	}
	_, err := mutate(ctx, r.client, r.name, r.label+" deleted", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.client.backend.Delete(ctx, r.name, id)
	})
	return err
}

type AISettings struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	AutoEmbed        bool    `json:"auto_embed"`
	DefaultTone      string  `json:"default_tone,omitempty"`
	DefaultChannel   string  `json:"default_channel,omitempty"`
	DefaultPersonaID string  `json:"default_persona_id,omitempty"`
}

type AssignmentRule struct {
	Name       string            `json:"name"`
	Priority   int               `json:"priority"`
	Active     bool              `json:"active"`
	Conditions map[string]string `json:"conditions"`
	AssignTo   []string          `json:"assign_to"`
	Strategy   string            `json:"strategy"`
}

type Workflow struct {
	Name       string `json:"name"`
	Trigger    string `json:"trigger"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Active     bool   `json:"active"`
}

type WhatsAppInstance struct {
	InstanceName string `json:"instance_name"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	Status       string `json:"status,omitempty"`
}

type LeadAssignment struct {
	LeadID string `json:"lead_id"`
	UserID string `json:"user_id"`
	RuleID string `json:"rule_id,omitempty"`
}

type Persona struct {
	Name         string `json:"name"`
	Style        string `json:"style"`
	Instructions string `json:"instructions"`
}

func (c *Client) AISettings() *Resource[AISettings] {
	return NewResource[AISettings](c, "ai_settings", "AI settings")
}

func (c *Client) AssignmentRules() *Resource[AssignmentRule] {
	return NewResource[AssignmentRule](c, "assignment_rules", "Assignment rule")
}

func (c *Client) Workflows() *Resource[Workflow] {
	return NewResource[Workflow](c, "workflows", "Workflow")
}

func (c *Client) WhatsAppInstances() *Resource[WhatsAppInstance] {
	return NewResource[WhatsAppInstance](c, "whatsapp_instances", "WhatsApp instance")
}

func (c *Client) LeadAssignments() *Resource[LeadAssignment] {
	return NewResource[LeadAssignment](c, "lead_assignments", "Lead assignment")
}

func (c *Client) Personas() *Resource[Persona] {
	return NewResource[Persona](c, "personas", "Persona")
}

type Lead struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
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

type NewLead struct {
	Name     string `json:"name"`
	Business string `json:"business,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	City     string `json:"city,omitempty"`
	Status   string `json:"status,omitempty"`
	Source   string `json:"source,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Score    int    `json:"score,omitempty"`
}

// LeadPatch sends only the non-nil fields.
type LeadPatch struct {
	Name     *string `json:"name,omitempty"`
	Business *string `json:"business,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	City     *string `json:"city,omitempty"`
	Status   *string `json:"status,omitempty"`
	Source   *string `json:"source,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Score    *int    `json:"score,omitempty"`
}

const leadsResource = "leads"

func (c *Client) ListLeads(ctx context.Context, limit int) ([]Lead, error) {
	scope, err := c.requireScope()
	if err != nil {
		return nil, err
	}
	key := querycache.NewKey(leadsResource, scope.UserID, scope.OrganizationID, strconv.Itoa(limit))
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) ([]Lead, error) {
		query := url.Values{"organization_id": {scope.OrganizationID}}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		var leads []Lead
		if err := c.backend.Select(ctx, leadsResource, query, &leads); err != nil {
			return nil, err
		}
		if leads == nil {
			leads = []Lead{}
		}
		return leads, nil
	})
}

func (c *Client) CreateLead(ctx context.Context, lead NewLead) (Lead, error) {
	scope, err := c.requireScope()
	if err != nil {
		return Lead{}, err
	}
	return mutate(ctx, c, leadsResource, "Lead created", func(ctx context.Context) (Lead, error) {
		body := struct {
			OrganizationID string `json:"organization_id"`
			NewLead
		}{scope.OrganizationID, lead}
		var out Lead
		err := c.backend.Insert(ctx, leadsResource, body, &out)
		return out, err
	})
}

func (c *Client) UpdateLead(ctx context.Context, id string, patch LeadPatch) (Lead, error) {
	if _, err := c.requireScope(); err != nil {
		return Lead{}, err
	}
	return mutate(ctx, c, leadsResource, "Lead updated", func(ctx context.Context) (Lead, error) {
		var out Lead
		err := c.backend.Update(ctx, leadsResource, id, patch, &out)
		return out, err
	})
}

func (c *Client) DeleteLead(ctx context.Context, id string) error {
	if _, err := c.requireScope(); err != nil {
		return err
	}
	_, err := mutate(ctx, c, leadsResource, "Lead deleted", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.Delete(ctx, leadsResource, id)
	})
	return err
}
