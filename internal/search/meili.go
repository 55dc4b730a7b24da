package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxLeads = "leadflow_leads"

// Meili implements Engine via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *zap.Logger
}

// NewMeili creates a Meilisearch client and configures the lead index.
// An unreachable server is retried in the background.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger.Named("meili"),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxLeads, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.Error(err))
	}

	index := m.client.Index(idxLeads)
	filterable := []interface{}{"organizationId", "status", "city", "source"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"name", "business", "email", "phone", "city", "notes"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxLeads,
			Query:                 q.Text,
			Limit:                 int64(clampLimit(q.Limit)),
			Offset:                int64(q.Offset),
			Filter:                filters(q),
			AttributesToHighlight: []string{"notes"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// filters always pins the organization; leads never cross tenants.
func filters(q Query) []string {
	out := []string{fmt.Sprintf("organizationId = %q", q.OrganizationID)}
	if q.Status != "" {
		out = append(out, fmt.Sprintf("status = %q", q.Status))
	}
	return out
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:       decodeString(hit, "id"),
		Name:     decodeString(hit, "name"),
		Business: decodeString(hit, "business"),
		Email:    decodeString(hit, "email"),
		Phone:    decodeString(hit, "phone"),
		City:     decodeString(hit, "city"),
		Status:   decodeString(hit, "status"),
		Snippet:  decodeFormattedString(hit, "notes"),
	}
	if raw, ok := hit["score"]; ok {
		_ = json.Unmarshal(raw, &r.Score)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func (m *Meili) IndexLeads(leads []LeadRecord) error {
	if len(leads) == 0 {
		return nil
	}
	_, err := m.client.Index(idxLeads).AddDocuments(leads, nil)
	return err
}

func (m *Meili) DeleteLead(id string) error {
	_, err := m.client.Index(idxLeads).DeleteDocument(id, nil)
	return err
}
