package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	primary  Engine
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. primary may be nil if Meilisearch is not configured.
func NewService(primary Engine, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) primaryUp() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = clampLimit(q.Limit)
	if s.primaryUp() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexLead pushes a lead to the index without blocking the caller.
func (s *Service) IndexLead(lead LeadRecord) {
	if !s.primaryUp() {
		return
	}
	go func() {
		if err := s.primary.IndexLeads([]LeadRecord{lead}); err != nil {
			s.logger.Warn("index lead failed", zap.String("lead_id", lead.ID), zap.Error(err))
		}
	}()
}

// DeleteLead removes a lead from the index without blocking the caller.
func (s *Service) DeleteLead(id string) {
	if !s.primaryUp() {
		return
	}
	go func() {
		if err := s.primary.DeleteLead(id); err != nil {
			s.logger.Warn("delete lead from index failed", zap.String("lead_id", id), zap.Error(err))
		}
	}()
}

// RecordLoader lists every lead for a full reindex.
type RecordLoader interface {
	LoadLeadRecords(ctx context.Context) ([]LeadRecord, error)
}

// Reindex reads every lead from loader and pushes them in batches.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) (int, error) {
	if !s.primaryUp() || loader == nil {
		return 0, nil
	}
	records, err := loader.LoadLeadRecords(ctx)
	if err != nil {
		return 0, err
	}
	const batch = 500
	for start := 0; start < len(records); start += batch {
		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		if err := s.primary.IndexLeads(records[start:end]); err != nil {
			return start, err
		}
	}
	s.logger.Info("reindexed leads", zap.Int("count", len(records)))
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
