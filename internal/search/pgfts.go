package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the leads table. It matches by full-text
// rank and falls back to substring matching for names, emails and phones
// that the text parser splits badly.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const leadDocument = `to_tsvector('simple', l.name || ' ' || l.business || ' ' || l.city || ' ' || l.notes)`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" || q.OrganizationID == "" {
		return nil, 0, nil
	}

	args := []any{q.OrganizationID, text, "%" + escapeLike(text) + "%"}
	where := fmt.Sprintf(`l.organization_id = $1 AND (%s @@ plainto_tsquery('simple', $2)
		OR l.name ILIKE $3 OR l.business ILIKE $3 OR l.email ILIKE $3 OR l.phone ILIKE $3)`, leadDocument)
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND l.status = $%d", len(args))
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads l WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}
	if total == 0 {
		return []Result{}, 0, nil
	}

	args = append(args, clampLimit(q.Limit), max(q.Offset, 0))
	query := fmt.Sprintf(`
		SELECT l.id, l.name, l.business, l.email, l.phone, l.city, l.status, l.score,
			ts_headline('simple', l.notes, plainto_tsquery('simple', $2), 'MaxFragments=1,MaxWords=20') AS snippet
		FROM leads l
		WHERE %s
		ORDER BY ts_rank(%s, plainto_tsquery('simple', $2)) DESC, l.created_at DESC
		LIMIT $%d OFFSET $%d`, where, leadDocument, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search leads: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Business, &r.Email, &r.Phone, &r.City, &r.Status, &r.Score, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan lead hit: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadLeadRecords reads every lead for a full reindex.
func (p *PgFTS) LoadLeadRecords(ctx context.Context) ([]LeadRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, name, business, email, phone, city, status, source, notes, score
		FROM leads ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load lead records: %w", err)
	}
	defer rows.Close()

	records := []LeadRecord{}
	for rows.Next() {
		var r LeadRecord
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Business, &r.Email, &r.Phone, &r.City, &r.Status, &r.Source, &r.Notes, &r.Score); err != nil {
			return nil, fmt.Errorf("scan lead record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
