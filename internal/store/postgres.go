package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const leadColumns = `id, organization_id, COALESCE(created_by::text, ''), name, business, email, phone, city,
	status, source, notes, score, embedded_at, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUndefinedFunction reports whether err is Postgres "function does not exist" (42883).
func IsUndefinedFunction(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42883"
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, password_hash)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, email, display_name, password_hash, created_at, updated_at
	`, user.Email, user.DisplayName, user.PasswordHash).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE email = LOWER($1)
	`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks an unexpired, unused reset as used and returns its user.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Organizations

func (s *PostgresStore) ListOrganizations(ctx context.Context, userID string) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, m.role, o.created_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at ASC, o.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := []Organization{}
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Role, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, name, ownerID string) (Organization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Organization{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	org := Organization{Name: name, Role: "owner"}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO organizations (name, created_by) VALUES ($1, $2) RETURNING id, created_at
	`, name, ownerID).Scan(&org.ID, &org.CreatedAt); err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role) VALUES ($1, $2, 'owner')
	`, org.ID, ownerID); err != nil {
		return Organization{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Organization{}, fmt.Errorf("commit organization: %w", err)
	}
	return org, nil
}

// MemberRole returns sql.ErrNoRows when the user does not belong to the organization.
func (s *PostgresStore) MemberRole(ctx context.Context, organizationID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM organization_members WHERE organization_id=$1 AND user_id=$2
	`, organizationID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

// API keys

func (s *PostgresStore) GetAPIKey(ctx context.Context, userID, provider string) (APIKey, error) {
	key := APIKey{UserID: userID, Provider: provider}
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_key, iv, key_hint, updated_at FROM ai_api_keys WHERE user_id=$1 AND provider=$2
	`, userID, provider).Scan(&key.EncryptedKey, &key.IV, &key.KeyHint, &key.UpdatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return key, nil
}

func (s *PostgresStore) UpsertAPIKey(ctx context.Context, key APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_api_keys (user_id, provider, encrypted_key, iv, key_hint)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET encrypted_key=EXCLUDED.encrypted_key, iv=EXCLUDED.iv, key_hint=EXCLUDED.key_hint, updated_at=NOW()
	`, key.UserID, key.Provider, key.EncryptedKey, key.IV, key.KeyHint)
	if err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, userID, provider string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ai_api_keys WHERE user_id=$1 AND provider=$2`, userID, provider)
	if err != nil {
		return false, fmt.Errorf("delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Leads

func scanLead(scan func(dest ...any) error) (Lead, error) {
	var lead Lead
	var embeddedAt sql.NullTime
	err := scan(
		&lead.ID, &lead.OrganizationID, &lead.CreatedBy, &lead.Name, &lead.Business, &lead.Email, &lead.Phone, &lead.City,
		&lead.Status, &lead.Source, &lead.Notes, &lead.Score, &embeddedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return Lead{}, err
	}
	if embeddedAt.Valid {
		t := embeddedAt.Time
		lead.EmbeddedAt = &t
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, organizationID string, limit int) ([]Lead, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+`
		FROM leads WHERE organization_id=$1 ORDER BY created_at DESC LIMIT $2`, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	items := []Lead{}
	for rows.Next() {
		lead, err := scanLead(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, lead)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1`, id)
	return scanLead(row.Scan)
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	if lead.Status == "" {
		lead.Status = "new"
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO leads (organization_id, created_by, name, business, email, phone, city, status, source, notes, score)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+leadColumns,
		lead.OrganizationID, lead.CreatedBy, lead.Name, lead.Business, lead.Email, lead.Phone, lead.City,
		lead.Status, lead.Source, lead.Notes, lead.Score,
	)
	created, err := scanLead(row.Scan)
	if err != nil {
		return Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, id string, patch LeadPatch) (Lead, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Business != nil {
		add("business", *patch.Business)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Source != nil {
		add("source", *patch.Source)
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	if patch.Score != nil {
		add("score", *patch.Score)
	}
	if len(sets) == 0 {
		return s.GetLead(ctx, id)
	}
	sets = append(sets, "updated_at=NOW()")
	row := s.db.QueryRowContext(ctx, `UPDATE leads SET `+strings.Join(sets, ", ")+` WHERE id=$1 RETURNING `+leadColumns, args...)
	return scanLead(row.Scan)
}

func (s *PostgresStore) DeleteLead(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) SetLeadEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET embedding=$2::vector, embedded_at=NOW() WHERE id=$1
	`, id, VectorLiteral(embedding))
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return requireAffected(res)
}

// MatchLeads ranks leads through the match_leads SQL function.
func (s *PostgresStore) MatchLeads(ctx context.Context, organizationID string, embedding []float32, threshold float64, count int) ([]LeadMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, business, email, phone, city, status, source, score, similarity
		FROM match_leads($1::vector, $2::uuid, $3, $4)
	`, VectorLiteral(embedding), organizationID, threshold, count)
	if err != nil {
		return nil, err
	}
	return scanMatches(rows)
}

// NearestLeads orders leads by cosine distance inline, for databases without match_leads.
func (s *PostgresStore) NearestLeads(ctx context.Context, organizationID string, embedding []float32, threshold float64, count int) ([]LeadMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, business, email, phone, city, status, source, score,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM leads
		WHERE organization_id = $2 AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`, VectorLiteral(embedding), organizationID, threshold, count)
	if err != nil {
		return nil, fmt.Errorf("nearest leads: %w", err)
	}
	return scanMatches(rows)
}

func scanMatches(rows *sql.Rows) ([]LeadMatch, error) {
	defer rows.Close()
	items := []LeadMatch{}
	for rows.Next() {
		var m LeadMatch
		if err := rows.Scan(&m.ID, &m.Name, &m.Business, &m.Email, &m.Phone, &m.City, &m.Status, &m.Source, &m.Score, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan lead match: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// HasEmbeddedLeads reports whether any lead of the organization carries a vector.
func (s *PostgresStore) HasEmbeddedLeads(ctx context.Context, organizationID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM leads WHERE organization_id=$1 AND embedding IS NOT NULL
	)`, organizationID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check embedded leads: %w", err)
	}
	return found, nil
}

func (s *PostgresStore) ListEmbeddedLeads(ctx context.Context, organizationID string) ([]EmbeddedLead, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+`, COALESCE(embedding::text, '')
		FROM leads WHERE organization_id=$1 ORDER BY created_at ASC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list embedded leads: %w", err)
	}
	defer rows.Close()

	items := []EmbeddedLead{}
	for rows.Next() {
		var raw string
		lead, err := scanLead(func(dest ...any) error {
			return rows.Scan(append(dest, &raw)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan embedded lead: %w", err)
		}
		item := EmbeddedLead{Lead: lead}
		if raw != "" {
			vec, err := ParseVector(raw)
			if err != nil {
				return nil, err
			}
			item.Embedding = vec
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) LeadStats(ctx context.Context, organizationID string, since time.Time) (LeadStats, error) {
	stats := LeadStats{ByStatus: map[string]int{}, BySource: map[string]int{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE created_at >= $2),
		       COUNT(*) FILTER (WHERE embedding IS NOT NULL),
		       COALESCE(AVG(score), 0)
		FROM leads WHERE organization_id=$1
	`, organizationID, since).Scan(&stats.Total, &stats.CreatedInSpan, &stats.Embedded, &stats.AverageScore)
	if err != nil {
		return LeadStats{}, fmt.Errorf("lead totals: %w", err)
	}
	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM leads WHERE organization_id=$1 GROUP BY status`, organizationID, stats.ByStatus); err != nil {
		return LeadStats{}, err
	}
	if err := s.groupCount(ctx, `SELECT source, COUNT(*) FROM leads WHERE organization_id=$1 GROUP BY source`, organizationID, stats.BySource); err != nil {
		return LeadStats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) groupCount(ctx context.Context, query, organizationID string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return fmt.Errorf("group leads: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan lead group: %w", err)
		}
		if key == "" {
			key = "unknown"
		}
		into[key] += n
	}
	return rows.Err()
}

// Resources

func (s *PostgresStore) ListRecords(ctx context.Context, resource, organizationID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource, organization_id, COALESCE(created_by::text, ''), data, created_at, updated_at
		FROM resources WHERE resource=$1 AND organization_id=$2
		ORDER BY created_at DESC
	`, resource, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resource, err)
	}
	defer rows.Close()

	items := []Record{}
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", resource, err)
		}
		items = append(items, record)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetRecord(ctx context.Context, resource, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource, organization_id, COALESCE(created_by::text, ''), data, created_at, updated_at
		FROM resources WHERE resource=$1 AND id=$2
	`, resource, id)
	return scanRecord(row.Scan)
}

func (s *PostgresStore) CreateRecord(ctx context.Context, record Record) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO resources (resource, organization_id, created_by, data)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4::jsonb)
		RETURNING id, resource, organization_id, COALESCE(created_by::text, ''), data, created_at, updated_at
	`, record.Resource, record.OrganizationID, record.CreatedBy, string(record.Data))
	created, err := scanRecord(row.Scan)
	if err != nil {
		return Record{}, fmt.Errorf("insert %s: %w", record.Resource, err)
	}
	return created, nil
}

// UpdateRecord merges data into the stored JSON object.
func (s *PostgresStore) UpdateRecord(ctx context.Context, resource, id string, data json.RawMessage) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE resources SET data = data || $3::jsonb, updated_at = NOW()
		WHERE resource=$1 AND id=$2
		RETURNING id, resource, organization_id, COALESCE(created_by::text, ''), data, created_at, updated_at
	`, resource, id, string(data))
	return scanRecord(row.Scan)
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, resource, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE resource=$1 AND id=$2`, resource, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var record Record
	var data []byte
	if err := scan(&record.ID, &record.Resource, &record.OrganizationID, &record.CreatedBy, &data, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return Record{}, err
	}
	record.Data = json.RawMessage(data)
	return record, nil
}

// Search jobs

func (s *PostgresStore) InsertSearchJob(ctx context.Context, job SearchJob) (SearchJob, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO search_jobs (organization_id, requested_by, query, location, status, webhook_status)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6)
		RETURNING id, created_at
	`, job.OrganizationID, job.RequestedBy, job.Query, job.Location, job.Status, job.WebhookStatus).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return SearchJob{}, fmt.Errorf("insert search job: %w", err)
	}
	return job, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
