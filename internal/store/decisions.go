package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/memory/internal/model"
)

// PutDecisionParams holds the fields needed to insert a new decision row.
// ExpiresAt is computed by the caller (the memory engine owns TTL-class →
// expiry derivation); InsertDecision assigns the id and timestamp itself.
type PutDecisionParams struct {
	SessionID      string
	Category       string
	Description    string
	Rationale      string
	Classification string
	Importance     float64
	TTLClass       model.TTLClass
	ExpiresAt      *time.Time
	Entity         string
	FactKey        string
	FactValue      string
	Tags           []string
}

// InsertDecision inserts a new decision row and returns the full model.
func (s *Store) InsertDecision(ctx context.Context, p PutDecisionParams) (*model.Decision, error) {
	now := time.Now().UTC()
	id := s.newID()

	var tagsJSON *string
	if len(p.Tags) > 0 {
		b, _ := json.Marshal(p.Tags)
		v := string(b)
		tagsJSON = &v
	}
	var expires *string
	if p.ExpiresAt != nil {
		v := p.ExpiresAt.UTC().Format(time.RFC3339)
		expires = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, session_id, ts, category, description, rationale, classification,
		                        importance, ttl_class, expires_at, entity, fact_key, fact_value, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sanitize(p.SessionID), now.Format(time.RFC3339), sanitize(p.Category),
		sanitize(p.Description), sanitize(p.Rationale), sanitize(p.Classification),
		p.Importance, string(p.TTLClass), expires,
		sanitize(strings.ToLower(p.Entity)), sanitize(p.FactKey), sanitize(p.FactValue), tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}

	d := &model.Decision{
		ID: id, SessionID: p.SessionID, Timestamp: now, Category: p.Category,
		Description: p.Description, Rationale: p.Rationale, Classification: p.Classification,
		Importance: p.Importance, TTLClass: p.TTLClass, ExpiresAt: p.ExpiresAt,
		Entity: strings.ToLower(p.Entity), FactKey: p.FactKey, FactValue: p.FactValue, Tags: p.Tags,
	}
	return d, nil
}

// UpdateDecisionValue overwrites a decision's fact value/description and
// refreshes its timestamp — used when capture matches an existing
// (entity, fact_key) row instead of inserting a new one.
func (s *Store) UpdateDecisionValue(ctx context.Context, id, factValue, description string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET fact_value = ?, description = ?, ts = ?, last_accessed_at = ? WHERE id = ?`,
		sanitize(factValue), sanitize(description), now, now, id)
	return err
}

// GetByEntityKey returns the live (non-expired) decision matching
// (entity, fact_key), if any.
func (s *Store) GetByEntityKey(ctx context.Context, entity, key string) (*model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE entity = ? AND fact_key = ? AND (expires_at IS NULL OR expires_at > ?)
		LIMIT 1`, strings.ToLower(entity), key, now)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListByEntity returns every live decision for entity, newest first — the
// backing query for the memory_entity tool.
func (s *Store) ListByEntity(ctx context.Context, entity string) ([]model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE entity = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY ts DESC`, strings.ToLower(entity), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// GetDecision fetches a single decision by id, regardless of expiry.
func (s *Store) GetDecision(ctx context.Context, id string) (*model.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDecision removes a decision row. Its vectors cascade via FK.
func (s *Store) DeleteDecision(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id = ?`, id)
	return err
}

// TouchAccessed bumps last_accessed_at to now for a decision.
func (s *Store) TouchAccessed(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE decisions SET last_accessed_at = ? WHERE id = ?`, now, id)
	return err
}

// TouchAllPermanent bumps last_accessed_at for every permanent decision —
// invoked on the before-compaction host hook.
func (s *Store) TouchAllPermanent(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE decisions SET last_accessed_at = ? WHERE ttl_class = ?`, now, string(model.TTLPermanent))
	return err
}

// BumpImportance adds delta to a decision's importance, capped at max.
func (s *Store) BumpImportance(ctx context.Context, id string, delta, max float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET importance = MIN(?, importance + ?) WHERE id = ?`, max, delta, id)
	return err
}

// SetTTLClass updates a decision's TTL class and expiry (used for
// permanent-overflow demotion to stable).
func (s *Store) SetTTLClass(ctx context.Context, id string, class model.TTLClass, expiresAt *time.Time) error {
	var exp *string
	if expiresAt != nil {
		v := expiresAt.UTC().Format(time.RFC3339)
		exp = &v
	}
	_, err := s.db.ExecContext(ctx, `UPDATE decisions SET ttl_class = ?, expires_at = ? WHERE id = ?`, string(class), exp, id)
	return err
}

// CountLive returns the number of live rows in a TTL class.
func (s *Store) CountLive(ctx context.Context, class model.TTLClass) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decisions WHERE ttl_class = ? AND (expires_at IS NULL OR expires_at > ?)`,
		string(class), now).Scan(&n)
	return n, err
}

// LowestRankedLive returns the live row in a TTL class with the lowest
// importance, breaking ties with the oldest timestamp — the eviction
// candidate under quota pressure.
func (s *Store) LowestRankedLive(ctx context.Context, class model.TTLClass) (*model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE ttl_class = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY importance ASC, ts ASC LIMIT 1`, string(class), now)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// OldestPermanent returns the oldest live permanent row, for overflow
// demotion.
func (s *Store) OldestPermanent(ctx context.Context) (*model.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE ttl_class = ? AND expires_at IS NULL
		ORDER BY ts ASC LIMIT 1`, string(model.TTLPermanent))
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// PermanentOrdered returns up to limit live permanent rows ordered by
// importance desc, for the context-budget permanent section.
func (s *Store) PermanentOrdered(ctx context.Context, limit int) ([]model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE ttl_class = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY importance DESC LIMIT ?`, string(model.TTLPermanent), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// RecentHighImportance returns live rows with importance >= minImportance
// and TTL class in {stable, active}, newest first, capped at limit.
func (s *Store) RecentHighImportance(ctx context.Context, minImportance float64, limit int) ([]model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE importance >= ? AND ttl_class IN ('stable', 'active')
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY ts DESC LIMIT ?`, minImportance, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// FTSSearch runs a full-text query (an "a OR b OR c"-shaped expression)
// against description/rationale/entity/fact_key/fact_value/tags, newest
// first, capped at limit.
func (s *Store) FTSSearch(ctx context.Context, ftsQuery string, limit int) ([]model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColsPrefixed("d")+`
		FROM decisions_fts f
		JOIN decisions d ON d.rowid = f.rowid
		WHERE decisions_fts MATCH ? AND (d.expires_at IS NULL OR d.expires_at > ?)
		ORDER BY d.ts DESC LIMIT ?`, ftsQuery, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// GroupedLiveByEntityKey returns, for every (entity, fact_key) with more
// than one live row, all of those rows — the candidate groups for
// consolidation.
func (s *Store) GroupedLiveByEntityKey(ctx context.Context) (map[string][]model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE entity != '' AND fact_key != '' AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY entity, fact_key`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}

	groups := map[string][]model.Decision{}
	for _, d := range all {
		key := d.Entity + "\x1f" + d.FactKey
		groups[key] = append(groups[key], d)
	}
	for k, v := range groups {
		if len(v) < 2 {
			delete(groups, k)
		}
	}
	return groups, nil
}

// SweepOrphanedVectors deletes any vector row whose decision no longer
// exists. Belt-and-suspenders alongside the FK's ON DELETE CASCADE.
func (s *Store) SweepOrphanedVectors(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE decision_id NOT IN (SELECT id FROM decisions)`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const decisionCols = `id, session_id, ts, category, description, rationale, classification,
	importance, ttl_class, expires_at, last_accessed_at, entity, fact_key, fact_value, tags`

func decisionColsPrefixed(alias string) string {
	cols := []string{"id", "session_id", "ts", "category", "description", "rationale", "classification",
		"importance", "ttl_class", "expires_at", "last_accessed_at", "entity", "fact_key", "fact_value", "tags"}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (model.Decision, error) {
	var d model.Decision
	var ts string
	var expires, lastAccessed, tagsJSON sql.NullString
	var ttlClass string

	err := row.Scan(&d.ID, &d.SessionID, &ts, &d.Category, &d.Description, &d.Rationale,
		&d.Classification, &d.Importance, &ttlClass, &expires, &lastAccessed,
		&d.Entity, &d.FactKey, &d.FactValue, &tagsJSON)
	if err != nil {
		return d, err
	}

	d.Timestamp, _ = time.Parse(time.RFC3339, ts)
	d.TTLClass = model.TTLClass(ttlClass)
	if expires.Valid {
		t, _ := time.Parse(time.RFC3339, expires.String)
		d.ExpiresAt = &t
	}
	if lastAccessed.Valid {
		t, _ := time.Parse(time.RFC3339, lastAccessed.String)
		d.LastAccessedAt = &t
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &d.Tags)
	}
	return d, nil
}

func scanDecisions(rows *sql.Rows) ([]model.Decision, error) {
	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
