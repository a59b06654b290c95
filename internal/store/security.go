package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openclaw/memory/internal/model"
)

// snippetCap is the maximum length of a source snippet recorded in a
// security event (spec.md §3).
const snippetCap = 200

// truncateSnippet caps s at snippetCap runes.
func truncateSnippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetCap {
		return s
	}
	return string(r[:snippetCap])
}

// RecordSecurityEvent appends a row to the audit trail. Security events use
// UUIDs rather than the store's ULID sequence: they are looked up by a
// trace id surfaced in host logs, not range-scanned by creation order.
func (s *Store) RecordSecurityEvent(ctx context.Context, e model.SecurityEvent) (*model.SecurityEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Snippet = truncateSnippet(e.Snippet)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events (id, ts, event_type, source_role, target_entity, target_key, target_value, matched_pattern, snippet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339), e.EventType, e.SourceRole,
		sanitize(e.TargetEntity), sanitize(e.TargetKey), sanitize(e.TargetValue), e.MatchedPattern, e.Snippet)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RecentSecurityEvents returns the most recent security events, newest
// first, capped at limit.
func (s *Store) RecentSecurityEvents(ctx context.Context, limit int) ([]model.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, event_type, source_role, target_entity, target_key, target_value, matched_pattern, snippet
		FROM security_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		var e model.SecurityEvent
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.EventType, &e.SourceRole, &e.TargetEntity,
			&e.TargetKey, &e.TargetValue, &e.MatchedPattern, &e.Snippet); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
