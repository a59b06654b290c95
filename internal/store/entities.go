package store

import (
	"context"
	"strings"
	"time"

	"github.com/openclaw/memory/internal/model"
)

// UpsertEntity registers (or re-registers) an entity name in the store.
func (s *Store) UpsertEntity(ctx context.Context, e model.Entity) error {
	name := strings.ToLower(e.Name)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (name, display_name, source, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET display_name = excluded.display_name`,
		name, e.DisplayName, e.Source, e.AddedAt.UTC().Format(time.RFC3339))
	return err
}

// ListEntities returns every registered entity.
func (s *Store) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, display_name, source, added_at FROM entities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var addedAt string
		if err := rows.Scan(&e.Name, &e.DisplayName, &e.Source, &addedAt); err != nil {
			return nil, err
		}
		e.AddedAt, _ = time.Parse(time.RFC3339, addedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
