package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openclaw/memory/internal/model"
)

// PutVector upserts the embedding sidecar for a decision, replacing any
// prior vector for the same decision+model pair.
func (s *Store) PutVector(ctx context.Context, decisionID, content string, embedding []float32, modelID string) (*model.Vector, error) {
	emb, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `DELETE FROM vectors WHERE decision_id = ? AND model = ?`, decisionID, modelID)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vectors (id, decision_id, content, embedding, model, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, decisionID, sanitize(content), string(emb), modelID, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert vector: %w", err)
	}

	return &model.Vector{ID: id, DecisionID: decisionID, Content: content, Embedding: embedding, Model: modelID, CreatedAt: now}, nil
}

// DecisionsMissingVectors returns the live decisions that have no vector
// row for the given model, newest first, capped at limit — the backfill
// queue.
func (s *Store) DecisionsMissingVectors(ctx context.Context, modelID string, limit int) ([]model.Decision, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColsPrefixed("d")+` FROM decisions d
		WHERE (d.expires_at IS NULL OR d.expires_at > ?)
		  AND NOT EXISTS (SELECT 1 FROM vectors v WHERE v.decision_id = d.id AND v.model = ?)
		ORDER BY d.ts DESC LIMIT ?`, now, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// AllVectors returns every vector row for the given model.
func (s *Store) AllVectors(ctx context.Context, modelID string) ([]model.Vector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, content, embedding, model, created_at FROM vectors WHERE model = ?`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Vector
	for rows.Next() {
		var v model.Vector
		var embJSON, createdAt string
		if err := rows.Scan(&v.ID, &v.DecisionID, &v.Content, &embJSON, &v.Model, &createdAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(embJSON), &v.Embedding)
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// VectorSearchResult pairs a decision id with its cosine similarity to a
// query vector.
type VectorSearchResult struct {
	DecisionID string
	Similarity float64
	Content    string
}

// CosineSimilarity computes standard cosine similarity; mismatched
// dimensions or a zero-norm vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SearchVectors computes cosine similarity between queryVec and every
// vector row for the given model, returning the top-k results at or above
// threshold, ordered by similarity descending.
func (s *Store) SearchVectors(ctx context.Context, queryVec []float32, modelID string, k int, threshold float64) ([]VectorSearchResult, error) {
	vectors, err := s.AllVectors(ctx, modelID)
	if err != nil {
		return nil, err
	}

	var out []VectorSearchResult
	for _, v := range vectors {
		sim := CosineSimilarity(queryVec, v.Embedding)
		if sim >= threshold {
			out = append(out, VectorSearchResult{DecisionID: v.DecisionID, Similarity: sim, Content: v.Content})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}
