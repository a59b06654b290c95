package embedding

import (
	"context"
	"net/http"
	"time"

	"github.com/openclaw/memory/internal/store"
)

// Health is the result of a single availability probe.
type Health struct {
	Available bool
	Reason    string
}

// healthClient is used only for the probe; it carries a short timeout
// independent of the embedder's own request timeout.
var healthClient = &http.Client{Timeout: 3 * time.Second}

// CheckHealth issues one lightweight probe against the embedding service
// at url, treating a 5xx response or a network failure as unavailable; any
// other status (including 4xx) counts as available.
// model is currently informational only (some providers key capacity by
// model, but the base URL is what actually answers the probe).
func CheckHealth(ctx context.Context, url, model string) Health {
	if url == "" {
		return Health{Available: false, Reason: "no url configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Health{Available: false, Reason: err.Error()}
	}
	resp, err := healthClient.Do(req)
	if err != nil {
		return Health{Available: false, Reason: err.Error()}
	}
	defer resp.Body.Close()

	// Ollama and OpenAI-compatible root endpoints answer with 200 even
	// without a recognized route; anything in the 5xx range means the
	// process is up but unhealthy.
	if resp.StatusCode >= 500 {
		return Health{Available: false, Reason: resp.Status}
	}
	return Health{Available: true}
}

// Service wires an Embedder to the store's vector table: computing and
// persisting embeddings, backfilling decisions that lack one, and running
// similarity search.
type Service struct {
	embedder Embedder
	store    *store.Store
	model    string
}

// NewService builds a Service. embedder may be nil, in which case every
// operation is a no-op that returns ErrDisabled.
func NewService(embedder Embedder, st *store.Store, model string) *Service {
	return &Service{embedder: embedder, store: st, model: model}
}

// ErrDisabled is returned by every Service operation when no embedder was
// configured (spec.md treats this as "vector search turned off", not an
// error condition callers need to branch on specially).
type ErrDisabled struct{}

func (ErrDisabled) Error() string { return "embedding service disabled: no provider configured" }

// Enabled reports whether a provider is wired in.
func (s *Service) Enabled() bool { return s.embedder != nil }

// StoreEmbedding computes an embedding for text and upserts it against
// decisionID.
func (s *Service) StoreEmbedding(ctx context.Context, decisionID, text string) error {
	if !s.Enabled() {
		return ErrDisabled{}
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	_, err = s.store.PutVector(ctx, decisionID, text, vec, s.model)
	return err
}

// backfillBatchSize bounds how many decisions Backfill embeds per call, so
// a large catch-up run is naturally rate-limited across repeated ticks.
const backfillBatchSize = 20

// Backfill embeds every live decision missing a vector for the configured
// model, up to backfillBatchSize per call. It returns the count embedded
// and stops at the first hard error, since a remote outage should not spin
// through the whole backlog.
func (s *Service) Backfill(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, ErrDisabled{}
	}
	missing, err := s.store.DecisionsMissingVectors(ctx, s.model, backfillBatchSize)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, d := range missing {
		text := d.Description
		if d.FactValue != "" {
			text = d.Entity + " " + d.FactKey + " " + d.FactValue
		}
		if err := s.StoreEmbedding(ctx, d.ID, text); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// SearchResult is one hit from Search.
type SearchResult struct {
	DecisionID string
	Similarity float64
	Content    string
}

// Search embeds query and returns the top-k decisions whose stored vector
// has cosine similarity at or above threshold, highest first.
func (s *Service) Search(ctx context.Context, query string, k int, threshold float64) ([]SearchResult, error) {
	if !s.Enabled() {
		return nil, ErrDisabled{}
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.SearchVectors(ctx, vec, s.model, k, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(rows))
	for i, r := range rows {
		out[i] = SearchResult{DecisionID: r.DecisionID, Similarity: r.Similarity, Content: r.Content}
	}
	return out, nil
}
