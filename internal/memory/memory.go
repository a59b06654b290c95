// Package memory implements the memory engine's four host-facing
// behaviors: capture, consolidation, budgeted retrieval/context
// composition, and the supporting injection-cooldown, context-pressure,
// and session-overflow guards.
package memory

import (
	"context"

	"github.com/openclaw/memory/internal/config"
	"github.com/openclaw/memory/internal/embedding"
	"github.com/openclaw/memory/internal/extract"
	"github.com/openclaw/memory/internal/security"
	"github.com/openclaw/memory/internal/store"
	"go.uber.org/zap"
)

// Engine is the memory engine's single entry point, holding the wiring the
// host adapter doesn't need to see: store access, entity acceptance,
// security state, embeddings, and the pressure/cooldown/turn counters.
type Engine struct {
	store        *store.Store
	entities     *extract.EntitySet
	embeddings   *embedding.Service
	cfg          config.Config
	log          *zap.Logger
	sessionID    string
	blockCounter *security.BlockCounter
	cooldown     *cooldownRing
	pressure     *pressureState
	turn         int
}

// New builds an Engine for one session against an already-open store.
func New(st *store.Store, sessionID string, cfg config.Config, emb *embedding.Service, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	entities := extract.NewEntitySet(extract.BuiltinAllowList, cfg.Entities)
	return &Engine{
		store:        st,
		entities:     entities,
		embeddings:   emb,
		cfg:          cfg,
		log:          log,
		sessionID:    sessionID,
		blockCounter: &security.BlockCounter{},
		cooldown:     newCooldownRing(3),
		pressure:     newPressureState(),
	}
}

// RegisterEntity adds a runtime-discovered entity base to the acceptance
// set (e.g. from a memory_add_entity tool call).
func (e *Engine) RegisterEntity(name string) {
	e.entities.Add(name)
}

// BlockCount returns the current turn's security-rejection count.
func (e *Engine) BlockCount() int {
	return e.blockCounter.Count()
}

// StartTurn advances the turn counter and resets the per-turn block
// counter. It does not touch the pressure level: ShouldCheckPressure
// reports whether the new turn is a health-check tick, and the caller then
// feeds usage in through UpdatePressure or UpdatePressureFromMessages.
func (e *Engine) StartTurn() {
	e.turn++
	e.blockCounter.Reset()
}

// ShouldCheckPressure reports whether this turn is a pressure health-check
// tick (every 10th turn).
func (e *Engine) ShouldCheckPressure() bool {
	return e.turn%10 == 0
}

// UpdatePressure feeds a token-usage percentage (0-100) into the pressure
// state, updating the active budget scale.
func (e *Engine) UpdatePressure(usagePct float64) {
	e.pressure.update(usagePct)
}

// UpdatePressureFromMessages estimates the turn's context-usage percentage
// from the live message list and the configured context cap, then updates
// the pressure state from it (spec.md §4.6).
func (e *Engine) UpdatePressureFromMessages(messages []Message) {
	e.UpdatePressure(EstimateUsagePercent(messages, e.cfg.ContextTokenCap))
}

// OnCompaction resets pressure to normal and clears the injection cooldown
// ring, matching spec.md §4.6's after-compaction reset.
func (e *Engine) OnCompaction() {
	e.pressure.reset()
	e.cooldown.clear()
}

// EffectiveBudget scales baseBudget by the current pressure level.
func (e *Engine) EffectiveBudget(baseBudget int) int {
	return e.pressure.effectiveBudget(baseBudget)
}

// SemanticSearch exposes the embedding service's vector search directly for
// the memory_semantic_search tool, returning embedding.ErrDisabled if no
// embedder is configured.
func (e *Engine) SemanticSearch(ctx context.Context, query string, k int, threshold float64) ([]embedding.SearchResult, error) {
	if e.embeddings == nil || !e.embeddings.Enabled() {
		return nil, embedding.ErrDisabled{}
	}
	return e.embeddings.Search(ctx, query, k, threshold)
}
