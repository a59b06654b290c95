package memory

import (
	"context"
	"sort"

	"github.com/openclaw/memory/internal/model"
)

// ConsolidateResult summarizes one consolidation pass.
type ConsolidateResult struct {
	GroupsCollapsed int
	RowsRemoved     int
	VectorsSwept    int64
}

// Consolidate groups live decisions by (entity, fact_key), keeps the row
// chosen by pickSurvivor in each group with more than one live member,
// bumps its importance, and deletes the rest along with their vectors.
func (e *Engine) Consolidate(ctx context.Context) (ConsolidateResult, error) {
	var result ConsolidateResult

	groups, err := e.store.GroupedLiveByEntityKey(ctx)
	if err != nil {
		return result, err
	}

	for _, rows := range groups {
		survivor := pickSurvivor(rows)
		result.GroupsCollapsed++

		if err := e.store.BumpImportance(ctx, survivor.ID, e.cfg.Consolidation.ImportanceBump, e.cfg.Consolidation.ImportanceCap); err != nil {
			return result, err
		}

		for _, d := range rows {
			if d.ID == survivor.ID {
				continue
			}
			if err := e.store.DeleteDecision(ctx, d.ID); err != nil {
				return result, err
			}
			result.RowsRemoved++
		}
	}

	swept, err := e.store.SweepOrphanedVectors(ctx)
	if err != nil {
		return result, err
	}
	result.VectorsSwept = swept

	return result, nil
}

// pickSurvivor returns the row whose last-accessed timestamp (or creation
// timestamp, for a row never accessed) is latest; on a tie, a row that was
// accessed wins over one that was not.
func pickSurvivor(rows []model.Decision) model.Decision {
	sorted := make([]model.Decision, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		ti := sorted[i].Timestamp
		if sorted[i].LastAccessedAt != nil {
			ti = *sorted[i].LastAccessedAt
		}
		tj := sorted[j].Timestamp
		if sorted[j].LastAccessedAt != nil {
			tj = *sorted[j].LastAccessedAt
		}
		if ti.Equal(tj) {
			return sorted[i].LastAccessedAt != nil && sorted[j].LastAccessedAt == nil
		}
		return ti.After(tj)
	})
	return sorted[0]
}
