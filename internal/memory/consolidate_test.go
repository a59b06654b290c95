package memory

import (
	"context"
	"testing"

	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidate_CollapsesDuplicateGroupAndBumpsImportance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	d1, err := e.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "project", FactKey: "owner", FactValue: "alice", Importance: 0.5, TTLClass: model.TTLStable,
	})
	require.NoError(t, err)
	d2, err := e.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "project", FactKey: "owner", FactValue: "alice", Importance: 0.5, TTLClass: model.TTLStable,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.TouchAccessed(ctx, d2.ID))

	res, err := e.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GroupsCollapsed)
	assert.Equal(t, 1, res.RowsRemoved)

	survivor, err := e.store.GetDecision(ctx, d2.ID)
	require.NoError(t, err)
	require.NotNil(t, survivor)
	assert.InDelta(t, 0.55, survivor.Importance, 0.0001)

	gone, err := e.store.GetDecision(ctx, d1.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestConsolidate_ImportanceCapRespected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	d1, err := e.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "project", FactKey: "status_owner", FactValue: "alice", Importance: 0.94, TTLClass: model.TTLStable,
	})
	require.NoError(t, err)
	_, err = e.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "project", FactKey: "status_owner", FactValue: "alice", Importance: 0.5, TTLClass: model.TTLStable,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.TouchAccessed(ctx, d1.ID))

	_, err = e.Consolidate(ctx)
	require.NoError(t, err)

	survivor, err := e.store.GetDecision(ctx, d1.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, survivor.Importance, 0.0001)
}

func TestConsolidate_LeavesSingletonGroupsAlone(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "project", FactKey: "owner", FactValue: "alice", Importance: 0.5, TTLClass: model.TTLStable,
	})
	require.NoError(t, err)

	res, err := e.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.GroupsCollapsed)
	assert.Equal(t, 0, res.RowsRemoved)
}

func TestConsolidate_SweepRunsCleanAfterCascade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	d, err := e.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "project", FactKey: "owner", FactValue: "alice", Importance: 0.5, TTLClass: model.TTLStable,
	})
	require.NoError(t, err)
	_, err = e.store.PutVector(ctx, d.ID, "alice", []float32{0.1, 0.2}, "test-model")
	require.NoError(t, err)
	require.NoError(t, e.store.DeleteDecision(ctx, d.ID))

	// The FK's ON DELETE CASCADE already removed the vector row; the sweep
	// should run cleanly and find nothing left over.
	res, err := e.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.VectorsSwept)
}
