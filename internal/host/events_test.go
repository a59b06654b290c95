package host

import (
	"context"
	"testing"

	"github.com/openclaw/memory/internal/memory"
	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeforeAgentStart_ReturnsRetrievedPayload(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "user", FactKey: "name", FactValue: "Alex", Importance: 0.9, TTLClass: model.TTLPermanent,
	})
	require.NoError(t, err)

	payload, err := a.BeforeAgentStart(ctx, "what is my name")
	require.NoError(t, err)
	assert.Contains(t, payload, "user.name: Alex")
}

func TestBeforeAgentStart_DisabledAutoRecallReturnsEmpty(t *testing.T) {
	a := newTestAdapter(t)
	a.cfg.AutoRecall = false
	ctx := context.Background()

	_, err := a.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "user", FactKey: "name", FactValue: "Alex", Importance: 0.9, TTLClass: model.TTLPermanent,
	})
	require.NoError(t, err)

	payload, err := a.BeforeAgentStart(ctx, "what is my name")
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestAgentEnd_CapturesAcceptedFacts(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	msgs := []memory.Message{{Role: "user", Text: "Here is some context before it.\nuser.favorite_language: go"}}
	res, err := a.AgentEnd(ctx, msgs)
	require.NoError(t, err)
	require.Len(t, res.Captured.Stored, 1)
	assert.Equal(t, "favorite_language", res.Captured.Stored[0].FactKey)
}

func TestAgentEnd_DisabledAutoCaptureStoresNothing(t *testing.T) {
	a := newTestAdapter(t)
	a.cfg.AutoCapture = false
	ctx := context.Background()

	msgs := []memory.Message{{Role: "user", Text: "Here is some context before it.\nuser.favorite_language: go"}}
	res, err := a.AgentEnd(ctx, msgs)
	require.NoError(t, err)
	assert.Empty(t, res.Captured.Stored)
}

func TestAgentEnd_StuckNudgeAfterRepeatedTopic(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	text := "we are still blocked on the same deployment pipeline failure during rollout"

	var last bool
	for i := 0; i < stuckRepeatThreshold; i++ {
		msgs := []memory.Message{{Role: "assistant", Text: text}}
		res, err := a.AgentEnd(ctx, msgs)
		require.NoError(t, err)
		last = res.StuckNudge
	}
	assert.True(t, last)
}

func TestBeforeCompaction_TouchesPermanentRows(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	d, err := a.store.InsertDecision(ctx, store.PutDecisionParams{
		Entity: "user", FactKey: "name", FactValue: "Alex", Importance: 0.9, TTLClass: model.TTLPermanent,
	})
	require.NoError(t, err)
	require.Nil(t, d.LastAccessedAt)

	require.NoError(t, a.BeforeCompaction(ctx))

	rows, err := a.store.PermanentOrdered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].LastAccessedAt)
}

func TestAgentEnd_EstimatesPressureFromMessageBytes(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		a.mem.StartTurn()
	}
	assert.Equal(t, 4000, a.mem.EffectiveBudget(4000))

	a.mem.StartTurn() // turn 10: this AgentEnd call is a pressure health-check tick
	big := make([]byte, 20000)
	for i := range big {
		big[i] = 'x'
	}
	msgs := []memory.Message{{Role: "user", Text: string(big)}}
	_, err := a.AgentEnd(ctx, msgs)
	require.NoError(t, err)

	assert.Equal(t, 0, a.mem.EffectiveBudget(4000))
}

func TestAfterCompaction_ResetsPressureAndHistory(t *testing.T) {
	a := newTestAdapter(t)
	a.mem.UpdatePressure(95)
	a.history.Observe(sampleTopicText)
	require.Equal(t, 1, a.history.state.RepeatCount)

	a.AfterCompaction()

	assert.Equal(t, 4000, a.mem.EffectiveBudget(4000))
	assert.Equal(t, topicHistoryState{}, a.history.state)
}
