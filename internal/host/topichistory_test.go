package host

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTopicText = "we keep hitting the same deployment pipeline failure over and over during rollout"

func TestTopicHistory_RepeatsTriggerStuckAfterThreshold(t *testing.T) {
	h := newTopicHistory("")
	for i := 0; i < stuckRepeatThreshold-1; i++ {
		assert.False(t, h.Observe(sampleTopicText))
	}
	assert.True(t, h.Observe(sampleTopicText))
}

func TestTopicHistory_DifferentSignatureResetsCount(t *testing.T) {
	h := newTopicHistory("")
	assert.False(t, h.Observe(sampleTopicText))
	assert.False(t, h.Observe("a totally unrelated discussion about quarterly budgeting and headcount planning"))
	assert.False(t, h.Observe(sampleTopicText))
}

func TestTopicHistory_ClearResetsState(t *testing.T) {
	h := newTopicHistory("")
	for i := 0; i < stuckRepeatThreshold; i++ {
		h.Observe(sampleTopicText)
	}
	h.Clear()
	for i := 0; i < stuckRepeatThreshold-1; i++ {
		assert.False(t, h.Observe(sampleTopicText))
	}
}

func TestTopicHistory_PersistsAcrossInstancesViaPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topic-history.json")
	h1 := newTopicHistory(path)
	h1.Observe(sampleTopicText)
	h1.Observe(sampleTopicText)

	h2 := newTopicHistory(path)
	require.True(t, h2.Observe(sampleTopicText))
}

func TestTopicHistory_ShortTextNeverCountsAsObservation(t *testing.T) {
	h := newTopicHistory("")
	for i := 0; i < stuckRepeatThreshold+2; i++ {
		assert.False(t, h.Observe("too short"))
	}
}
