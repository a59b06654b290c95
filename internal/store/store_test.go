package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/memory/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, name string) *Store {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	st, err := Open(name)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestResolvePath_RejectsTraversal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	_, err := ResolvePath("../../../etc/passwd")
	require.Error(t, err)
	var pathErr *ErrPathTraversal
	assert.ErrorAs(t, err, &pathErr)
}

func TestResolvePath_DefaultUnderRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	p, err := ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".openclaw", "memory", "memory.db"), p)
}

func TestOpen_SingletonPerPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	s1, err := Open("a.db")
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Open("a.db")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestSanitize_StripsNulAndCaps(t *testing.T) {
	assert.Equal(t, "ab", sanitize("a\x00b"))
	long := make([]rune, maxValueLen+50)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, []rune(sanitize(string(long))), maxValueLen)
}

func TestInsertAndGetDecision(t *testing.T) {
	st := openTest(t, "d1.db")
	ctx := context.Background()

	d, err := st.InsertDecision(ctx, PutDecisionParams{
		Description: "likes tea", Entity: "User", FactKey: "drink", FactValue: "tea", Importance: 0.4,
		TTLClass: model.TTLActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "user", d.Entity) // case-folded

	got, err := st.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tea", got.FactValue)
}

func TestGetByEntityKey_ExcludesExpired(t *testing.T) {
	st := openTest(t, "d2.db")
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	_, err := st.InsertDecision(ctx, PutDecisionParams{
		Entity: "user", FactKey: "mood", FactValue: "tired", ExpiresAt: &past, TTLClass: model.TTLSession,
	})
	require.NoError(t, err)

	got, err := st.GetByEntityKey(ctx, "user", "mood")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBumpImportance_CapsAtMax(t *testing.T) {
	st := openTest(t, "d3.db")
	ctx := context.Background()
	d, err := st.InsertDecision(ctx, PutDecisionParams{Description: "x", Importance: 0.9})
	require.NoError(t, err)

	require.NoError(t, st.BumpImportance(ctx, d.ID, 0.5, 0.95))
	got, err := st.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.Importance, 0.0001)
}

func TestLowestRankedLive_OrdersByImportanceThenAge(t *testing.T) {
	st := openTest(t, "d4.db")
	ctx := context.Background()
	_, err := st.InsertDecision(ctx, PutDecisionParams{Description: "high", Importance: 0.9, TTLClass: model.TTLActive})
	require.NoError(t, err)
	low, err := st.InsertDecision(ctx, PutDecisionParams{Description: "low", Importance: 0.1, TTLClass: model.TTLActive})
	require.NoError(t, err)

	got, err := st.LowestRankedLive(ctx, model.TTLActive)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, low.ID, got.ID)
}

func TestFTSSearch_MatchesDescription(t *testing.T) {
	st := openTest(t, "d5.db")
	ctx := context.Background()
	_, err := st.InsertDecision(ctx, PutDecisionParams{Description: "user prefers dark roast coffee"})
	require.NoError(t, err)
	_, err = st.InsertDecision(ctx, PutDecisionParams{Description: "user dislikes tea"})
	require.NoError(t, err)

	results, err := st.FTSSearch(ctx, "coffee", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Description, "coffee")
}

func TestFTSSearch_ReflectsDeletes(t *testing.T) {
	st := openTest(t, "d6.db")
	ctx := context.Background()
	d, err := st.InsertDecision(ctx, PutDecisionParams{Description: "project deadline friday"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteDecision(ctx, d.ID))

	results, err := st.FTSSearch(ctx, "deadline", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGroupedLiveByEntityKey_OnlyMultiRowGroups(t *testing.T) {
	st := openTest(t, "d7.db")
	ctx := context.Background()
	_, err := st.InsertDecision(ctx, PutDecisionParams{Entity: "user", FactKey: "drink", FactValue: "coffee"})
	require.NoError(t, err)
	_, err = st.InsertDecision(ctx, PutDecisionParams{Entity: "user", FactKey: "drink", FactValue: "tea"})
	require.NoError(t, err)
	_, err = st.InsertDecision(ctx, PutDecisionParams{Entity: "user", FactKey: "name", FactValue: "sam"})
	require.NoError(t, err)

	groups, err := st.GroupedLiveByEntityKey(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	for _, rows := range groups {
		assert.Len(t, rows, 2)
	}
}

func TestUpsertAndListEntities(t *testing.T) {
	st := openTest(t, "d8.db")
	ctx := context.Background()
	require.NoError(t, st.UpsertEntity(ctx, model.Entity{Name: "User", DisplayName: "User", Source: "builtin", AddedAt: time.Now()}))
	require.NoError(t, st.UpsertEntity(ctx, model.Entity{Name: "user", DisplayName: "User Updated", Source: "config", AddedAt: time.Now()}))

	list, err := st.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "User Updated", list[0].DisplayName)
}

func TestRecordAndRecentSecurityEvents(t *testing.T) {
	st := openTest(t, "d9.db")
	ctx := context.Background()
	_, err := st.RecordSecurityEvent(ctx, model.SecurityEvent{
		EventType: "capture_blocked", SourceRole: "user", TargetEntity: "config",
		MatchedPattern: "directive_language", Snippet: "from now on...",
	})
	require.NoError(t, err)

	events, err := st.RecentSecurityEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "directive_language", events[0].MatchedPattern)
	assert.NotEmpty(t, events[0].ID)
}

func TestCreatePipeline_ResolvesEdgesByName(t *testing.T) {
	st := openTest(t, "p1.db")
	ctx := context.Background()

	pid, ids, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name: "deploy",
		Steps: []NewStepSpec{
			{Name: "build", Type: model.StepTask},
			{Name: "test", Type: model.StepTask},
		},
		Edges: []NewEdgeSpec{
			{ParentName: "build", ChildName: "test", Condition: model.Condition{Kind: model.ConditionUnconditional}},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	steps, err := st.StepsForPipeline(ctx, pid)
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	edges, err := st.EdgesForPipeline(ctx, pid)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, ids["build"], edges[0].ParentID)
}

func TestCreatePipeline_UnknownEdgeReferenceFails(t *testing.T) {
	st := openTest(t, "p2.db")
	ctx := context.Background()
	_, _, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name:  "bad",
		Steps: []NewStepSpec{{Name: "only", Type: model.StepTask}},
		Edges: []NewEdgeSpec{{ParentName: "only", ChildName: "ghost"}},
	})
	assert.Error(t, err)

	// The failed transaction must not have left a partial pipeline behind.
	pipelines, err := st.ListNonTerminalPipelines(ctx)
	require.NoError(t, err)
	assert.Empty(t, pipelines)
}

func TestApplyAdvance_RetriesThenFails(t *testing.T) {
	st := openTest(t, "p3.db")
	ctx := context.Background()
	pid, ids, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name:  "retry-test",
		Steps: []NewStepSpec{{Name: "flaky", Type: model.StepTask, MaxRetries: 1}},
	})
	require.NoError(t, err)
	stepID := ids["flaky"]

	require.NoError(t, st.SetStepStatus(ctx, stepID, model.StepRunning))
	status, err := st.ApplyAdvance(ctx, stepID, AdvanceStepParams{Success: false, Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, model.StepPending, status)

	require.NoError(t, st.SetStepStatus(ctx, stepID, model.StepRunning))
	status, err = st.ApplyAdvance(ctx, stepID, AdvanceStepParams{Success: false, Error: "boom again"})
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, status)

	_ = pid
}

func TestApplyAdvance_SuccessCompletes(t *testing.T) {
	st := openTest(t, "p4.db")
	ctx := context.Background()
	_, ids, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name:  "ok-test",
		Steps: []NewStepSpec{{Name: "step", Type: model.StepTask}},
	})
	require.NoError(t, err)

	require.NoError(t, st.SetStepStatus(ctx, ids["step"], model.StepRunning))
	status, err := st.ApplyAdvance(ctx, ids["step"], AdvanceStepParams{Success: true, Output: "done"})
	require.NoError(t, err)
	assert.Equal(t, model.StepComplete, status)
}

func TestApplyAdvance_IgnoresStaleResultAfterCancel(t *testing.T) {
	st := openTest(t, "p5.db")
	ctx := context.Background()
	pid, ids, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name:  "cancel-race",
		Steps: []NewStepSpec{{Name: "step", Type: model.StepTask}},
	})
	require.NoError(t, err)
	require.NoError(t, st.StartPipeline(ctx, pid))
	require.NoError(t, st.SetStepStatus(ctx, ids["step"], model.StepRunning))

	require.NoError(t, st.CancelPipeline(ctx, pid))

	// The dispatch in flight when the pipeline was cancelled lands after
	// the fact; its outcome must not resurrect the step.
	status, err := st.ApplyAdvance(ctx, ids["step"], AdvanceStepParams{Success: true, Output: "late result"})
	require.NoError(t, err)
	assert.Equal(t, model.StepCancelled, status)

	step, err := st.GetStep(ctx, ids["step"])
	require.NoError(t, err)
	assert.Equal(t, model.StepCancelled, step.Status)
	assert.Empty(t, step.Output)
}

func TestCancelPipeline_StopsNonTerminalSteps(t *testing.T) {
	st := openTest(t, "p5.db")
	ctx := context.Background()
	pid, ids, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name:  "cancel-test",
		Steps: []NewStepSpec{{Name: "a", Type: model.StepTask}, {Name: "b", Type: model.StepTask}},
	})
	require.NoError(t, err)
	require.NoError(t, st.SetStepStatus(ctx, ids["a"], model.StepComplete))

	require.NoError(t, st.CancelPipeline(ctx, pid))

	p, err := st.GetPipeline(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineCancelled, p.Status)

	steps, err := st.StepsForPipeline(ctx, pid)
	require.NoError(t, err)
	for _, s := range steps {
		if s.Name == "a" {
			assert.Equal(t, model.StepComplete, s.Status)
		} else {
			assert.Equal(t, model.StepCancelled, s.Status)
		}
	}
}

func TestClonePipeline_RemapsStepAndEdgeIDs(t *testing.T) {
	st := openTest(t, "p6.db")
	ctx := context.Background()
	srcID, ids, err := st.CreatePipeline(ctx, CreatePipelineParams{
		Name: "template",
		Steps: []NewStepSpec{
			{Name: "a", Type: model.StepTask}, {Name: "b", Type: model.StepTask},
		},
		Edges: []NewEdgeSpec{{ParentName: "a", ChildName: "b"}},
	})
	require.NoError(t, err)

	cloneID, err := st.ClonePipeline(ctx, srcID, "scheduler")
	require.NoError(t, err)
	assert.NotEqual(t, srcID, cloneID)

	steps, err := st.StepsForPipeline(ctx, cloneID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	for _, s := range steps {
		assert.NotEqual(t, ids[s.Name], s.ID)
		assert.Equal(t, model.StepPending, s.Status)
	}

	edges, err := st.EdgesForPipeline(ctx, cloneID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.NotEqual(t, ids["a"], edges[0].ParentID)
}

func TestNonTerminalPipelineExistsByName(t *testing.T) {
	st := openTest(t, "p7.db")
	ctx := context.Background()
	ok, err := st.NonTerminalPipelineExistsByName(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = st.CreatePipeline(ctx, CreatePipelineParams{Name: "present", Steps: []NewStepSpec{{Name: "a", Type: model.StepTask}}})
	require.NoError(t, err)

	ok, err = st.NonTerminalPipelineExistsByName(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateTriggerAndEnabledTriggers(t *testing.T) {
	st := openTest(t, "p8.db")
	ctx := context.Background()
	pid, _, err := st.CreatePipeline(ctx, CreatePipelineParams{Name: "scheduled", Steps: []NewStepSpec{{Name: "a", Type: model.StepTask}}})
	require.NoError(t, err)

	_, err = st.CreateTrigger(ctx, pid, "0 9 * * *", "America/New_York")
	require.NoError(t, err)

	triggers, err := st.EnabledTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "scheduled", triggers[0].PipelineName)
}
