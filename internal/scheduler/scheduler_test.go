package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openclaw/memory/internal/executor"
	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	st, err := store.Open("sched-test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBuildPrompt_SubstitutesPlaceholder(t *testing.T) {
	out := buildPrompt("summarize: {{prev_result}}", "[fetch]: raw data")
	assert.Equal(t, "summarize: [fetch]: raw data", out)
}

func TestBuildPrompt_PrependsPreambleWhenNoPlaceholder(t *testing.T) {
	out := buildPrompt("write a report", "[fetch]: raw data")
	assert.Contains(t, out, "Previous step outputs:")
	assert.Contains(t, out, "write a report")
}

func TestBuildPrompt_NoParentContextLeavesTemplateAlone(t *testing.T) {
	out := buildPrompt("write a report", "")
	assert.Equal(t, "write a report", out)
}

func TestTick_DispatchesReadyStepAndCompletesPipeline(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": "done"}`))
	}))
	defer srv.Close()

	pid, _, err := st.CreatePipeline(ctx, store.CreatePipelineParams{
		Name:  "single-step",
		Steps: []store.NewStepSpec{{Name: "only", Type: model.StepTask}},
	})
	require.NoError(t, err)
	require.NoError(t, st.StartPipeline(ctx, pid))

	local := executor.NewLocalExecutor(srv.URL)
	sched := New(st, local, nil, nil)
	require.NoError(t, sched.Tick(ctx)) // dispatches the ready step
	require.NoError(t, sched.Tick(ctx)) // completion check sees the finished step

	p, err := st.GetPipeline(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineComplete, p.Status)
}

func TestTick_StuckStepFailsAfterThreshold(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pid, ids, err := st.CreatePipeline(ctx, store.CreatePipelineParams{
		Name:  "stuck",
		Steps: []store.NewStepSpec{{Name: "only", Type: model.StepTask}},
	})
	require.NoError(t, err)
	require.NoError(t, st.StartPipeline(ctx, pid))
	require.NoError(t, st.SetStepStatus(ctx, ids["only"], model.StepRunning))

	time.Sleep(5 * time.Millisecond)

	sched := New(st, executor.NewLocalExecutor("http://127.0.0.1:0"), nil, nil).WithStuckThreshold(time.Millisecond)
	require.NoError(t, sched.Tick(ctx))

	step, err := st.GetStep(ctx, ids["only"])
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step.Status)
}

func TestFireTriggers_ClonesOnMatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pid, _, err := st.CreatePipeline(ctx, store.CreatePipelineParams{
		Name:  "cron-source",
		Steps: []store.NewStepSpec{{Name: "only", Type: model.StepTask}},
	})
	require.NoError(t, err)
	_, err = st.CreateTrigger(ctx, pid, "* * * * *", "UTC")
	require.NoError(t, err)

	sched := New(st, nil, nil, nil)
	require.NoError(t, sched.fireTriggers(ctx, time.Now().UTC()))

	pipelines, err := st.ListNonTerminalPipelines(ctx)
	require.NoError(t, err)
	// original pending pipeline + the cloned running instance
	assert.Len(t, pipelines, 2)
}
