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

// A daily trigger fires once at its matching minute, a tick 30 seconds
// later does not clone a second pipeline, and the cloned run completes
// once its single root step finishes.
func TestCronTrigger_FiresOnceThenCompletes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": "OK"}`))
	}))
	defer srv.Close()

	pid, _, err := st.CreatePipeline(ctx, store.CreatePipelineParams{
		Name:  "daily-report",
		Steps: []store.NewStepSpec{{Name: "only", Type: model.StepTask}},
	})
	require.NoError(t, err)
	_, err = st.CreateTrigger(ctx, pid, "0 5 * * *", "UTC")
	require.NoError(t, err)

	fireAt := time.Date(2026, 8, 6, 5, 0, 0, 0, time.UTC)
	local := executor.NewLocalExecutor(srv.URL)
	sched := New(st, local, nil, nil)

	require.NoError(t, sched.fireTriggers(ctx, fireAt))
	pipelines, err := st.ListNonTerminalPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, pipelines, 2) // source (pending) + cloned (running)

	require.NoError(t, sched.fireTriggers(ctx, fireAt.Add(30*time.Second)))
	pipelines, err = st.ListNonTerminalPipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, pipelines, 2, "a second fire within the same minute must not clone again")

	var cloned model.Pipeline
	for _, p := range pipelines {
		if p.Status == model.PipelineRunning {
			cloned = p
		}
	}
	require.NotEmpty(t, cloned.ID)

	require.NoError(t, sched.sweepAndCheck(ctx, cloned))
	require.NoError(t, sched.dispatchReady(ctx, cloned))
	require.NoError(t, sched.sweepAndCheck(ctx, cloned))

	done, err := st.GetPipeline(ctx, cloned.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineComplete, done.Status)
}
