// Package scheduler implements the background tick loop: firing cron
// triggers, sweeping skippable steps, checking completion, dispatching
// ready steps to executors, and detecting stuck steps.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/memory/internal/executor"
	"github.com/openclaw/memory/internal/graph"
	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/store"
	"go.uber.org/zap"
)

// stuckAfter matches spec.md §4.8's 30-minute running-step timeout.
const stuckAfter = 30 * time.Minute

// Scheduler owns one tick of the pipeline engine's background loop.
type Scheduler struct {
	store      *store.Store
	local      *executor.LocalExecutor
	remote     *executor.RemoteExecutor
	log        *zap.Logger
	stuckAfter time.Duration
}

// New builds a Scheduler with the spec-mandated 30-minute stuck threshold.
func New(st *store.Store, local *executor.LocalExecutor, remote *executor.RemoteExecutor, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{store: st, local: local, remote: remote, log: log, stuckAfter: stuckAfter}
}

// WithStuckThreshold overrides the running-step timeout; used by tests
// that can't wait out the real 30-minute window.
func (s *Scheduler) WithStuckThreshold(d time.Duration) *Scheduler {
	s.stuckAfter = d
	return s
}

// Tick runs one full scheduler pass: fire triggers, sweep skippable
// steps, check completion, dispatch ready steps, and detect stuck steps.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	if err := s.fireTriggers(ctx, now); err != nil {
		s.log.Error("trigger firing failed", zap.Error(err))
	}

	pipelines, err := s.store.ListNonTerminalPipelines(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal pipelines: %w", err)
	}

	for _, p := range pipelines {
		if p.Status != model.PipelineRunning {
			continue
		}
		if err := s.sweepAndCheck(ctx, p); err != nil {
			s.log.Error("sweep/check failed", zap.String("pipeline", p.ID), zap.Error(err))
			continue
		}
		if err := s.dispatchReady(ctx, p); err != nil {
			s.log.Error("dispatch failed", zap.String("pipeline", p.ID), zap.Error(err))
		}
	}

	if err := s.detectStuck(ctx, now); err != nil {
		s.log.Error("stuck detection failed", zap.Error(err))
	}
	return nil
}

// fireTriggers evaluates every enabled trigger against now and clones its
// source pipeline when the cron fields match, honoring each trigger's own
// IANA timezone and suppressing duplicate firing within the same minute.
func (s *Scheduler) fireTriggers(ctx context.Context, now time.Time) error {
	triggers, err := s.store.EnabledTriggers(ctx)
	if err != nil {
		return err
	}

	for _, t := range triggers {
		if t.LastFired != nil && sameMinute(*t.LastFired, now) {
			continue
		}

		match, err := CronMatches(t.CronExpr, now, t.Timezone)
		if err != nil {
			s.log.Warn("invalid trigger cron expression", zap.String("trigger", t.ID), zap.Error(err))
			continue
		}
		if !match {
			continue
		}

		// The trigger's own source pipeline carries the same name but is the
		// template being cloned, not a fired instance, so it does not count.
		active, err := s.store.ListNonTerminalPipelines(ctx)
		if err != nil {
			return err
		}
		exists := false
		for _, p := range active {
			if p.Name == t.PipelineName && p.ID != t.PipelineID {
				exists = true
			}
		}
		if exists {
			continue
		}

		if _, err := s.store.ClonePipeline(ctx, t.PipelineID, "scheduler"); err != nil {
			s.log.Error("clone pipeline on trigger fire failed", zap.String("trigger", t.ID), zap.Error(err))
			continue
		}

		next := now.Add(time.Minute)
		if err := s.store.MarkFired(ctx, t.ID, now, next); err != nil {
			return err
		}
	}
	return nil
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// sweepAndCheck marks newly skippable steps skipped and, if the pipeline
// is now complete, persists its terminal status.
func (s *Scheduler) sweepAndCheck(ctx context.Context, p model.Pipeline) error {
	steps, err := s.store.StepsForPipeline(ctx, p.ID)
	if err != nil {
		return err
	}
	edges, err := s.store.EdgesForPipeline(ctx, p.ID)
	if err != nil {
		return err
	}
	g := graph.Build(steps, edges)

	skipped := graph.SkipSet(g)
	for _, id := range skipped {
		if err := s.store.MarkSkipped(ctx, g.Steps[id].ID); err != nil {
			return err
		}
	}
	if len(skipped) > 0 {
		steps, err = s.store.StepsForPipeline(ctx, p.ID)
		if err != nil {
			return err
		}
		g = graph.Build(steps, edges)
	}

	status := graph.CompleteCheck(g)
	if status != model.PipelineRunning {
		summary := fmt.Sprintf("pipeline finished with status %s", status)
		return s.store.SetPipelineStatus(ctx, p.ID, status, summary, "")
	}
	return nil
}

// prevResultPlaceholders are the template tokens substituted with parent
// output in a step's prompt.
var prevResultPlaceholders = []string{"{{prev_result}}", "{{parent_outputs}}"}

// buildPrompt substitutes parent-output placeholders into tmpl, or
// prepends a preamble when neither placeholder is present.
func buildPrompt(tmpl string, parentOutputs string) string {
	replaced := tmpl
	found := false
	for _, ph := range prevResultPlaceholders {
		if strings.Contains(replaced, ph) {
			found = true
			replaced = strings.ReplaceAll(replaced, ph, parentOutputs)
		}
	}
	if found || parentOutputs == "" {
		return replaced
	}
	return "Previous step outputs:\n" + parentOutputs + "\n\n" + tmpl
}

// dispatchReady marks each ready step running, builds its prompt, routes
// it to the appropriate executor, and applies the outcome via advance.
func (s *Scheduler) dispatchReady(ctx context.Context, p model.Pipeline) error {
	steps, err := s.store.StepsForPipeline(ctx, p.ID)
	if err != nil {
		return err
	}
	edges, err := s.store.EdgesForPipeline(ctx, p.ID)
	if err != nil {
		return err
	}
	g := graph.Build(steps, edges)

	for _, id := range graph.ReadySet(g) {
		st := g.Steps[id]

		var parentOutputs []string
		for _, pid := range g.Parents[id] {
			parent := g.Steps[pid]
			if parent.Status != model.StepComplete {
				continue
			}
			artifact := parent.ResultSummary
			if artifact == "" {
				artifact = parent.Output
			}
			parentOutputs = append(parentOutputs, fmt.Sprintf("[%s]: %s", parent.Name, artifact))
		}
		prompt := buildPrompt(st.PromptTmpl, strings.Join(parentOutputs, "\n\n"))

		if err := s.store.SetStepStatus(ctx, st.ID, model.StepRunning); err != nil {
			return err
		}

		useRemote, modelName := executor.Route(st.Tier, st.Executor)
		var res executor.Result
		if useRemote && s.remote != nil {
			res = s.remote.Dispatch(ctx, modelName, prompt)
		} else if s.local != nil {
			res = s.local.Dispatch(ctx, modelName, prompt)
		} else {
			res = executor.Result{Success: false, Error: "no executor configured"}
		}

		if _, err := s.store.ApplyAdvance(ctx, st.ID, store.AdvanceStepParams{
			Success: res.Success, Output: res.Output, Error: res.Error,
		}); err != nil {
			return err
		}
	}
	return nil
}

// detectStuck fails any step that has been running for longer than
// stuckAfter.
func (s *Scheduler) detectStuck(ctx context.Context, now time.Time) error {
	pipelines, err := s.store.ListNonTerminalPipelines(ctx)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		steps, err := s.store.StepsForPipeline(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, st := range steps {
			if st.Status != model.StepRunning || st.StartedAt == nil {
				continue
			}
			if now.Sub(*st.StartedAt) <= s.stuckAfter {
				continue
			}
			if _, err := s.store.ApplyAdvance(ctx, st.ID, store.AdvanceStepParams{
				Success: false, Error: "Step timed out (running > 30 minutes)",
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
