// Package pipeline implements the DAG engine's create/start/status/advance/
// cancel/schedule operations, sitting atop internal/store for persistence
// and internal/graph for the in-memory DAG algorithms.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/memory/internal/graph"
	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/scheduler"
	"github.com/openclaw/memory/internal/store"
)

// Engine is the pipeline operation surface used by the host adapter's
// pipeline_* tools and the scheduler.
type Engine struct {
	store *store.Store
}

// New builds an Engine over st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// StepInput is one step as given to Create, before ids are assigned.
// DependsOn may be a bare parent name (unconditional) or a
// {step, when} conditional reference, modeled here as Dependency.
type StepInput struct {
	Name       string
	Type       model.StepType
	Tier       string
	Executor   string
	PromptTmpl string
	MaxRetries int
	DependsOn  []Dependency
}

// Dependency is one entry of a step's depends_on list.
type Dependency struct {
	Step      string
	Condition model.Condition // zero value = unconditional
}

// CreateInput is the full input to Create.
type CreateInput struct {
	Name       string
	Creator    string
	TriggerMsg string
	Config     string
	Steps      []StepInput
}

// ContractError marks a synchronous validation failure that performs no
// writes — spec.md §7's "Contract failures" category.
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string { return e.Reason }

// Create validates a pipeline definition and persists it in one
// transaction, returning the new pipeline id.
func (e *Engine) Create(ctx context.Context, in CreateInput) (string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", &ContractError{"pipeline name must not be empty"}
	}
	if len(in.Steps) == 0 {
		return "", &ContractError{"pipeline must have at least one step"}
	}

	seen := make(map[string]bool, len(in.Steps))
	var steps []model.Step
	var specSteps []store.NewStepSpec
	for _, s := range in.Steps {
		if s.Name == "" {
			return "", &ContractError{"step name must not be empty"}
		}
		if seen[s.Name] {
			return "", &ContractError{fmt.Sprintf("duplicate step name %q", s.Name)}
		}
		seen[s.Name] = true

		typ := s.Type
		if typ == "" {
			typ = model.StepTask
		}
		dependsOnAll := true // AND-join unless any dependency is conditional
		for _, d := range s.DependsOn {
			if d.Condition.Kind != "" && d.Condition.Kind != model.ConditionUnconditional {
				dependsOnAll = false
			}
		}

		steps = append(steps, model.Step{ID: s.Name, Name: s.Name, Type: typ, Status: model.StepPending, DependsOnAll: dependsOnAll})
		specSteps = append(specSteps, store.NewStepSpec{
			Name: s.Name, Type: typ, Tier: s.Tier, Executor: s.Executor,
			PromptTmpl: s.PromptTmpl, DependsOnAll: dependsOnAll, MaxRetries: s.MaxRetries,
		})
	}

	var edges []model.Edge
	var specEdges []store.NewEdgeSpec
	for _, s := range in.Steps {
		for _, d := range s.DependsOn {
			if !seen[d.Step] {
				return "", &ContractError{fmt.Sprintf("step %q depends on unknown step %q", s.Name, d.Step)}
			}
			cond := d.Condition
			if cond.Kind == "" {
				cond.Kind = model.ConditionUnconditional
			}
			edges = append(edges, model.Edge{ParentID: d.Step, ChildID: s.Name, Condition: cond})
			specEdges = append(specEdges, store.NewEdgeSpec{ParentName: d.Step, ChildName: s.Name, Condition: cond})
		}
	}

	g := graph.Build(steps, edges)
	if ok, errs := graph.Validate(g, graph.ValidateOptions{}); !ok {
		return "", &ContractError{strings.Join(errs, "; ")}
	}

	pid, _, err := e.store.CreatePipeline(ctx, store.CreatePipelineParams{
		Name: in.Name, Creator: in.Creator, TriggerMsg: in.TriggerMsg, Config: in.Config,
		Steps: specSteps, Edges: specEdges,
	})
	if err != nil {
		return "", err
	}
	return pid, nil
}

// Start transitions a pipeline from pending to running.
func (e *Engine) Start(ctx context.Context, id string) error {
	return e.store.StartPipeline(ctx, id)
}

// Snapshot is the status response for a single pipeline: its rows plus the
// graph-derived ready/skip sets and completion summary.
type Snapshot struct {
	Pipeline  model.Pipeline
	Steps     []model.Step
	Ready     []string
	Skippable []string
	Complete  bool
	Status    model.PipelineStatus
}

// Status returns one pipeline's snapshot, or nil if it does not exist.
func (e *Engine) Status(ctx context.Context, id string) (*Snapshot, error) {
	p, err := e.store.GetPipeline(ctx, id)
	if err != nil || p == nil {
		return nil, err
	}
	return e.snapshot(ctx, *p)
}

// StatusAll returns every non-terminal pipeline's snapshot.
func (e *Engine) StatusAll(ctx context.Context) ([]Snapshot, error) {
	pipelines, err := e.store.ListNonTerminalPipelines(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(pipelines))
	for _, p := range pipelines {
		snap, err := e.snapshot(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (e *Engine) snapshot(ctx context.Context, p model.Pipeline) (*Snapshot, error) {
	steps, err := e.store.StepsForPipeline(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.EdgesForPipeline(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	g := graph.Build(steps, edges)

	ready := namesOf(g, graph.ReadySet(g))
	skippable := namesOf(g, graph.SkipSet(g))
	status := graph.CompleteCheck(g)

	return &Snapshot{
		Pipeline: p, Steps: steps, Ready: ready, Skippable: skippable,
		Complete: status != model.PipelineRunning, Status: status,
	}, nil
}

func namesOf(g *graph.Graph, ids []graph.StepID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Name(id)
	}
	return out
}

// AdvanceResult is what Advance returns to its caller.
type AdvanceResult struct {
	Ready     []string
	Skipped   []string
	Complete  bool
	Status    model.PipelineStatus
}

// Advance records a dispatched step's outcome, then reloads the graph,
// marks any newly skippable steps, and runs the completion check,
// persisting the pipeline's terminal status if reached.
func (e *Engine) Advance(ctx context.Context, stepID string, out store.AdvanceStepParams) (*AdvanceResult, error) {
	st, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("step not found: %s", stepID)
	}

	// A direct advance call (host tool or CLI) reports a dispatch it drove
	// itself, synchronously, so it carries the same "this step was
	// running" guarantee the scheduler establishes explicitly before its
	// asynchronous HTTP dispatch. Back-fill that transition here rather
	// than requiring every caller to call start-running separately.
	// ApplyAdvance still drops the outcome if the step moved to a
	// terminal state (e.g. cancelled) in the meantime.
	if st.Status == model.StepPending {
		if err := e.store.SetStepStatus(ctx, stepID, model.StepRunning); err != nil {
			return nil, err
		}
	}

	if _, err := e.store.ApplyAdvance(ctx, stepID, out); err != nil {
		return nil, err
	}

	return e.reconcile(ctx, st.PipelineID)
}

// reconcile reloads a pipeline's graph, marks skippable steps skipped, and
// persists a terminal pipeline status if the graph is now complete.
func (e *Engine) reconcile(ctx context.Context, pipelineID string) (*AdvanceResult, error) {
	steps, err := e.store.StepsForPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.EdgesForPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	g := graph.Build(steps, edges)

	var skippedNames []string
	for _, id := range graph.SkipSet(g) {
		if err := e.store.MarkSkipped(ctx, g.Steps[id].ID); err != nil {
			return nil, err
		}
		skippedNames = append(skippedNames, g.Name(id))
	}

	if len(skippedNames) > 0 {
		steps, err = e.store.StepsForPipeline(ctx, pipelineID)
		if err != nil {
			return nil, err
		}
		g = graph.Build(steps, edges)
	}

	status := graph.CompleteCheck(g)
	complete := status != model.PipelineRunning
	if complete {
		summary := fmt.Sprintf("pipeline finished with status %s", status)
		if err := e.store.SetPipelineStatus(ctx, pipelineID, status, summary, ""); err != nil {
			return nil, err
		}
	}

	return &AdvanceResult{
		Ready: namesOf(g, graph.ReadySet(g)), Skipped: skippedNames,
		Complete: complete, Status: status,
	}, nil
}

// Cancel marks every non-terminal step of a pipeline cancelled, the
// pipeline cancelled, and disables its triggers. It is a no-op error for
// an already-terminal pipeline.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	p, err := e.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("pipeline not found: %s", id)
	}
	if isTerminalPipeline(p.Status) {
		return &ContractError{fmt.Sprintf("pipeline %s is already terminal (%s)", id, p.Status)}
	}
	return e.store.CancelPipeline(ctx, id)
}

func isTerminalPipeline(s model.PipelineStatus) bool {
	switch s {
	case model.PipelineComplete, model.PipelineFailed, model.PipelineCancelled:
		return true
	default:
		return false
	}
}

// Schedule validates schedule as a standard 5-field cron expression and
// inserts an enabled trigger for pipelineID.
func (e *Engine) Schedule(ctx context.Context, pipelineID, schedule, timezone string) (*model.Trigger, error) {
	if err := scheduler.ValidateCronExpr(schedule); err != nil {
		return nil, &ContractError{fmt.Sprintf("invalid cron expression %q: %v", schedule, err)}
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return e.store.CreateTrigger(ctx, pipelineID, schedule, timezone)
}

// WorkItem is one ready step packaged with its parent context for
// dispatch, as returned by Tick.
type WorkItem struct {
	PipelineID   string
	PipelineName string
	StepID       string
	StepName     string
	StepType     model.StepType
	Tier         string
	Executor     string
	PromptTmpl   string
	ParentCtx    string // "[name]: artifact" per parent, joined by blank lines
}

const parentContextCap = 500

// Tick enumerates running pipelines, computes each one's ready set, and
// returns a dispatch-ready work-item list plus the ids of steps currently
// paused awaiting input.
func (e *Engine) Tick(ctx context.Context) ([]WorkItem, []string, error) {
	pipelines, err := e.store.ListNonTerminalPipelines(ctx)
	if err != nil {
		return nil, nil, err
	}

	var items []WorkItem
	var paused []string
	for _, p := range pipelines {
		if p.Status != model.PipelineRunning {
			continue
		}
		steps, err := e.store.StepsForPipeline(ctx, p.ID)
		if err != nil {
			return nil, nil, err
		}
		edges, err := e.store.EdgesForPipeline(ctx, p.ID)
		if err != nil {
			return nil, nil, err
		}
		g := graph.Build(steps, edges)

		for _, st := range steps {
			if st.Status == model.StepPaused {
				paused = append(paused, st.ID)
			}
		}

		for _, id := range graph.ReadySet(g) {
			st := g.Steps[id]
			items = append(items, WorkItem{
				PipelineID: p.ID, PipelineName: p.Name, StepID: st.ID, StepName: st.Name,
				StepType: st.Type, Tier: st.Tier, Executor: st.Executor, PromptTmpl: st.PromptTmpl,
				ParentCtx: parentContext(g, id),
			})
		}
	}
	return items, paused, nil
}

// parentContext renders a child step's completed parents as
// "[name]: artifact" blocks, each capped at parentContextCap, joined by a
// blank line. Parents that have not yet completed are omitted — relevant
// for an OR-join child whose ready set does not require every parent done.
func parentContext(g *graph.Graph, child graph.StepID) string {
	var parts []string
	for _, p := range g.Parents[child] {
		st := g.Steps[p]
		if st.Status != model.StepComplete {
			continue
		}
		artifact := st.ResultSummary
		if artifact == "" {
			artifact = st.Output
		}
		if len(artifact) > parentContextCap {
			artifact = artifact[:parentContextCap]
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", st.Name, artifact))
	}
	return strings.Join(parts, "\n\n")
}
