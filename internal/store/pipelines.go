package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openclaw/memory/internal/model"
)

// NewStepSpec describes one step as given to CreatePipeline, before ids are
// assigned.
type NewStepSpec struct {
	Name         string
	Type         model.StepType
	Tier         string
	Executor     string
	PromptTmpl   string
	DependsOnAll bool
	MaxRetries   int
}

// NewEdgeSpec describes one edge as given to CreatePipeline, referencing
// steps by name (resolved to ids inside the transaction).
type NewEdgeSpec struct {
	ParentName string
	ChildName  string
	Condition  model.Condition
}

// CreatePipelineParams is the full transactional insert for a new pipeline.
type CreatePipelineParams struct {
	Name       string
	Creator    string
	TriggerMsg string
	Config     string
	Steps      []NewStepSpec
	Edges      []NewEdgeSpec
}

// CreatePipeline inserts a pipeline, its steps, and its edges in a single
// transaction, assigning fresh ids to every step. Returns the pipeline id
// and a name->id map for the caller's own bookkeeping.
func (s *Store) CreatePipeline(ctx context.Context, p CreatePipelineParams) (string, map[string]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	pid := s.newID()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, status, created_at, updated_at, creator, trigger_msg, config, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '')`,
		pid, sanitize(p.Name), string(model.PipelinePending), now, now, p.Creator, sanitize(p.TriggerMsg), p.Config)
	if err != nil {
		return "", nil, fmt.Errorf("insert pipeline: %w", err)
	}

	nameToID := map[string]string{}
	for _, st := range p.Steps {
		sid := s.newID()
		nameToID[st.Name] = sid
		dependsOnAll := 0
		if st.DependsOnAll {
			dependsOnAll = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_steps (id, pipeline_id, name, step_type, status, tier, executor, prompt_tmpl,
			                            depends_on_all, retry_count, max_retries, created_at, updated_at,
			                            input, output, result_summary, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, '', '', '', '')`,
			sid, pid, sanitize(st.Name), string(st.Type), string(model.StepPending), st.Tier, st.Executor,
			sanitize(st.PromptTmpl), dependsOnAll, st.MaxRetries, now, now)
		if err != nil {
			return "", nil, fmt.Errorf("insert step %q: %w", st.Name, err)
		}
	}

	for _, e := range p.Edges {
		parentID, ok := nameToID[e.ParentName]
		if !ok {
			return "", nil, fmt.Errorf("edge references unknown step %q", e.ParentName)
		}
		childID, ok := nameToID[e.ChildName]
		if !ok {
			return "", nil, fmt.Errorf("edge references unknown step %q", e.ChildName)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_edges (pipeline_id, parent_step_id, child_step_id, condition_kind, condition_value)
			VALUES (?, ?, ?, ?, ?)`,
			pid, parentID, childID, string(e.Condition.Kind), e.Condition.Value)
		if err != nil {
			return "", nil, fmt.Errorf("insert edge %s->%s: %w", e.ParentName, e.ChildName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return pid, nameToID, nil
}

// GetPipeline fetches a pipeline row by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineCols+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListNonTerminalPipelines returns every pipeline not in a terminal status,
// ordered by creation time (the Scheduler's processing order).
func (s *Store) ListNonTerminalPipelines(ctx context.Context) ([]model.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pipelineCols+` FROM pipelines
		WHERE status NOT IN ('complete', 'failed', 'cancelled')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPipelines(rows)
}

// StartPipeline transitions pending -> running and records started_at.
func (s *Store) StartPipeline(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
		string(model.PipelineRunning), now, now, id)
	return err
}

// SetPipelineStatus updates status, and completed_at when status is
// terminal.
func (s *Store) SetPipelineStatus(ctx context.Context, id string, status model.PipelineStatus, summary, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var completedAt interface{}
	switch status {
	case model.PipelineComplete, model.PipelineFailed, model.PipelineCancelled:
		completedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at),
		       summary = ?, error = ? WHERE id = ?`,
		string(status), now, completedAt, sanitize(summary), sanitize(errMsg), id)
	return err
}

// CancelPipeline marks every non-terminal step cancelled, the pipeline
// cancelled, and disables its triggers — all in one transaction.
func (s *Store) CancelPipeline(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		UPDATE pipeline_steps SET status = ?, updated_at = ?
		WHERE pipeline_id = ? AND status NOT IN ('complete', 'failed', 'skipped', 'cancelled')`,
		string(model.StepCancelled), now, id)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE pipelines SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(model.PipelineCancelled), now, now, id)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE pipeline_triggers SET enabled = 0 WHERE pipeline_id = ?`, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// StepsForPipeline returns every step belonging to a pipeline.
func (s *Store) StepsForPipeline(ctx context.Context, pipelineID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepCols+` FROM pipeline_steps WHERE pipeline_id = ?`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSteps(rows)
}

// EdgesForPipeline returns every edge belonging to a pipeline.
func (s *Store) EdgesForPipeline(ctx context.Context, pipelineID string) ([]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pipeline_id, parent_step_id, child_step_id, condition_kind, condition_value
		FROM pipeline_edges WHERE pipeline_id = ?`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		var kind string
		if err := rows.Scan(&e.PipelineID, &e.ParentID, &e.ChildID, &kind, &e.Condition.Value); err != nil {
			return nil, err
		}
		e.Condition.Kind = model.ConditionKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStep fetches a single step by id.
func (s *Store) GetStep(ctx context.Context, id string) (*model.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepCols+` FROM pipeline_steps WHERE id = ?`, id)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SetStepStatus updates a step's status and updated_at, optionally setting
// started_at/completed_at when transitioning into running/terminal states.
func (s *Store) SetStepStatus(ctx context.Context, id string, status model.StepStatus) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var startedAt, completedAt interface{}
	if status == model.StepRunning {
		startedAt = now
	}
	if status.Terminal() {
		completedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_steps SET status = ?, updated_at = ?,
		       started_at = COALESCE(?, started_at), completed_at = COALESCE(?, completed_at)
		WHERE id = ?`, string(status), now, startedAt, completedAt, id)
	return err
}

// AdvanceStepParams captures the outcome of a dispatched step.
type AdvanceStepParams struct {
	Output        string
	Success       bool
	Error         string
	ResultSummary string
}

const maxOutputLen = 65536
const truncateMarker = "...[truncated]"

func truncateOutput(s string) string {
	if len(s) <= maxOutputLen {
		return s
	}
	return s[:maxOutputLen-len(truncateMarker)] + truncateMarker
}

// ApplyAdvance writes a step's output/error and applies the
// success/retry/fail transition described in spec.md §4.7. Returns the
// step's new status.
func (s *Store) ApplyAdvance(ctx context.Context, stepID string, p AdvanceStepParams) (model.StepStatus, error) {
	st, err := s.GetStep(ctx, stepID)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", fmt.Errorf("step not found: %s", stepID)
	}
	if st.Status != model.StepRunning {
		// A step cancelled or otherwise moved on while its dispatch was
		// in flight must not be resurrected by the stale result landing
		// afterward (spec.md §5: results are ignored once a step is no
		// longer running).
		return st.Status, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	output := truncateOutput(p.Output)

	var newStatus model.StepStatus
	var retryCount = st.RetryCount

	if p.Success {
		newStatus = model.StepComplete
	} else if st.RetryCount < st.MaxRetries {
		retryCount++
		newStatus = model.StepPending
	} else {
		newStatus = model.StepFailed
	}

	var completedAt interface{}
	if newStatus.Terminal() {
		completedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pipeline_steps SET status = ?, output = ?, error = ?, result_summary = ?,
		       retry_count = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		string(newStatus), sanitize(output), sanitize(p.Error), sanitize(p.ResultSummary),
		retryCount, now, completedAt, stepID)
	return newStatus, err
}

// MarkSkipped sets a step's status to skipped.
func (s *Store) MarkSkipped(ctx context.Context, stepID string) error {
	return s.SetStepStatus(ctx, stepID, model.StepSkipped)
}

// CreateTrigger inserts a new cron trigger for a pipeline.
func (s *Store) CreateTrigger(ctx context.Context, pipelineID, cronExpr, timezone string) (*model.Trigger, error) {
	id := s.newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_triggers (id, pipeline_id, cron_expr, timezone, enabled, last_fired, next_fire)
		VALUES (?, ?, ?, ?, 1, NULL, NULL)`, id, pipelineID, cronExpr, timezone)
	if err != nil {
		return nil, err
	}
	return &model.Trigger{ID: id, PipelineID: pipelineID, CronExpr: cronExpr, Timezone: timezone, Enabled: true}, nil
}

// EnabledTriggers returns every enabled trigger joined with its source
// pipeline's name.
type TriggerWithPipeline struct {
	model.Trigger
	PipelineName string
}

func (s *Store) EnabledTriggers(ctx context.Context) ([]TriggerWithPipeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.pipeline_id, t.cron_expr, t.timezone, t.enabled, t.last_fired, t.next_fire, p.name
		FROM pipeline_triggers t JOIN pipelines p ON p.id = t.pipeline_id
		WHERE t.enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriggerWithPipeline
	for rows.Next() {
		var t TriggerWithPipeline
		var enabled int
		var lastFired, nextFire sql.NullString
		if err := rows.Scan(&t.ID, &t.PipelineID, &t.CronExpr, &t.Timezone, &enabled, &lastFired, &nextFire, &t.PipelineName); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		if lastFired.Valid {
			tm, _ := time.Parse(time.RFC3339, lastFired.String)
			t.LastFired = &tm
		}
		if nextFire.Valid {
			tm, _ := time.Parse(time.RFC3339, nextFire.String)
			t.NextFire = &tm
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkFired updates last_fired/next_fire for a trigger.
func (s *Store) MarkFired(ctx context.Context, triggerID string, firedAt, nextFire time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_triggers SET last_fired = ?, next_fire = ? WHERE id = ?`,
		firedAt.UTC().Format(time.RFC3339), nextFire.UTC().Format(time.RFC3339), triggerID)
	return err
}

// NonTerminalPipelineExistsByName reports whether a non-terminal pipeline
// with the given name already exists.
func (s *Store) NonTerminalPipelineExistsByName(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pipelines WHERE name = ? AND status NOT IN ('complete', 'failed', 'cancelled')`,
		name).Scan(&n)
	return n > 0, err
}

// ClonePipeline clones a source pipeline's steps and edges into a fresh
// pipeline marked running, in one transaction — used by trigger firing.
func (s *Store) ClonePipeline(ctx context.Context, sourceID, creator string) (string, error) {
	src, err := s.GetPipeline(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if src == nil {
		return "", fmt.Errorf("source pipeline not found: %s", sourceID)
	}
	steps, err := s.StepsForPipeline(ctx, sourceID)
	if err != nil {
		return "", err
	}
	edges, err := s.EdgesForPipeline(ctx, sourceID)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	newID := s.newID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, status, created_at, updated_at, started_at, creator, trigger_msg, config, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '')`,
		newID, src.Name, string(model.PipelineRunning), now, now, now, creator, "", src.Config)
	if err != nil {
		return "", fmt.Errorf("clone pipeline: %w", err)
	}

	idMap := map[string]string{}
	for _, st := range steps {
		sid := s.newID()
		idMap[st.ID] = sid
		dependsOnAll := 0
		if st.DependsOnAll {
			dependsOnAll = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_steps (id, pipeline_id, name, step_type, status, tier, executor, prompt_tmpl,
			                            depends_on_all, retry_count, max_retries, created_at, updated_at,
			                            input, output, result_summary, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, '', '', '', '')`,
			sid, newID, st.Name, string(st.Type), string(model.StepPending), st.Tier, st.Executor,
			st.PromptTmpl, dependsOnAll, st.MaxRetries, now, now)
		if err != nil {
			return "", fmt.Errorf("clone step %q: %w", st.Name, err)
		}
	}
	for _, e := range edges {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_edges (pipeline_id, parent_step_id, child_step_id, condition_kind, condition_value)
			VALUES (?, ?, ?, ?, ?)`,
			newID, idMap[e.ParentID], idMap[e.ChildID], string(e.Condition.Kind), e.Condition.Value)
		if err != nil {
			return "", fmt.Errorf("clone edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return newID, nil
}

const pipelineCols = `id, name, status, created_at, updated_at, started_at, completed_at, creator, trigger_msg, config, summary, error`

func scanPipeline(row rowScanner) (model.Pipeline, error) {
	var p model.Pipeline
	var status, createdAt, updatedAt string
	var startedAt, completedAt, config sql.NullString

	err := row.Scan(&p.ID, &p.Name, &status, &createdAt, &updatedAt, &startedAt, &completedAt,
		&p.Creator, &p.TriggerMsg, &config, &p.Summary, &p.Error)
	if err != nil {
		return p, err
	}
	p.Status = model.PipelineStatus(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		p.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		p.CompletedAt = &t
	}
	if config.Valid {
		p.Config = config.String
	}
	return p, nil
}

func scanPipelines(rows *sql.Rows) ([]model.Pipeline, error) {
	var out []model.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const stepCols = `id, pipeline_id, name, step_type, status, tier, executor, prompt_tmpl,
	depends_on_all, retry_count, max_retries, created_at, updated_at, started_at, completed_at,
	input, output, result_summary, error`

func scanStep(row rowScanner) (model.Step, error) {
	var st model.Step
	var stepType, status, createdAt, updatedAt string
	var dependsOnAll int
	var startedAt, completedAt sql.NullString

	err := row.Scan(&st.ID, &st.PipelineID, &st.Name, &stepType, &status, &st.Tier, &st.Executor,
		&st.PromptTmpl, &dependsOnAll, &st.RetryCount, &st.MaxRetries, &createdAt, &updatedAt,
		&startedAt, &completedAt, &st.Input, &st.Output, &st.ResultSummary, &st.Error)
	if err != nil {
		return st, err
	}
	st.Type = model.StepType(stepType)
	st.Status = model.StepStatus(status)
	st.DependsOnAll = dependsOnAll != 0
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		st.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		st.CompletedAt = &t
	}
	return st, nil
}

func scanSteps(rows *sql.Rows) ([]model.Step, error) {
	var out []model.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
