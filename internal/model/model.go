// Package model defines the shared row types for the memory and pipeline
// engines: decisions, vectors, entities, pipelines, steps, edges, triggers,
// and security events.
package model

import "time"

// TTLClass governs a decision's absolute expiry.
type TTLClass string

const (
	TTLPermanent TTLClass = "permanent"
	TTLStable    TTLClass = "stable"
	TTLActive    TTLClass = "active"
	TTLSession   TTLClass = "session"
)

// StableTTL and friends are the absolute durations named in spec.md §3/§4.6.
const (
	StableTTL  = 90 * 24 * time.Hour
	ActiveTTL  = 14 * 24 * time.Hour
	SessionTTL = 24 * time.Hour
)

// Decision is a single memory row: either a free-form description or an
// (entity, fact_key, fact_value) triple, or both.
type Decision struct {
	ID             string
	SessionID      string
	Timestamp      time.Time
	Category       string
	Description    string
	Rationale      string
	Classification string
	Importance     float64
	TTLClass       TTLClass
	ExpiresAt      *time.Time
	LastAccessedAt *time.Time
	Entity         string
	FactKey        string
	FactValue      string
	Tags           []string
}

// Live reports whether the decision has not expired as of now.
func (d Decision) Live(now time.Time) bool {
	return d.ExpiresAt == nil || d.ExpiresAt.After(now)
}

// Vector is the embedding sidecar for a decision.
type Vector struct {
	ID         string
	DecisionID string
	Content    string
	Embedding  []float32
	Model      string
	CreatedAt  time.Time
}

// Entity is a registered memory-subject name.
type Entity struct {
	Name        string // case-folded key
	DisplayName string
	Source      string // config | store | builtin | agent | tool
	AddedAt     time.Time
}

// PipelineStatus is the lifecycle state of a pipeline.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelinePaused    PipelineStatus = "paused"
	PipelineComplete  PipelineStatus = "complete"
	PipelineFailed    PipelineStatus = "failed"
	PipelineCancelled PipelineStatus = "cancelled"
)

// Pipeline is a persisted DAG of steps with its own lifecycle.
type Pipeline struct {
	ID          string
	Name        string
	Status      PipelineStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Creator     string
	TriggerMsg  string
	Config      string
	Summary     string
	Error       string
}

// StepType distinguishes how a step is interpreted by the graph/scheduler.
type StepType string

const (
	StepTask     StepType = "task"
	StepDecision StepType = "decision"
	StepNotify   StepType = "notify"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepComplete  StepStatus = "complete"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
	StepPaused    StepStatus = "paused"
)

// Terminal reports whether a step status will never change without external
// intervention (advance/cancel).
func (s StepStatus) Terminal() bool {
	switch s {
	case StepComplete, StepFailed, StepSkipped, StepCancelled:
		return true
	default:
		return false
	}
}

// Step is a node in a pipeline's DAG.
type Step struct {
	ID            string
	PipelineID    string
	Name          string
	Type          StepType
	Status        StepStatus
	Tier          string
	Executor      string
	PromptTmpl    string
	DependsOnAll  bool // true = AND-join, false = OR-join
	RetryCount    int
	MaxRetries    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Input         string
	Output        string
	ResultSummary string
	Error         string
}

// ConditionKind is the discriminant of an edge condition.
type ConditionKind string

const (
	ConditionUnconditional ConditionKind = "unconditional"
	ConditionContains      ConditionKind = "output_contains"
	ConditionRegex         ConditionKind = "output_match"
	ConditionUnknown       ConditionKind = "unknown"
)

// Condition is a tagged-variant edge predicate evaluated against a parent
// step's output artifact. Unknown kinds evaluate to true (forward-compat).
type Condition struct {
	Kind  ConditionKind
	Value string
}

// Edge is a directed dependency between two steps within one pipeline.
type Edge struct {
	PipelineID string
	ParentID   string
	ChildID    string
	Condition  Condition
}

// Trigger is a cron-scheduled instantiation rule for a pipeline.
type Trigger struct {
	ID         string
	PipelineID string
	CronExpr   string
	Timezone   string
	Enabled    bool
	LastFired  *time.Time
	NextFire   *time.Time
}

// SecurityEvent records a rejected or flagged capture attempt.
type SecurityEvent struct {
	ID            string
	Timestamp     time.Time
	EventType     string
	SourceRole    string
	TargetEntity  string
	TargetKey     string
	TargetValue   string
	MatchedPattern string
	Snippet       string // truncated to 200 chars
}
