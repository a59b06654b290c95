package host

import (
	"context"
	"fmt"

	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/pipeline"
	"github.com/openclaw/memory/internal/store"
)

func (a *Adapter) registerDefaults() {
	a.Register("memory_search", a.toolMemorySearch)
	a.Register("memory_entity", a.toolMemoryEntity)
	a.Register("memory_store", a.toolMemoryStore)
	a.Register("memory_semantic_search", a.toolMemorySemanticSearch)
	a.Register("memory_add_entity", a.toolMemoryAddEntity)
	a.Register("memory_security_log", a.toolMemorySecurityLog)

	a.Register("pipeline_create", a.toolPipelineCreate)
	a.Register("pipeline_start", a.toolPipelineStart)
	a.Register("pipeline_status", a.toolPipelineStatus)
	a.Register("pipeline_advance", a.toolPipelineAdvance)
	a.Register("pipeline_cancel", a.toolPipelineCancel)
	a.Register("pipeline_schedule", a.toolPipelineSchedule)
}

// toolMemorySearch runs a full-text search, default limit 10, cap 100.
func (a *Adapter) toolMemorySearch(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	query := stringParam(params, "query")
	if query == "" {
		return ToolResult{}, fmt.Errorf("memory_search requires a query parameter")
	}
	limit := intParam(params, "limit", 10)
	if limit > 100 {
		limit = 100
	}
	rows, err := a.store.FTSSearch(ctx, query, limit)
	if err != nil {
		return ToolResult{}, err
	}
	if len(rows) == 0 {
		return textResult("No matching memories found.", nil), nil
	}
	return textResult(toJSON(rows), map[string]interface{}{"count": len(rows)}), nil
}

// toolMemoryEntity lists every live fact recorded against one entity.
func (a *Adapter) toolMemoryEntity(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	name := stringParam(params, "name")
	if name == "" {
		return ToolResult{}, fmt.Errorf("memory_entity requires a name parameter")
	}
	rows, err := a.store.ListByEntity(ctx, name)
	if err != nil {
		return ToolResult{}, err
	}
	if len(rows) == 0 {
		return textResult(fmt.Sprintf("No facts recorded for entity %q.", name), nil), nil
	}
	return textResult(toJSON(rows), map[string]interface{}{"count": len(rows)}), nil
}

// toolMemoryStore is the direct-write path: spec.md §4.9's value cap,
// status-keyword downgrade, and permanent-overflow demotion, applied
// before insert.
func (a *Adapter) toolMemoryStore(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	entity := stringParam(params, "entity")
	key := stringParam(params, "key")
	value := stringParam(params, "value")
	ttl := stringParam(params, "ttl")
	if entity == "" || key == "" || value == "" {
		return ToolResult{}, fmt.Errorf("memory_store requires entity, key, and value parameters")
	}
	d, err := a.mem.StoreFact(ctx, entity, key, value, ttl)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Stored %s.%s = %s (ttl: %s)", d.Entity, d.FactKey, d.FactValue, d.TTLClass), nil), nil
}

// toolMemorySemanticSearch runs vector search, default limit 5, cap 50,
// default threshold 0.5.
func (a *Adapter) toolMemorySemanticSearch(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	query := stringParam(params, "query")
	if query == "" {
		return ToolResult{}, fmt.Errorf("memory_semantic_search requires a query parameter")
	}
	limit := intParam(params, "limit", 5)
	if limit > 50 {
		limit = 50
	}
	threshold := floatParam(params, "threshold", a.cfg.VectorSimilarityThreshold)

	results, err := a.mem.SemanticSearch(ctx, query, limit, threshold)
	if err != nil {
		return textResult(fmt.Sprintf("semantic search unavailable: %v", err), nil), nil
	}
	if len(results) == 0 {
		return textResult("No semantically similar memories found.", nil), nil
	}
	return textResult(toJSON(results), map[string]interface{}{"count": len(results)}), nil
}

// toolMemoryAddEntity registers a new runtime entity base.
func (a *Adapter) toolMemoryAddEntity(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	name := stringParam(params, "name")
	if name == "" {
		return ToolResult{}, fmt.Errorf("memory_add_entity requires a name parameter")
	}
	a.mem.RegisterEntity(name)
	if err := a.store.UpsertEntity(ctx, model.Entity{Name: name, DisplayName: name, Source: "agent"}); err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Registered entity %q.", name), nil), nil
}

// toolMemorySecurityLog surfaces the recent security-event audit trail.
func (a *Adapter) toolMemorySecurityLog(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	limit := intParam(params, "limit", 20)
	events, err := a.store.RecentSecurityEvents(ctx, limit)
	if err != nil {
		return ToolResult{}, err
	}
	if len(events) == 0 {
		return textResult("No security events recorded.", nil), nil
	}
	return textResult(toJSON(events), map[string]interface{}{"count": len(events)}), nil
}

func (a *Adapter) toolPipelineCreate(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	in, err := parseCreateInput(params)
	if err != nil {
		return ToolResult{}, err
	}
	id, err := a.pipelines.Create(ctx, in)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Created pipeline %s (%s).", id, in.Name), map[string]interface{}{"id": id}), nil
}

func (a *Adapter) toolPipelineStart(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	id := stringParam(params, "id")
	if id == "" {
		return ToolResult{}, fmt.Errorf("pipeline_start requires an id parameter")
	}
	if err := a.pipelines.Start(ctx, id); err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Started pipeline %s.", id), nil), nil
}

func (a *Adapter) toolPipelineStatus(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	if id := stringParam(params, "id"); id != "" {
		snap, err := a.pipelines.Status(ctx, id)
		if err != nil {
			return ToolResult{}, err
		}
		if snap == nil {
			return textResult(fmt.Sprintf("No pipeline found with id %s.", id), nil), nil
		}
		return textResult(toJSON(snap), nil), nil
	}
	all, err := a.pipelines.StatusAll(ctx)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(toJSON(all), map[string]interface{}{"count": len(all)}), nil
}

func (a *Adapter) toolPipelineAdvance(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	stepID := stringParam(params, "stepId")
	if stepID == "" {
		return ToolResult{}, fmt.Errorf("pipeline_advance requires a stepId parameter")
	}
	success := true
	if v, ok := params["success"]; ok {
		if b, ok := v.(bool); ok {
			success = b
		}
	}
	res, err := a.pipelines.Advance(ctx, stepID, store.AdvanceStepParams{
		Success: success, Output: stringParam(params, "output"), Error: stringParam(params, "error"),
	})
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(toJSON(res), nil), nil
}

func (a *Adapter) toolPipelineCancel(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	id := stringParam(params, "id")
	if id == "" {
		return ToolResult{}, fmt.Errorf("pipeline_cancel requires an id parameter")
	}
	if err := a.pipelines.Cancel(ctx, id); err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Cancelled pipeline %s.", id), nil), nil
}

func (a *Adapter) toolPipelineSchedule(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
	id := stringParam(params, "id")
	schedule := stringParam(params, "schedule")
	if id == "" || schedule == "" {
		return ToolResult{}, fmt.Errorf("pipeline_schedule requires id and schedule parameters")
	}
	trig, err := a.pipelines.Schedule(ctx, id, schedule, stringParam(params, "timezone"))
	if err != nil {
		return ToolResult{}, err
	}
	return textResult(fmt.Sprintf("Scheduled pipeline %s with cron %q.", id, trig.CronExpr), nil), nil
}

// parseCreateInput converts a tool call's raw JSON params into a
// pipeline.CreateInput, interpreting each step's depends_on entries as
// either a bare parent name (unconditional) or a {step, when} object.
func parseCreateInput(params map[string]interface{}) (pipeline.CreateInput, error) {
	in := pipeline.CreateInput{
		Name:       stringParam(params, "name"),
		Creator:    stringParam(params, "creator"),
		TriggerMsg: stringParam(params, "triggerMsg"),
		Config:     stringParam(params, "config"),
	}

	rawSteps, _ := params["steps"].([]interface{})
	for _, rs := range rawSteps {
		sm, ok := rs.(map[string]interface{})
		if !ok {
			continue
		}
		step := pipeline.StepInput{
			Name:       stringParam(sm, "name"),
			Type:       model.StepType(stringParam(sm, "type")),
			Tier:       stringParam(sm, "tier"),
			Executor:   stringParam(sm, "executor"),
			PromptTmpl: stringParam(sm, "promptTmpl"),
			MaxRetries: intParam(sm, "maxRetries", 0),
		}

		rawDeps, _ := sm["dependsOn"].([]interface{})
		for _, rd := range rawDeps {
			switch dep := rd.(type) {
			case string:
				step.DependsOn = append(step.DependsOn, pipeline.Dependency{Step: dep})
			case map[string]interface{}:
				cond := parseCondition(dep["when"])
				step.DependsOn = append(step.DependsOn, pipeline.Dependency{Step: stringParam(dep, "step"), Condition: cond})
			}
		}
		in.Steps = append(in.Steps, step)
	}
	return in, nil
}

func parseCondition(raw interface{}) model.Condition {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return model.Condition{Kind: model.ConditionUnconditional}
	}
	kind := model.ConditionKind(stringParam(m, "kind"))
	switch kind {
	case model.ConditionContains, model.ConditionRegex:
		return model.Condition{Kind: kind, Value: stringParam(m, "value")}
	case model.ConditionUnconditional, "":
		return model.Condition{Kind: model.ConditionUnconditional}
	default:
		return model.Condition{Kind: model.ConditionUnknown, Value: stringParam(m, "value")}
	}
}
