// Package host implements the adapter layer between a conversational host
// and the memory and pipeline engines: tool handler registration, the
// before/after turn event hooks, and the 4,000-char tool-output cap.
package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openclaw/memory/internal/config"
	"github.com/openclaw/memory/internal/memory"
	"github.com/openclaw/memory/internal/pipeline"
	"github.com/openclaw/memory/internal/store"
	"go.uber.org/zap"
)

// outputCap is the hard ceiling on a tool result's rendered text
// (spec.md §6's "tool outputs are ≤4,000 chars").
const outputCap = 4000

const truncationSuffix = " …(truncated)"

// ContentBlock is one entry of a tool result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the shape every tool handler returns to the host.
type ToolResult struct {
	Content []ContentBlock         `json:"content"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// textResult builds a single-block ToolResult, capping its text.
func textResult(text string, details map[string]interface{}) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: capOutput(text)}}, Details: details}
}

func capOutput(s string) string {
	if len(s) <= outputCap {
		return s
	}
	keep := outputCap - len(truncationSuffix)
	if keep < 0 {
		keep = 0
	}
	return s[:keep] + truncationSuffix
}

// ToolHandler processes one tool call's JSON parameters.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (ToolResult, error)

// Adapter wires the memory and pipeline engines to a host's tool and event
// surface.
type Adapter struct {
	mem       *memory.Engine
	pipelines *pipeline.Engine
	store     *store.Store
	cfg       config.Config
	log       *zap.Logger
	handlers  map[string]ToolHandler
	history   *topicHistory
}

// New builds an Adapter and registers the default tool surface named in
// spec.md §4.9.
func New(st *store.Store, mem *memory.Engine, pipelines *pipeline.Engine, cfg config.Config, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		mem: mem, pipelines: pipelines, store: st, cfg: cfg, log: log,
		handlers: map[string]ToolHandler{},
		history:  newTopicHistory(cfg.TopicHistoryPath),
	}
	a.registerDefaults()
	return a
}

// Register adds or replaces a tool handler by name.
func (a *Adapter) Register(name string, h ToolHandler) {
	a.handlers[name] = h
}

// ErrUnknownTool is returned by Handle when no handler is registered for
// the requested name.
type ErrUnknownTool struct{ Name string }

func (e ErrUnknownTool) Error() string { return fmt.Sprintf("unknown tool: %s", e.Name) }

// Handle dispatches a tool call by name, capping the result at outputCap.
func (a *Adapter) Handle(ctx context.Context, name string, params map[string]interface{}) (ToolResult, error) {
	h, ok := a.handlers[name]
	if !ok {
		return ToolResult{}, ErrUnknownTool{Name: name}
	}
	res, err := h(ctx, params)
	if err != nil {
		return ToolResult{}, err
	}
	for i := range res.Content {
		res.Content[i].Text = capOutput(res.Content[i].Text)
	}
	return res, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func toJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
