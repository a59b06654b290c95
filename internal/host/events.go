package host

import (
	"context"

	"github.com/openclaw/memory/internal/memory"
)

// BeforeAgentStart runs the auto-recall retrieval for one incoming prompt,
// returning the prepend string (possibly empty if auto-recall is disabled,
// the cooldown ring suppresses a duplicate payload, or nothing qualifies).
func (a *Adapter) BeforeAgentStart(ctx context.Context, prompt string) (string, error) {
	a.mem.StartTurn()
	if !a.cfg.AutoRecall {
		return "", nil
	}
	return a.mem.Retrieve(ctx, prompt)
}

// AgentEndResult reports what AgentEnd did, for callers that want to surface
// a stuck nudge to the user.
type AgentEndResult struct {
	Captured   memory.CaptureResult
	StuckNudge bool
}

// AgentEnd runs auto-capture over the turn's messages, samples context
// pressure every 10th turn, and tracks the stuck-conversation topic
// signature off the last assistant message.
func (a *Adapter) AgentEnd(ctx context.Context, messages []memory.Message) (AgentEndResult, error) {
	var result AgentEndResult

	if a.cfg.AutoCapture {
		captured, err := a.mem.Capture(ctx, messages, a.cfg.MaxCapturePerTurn, a.cfg.CapturePolicy)
		if err != nil {
			return result, err
		}
		result.Captured = captured
	}

	if a.mem.ShouldCheckPressure() {
		a.mem.UpdatePressureFromMessages(messages)
	}

	if lastText := lastAssistantText(messages); lastText != "" {
		result.StuckNudge = a.history.Observe(lastText)
	}

	return result, nil
}

// BeforeCompaction touches every live permanent row's last-accessed
// timestamp so consolidation and eviction ranking see them as freshly used.
func (a *Adapter) BeforeCompaction(ctx context.Context) error {
	return a.store.TouchAllPermanent(ctx)
}

// AfterCompaction clears the injection cooldown ring, resets context
// pressure to normal, and clears the stuck-detector's topic history.
func (a *Adapter) AfterCompaction() {
	a.mem.OnCompaction()
	a.history.Clear()
}

func lastAssistantText(messages []memory.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return messages[i].Text
		}
	}
	return ""
}
