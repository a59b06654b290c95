package host

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/openclaw/memory/internal/extract"
)

// stuckRepeatThreshold is how many consecutive turns must share the same
// top-5 keyword signature before the host nudges the conversation as stuck.
const stuckRepeatThreshold = 3

// topicHistoryState is the sidecar file's on-disk shape.
type topicHistoryState struct {
	LastSignature string `json:"lastSignature"`
	RepeatCount   int    `json:"repeatCount"`
}

// topicHistory persists the stuck-detector's rolling topic signature across
// turns in a small JSON sidecar file (spec.md §4.6's "topic-history
// persistence"), falling back to in-memory-only state if path is empty.
type topicHistory struct {
	mu    sync.Mutex
	path  string
	state topicHistoryState
}

func newTopicHistory(path string) *topicHistory {
	h := &topicHistory{path: path}
	h.load()
	return h
}

func (h *topicHistory) load() {
	if h.path == "" {
		return
	}
	b, err := os.ReadFile(h.path)
	if err != nil {
		return
	}
	var st topicHistoryState
	if json.Unmarshal(b, &st) == nil {
		h.state = st
	}
}

func (h *topicHistory) save() {
	if h.path == "" {
		return
	}
	b, err := json.Marshal(h.state)
	if err != nil {
		return
	}
	_ = os.WriteFile(h.path, b, 0o644)
}

// Observe feeds the last assistant text's topic signature into the rolling
// history, returning true if the signature has now repeated
// stuckRepeatThreshold times in a row.
func (h *topicHistory) Observe(text string) bool {
	sig, ok := extract.TopicSignature(text)
	if !ok {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if sig == h.state.LastSignature {
		h.state.RepeatCount++
	} else {
		h.state.LastSignature = sig
		h.state.RepeatCount = 1
	}
	h.save()
	return h.state.RepeatCount >= stuckRepeatThreshold
}

// Clear resets the rolling history, called after compaction.
func (h *topicHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = topicHistoryState{}
	h.save()
}
