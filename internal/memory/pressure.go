package memory

import "math"

// bytesPerTokenEstimate approximates characters per token for a rough
// context-usage percentage, matching the session-overflow guard's own
// file_size/4 token estimate (spec.md §4.6).
const bytesPerTokenEstimate = 4

// avgTokensPerMessage is the fallback per-message token estimate used when
// every message in the turn carries no text (e.g. a run of tool-only
// turns), so a byte estimate isn't available.
const avgTokensPerMessage = 200

// EstimateUsagePercent computes the context-pressure health check's
// percentage (spec.md §4.6: "given message count (or byte estimate when
// available) and a context cap, compute a percentage"): total message text
// length estimated at bytesPerTokenEstimate chars/token against cap, or a
// flat per-message estimate when no message carries text. Result is
// clamped to [0, 100].
func EstimateUsagePercent(messages []Message, contextCap int) float64 {
	if contextCap <= 0 {
		return 0
	}

	var totalBytes int
	for _, m := range messages {
		totalBytes += len(m.Text)
	}

	var tokens int
	if totalBytes > 0 {
		tokens = totalBytes / bytesPerTokenEstimate
	} else {
		tokens = len(messages) * avgTokensPerMessage
	}

	pct := float64(tokens) / float64(contextCap) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// pressureLevel is the named context-pressure tier, each mapped to a
// fraction of the base context budget (spec.md §4.6).
type pressureLevel int

const (
	pressureNormal pressureLevel = iota
	pressureElevated
	pressureHigh
	pressureCritical
)

func (l pressureLevel) scale() float64 {
	switch l {
	case pressureElevated:
		return 0.75
	case pressureHigh:
		return 0.5
	case pressureCritical:
		return 0.0
	default:
		return 1.0
	}
}

// levelForUsage maps a token-usage percentage (0-100) to its pressure
// level using the 60/80/90 thresholds.
func levelForUsage(pct float64) pressureLevel {
	switch {
	case pct >= 90:
		return pressureCritical
	case pct >= 80:
		return pressureHigh
	case pct >= 60:
		return pressureElevated
	default:
		return pressureNormal
	}
}

// pressureState tracks the engine's current context-pressure level between
// health-check ticks.
type pressureState struct {
	level pressureLevel
}

func newPressureState() *pressureState {
	return &pressureState{level: pressureNormal}
}

func (p *pressureState) update(usagePct float64) {
	p.level = levelForUsage(usagePct)
}

func (p *pressureState) reset() {
	p.level = pressureNormal
}

// effectiveBudget scales base by the current level, rounding down.
func (p *pressureState) effectiveBudget(base int) int {
	return int(math.Floor(float64(base) * p.level.scale()))
}
