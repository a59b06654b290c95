package memory

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/memory/internal/extract"
	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/security"
	"github.com/openclaw/memory/internal/store"
	"go.uber.org/zap"
)

// Message is one role-tagged text block from the conversation stream.
// Non-text content is assumed already filtered out by the caller.
type Message struct {
	Role string
	Text string
}

const (
	minBlockLen = 30
	maxBlockLen = 5000
)

var sentinels = []string{"<lily-memory>", "<relevant-memories>"}

const trustedCaptureMarker = "<trusted-capture>"

// statusKeywordRe matches a fact key naming a status field, which always
// downgrades the target TTL class to session regardless of its derived or
// requested class (spec.md §8 property 14).
var statusKeywordRe = regexp.MustCompile(`(?i)status`)

// Quota caps per TTL class (spec.md §4.6).
const (
	activeQuota    = 50
	stableQuota    = 30
	permanentQuota = 15
)

// CaptureResult summarizes one Capture call.
type CaptureResult struct {
	Stored  []model.Decision
	Blocked int
}

// Capture parses up to maxFacts candidate facts out of messages and
// persists them, applying security, dedup, TTL/importance derivation, and
// quota enforcement.
func (e *Engine) Capture(ctx context.Context, messages []Message, maxFacts int, policy string) (CaptureResult, error) {
	var result CaptureResult

	for _, msg := range messages {
		if len(result.Stored) >= maxFacts {
			break
		}
		if !acceptBlock(msg.Role, msg.Text, policy) {
			continue
		}

		candidates := extract.ExtractFacts(msg.Text, e.entities)
		for _, c := range candidates {
			if len(result.Stored) >= maxFacts {
				break
			}

			untrusted := security.IsUntrusted(msg.Text)
			secCtx := security.NewContext(msg.Role, e.cfg.ProtectedEntities)
			verdict := security.Check(secCtx, c.Entity, c.Key, c.Value, untrusted)

			if !verdict.Allowed {
				result.Blocked++
				e.blockCounter.Incr()
				reason := string(verdict.Reason)
				if _, err := e.store.RecordSecurityEvent(ctx, model.SecurityEvent{
					EventType: "capture_blocked", SourceRole: msg.Role,
					TargetEntity: c.Entity, TargetKey: c.Key, TargetValue: c.Value,
					MatchedPattern: firstNonEmpty(verdict.MatchedPattern, reason),
					Snippet:        c.Source,
				}); err != nil && e.log != nil {
					e.log.Warn("failed to record security event", zap.Error(err))
				}
				continue
			}

			ttl, importance := deriveTTLAndImportance(c.Key, msg.Role)
			d, err := e.upsertFact(ctx, c, ttl, importance)
			if err != nil {
				return result, err
			}
			if d != nil {
				result.Stored = append(result.Stored, *d)
			}
		}
	}

	return result, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// acceptBlock applies the length, sentinel, and capture-policy filters.
func acceptBlock(role, text, policy string) bool {
	if len(text) < minBlockLen || len(text) > maxBlockLen {
		return false
	}
	for _, s := range sentinels {
		if strings.Contains(text, s) {
			return false
		}
	}
	switch policy {
	case "assistant-only":
		return role == "assistant"
	case "tagged-only":
		return strings.Contains(text, trustedCaptureMarker)
	default:
		return true
	}
}

// valueCap is the stored-value length limit applied to direct tool calls
// (spec.md §4.9's memory_store cap, distinct from extraction's maxValueLen
// which extract.go enforces on its own candidates).
const valueCap = 200

// StoreFact is the direct-write path used by the memory_store tool (and the
// put CLI command): it applies the value cap, the status-keyword TTL
// downgrade, and permanent overflow demotion, then matches-or-inserts
// exactly like Capture does. ttl is the caller-requested TTL class
// ("permanent", "stable", "active", "session", or "" for the default
// active class); a status-keyword key still downgrades to session
// regardless of what was requested.
func (e *Engine) StoreFact(ctx context.Context, entity, key, value, ttl string) (*model.Decision, error) {
	if len(value) > valueCap {
		value = value[:valueCap]
	}
	reqTTL, importance := ttlForStore(key, ttl)
	return e.upsertFact(ctx, extract.Candidate{Entity: entity, Key: key, Value: value, Source: value}, reqTTL, importance)
}

// ttlForStore resolves memory_store's requested TTL class against the
// status-keyword downgrade rule shared with Capture's derivation.
func ttlForStore(key, requested string) (model.TTLClass, float64) {
	if statusKeywordRe.MatchString(key) {
		return model.TTLSession, 0.5
	}
	switch model.TTLClass(requested) {
	case model.TTLPermanent:
		return model.TTLPermanent, 0.5
	case model.TTLStable:
		return model.TTLStable, 0.5
	case model.TTLSession:
		return model.TTLSession, 0.5
	default:
		return model.TTLActive, 0.5
	}
}

// upsertFact matches an accepted candidate against a live (entity, key) row,
// updating it in place, or inserts a new row of class ttl with the given
// importance after quota enforcement (which demotes or evicts as needed).
func (e *Engine) upsertFact(ctx context.Context, c extract.Candidate, ttl model.TTLClass, importance float64) (*model.Decision, error) {
	existing, err := e.store.GetByEntityKey(ctx, c.Entity, c.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := e.store.UpdateDecisionValue(ctx, existing.ID, c.Value, c.Source); err != nil {
			return nil, err
		}
		existing.FactValue = c.Value
		return existing, nil
	}

	if err := e.enforceQuota(ctx, ttl); err != nil {
		return nil, err
	}

	expires := expiryFor(ttl)
	return e.store.InsertDecision(ctx, store.PutDecisionParams{
		SessionID: e.sessionID, Description: c.Source, Entity: c.Entity, FactKey: c.Key, FactValue: c.Value,
		Importance: importance, TTLClass: ttl, ExpiresAt: expires,
	})
}

// deriveTTLAndImportance implements spec.md §4.6's TTL/importance rule: a
// status-keyword key always downgrades to session; otherwise the TTL is
// active and origin sets the importance (0.6 for assistant, 0.5 otherwise).
func deriveTTLAndImportance(key, role string) (model.TTLClass, float64) {
	if statusKeywordRe.MatchString(key) {
		return model.TTLSession, 0.5
	}
	if role == "assistant" {
		return model.TTLActive, 0.6
	}
	return model.TTLActive, 0.5
}

func expiryFor(ttl model.TTLClass) *time.Time {
	var d time.Duration
	switch ttl {
	case model.TTLStable:
		d = model.StableTTL
	case model.TTLActive:
		d = model.ActiveTTL
	case model.TTLSession:
		d = model.SessionTTL
	default:
		return nil // permanent
	}
	t := time.Now().UTC().Add(d)
	return &t
}

// enforceQuota evicts or demotes to make room for a new row of class ttl,
// per spec.md §4.6's per-class caps.
func (e *Engine) enforceQuota(ctx context.Context, ttl model.TTLClass) error {
	switch ttl {
	case model.TTLPermanent:
		n, err := e.store.CountLive(ctx, model.TTLPermanent)
		if err != nil {
			return err
		}
		if n < permanentQuota {
			return nil
		}
		oldest, err := e.store.OldestPermanent(ctx)
		if err != nil || oldest == nil {
			return err
		}
		fresh := time.Now().UTC().Add(model.StableTTL)
		return e.store.SetTTLClass(ctx, oldest.ID, model.TTLStable, &fresh)

	case model.TTLActive:
		return e.evictIfAtCap(ctx, model.TTLActive, activeQuota)
	case model.TTLStable:
		return e.evictIfAtCap(ctx, model.TTLStable, stableQuota)
	default:
		return nil
	}
}

func (e *Engine) evictIfAtCap(ctx context.Context, class model.TTLClass, cap int) error {
	n, err := e.store.CountLive(ctx, class)
	if err != nil {
		return err
	}
	if n < cap {
		return nil
	}
	victim, err := e.store.LowestRankedLive(ctx, class)
	if err != nil || victim == nil {
		return err
	}
	return e.store.DeleteDecision(ctx, victim.ID)
}
