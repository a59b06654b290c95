package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openclaw/memory/internal/model"
	"go.uber.org/zap"
)

// sectionWeights sum to 1.0 (spec.md §4.6): permanent facts first, then
// full-text matches against the prompt, then recent high-importance rows,
// then semantic (vector) matches.
const (
	weightPermanent = 0.30
	weightFTS       = 0.30
	weightRecent    = 0.20
	weightVector    = 0.20
)

const (
	permanentRowCap  = 15
	recentMinImport  = 0.7
	recentRowCap     = 5
	lineCap          = 150
	minPromptLen     = 5
	minSectionBudget = 100
)

// envelopePrefix/envelopeSuffix wrap the assembled sections; maxSections-1
// join separators are the most the payload can ever need between them.
// Both are reserved out of the budget up front so the assembled payload
// never exceeds it (spec.md §8 property 11).
const (
	envelopePrefix = "<lily-memory>\n"
	envelopeSuffix = "</lily-memory>"
	maxSections    = 4
)

var lineWordRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// Retrieve composes the budgeted context payload for one turn's prompt,
// wrapped in a <lily-memory> envelope, or "" if the injection cooldown
// ring judges it a duplicate of a recent payload.
func (e *Engine) Retrieve(ctx context.Context, prompt string) (string, error) {
	budget := e.EffectiveBudget(e.cfg.InjectionBudget)
	if budget <= 0 {
		return "", nil
	}

	available := budget - len(envelopePrefix) - len(envelopeSuffix) - (maxSections - 1)
	if available <= 0 {
		return "", nil
	}

	permBudget := int(float64(available) * weightPermanent)
	ftsBudget := int(float64(available) * weightFTS)
	recentBudget := int(float64(available) * weightRecent)
	vectorBudget := int(float64(available) * weightVector)

	var sections []string

	permRows, err := e.store.PermanentOrdered(ctx, permanentRowCap)
	if err != nil {
		return "", err
	}
	permLines := renderDecisions(permRows)
	permText, permUsed := buildSection("## Permanent\n", permLines, permBudget)
	if permText != "" {
		sections = append(sections, permText)
	}
	ftsBudget += permBudget - permUsed

	ftsIDs := map[string]bool{}
	if len(strings.TrimSpace(prompt)) >= minPromptLen && ftsBudget > minSectionBudget {
		keywords := deriveKeywords(prompt)
		if keywords != "" {
			limit := e.cfg.MaxRecallResults
			if limit <= 0 || limit > 10 {
				limit = 10
			}
			ftsRows, err := e.store.FTSSearch(ctx, keywords, limit)
			if err != nil {
				return "", err
			}
			for _, d := range ftsRows {
				ftsIDs[d.ID] = true
			}
			ftsLines := renderDecisions(ftsRows)
			ftsText, ftsUsed := buildSection("## Related\n", ftsLines, ftsBudget)
			if ftsText != "" {
				sections = append(sections, ftsText)
			}
			recentBudget += ftsBudget - ftsUsed
		} else {
			recentBudget += ftsBudget
		}
	} else {
		recentBudget += ftsBudget
	}

	recentRows, err := e.store.RecentHighImportance(ctx, recentMinImport, recentRowCap)
	if err != nil {
		return "", err
	}
	recentLines := renderDecisions(recentRows)
	recentText, recentUsed := buildSection("## Recent\n", recentLines, recentBudget)
	if recentText != "" {
		sections = append(sections, recentText)
	}
	vectorBudget += recentBudget - recentUsed

	if vectorBudget > minSectionBudget && e.embeddings != nil && e.embeddings.Enabled() {
		limit := e.cfg.MaxRecallResults
		if limit <= 0 || limit > 10 {
			limit = 10
		}
		hits, err := e.embeddings.Search(ctx, prompt, limit, e.cfg.VectorSimilarityThreshold)
		if err != nil {
			e.log.Warn("vector search failed during retrieval", zap.Error(err))
		} else {
			var lines []string
			for _, h := range hits {
				if ftsIDs[h.DecisionID] {
					continue
				}
				lines = append(lines, truncateLine(fmt.Sprintf("- (similarity %.2f) %s", h.Similarity, h.Content), lineCap))
			}
			vectorText, _ := buildSection("## Semantically related\n", lines, vectorBudget)
			if vectorText != "" {
				sections = append(sections, vectorText)
			}
		}
	}

	if len(sections) == 0 {
		return "", nil
	}

	payload := envelopePrefix + strings.Join(sections, "\n") + envelopeSuffix
	if e.cooldown.checkAndRemember(payload) {
		return "", nil
	}
	return payload, nil
}

// renderDecisions formats decisions as bullet lines, preferring the
// (entity, fact_key, fact_value) triple when present.
func renderDecisions(rows []model.Decision) []string {
	lines := make([]string, 0, len(rows))
	for _, d := range rows {
		var text string
		if d.Entity != "" && d.FactKey != "" {
			text = fmt.Sprintf("- %s.%s: %s", d.Entity, d.FactKey, d.FactValue)
		} else {
			text = "- " + d.Description
		}
		lines = append(lines, truncateLine(text, lineCap))
	}
	return lines
}

// buildSection renders a "## Header\n" section against budget, reserving
// the header's own length from that budget so the returned used count
// (and thus the caller's donation bookkeeping) reflects the section's
// full contribution to the final payload, header included.
func buildSection(header string, lines []string, budget int) (string, int) {
	if budget <= len(header) {
		return "", 0
	}
	content, contentUsed := fillSection(lines, budget-len(header))
	if content == "" {
		return "", 0
	}
	return header + content, len(header) + contentUsed
}

// fillSection greedily appends lines until the next one would exceed
// budget, returning the rendered text and characters consumed.
func fillSection(lines []string, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}
	var b strings.Builder
	used := 0
	for _, line := range lines {
		add := len(line) + 1
		if used+add > budget {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
		used += add
	}
	return b.String(), used
}

func truncateLine(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// deriveKeywords turns a free-form prompt into an "a OR b OR c"-shaped FTS
// query: strip punctuation, split on whitespace, keep tokens of 3 or more
// chars, take the first 8.
func deriveKeywords(prompt string) string {
	cleaned := lineWordRe.ReplaceAllString(prompt, " ")
	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 3 {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) == 8 {
			break
		}
	}
	return strings.Join(tokens, " OR ")
}
