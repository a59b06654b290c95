// Package extract implements heuristic fact extraction from free-form
// conversation text and the entity acceptance rules that gate what becomes
// a (entity, key, value) candidate fact.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

// maxValueLen caps extracted fact values per spec.md §4.3.
const maxValueLen = 200

// minEntityLen and maxEntityLen bound an acceptable entity name.
const (
	minEntityLen = 2
	maxEntityLen = 60
)

// BuiltinAllowList seeds the runtime entity allow-list alongside
// configuration- and store-sourced entries.
var BuiltinAllowList = []string{
	"user", "preferences", "project", "task", "goal", "note", "person",
	"team", "tool", "workflow", "config", "system",
}

// DenyWords are rejected as entity bases even when Titlecase, per spec.md
// §4.3's "known reject words ... rejected even with proper casing."
var DenyWords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "he": true, "she": true,
	"they": true, "we": true, "you": true, "i": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "can": true, "could": true,
	"should": true, "must": true, "may": true, "might": true,
	"said": true, "says": true, "want": true, "wants": true,
	"like": true, "likes": true, "need": true, "needs": true,
	"think": true, "thinks": true, "know": true, "knows": true,
}

// titlecaseRe matches an uppercase letter followed by a lowercase letter,
// the casing shape spec.md §4.3 accepts in place of an allow-list hit.
var titlecaseRe = regexp.MustCompile(`^[A-Z][a-z]`)

// EntitySet is the runtime allow-list, seeded from store, config, and
// builtin defaults and checked case-insensitively.
type EntitySet struct {
	allow map[string]bool
}

// NewEntitySet builds an EntitySet from any number of source lists
// (builtin defaults, config entries, store-registered entities).
func NewEntitySet(sources ...[]string) *EntitySet {
	allow := make(map[string]bool)
	for _, src := range sources {
		for _, s := range src {
			allow[strings.ToLower(strings.TrimSpace(s))] = true
		}
	}
	return &EntitySet{allow: allow}
}

// Add registers a new entity base in the allow-list.
func (e *EntitySet) Add(name string) {
	e.allow[strings.ToLower(strings.TrimSpace(name))] = true
}

// AcceptEntity reports whether a candidate entity name passes spec.md
// §4.3's acceptance rule: length bounds, then (allow-listed base OR
// Titlecase shape) unless the base is in the deny set.
func (e *EntitySet) AcceptEntity(name string) bool {
	if len(name) < minEntityLen || len(name) > maxEntityLen {
		return false
	}
	base := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base = name[:i]
	}
	if base == "" {
		return false
	}

	lower := strings.ToLower(base)
	if DenyWords[lower] {
		return false
	}

	if e.allow[lower] {
		return true
	}
	return titlecaseRe.MatchString(base)
}

// Candidate is an extracted (entity, key, value) triple with the raw
// source text it was drawn from.
type Candidate struct {
	Entity string
	Key    string
	Value  string
	Source string
}

// factRe recognizes "entity.key: value", "entity.key = value", and
// "entity.key is value" shapes within a single line.
var factRe = regexp.MustCompile(`(?im)^\s*([A-Za-z][\w]{0,58})\.([A-Za-z_][\w]{0,58})\s*(?:[:=]|\bis\b)\s*(.+?)\s*$`)

// naturalVerbs is the fixed list of declarative verbs naturalFactRe
// recognizes. Kept short and literal rather than stemmed, since a stray
// match against an unintended verb is cheap to ignore downstream (entity
// acceptance and the deny set reject most false subjects) while a wrong
// stem would corrupt stored fact keys.
var naturalVerbs = []string{
	"prefers", "likes", "wants", "needs", "uses",
	"owns", "lives in", "works on", "works at", "has",
}

// naturalFactRe recognizes "Entity verb rest-of-sentence" prose, the shape
// spec.md's own worked example uses ("Kevin prefers TypeScript for new
// services") rather than the punctuated entity.key syntax factRe expects.
// Scoped deliberately narrow: one subject word, one verb drawn from
// naturalVerbs, and the remainder of the line as the value. Extending this
// to arbitrary verbs would need real part-of-speech tagging, out of scope
// for a heuristic extractor.
var naturalFactRe = regexp.MustCompile(
	`(?i)^\s*([A-Za-z][\w]{0,58})\s+(` + strings.Join(naturalVerbs, "|") + `)\s+(.+?)\s*[.!]?\s*$`,
)

// ExtractFacts parses free-form text (assumed to already be a text-only
// block; non-text content is the caller's concern to filter out) into
// candidate facts, applying entity acceptance and value length rules. Each
// line is tried against the punctuated entity.key syntax first, falling
// back to the natural-language subject-verb-object shape.
func ExtractFacts(text string, entities *EntitySet) []Candidate {
	var out []Candidate
	for _, line := range strings.Split(text, "\n") {
		entity, key, value, ok := matchFactLine(line)
		if !ok {
			continue
		}
		if !entities.AcceptEntity(entity) {
			continue
		}
		if len(value) == 0 || len(value) > maxValueLen {
			continue
		}
		out = append(out, Candidate{Entity: strings.ToLower(entity), Key: strings.ToLower(key), Value: value, Source: line})
	}
	return out
}

// matchFactLine tries the punctuated syntax, then the natural-language
// verb list, returning the raw (unfolded) entity/key/value on a hit.
func matchFactLine(line string) (entity, key, value string, ok bool) {
	if m := factRe.FindStringSubmatch(line); m != nil {
		return m[1], m[2], m[3], true
	}
	if m := naturalFactRe.FindStringSubmatch(line); m != nil {
		key = strings.ReplaceAll(strings.ToLower(m[2]), " ", "_")
		return m[1], key, m[3], true
	}
	return "", "", "", false
}

// stopwords dropped by the topic signature function, distinct from
// DenyWords (entity-acceptance deny list serves a different purpose).
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"day": true, "get": true, "has": true, "him": true, "his": true,
	"how": true, "man": true, "new": true, "now": true, "old": true,
	"see": true, "two": true, "way": true, "who": true, "boy": true,
	"did": true, "its": true, "let": true, "put": true, "say": true,
	"she": true, "too": true, "use": true, "that": true, "with": true,
	"this": true, "from": true, "they": true, "have": true, "been": true,
	"will": true, "what": true, "your": true, "about": true,
}

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// TopicSignature computes the stuck-detector's topic fingerprint: lowercase,
// strip punctuation, drop stopwords and tokens of 3 chars or fewer, take
// the five highest-frequency tokens, sort lexicographically, and join with
// commas. Returns "", false for inputs under 30 chars.
func TopicSignature(text string) (string, bool) {
	if len([]rune(text)) < 30 {
		return "", false
	}

	cleaned := punctRe.ReplaceAllString(strings.ToLower(text), " ")
	freq := make(map[string]int)
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) <= 3 || stopwords[tok] {
			continue
		}
		freq[tok]++
	}
	if len(freq) == 0 {
		return "", false
	}

	type tf struct {
		tok   string
		count int
	}
	var list []tf
	for tok, c := range freq {
		list = append(list, tf{tok, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].tok < list[j].tok
	})

	n := 5
	if len(list) < n {
		n = len(list)
	}
	top := make([]string, n)
	for i := 0; i < n; i++ {
		top[i] = list[i].tok
	}
	sort.Strings(top)
	return strings.Join(top, ","), true
}
