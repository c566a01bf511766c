package tools

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Extractor output caps.
const (
	maxEntities = 30
	maxTags     = 12
	maxActions  = 10
)

// ExtractorTool pulls entities, tags and action items out of text with
// deterministic heuristics: capitalized phrases become entities, hashtags
// and frequent terms become tags, imperative markers become actions.
type ExtractorTool struct{}

func NewExtractorTool() *ExtractorTool {
	return &ExtractorTool{}
}

func (t *ExtractorTool) Spec() Spec {
	return Spec{
		Name:        "extractor",
		Description: "Extract entities, tags and action items from text.",
		Required:    []string{"text"},
		InputSchema: map[string]string{"text": "string"},
		OutputSchema: map[string]string{
			"entities": "[]{canonical,type}", "tags": "[]string", "actions": "[]string",
		},
		TimeoutMS: 10000,
	}
}

// Entity is one extracted named thing.
type Entity struct {
	Canonical string `json:"canonical"`
	Type      string `json:"type"`
}

var (
	hashtagPattern = regexp.MustCompile(`#([A-Za-z][\w-]{1,40})`)
	actionPattern  = regexp.MustCompile(`(?im)^\s*(?:[-*]\s*)?(?:TODO|remember to|need to|must|should|follow up)[:\s]+(.{3,120})`)
	entityPattern  = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]+(?:\s+[A-Z][A-Za-z0-9]+){0,3}\b`)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "into": {}, "over": {}, "are": {}, "was": {}, "has": {},
	"have": {}, "its": {}, "his": {}, "her": {}, "their": {}, "about": {},
	"when": {}, "where": {}, "will": {}, "would": {}, "is": {}, "a": {},
	"an": {}, "of": {}, "to": {}, "in": {}, "on": {}, "it": {}, "as": {},
	"by": {}, "at": {}, "or": {}, "be": {},
}

func (t *ExtractorTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	text := in.String("text")
	entities := extractEntities(text)
	tags := extractTags(text)
	actions := extractActions(text)

	entOut := make([]interface{}, 0, len(entities))
	for _, entity := range entities {
		entOut = append(entOut, map[string]interface{}{
			"canonical": entity.Canonical,
			"type":      entity.Type,
		})
	}
	tagOut := make([]interface{}, 0, len(tags))
	for _, tag := range tags {
		tagOut = append(tagOut, tag)
	}
	actionOut := make([]interface{}, 0, len(actions))
	for _, action := range actions {
		actionOut = append(actionOut, action)
	}
	return Outputs{"entities": entOut, "tags": tagOut, "actions": actionOut}, nil
}

func extractEntities(text string) []Entity {
	seen := make(map[string]struct{})
	var out []Entity
	for _, match := range entityPattern.FindAllString(text, -1) {
		canonical := strings.Join(strings.Fields(match), " ")
		lower := strings.ToLower(canonical)
		if _, stop := stopwords[lower]; stop {
			continue
		}
		if len([]rune(canonical)) < 3 {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, Entity{Canonical: canonical, Type: classifyEntity(canonical)})
		if len(out) >= maxEntities {
			break
		}
	}
	return out
}

// classifyEntity is a coarse type guess; the graph keeps richer typing when
// an LLM extractor replaces this heuristic.
func classifyEntity(canonical string) string {
	words := strings.Fields(canonical)
	switch {
	case len(words) == 2 && allTitleCase(words):
		return "Person"
	case strings.HasSuffix(canonical, "Inc") || strings.HasSuffix(canonical, "Corp") ||
		strings.HasSuffix(canonical, "Labs") || strings.HasSuffix(canonical, "LLC"):
		return "Organization"
	default:
		return "Concept"
	}
}

func allTitleCase(words []string) bool {
	for _, word := range words {
		runes := []rune(word)
		if len(runes) == 0 || !unicode.IsUpper(runes[0]) {
			return false
		}
	}
	return true
}

func extractTags(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(match[1])
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) >= maxTags {
			return out
		}
	}
	// Fill remaining slots with the most frequent content words.
	counts := make(map[string]int)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,;:!?()[]\"'")
		if len(word) < 4 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		counts[word]++
	}
	type freq struct {
		word  string
		count int
	}
	ranked := make([]freq, 0, len(counts))
	for word, count := range counts {
		if count < 2 {
			continue
		}
		ranked = append(ranked, freq{word, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count == ranked[j].count {
			return ranked[i].word < ranked[j].word
		}
		return ranked[i].count > ranked[j].count
	})
	for _, entry := range ranked {
		if len(out) >= maxTags {
			break
		}
		if _, dup := seen[entry.word]; dup {
			continue
		}
		seen[entry.word] = struct{}{}
		out = append(out, entry.word)
	}
	return out
}

func extractActions(text string) []string {
	var out []string
	for _, match := range actionPattern.FindAllStringSubmatch(text, -1) {
		action := strings.TrimSpace(match[1])
		if action == "" {
			continue
		}
		out = append(out, action)
		if len(out) >= maxActions {
			break
		}
	}
	return out
}
