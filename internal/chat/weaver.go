package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/llm"
	"github.com/nicodishanthj/echogarden/internal/tools"
)

// Evidence is one retrieved card handed to the weaver and verifier.
type Evidence struct {
	MemoryID string  `json:"memory_id"`
	Title    string  `json:"title"`
	Summary  string  `json:"summary"`
	Snippet  string  `json:"snippet,omitempty"`
	Score    float64 `json:"score"`
}

const maxCitations = 8

// WeaverTool composes a grounded answer with [title] citation tokens from
// retrieved evidence. With no LLM configured it degrades to a deterministic
// digest of the top summaries.
type WeaverTool struct {
	provider llm.Provider
}

func NewWeaverTool(provider llm.Provider) *WeaverTool {
	return &WeaverTool{provider: provider}
}

func (t *WeaverTool) Spec() tools.Spec {
	return tools.Spec{
		Name:        "weaver",
		Description: "Weave retrieved evidence into a grounded answer with citations.",
		Required:    []string{"query", "evidence"},
		InputSchema: map[string]string{
			"query": "string", "evidence": "[]{memory_id,title,summary,snippet,score}",
		},
		OutputSchema: map[string]string{
			"answer": "string", "cited_memory_ids": "[]string",
		},
		TimeoutMS: 30000,
	}
}

func (t *WeaverTool) Run(ctx context.Context, in tools.Inputs) (tools.Outputs, error) {
	query := in.String("query")
	evidence, err := coerceEvidence(in["evidence"])
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return tools.Outputs{
			"answer":           "I could not find any relevant memories to answer this question.",
			"cited_memory_ids": []string{},
		}, nil
	}
	if answer, cited, ok := t.llmWeave(ctx, query, evidence); ok {
		return tools.Outputs{"answer": answer, "cited_memory_ids": cited}, nil
	}
	answer, cited := stubWeave(evidence)
	return tools.Outputs{"answer": answer, "cited_memory_ids": cited}, nil
}

func (t *WeaverTool) llmWeave(ctx context.Context, query string, evidence []Evidence) (string, []string, bool) {
	if t.provider == nil {
		return "", nil, false
	}
	logger := common.Logger()
	prompt := fmt.Sprintf(
		"Question: %s\n\nEvidence:\n%s\n\nAnswer the question using ONLY the evidence. "+
			"Cite every claim inline with [title] tokens taken from the evidence titles. "+
			"Reply as JSON: {\"answer\": string, \"cited_memory_ids\": [string]}.",
		query, evidenceBlock(evidence))
	raw, err := t.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You answer questions strictly from provided evidence. Unsupported claims are disallowed."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			logger.Warn("weaver: llm call failed, using digest fallback", "error", err)
		}
		return "", nil, false
	}
	parsed := parseLLMJSON(raw)
	if parsed == nil {
		logger.Warn("weaver: llm returned unparseable json, using digest fallback")
		return "", nil, false
	}
	answer, _ := parsed["answer"].(string)
	if strings.TrimSpace(answer) == "" {
		return "", nil, false
	}
	valid := make(map[string]struct{}, len(evidence))
	for _, ev := range evidence {
		valid[ev.MemoryID] = struct{}{}
	}
	var cited []string
	if rawCited, ok := parsed["cited_memory_ids"].([]interface{}); ok {
		for _, item := range rawCited {
			id, _ := item.(string)
			if _, known := valid[id]; known {
				cited = append(cited, id)
			}
			if len(cited) >= maxCitations {
				break
			}
		}
	}
	return answer, cited, true
}

// stubWeave builds a bulleted digest of the top evidence with synthetic
// [title] citations.
func stubWeave(evidence []Evidence) (string, []string) {
	var (
		builder strings.Builder
		cited   []string
	)
	builder.WriteString("Here is what the most relevant memories say:\n")
	for i, ev := range evidence {
		if i >= maxCitations {
			break
		}
		title := ev.Title
		if title == "" {
			title = ev.MemoryID
		}
		line := ev.Summary
		if line == "" {
			line = ev.Snippet
		}
		fmt.Fprintf(&builder, "- [%s] %s\n", title, line)
		cited = append(cited, ev.MemoryID)
	}
	return strings.TrimRight(builder.String(), "\n"), cited
}

func evidenceBlock(evidence []Evidence) string {
	var builder strings.Builder
	for _, ev := range evidence {
		text := ev.Snippet
		if text == "" {
			text = ev.Summary
		}
		if len(text) > 400 {
			text = text[:400]
		}
		fmt.Fprintf(&builder, "- id=%s title=%q: %s\n", ev.MemoryID, ev.Title, text)
	}
	return builder.String()
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseLLMJSON is best-effort: markdown fences and prose around the object
// are tolerated.
func parseLLMJSON(raw string) map[string]interface{} {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed
	}
	if match := jsonObjectPattern.FindString(cleaned); match != "" {
		if err := json.Unmarshal([]byte(match), &parsed); err == nil {
			return parsed
		}
	}
	return nil
}

func coerceEvidence(raw interface{}) ([]Evidence, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case []Evidence:
		return value, nil
	case []interface{}:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode evidence: %w", err)
		}
		var out []Evidence
		if err := json.Unmarshal(encoded, &out); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported evidence payload %T", raw)
	}
}
