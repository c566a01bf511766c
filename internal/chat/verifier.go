package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/llm"
	"github.com/nicodishanthj/echogarden/internal/tools"
)

// Verdicts.
const (
	VerdictPass    = "pass"
	VerdictRevise  = "revise"
	VerdictAbstain = "abstain"
)

// RefusalText is returned whenever the verifier abstains.
const RefusalText = "I don't have enough evidence in your memories to answer that question."

// VerifierTool judges whether the woven answer is grounded in the evidence.
// Without an LLM it applies the deterministic heuristic: no evidence means
// abstain, an uncited answer means revise, otherwise pass.
type VerifierTool struct {
	provider llm.Provider
}

func NewVerifierTool(provider llm.Provider) *VerifierTool {
	return &VerifierTool{provider: provider}
}

func (t *VerifierTool) Spec() tools.Spec {
	return tools.Spec{
		Name:        "verifier",
		Description: "Verify answer groundedness against the retrieved evidence.",
		Required:    []string{"query", "answer", "evidence"},
		InputSchema: map[string]string{
			"query": "string", "answer": "string",
			"evidence": "[]{memory_id,title,summary,snippet,score}",
		},
		OutputSchema: map[string]string{
			"verdict": "pass|revise|abstain", "revised_answer": "string",
			"flagged_claims": "[]string",
		},
		TimeoutMS: 15000,
	}
}

var citationTokenPattern = regexp.MustCompile(`\[[^\[\]]{1,120}\]`)

func (t *VerifierTool) Run(ctx context.Context, in tools.Inputs) (tools.Outputs, error) {
	answer := in.String("answer")
	evidence, err := coerceEvidence(in["evidence"])
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return tools.Outputs{
			"verdict":        VerdictAbstain,
			"revised_answer": "",
			"flagged_claims": []string{"no evidence available"},
		}, nil
	}
	if out, ok := t.llmVerify(ctx, in.String("query"), answer, evidence); ok {
		return out, nil
	}
	if !citationTokenPattern.MatchString(answer) {
		return tools.Outputs{
			"verdict":        VerdictRevise,
			"revised_answer": revisedWithCitations(answer, evidence),
			"flagged_claims": []string{"answer carries no citations"},
		}, nil
	}
	return tools.Outputs{
		"verdict":        VerdictPass,
		"revised_answer": "",
		"flagged_claims": []string{},
	}, nil
}

func (t *VerifierTool) llmVerify(ctx context.Context, query, answer string, evidence []Evidence) (tools.Outputs, bool) {
	if t.provider == nil {
		return nil, false
	}
	logger := common.Logger()
	prompt := fmt.Sprintf(
		"Question: %s\nAnswer: %s\n\nEvidence:\n%s\n\n"+
			"Is every claim in the answer supported by the evidence? Reply as JSON: "+
			"{\"verdict\": \"pass\"|\"revise\"|\"abstain\", \"revised_answer\": string, \"flagged_claims\": [string]}.",
		query, answer, evidenceBlock(evidence))
	raw, err := t.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a strict fact checker. Flag any claim not present in the evidence."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			logger.Warn("verifier: llm call failed, using heuristic", "error", err)
		}
		return nil, false
	}
	parsed := parseLLMJSON(raw)
	if parsed == nil {
		logger.Warn("verifier: llm returned unparseable json, using heuristic")
		return nil, false
	}
	verdict, _ := parsed["verdict"].(string)
	switch verdict {
	case VerdictPass, VerdictRevise, VerdictAbstain:
	default:
		verdict = VerdictPass
	}
	revised, _ := parsed["revised_answer"].(string)
	var flagged []string
	if rawFlags, ok := parsed["flagged_claims"].([]interface{}); ok {
		for _, item := range rawFlags {
			if claim, ok := item.(string); ok {
				flagged = append(flagged, claim)
			}
		}
	}
	if flagged == nil {
		flagged = []string{}
	}
	return tools.Outputs{
		"verdict":        verdict,
		"revised_answer": revised,
		"flagged_claims": flagged,
	}, true
}

// revisedWithCitations appends citation tokens for the strongest evidence
// so a revise verdict still yields a grounded answer.
func revisedWithCitations(answer string, evidence []Evidence) string {
	titles := make([]string, 0, 3)
	for i, ev := range evidence {
		if i >= 3 {
			break
		}
		title := ev.Title
		if title == "" {
			title = ev.MemoryID
		}
		titles = append(titles, "["+title+"]")
	}
	return strings.TrimSpace(answer) + " " + strings.Join(titles, " ")
}
