package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/llm"
)

const summaryMaxChars = 400

// SummarizerTool produces the card summary: at most 400 characters, one to
// three sentences. The LLM path is used when a provider is configured; the
// deterministic fallback keeps ingestion working offline.
type SummarizerTool struct {
	provider llm.Provider
}

func NewSummarizerTool(provider llm.Provider) *SummarizerTool {
	return &SummarizerTool{provider: provider}
}

func (t *SummarizerTool) Spec() Spec {
	return Spec{
		Name:         "summarizer",
		Description:  "Summarize text into at most 400 characters.",
		Required:     []string{"text"},
		InputSchema:  map[string]string{"text": "string"},
		OutputSchema: map[string]string{"summary": "string"},
		TimeoutMS:    20000,
	}
}

func (t *SummarizerTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	text := strings.TrimSpace(in.String("text"))
	if text == "" {
		return Outputs{"summary": ""}, nil
	}
	summary := t.llmSummary(ctx, text)
	if summary == "" {
		summary = leadSummary(text)
	}
	return Outputs{"summary": clampSummary(summary)}, nil
}

func (t *SummarizerTool) llmSummary(ctx context.Context, text string) string {
	if t.provider == nil {
		return ""
	}
	excerpt := text
	if len(excerpt) > 4000 {
		excerpt = excerpt[:4000]
	}
	answer, err := t.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Summarize the user's text in one to three sentences, at most 400 characters. Reply with the summary only."},
		{Role: "user", Content: excerpt},
	})
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			common.Logger().Warn("summarizer: llm call failed, using lead fallback", "error", err)
		}
		return ""
	}
	return strings.TrimSpace(answer)
}

// leadSummary takes the first one to three sentences of the text.
func leadSummary(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	var (
		builder   strings.Builder
		sentences int
	)
	for _, r := range normalized {
		builder.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentences++
			if sentences >= 3 || builder.Len() >= summaryMaxChars {
				break
			}
		}
		if builder.Len() >= summaryMaxChars {
			break
		}
	}
	return strings.TrimSpace(builder.String())
}

func clampSummary(summary string) string {
	if len(summary) <= summaryMaxChars {
		return summary
	}
	clipped := summary[:summaryMaxChars]
	if idx := strings.LastIndex(clipped, " "); idx > summaryMaxChars/2 {
		clipped = clipped[:idx]
	}
	return strings.TrimSpace(clipped)
}
