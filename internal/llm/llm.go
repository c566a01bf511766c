package llm

import (
	"errors"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/llm/providers"
)

type Message = providers.Message

type Provider = providers.Provider

// ErrUnavailable is returned by providers that have no model behind them.
var ErrUnavailable = providers.ErrUnavailable

// NewProvider selects the OpenAI-compatible provider when llm_url is
// configured (an Ollama endpoint works), otherwise the deterministic local
// stub so the system keeps working offline.
func NewProvider(cfg config.Config) Provider {
	logger := common.Logger()
	if url := strings.TrimSpace(cfg.LLMURL); url != "" {
		opts := []option.RequestOption{option.WithBaseURL(url)}
		if key := strings.TrimSpace(cfg.LLMModel); key == "" {
			logger.Warn("llm: llm_url set without llm_model, using default model")
		}
		// Local OpenAI-compatible servers accept any key; a real one can be
		// supplied through the SDK's own OPENAI_API_KEY handling.
		if os.Getenv("OPENAI_API_KEY") == "" {
			opts = append(opts, option.WithAPIKey("echogarden"))
		}
		client := openai.NewClient(opts...)
		logger.Info("llm: openai-compatible provider selected", "endpoint", url, "model", cfg.LLMModel)
		return providers.NewOpenAIProvider(client, cfg.LLMModel)
	}
	logger.Info("llm: no llm_url configured, using deterministic local provider")
	return providers.NewLocalProvider()
}

// NormalizeMessages lower-cases roles and rejects empty message lists.
func NormalizeMessages(messages []Message) ([]Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages provided")
	}
	for i := range messages {
		messages[i].Role = strings.ToLower(messages[i].Role)
	}
	return messages, nil
}
