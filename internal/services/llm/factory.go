package llm

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
)

// NewLLMService creates the appropriate LLM service implementation based on
// the configured default provider.
func NewLLMService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	logger.Info().Str("provider", string(cfg.LLM.DefaultProvider)).Msg("Initializing LLM service")

	switch cfg.LLM.DefaultProvider {
	case common.LLMProviderClaude:
		return NewClaudeService(&cfg.Claude, logger)
	case common.LLMProviderGemini:
		return NewGeminiService(&cfg.Gemini, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.DefaultProvider)
	}
}

// IsRetryableLLMError reports whether an LLM adapter error is worth
// retrying: rate limits, overload responses, and timeouts qualify; auth and
// invalid-request failures do not.
func IsRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "overloaded"), strings.Contains(msg, "529"),
		strings.Contains(msg, "503"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "connection reset"):
		return true
	}
	return false
}
