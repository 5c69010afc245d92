package summarize

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/llm"
	"github.com/engagic/engagic/pkg/llm/anthropic"
	"github.com/engagic/engagic/pkg/llm/gemini"
	"github.com/engagic/engagic/pkg/logger"
)

var Module = fx.Module("summarize",
	fx.Provide(NewLLMClient),
	fx.Provide(NewService),
)

// NewLLMClient builds the completion backend selected by configuration.
// Without an API key every completion fails with llm.ErrDisabled, which the
// processor surfaces as a permanent job failure.
func NewLLMClient(cfg *config.Config, log *slog.Logger) (llm.Client, error) {
	if !cfg.LLM.IsEnabled() {
		log.Warn("llm backend disabled, summarisation jobs will fail",
			logger.Scope("summarize"))
		return llm.Disabled(), nil
	}

	retry := llm.RetryConfig{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  llm.DefaultBaseDelay,
		MaxDelay:   llm.DefaultMaxDelay,
	}

	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout(),
			Retry:   retry,
		}, log)
	case "gemini":
		return gemini.NewClient(context.Background(), gemini.Config{
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout(),
			Retry:   retry,
		}, log)
	default:
		return nil, apperror.ErrConfig.WithMessagef("unknown LLM provider %q", cfg.LLM.Provider)
	}
}
