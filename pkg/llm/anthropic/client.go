// Package anthropic provides an Anthropic Messages API backend for the
// summarisation pipeline.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/llm"
	"github.com/engagic/engagic/pkg/logger"
)

// Config holds the Anthropic client configuration
type Config struct {
	APIKey  string
	Timeout time.Duration
	Retry   llm.RetryConfig
}

// Client calls the Anthropic Messages API.
type Client struct {
	api     anthropic.Client
	timeout time.Duration
	retry   llm.RetryConfig
	log     *slog.Logger
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a new Anthropic completion client
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperror.ErrConfig.WithMessage("anthropic API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}

	return &Client{
		api: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			// The shared retry loop handles backoff
			option.WithMaxRetries(0),
		),
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		log:     log.With(logger.Scope("llm.anthropic")),
	}, nil
}

// Complete generates a completion via the Messages API.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	return llm.WithRetries(ctx, c.retry, func(ctx context.Context) (*llm.Response, error) {
		return c.complete(ctx, req)
	})
}

func (c *Client) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic returned no text content")
	}

	c.log.Debug("completion finished",
		slog.String("model", req.Model),
		slog.Int64("input_tokens", resp.Usage.InputTokens),
		slog.Int64("output_tokens", resp.Usage.OutputTokens),
		slog.Duration("duration", time.Since(start)),
	)

	return &llm.Response{
		Text:  text.String(),
		Model: string(resp.Model),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// classify maps API failures onto the shared retry semantics. Rate limits,
// server errors and transport timeouts retry; everything else is final.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 || apierr.StatusCode >= 500 {
			return llm.Retryable(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llm.Retryable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.Retryable(err)
	}

	return err
}
