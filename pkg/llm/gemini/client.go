// Package gemini provides a Google Gemini backend for the summarisation
// pipeline.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/genai"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/llm"
	"github.com/engagic/engagic/pkg/logger"
)

// Config holds the Gemini client configuration
type Config struct {
	APIKey  string
	Timeout time.Duration
	Retry   llm.RetryConfig
}

// Client calls the Gemini API through google.golang.org/genai.
type Client struct {
	api     *genai.Client
	timeout time.Duration
	retry   llm.RetryConfig
	log     *slog.Logger
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a new Gemini completion client
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperror.ErrConfig.WithMessage("gemini API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = llm.DefaultRetryConfig()
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		api:     api,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		log:     log.With(logger.Scope("llm.gemini")),
	}, nil
}

// Complete generates a completion via GenerateContent.
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

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := c.api.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, classify(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned no text content")
	}

	usage := llm.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	c.log.Debug("completion finished",
		slog.String("model", req.Model),
		slog.Int("input_tokens", usage.InputTokens),
		slog.Int("output_tokens", usage.OutputTokens),
		slog.Duration("duration", time.Since(start)),
	)

	return &llm.Response{
		Text:  text,
		Model: req.Model,
		Usage: usage,
	}, nil
}

// classify maps API failures onto the shared retry semantics.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
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
