// Package summarize turns extracted agenda text into resident-facing
// summaries with canonical topic tags, via an LLM backend.
package summarize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/llm"
	"github.com/engagic/engagic/pkg/logger"
)

// ItemInput is one agenda item to summarise.
type ItemInput struct {
	City         string
	MeetingTitle string
	ItemTitle    string
	Text         string
}

// MeetingInput is a whole packet to summarise at once.
type MeetingInput struct {
	City         string
	MeetingTitle string
	Text         string
}

// BatchItem is one entry in a multi-item call.
type BatchItem struct {
	Title string
	Text  string
}

// Service renders prompts, calls the model and validates responses.
type Service struct {
	client llm.Client
	cfg    config.LLMConfig
	log    *slog.Logger
}

// NewService builds the summariser.
func NewService(client llm.Client, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		client: client,
		cfg:    cfg.LLM,
		log:    log.With(logger.Scope("summarize")),
	}
}

// Enabled reports whether a real backend is configured.
func (s *Service) Enabled() bool {
	return s.cfg.IsEnabled()
}

// modelFor picks the small model for texts under the threshold and the large
// model above it.
func (s *Service) modelFor(textLen int) string {
	if textLen < s.cfg.LargeModelThresholdChars {
		return s.cfg.SmallModel
	}
	return s.cfg.LargeModel
}

// BatchEligible reports whether all items fit one small-model call together.
func (s *Service) BatchEligible(items []BatchItem) bool {
	if len(items) < 2 {
		return false
	}
	total := 0
	for _, item := range items {
		total += len(item.Text)
	}
	return total < s.cfg.LargeModelThresholdChars
}

// SummarizeItem summarises one agenda item.
func (s *Service) SummarizeItem(ctx context.Context, in ItemInput) (*Summary, error) {
	prompt, err := renderPrompt("item", map[string]any{
		"city":         in.City,
		"meetingTitle": in.MeetingTitle,
		"itemTitle":    in.ItemTitle,
		"taxonomy":     taxonomyList(),
		"text":         in.Text,
	})
	if err != nil {
		return nil, apperror.ErrProcessing.WithInternal(err)
	}

	raw, err := s.completeWithRepair(ctx, s.modelFor(len(in.Text)), prompt, func(out string) error {
		_, perr := parseSummary(out)
		return perr
	})
	if err != nil {
		return nil, err
	}
	summary, _ := parseSummary(raw)
	return summary, nil
}

// SummarizeMeeting summarises a full packet in one call.
func (s *Service) SummarizeMeeting(ctx context.Context, in MeetingInput) (*Summary, error) {
	prompt, err := renderPrompt("meeting", map[string]any{
		"city":         in.City,
		"meetingTitle": in.MeetingTitle,
		"taxonomy":     taxonomyList(),
		"text":         in.Text,
	})
	if err != nil {
		return nil, apperror.ErrProcessing.WithInternal(err)
	}

	raw, err := s.completeWithRepair(ctx, s.modelFor(len(in.Text)), prompt, func(out string) error {
		_, perr := parseSummary(out)
		return perr
	})
	if err != nil {
		return nil, err
	}
	summary, _ := parseSummary(raw)
	return summary, nil
}

// SummarizeBatch summarises several items of the same meeting in one call.
// The response must carry exactly one result per item, in order; any
// shortfall fails the whole batch so the caller can fall back to per-item
// calls.
func (s *Service) SummarizeBatch(ctx context.Context, city, meetingTitle string, items []BatchItem) ([]Summary, error) {
	if len(items) == 0 {
		return nil, apperror.ErrProcessing.WithMessage("empty batch")
	}

	type promptItem struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Text   string `json:"text"`
	}
	promptItems := make([]promptItem, 0, len(items))
	total := 0
	for i, item := range items {
		promptItems = append(promptItems, promptItem{Number: i + 1, Title: item.Title, Text: item.Text})
		total += len(item.Text)
	}

	prompt, err := renderPrompt("batch", map[string]any{
		"city":         city,
		"meetingTitle": meetingTitle,
		"count":        len(items),
		"taxonomy":     taxonomyList(),
		"items":        promptItems,
	})
	if err != nil {
		return nil, apperror.ErrProcessing.WithInternal(err)
	}

	raw, err := s.completeWithRepair(ctx, s.modelFor(total), prompt, func(out string) error {
		_, perr := parseSummaryBatch(out, len(items))
		return perr
	})
	if err != nil {
		return nil, err
	}
	summaries, _ := parseSummaryBatch(raw, len(items))
	return summaries, nil
}

// completeWithRepair runs one completion and, when the output fails check,
// one repair attempt quoting the bad response. A second failure is final.
func (s *Service) completeWithRepair(ctx context.Context, model, prompt string, check func(string) error) (string, error) {
	resp, err := s.client.Complete(ctx, llm.Request{
		Model:       model,
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   s.cfg.MaxOutputTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", apperror.ErrProcessing.WithMessage("completion failed").WithInternal(err)
	}

	firstErr := check(resp.Text)
	if firstErr == nil {
		return resp.Text, nil
	}

	s.log.Warn("model response failed validation, attempting repair",
		slog.String("model", model), logger.Error(firstErr))

	repairPrompt, err := renderPrompt("repair", map[string]any{
		"error":    firstErr.Error(),
		"response": resp.Text,
		"taxonomy": taxonomyList(),
	})
	if err != nil {
		return "", apperror.ErrProcessing.WithInternal(err)
	}

	resp, err = s.client.Complete(ctx, llm.Request{
		Model:       model,
		System:      systemPrompt,
		Prompt:      prompt + "\n\n" + repairPrompt,
		MaxTokens:   s.cfg.MaxOutputTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", apperror.ErrProcessing.WithMessage("repair completion failed").WithInternal(err)
	}

	if err := check(resp.Text); err != nil {
		return "", apperror.ErrProcessing.WithMessage(
			fmt.Sprintf("response failed validation after repair: %v", err))
	}
	return resp.Text, nil
}
