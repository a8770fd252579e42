package services

import (
	"context"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/prompts"
)

type SummaryResult struct {
	Summary string `json:"summary"`
	Model   string `json:"model,omitempty"`
}

// SummaryService summarizes documents and lecture transcripts. Lecture
// transcripts arrive as text.
type SummaryService struct {
	llm    Completer
	flight *Flight
	log    *zap.Logger
}

func NewSummaryService(llm Completer, flight *Flight, log *zap.Logger) *SummaryService {
	return &SummaryService{llm: llm, flight: flight, log: log.Named("summary")}
}

func (s *SummaryService) Summarize(ctx context.Context, req models.SummaryRequest) (*SummaryResult, error) {
	req.Normalize()
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}

	result, _, err := share(ctx, s.flight, "summary", req, func(ctx context.Context) (*SummaryResult, error) {
		resp, err := s.llm.Complete(ctx, prompts.Summary(req), summaryOptions(req))
		if err != nil {
			return nil, err
		}
		text := cleanText(resp.Text)
		if text == "" {
			return nil, apperr.New(apperr.KindEmptyResult, "model returned an empty summary", nil)
		}
		return &SummaryResult{Summary: text, Model: resp.Model}, nil
	})
	return result, err
}

// SummarizeStream publishes the growing summary through onUpdate. Cancelling
// ctx stops generation and returns what was produced so far. Streams are
// never shared between callers.
func (s *SummaryService) SummarizeStream(ctx context.Context, req models.SummaryRequest, onUpdate func(accumulated string)) (string, error) {
	req.Normalize()
	if err := models.ValidateStruct(req); err != nil {
		return "", err
	}

	text, err := s.llm.Stream(ctx, prompts.Summary(req), summaryOptions(req), onUpdate)
	if err != nil {
		if text != "" {
			s.log.Warn("summary stream interrupted", zap.Int("chars", len(text)), zap.Error(err))
		}
		return text, err
	}
	return text, nil
}

func summaryOptions(req models.SummaryRequest) gateway.Options {
	maxTokens := 1500
	switch req.Length {
	case "short":
		maxTokens = 600
	case "detailed":
		maxTokens = 3000
	}
	return gateway.Options{Temperature: 0.3, MaxTokens: maxTokens}
}
