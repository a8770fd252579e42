package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/parse"
	"citewise/internal/prompts"
)

const (
	defaultFlashcardCount = 15
	defaultCategory       = "General"
)

type FlashcardResult struct {
	Flashcards []models.Flashcard `json:"flashcards"`
	Requested  int                `json:"requested"`
	Obtained   int                `json:"obtained"`
	Model      string             `json:"model"`
}

type FlashcardService struct {
	llm    Completer
	flight *Flight
	log    *zap.Logger
}

func NewFlashcardService(llm Completer, flight *Flight, log *zap.Logger) *FlashcardService {
	return &FlashcardService{llm: llm, flight: flight, log: log.Named("flashcards")}
}

func (s *FlashcardService) Generate(ctx context.Context, req models.GenerationRequest) (*FlashcardResult, error) {
	req.Normalize(defaultFlashcardCount)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result, _, err := share(ctx, s.flight, "flashcards", req, func(ctx context.Context) (*FlashcardResult, error) {
		resp, err := s.llm.Complete(ctx, prompts.Flashcards(req), gateway.Options{Temperature: 0.5, MaxTokens: 4000})
		if err != nil {
			return nil, err
		}

		cards, err := parse.ExtractItems(resp.Text, parse.Shape[models.Flashcard]{
			Name:   "flashcards",
			Field:  "flashcards",
			Accept: acceptFlashcard,
			OnDrop: func(index int, reason string) {
				s.log.Warn("dropped flashcard", zap.Int("index", index), zap.String("reason", reason))
			},
		})
		if err != nil {
			return nil, err
		}
		if len(cards) > req.Count {
			cards = cards[:req.Count]
		}
		return &FlashcardResult{
			Flashcards: cards,
			Requested:  req.Count,
			Obtained:   len(cards),
			Model:      resp.Model,
		}, nil
	})
	return result, err
}

func acceptFlashcard(c *models.Flashcard) bool {
	c.Front = strings.TrimSpace(c.Front)
	c.Back = strings.TrimSpace(c.Back)
	c.Category = strings.TrimSpace(c.Category)
	if c.Category == "" {
		c.Category = defaultCategory
	}
	return c.Front != "" && c.Back != ""
}
