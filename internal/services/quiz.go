package services

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/parse"
	"citewise/internal/prompts"
)

type QuizFormat string

const (
	QuizFormatLines QuizFormat = "lines"
	QuizFormatJSON  QuizFormat = "json"
)

const defaultQuestionCount = 10

type QuizRequest struct {
	models.GenerationRequest
	Format QuizFormat `json:"format" validate:"omitempty,oneof=lines json"`
}

// QuizResult carries the parsed questions. Obtained may be below Requested;
// that is still a success.
type QuizResult struct {
	Questions []models.Question `json:"questions"`
	Requested int               `json:"requested"`
	Obtained  int               `json:"obtained"`
	Model     string            `json:"model"`
	Format    QuizFormat        `json:"format"`
}

type QuizService struct {
	llm    Completer
	flight *Flight
	log    *zap.Logger
}

func NewQuizService(llm Completer, flight *Flight, log *zap.Logger) *QuizService {
	return &QuizService{llm: llm, flight: flight, log: log.Named("quiz")}
}

func (s *QuizService) Generate(ctx context.Context, req QuizRequest) (*QuizResult, error) {
	req.Normalize(defaultQuestionCount)
	if req.Format == "" {
		req.Format = QuizFormatLines
	}
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}

	result, shared, err := share(ctx, s.flight, "quiz", req, func(ctx context.Context) (*QuizResult, error) {
		return s.generate(ctx, req)
	})
	if shared {
		s.log.Debug("quiz request joined in-flight generation", zap.String("topic", req.Topic))
	}
	return result, err
}

func (s *QuizService) generate(ctx context.Context, req QuizRequest) (*QuizResult, error) {
	prompt := prompts.QuizLines(req.GenerationRequest)
	if req.Format == QuizFormatJSON {
		prompt = prompts.QuizJSON(req.GenerationRequest)
	}

	resp, err := s.llm.Complete(ctx, prompt, gateway.Options{Temperature: 0.7, MaxTokens: 4000})
	if err != nil {
		return nil, err
	}

	questions, used, err := s.parse(resp.Text, req.Format)
	if err != nil {
		return nil, err
	}

	if len(questions) > req.Count {
		questions = questions[:req.Count]
	}
	if len(questions) < req.Count {
		s.log.Info("quiz returned fewer questions than requested",
			zap.Int("requested", req.Count), zap.Int("obtained", len(questions)), zap.String("model", resp.Model))
	}

	return &QuizResult{
		Questions: questions,
		Requested: req.Count,
		Obtained:  len(questions),
		Model:     resp.Model,
		Format:    used,
	}, nil
}

// parse tries the preferred reader first and the other one on failure. The
// preferred reader's error is returned when both fail.
func (s *QuizService) parse(text string, preferred QuizFormat) ([]models.Question, QuizFormat, error) {
	readers := []QuizFormat{QuizFormatLines, QuizFormatJSON}
	if preferred == QuizFormatJSON {
		readers = []QuizFormat{QuizFormatJSON, QuizFormatLines}
	}

	var first error
	for _, format := range readers {
		var (
			questions []models.Question
			err       error
		)
		if format == QuizFormatJSON {
			questions, err = s.parseJSON(text)
		} else {
			questions, err = s.parseLines(text)
		}
		if err == nil {
			if format != preferred {
				s.log.Info("quiz parsed with fallback reader", zap.String("reader", string(format)))
			}
			return questions, format, nil
		}
		if first == nil {
			first = err
		}
		s.log.Debug("quiz reader failed", zap.String("reader", string(format)), zap.Error(err))
	}
	return nil, "", first
}

func (s *QuizService) parseLines(text string) ([]models.Question, error) {
	questions, stats := parse.ParseQuestionsWithStats(text)
	if stats.Dropped > 0 {
		s.log.Warn("dropped incomplete questions", zap.Int("dropped", stats.Dropped), zap.Int("blocks", stats.Blocks))
	}
	if len(questions) == 0 {
		return nil, apperr.New(apperr.KindEmptyResult, "no complete questions in response", nil)
	}
	return questions, nil
}

func (s *QuizService) parseJSON(text string) ([]models.Question, error) {
	return parse.ExtractItems(text, parse.Shape[models.Question]{
		Name:   "questions",
		Field:  "questions",
		Accept: acceptQuestion,
		OnDrop: func(index int, reason string) {
			s.log.Warn("dropped question", zap.Int("index", index), zap.String("reason", reason))
		},
	})
}

var optionPrefix = regexp.MustCompile(`^\(?[A-Da-d][).:]\s+`)

// acceptQuestion tidies a decoded question and reports whether it is
// complete. The answer may name the option letter or repeat its text. Blank
// options are closed up and the answer re-lettered to match; more than four
// options is rejected.
func acceptQuestion(q *models.Question) bool {
	q.Text = strings.TrimSpace(q.Text)
	q.Explanation = strings.TrimSpace(q.Explanation)
	for i, opt := range q.Options {
		q.Options[i] = strings.TrimSpace(optionPrefix.ReplaceAllString(strings.TrimSpace(opt), ""))
	}

	answer := strings.TrimSpace(q.CorrectAnswer)
	chosen := -1
	if idx := models.OptionIndex(strings.TrimRight(answer, ").:")); idx >= 0 && idx < len(q.Options) {
		chosen = idx
	} else {
		stripped := strings.TrimSpace(optionPrefix.ReplaceAllString(answer, ""))
		for i, opt := range q.Options {
			if opt != "" && strings.EqualFold(opt, stripped) {
				chosen = i
				break
			}
		}
	}

	q.CorrectAnswer = ""
	kept := make([]string, 0, len(q.Options))
	for i, opt := range q.Options {
		if opt == "" {
			continue
		}
		if i == chosen {
			q.CorrectAnswer = models.OptionLetter(len(kept))
		}
		kept = append(kept, opt)
	}
	q.Options = kept
	return q.Complete()
}
