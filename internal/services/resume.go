package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/parse"
	"citewise/internal/prompts"
)

// Pipeline stages, in execution order.
const (
	StageAnalysis  = "analysis"
	StageTailoring = "tailored_resume"
	StageProjects  = "projects"
	StageInterview = "interview_questions"
)

const resumeStages = 4

var resumeAnalysisSchema = map[string]any{
	"type":     "object",
	"required": []any{"summary", "scores"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"scores":  map[string]any{"type": "object"},
		"skills":  map[string]any{"type": "object"},
	},
}

type ResumeService struct {
	llm    Completer
	flight *Flight
	log    *zap.Logger
}

func NewResumeService(llm Completer, flight *Flight, log *zap.Logger) *ResumeService {
	return &ResumeService{llm: llm, flight: flight, log: log.Named("resume")}
}

// Analyze runs the career pipeline. Each stage starts only after the
// previous one succeeded and uses its output; the first failure aborts the
// run.
func (s *ResumeService) Analyze(ctx context.Context, req models.ResumeRequest, progress ProgressCallback) (*models.CareerReport, error) {
	req.Normalize()
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}

	report, shared, err := share(ctx, s.flight, "resume", req, func(ctx context.Context) (*models.CareerReport, error) {
		return s.run(ctx, req, progress)
	})
	if shared && progress != nil {
		progress("shared", resumeStages, resumeStages)
	}
	return report, err
}

func (s *ResumeService) run(ctx context.Context, req models.ResumeRequest, progress ProgressCallback) (*models.CareerReport, error) {
	report := &models.CareerReport{}
	step := func(n int, stage string) {
		s.log.Debug("resume stage", zap.String("stage", stage), zap.Int("step", n))
		if progress != nil {
			progress(stage, n, resumeStages)
		}
	}

	step(1, StageAnalysis)
	resp, err := s.llm.Complete(ctx, prompts.ResumeAnalysis(req), gateway.Options{Temperature: 0.3, MaxTokens: 3000})
	if err != nil {
		return nil, stageError(StageAnalysis, err)
	}
	report.Analysis, err = s.decodeAnalysis(resp.Text)
	if err != nil {
		return nil, stageError(StageAnalysis, err)
	}

	step(2, StageTailoring)
	resp, err = s.llm.Complete(ctx, prompts.TailoredResume(req, report.Analysis), gateway.Options{Temperature: 0.4, MaxTokens: 3000})
	if err != nil {
		return nil, stageError(StageTailoring, err)
	}
	report.TailoredResume = cleanText(resp.Text)
	if report.TailoredResume == "" {
		return nil, stageError(StageTailoring, apperr.New(apperr.KindEmptyResult, "empty tailored resume", nil))
	}

	step(3, StageProjects)
	resp, err = s.llm.Complete(ctx, prompts.ProjectSuggestions(req, report.Analysis), gateway.Options{Temperature: 0.6, MaxTokens: 2000})
	if err != nil {
		return nil, stageError(StageProjects, err)
	}
	report.Projects, err = parse.ExtractItems(resp.Text, parse.Shape[models.ProjectSuggestion]{
		Name:   "projects",
		Field:  "projects",
		Accept: acceptProject,
		OnDrop: s.dropLogger(StageProjects),
	})
	if err != nil {
		return nil, stageError(StageProjects, err)
	}

	step(4, StageInterview)
	resp, err = s.llm.Complete(ctx, prompts.InterviewQuestions(req, report.TailoredResume), gateway.Options{Temperature: 0.6, MaxTokens: 2000})
	if err != nil {
		return nil, stageError(StageInterview, err)
	}
	report.InterviewQuestions, err = parse.ExtractItems(resp.Text, parse.Shape[models.InterviewQuestion]{
		Name:   "interview questions",
		Field:  "questions",
		Accept: acceptInterviewQuestion,
		OnDrop: s.dropLogger(StageInterview),
	})
	if err != nil {
		return nil, stageError(StageInterview, err)
	}

	return report, nil
}

func (s *ResumeService) dropLogger(stage string) func(int, string) {
	return func(index int, reason string) {
		s.log.Warn("dropped item", zap.String("stage", stage), zap.Int("index", index), zap.String("reason", reason))
	}
}

// stageError prefixes the stage while keeping the error's kind.
func stageError(stage string, err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return &apperr.Error{Kind: kind, Message: stage, Err: err}
}

// analysisRecord keeps every list undecoded so a malformed entry is dropped
// on its own instead of failing the stage.
type analysisRecord struct {
	Summary string                     `json:"summary"`
	Scores  map[string]json.RawMessage `json:"scores"`
	Skills  struct {
		Technical json.RawMessage `json:"technical"`
		Soft      json.RawMessage `json:"soft"`
		Missing   json.RawMessage `json:"missing"`
	} `json:"skills"`
	Strengths       json.RawMessage `json:"strengths"`
	Weaknesses      json.RawMessage `json:"weaknesses"`
	Recommendations json.RawMessage `json:"recommendations"`
	CareerPaths     json.RawMessage `json:"careerPaths"`
}

func (s *ResumeService) decodeAnalysis(raw string) (models.ResumeAnalysis, error) {
	rec, err := parse.ExtractObject[analysisRecord](raw, resumeAnalysisSchema, nil)
	if err != nil {
		return models.ResumeAnalysis{}, err
	}

	a := models.ResumeAnalysis{Summary: strings.TrimSpace(rec.Summary)}
	if a.Summary == "" {
		return a, apperr.New(apperr.KindMalformedResponseShape, "resume analysis has no summary", nil)
	}

	for name, score := range map[string]*int{
		"overall": &a.Scores.Overall, "ats": &a.Scores.ATS, "content": &a.Scores.Content,
		"formatting": &a.Scores.Formatting, "keywords": &a.Scores.Keywords, "experience": &a.Scores.Experience,
	} {
		var v float64
		if err := json.Unmarshal(rec.Scores[name], &v); err != nil {
			if rec.Scores[name] != nil {
				s.log.Warn("ignored resume score", zap.String("score", name), zap.Error(err))
			}
			continue
		}
		*score = min(max(int(math.Round(v)), 0), 100)
	}

	strs := func(field string, raw json.RawMessage) []string {
		return parse.DecodeList(raw, parse.NonEmptyString, s.fieldDropLogger(field))
	}
	a.Strengths = strs("strengths", rec.Strengths)
	a.Weaknesses = strs("weaknesses", rec.Weaknesses)
	a.Skills.Technical = strs("skills.technical", rec.Skills.Technical)
	a.Skills.Soft = strs("skills.soft", rec.Skills.Soft)
	a.Skills.Missing = strs("skills.missing", rec.Skills.Missing)
	a.Recommendations = parse.DecodeList(rec.Recommendations, acceptRecommendation, s.fieldDropLogger("recommendations"))
	a.CareerPaths = parse.DecodeList(rec.CareerPaths, acceptCareerPath, s.fieldDropLogger("careerPaths"))
	return a, nil
}

func (s *ResumeService) fieldDropLogger(field string) func(int, string) {
	return func(index int, reason string) {
		s.log.Warn("dropped analysis entry", zap.String("field", field), zap.Int("index", index), zap.String("reason", reason))
	}
}

func acceptRecommendation(r *models.Recommendation) bool {
	r.Area = strings.TrimSpace(r.Area)
	r.Suggestion = strings.TrimSpace(r.Suggestion)
	r.Priority = strings.ToLower(strings.TrimSpace(r.Priority))
	return r.Suggestion != ""
}

func acceptCareerPath(p *models.CareerPath) bool {
	p.Title = strings.TrimSpace(p.Title)
	p.Fit = min(max(p.Fit, 0), 100)
	p.NextSteps = compactStrings(p.NextSteps)
	return p.Title != ""
}

func acceptProject(p *models.ProjectSuggestion) bool {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Difficulty = strings.ToLower(strings.TrimSpace(p.Difficulty))
	p.Technologies = compactStrings(p.Technologies)
	return p.Title != "" && p.Description != ""
}

func acceptInterviewQuestion(q *models.InterviewQuestion) bool {
	q.Question = strings.TrimSpace(q.Question)
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	q.Tips = strings.TrimSpace(q.Tips)
	if q.Category == "" {
		q.Category = "general"
	}
	return q.Question != ""
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
