package services

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/parse"
	"citewise/internal/prompts"
)

const defaultBranchCount = 6

var mindMapSchema = map[string]any{
	"type":     "object",
	"required": []any{"mainBranches"},
	"properties": map[string]any{
		"centralTopic": map[string]any{"type": "string"},
		"mainBranches": map[string]any{"type": "array"},
	},
}

type MindMapService struct {
	llm    Completer
	flight *Flight
	log    *zap.Logger
}

func NewMindMapService(llm Completer, flight *Flight, log *zap.Logger) *MindMapService {
	return &MindMapService{llm: llm, flight: flight, log: log.Named("mindmap")}
}

func (s *MindMapService) Generate(ctx context.Context, req models.GenerationRequest) (*models.MindMap, error) {
	req.Normalize(defaultBranchCount)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	mm, _, err := share(ctx, s.flight, "mindmap", req, func(ctx context.Context) (*models.MindMap, error) {
		resp, err := s.llm.Complete(ctx, prompts.MindMap(req), gateway.Options{Temperature: 0.5, MaxTokens: 3000})
		if err != nil {
			return nil, err
		}
		return s.decode(resp.Text, req.Topic)
	})
	return mm, err
}

// mindMapRecord keeps branches undecoded so each one is checked on its own.
type mindMapRecord struct {
	CentralTopic string            `json:"centralTopic"`
	MainBranches []json.RawMessage `json:"mainBranches"`
}

type branchRecord struct {
	Title     string          `json:"title"`
	Subtopics json.RawMessage `json:"subtopics"`
}

// decode drops branches that are malformed or lack a title or subtopics.
func (s *MindMapService) decode(raw, topic string) (*models.MindMap, error) {
	rec, err := parse.ExtractObject[mindMapRecord](raw, mindMapSchema, nil)
	if err != nil {
		return nil, err
	}

	m := &models.MindMap{CentralTopic: strings.TrimSpace(rec.CentralTopic)}
	if m.CentralTopic == "" {
		m.CentralTopic = topic
	}

	for i, elem := range rec.MainBranches {
		var b branchRecord
		if err := json.Unmarshal(elem, &b); err != nil {
			s.log.Warn("dropped mind map branch", zap.Int("index", i), zap.Error(err))
			continue
		}
		branch := models.MindMapBranch{
			Title: strings.TrimSpace(b.Title),
			Subtopics: parse.DecodeList(b.Subtopics, parse.NonEmptyString, func(sub int, reason string) {
				s.log.Debug("dropped subtopic", zap.Int("branch", i), zap.Int("index", sub), zap.String("reason", reason))
			}),
		}
		if branch.Title == "" || len(branch.Subtopics) == 0 {
			s.log.Warn("dropped mind map branch", zap.Int("index", i), zap.String("reason", "incomplete"))
			continue
		}
		m.MainBranches = append(m.MainBranches, branch)
	}

	if len(m.MainBranches) == 0 {
		return nil, apperr.New(apperr.KindEmptyResult, "mind map has no complete branches", nil)
	}
	return m, nil
}
