package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/export"
	"citewise/internal/models"
	"citewise/internal/services"
)

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req services.QuizRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	result, err := s.Quiz.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type quizPDFRequest struct {
	Title       string            `json:"title"`
	Questions   []models.Question `json:"questions"`
	Theme       string            `json:"theme"`
	WithAnswers bool              `json:"withAnswers"`
}

func (s *Server) handleQuizPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req quizPDFRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if len(req.Questions) == 0 {
		s.fail(w, apperr.UserInput("questions are required"))
		return
	}
	attachment(w, "application/pdf", "quiz.pdf")
	if err := export.WriteQuizPDF(w, titleOr(req.Title, "Practice Test"), req.Questions, export.ThemeByName(req.Theme), req.WithAnswers); err != nil {
		s.log.Error("write quiz pdf", zap.Error(err))
	}
}

type createTestRequest struct {
	Questions []models.Question `json:"questions"`
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req createTestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	questions := make([]models.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		if q.Complete() {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		s.fail(w, apperr.UserInput("a test needs at least one complete question"))
		return
	}
	writeJSON(w, http.StatusCreated, s.Tests.Create(questions))
}

type answerRequest struct {
	Index  int    `json:"index"`
	Answer string `json:"answer"`
}

// handleTestActions serves /api/tests/{id}[/answers|/submit|/reset].
func (s *Server) handleTestActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tests/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			session, err := s.Tests.Get(id)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, session)
		case http.MethodDelete:
			if err := s.Tests.Delete(id); err != nil {
				s.fail(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}
	case "answers":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req answerRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, err)
			return
		}
		session, err := s.Tests.Select(id, req.Index, req.Answer)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "submit":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		score, err := s.Tests.Submit(id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, score)
	case "reset":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		session, err := s.Tests.Reset(id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	result, err := s.Flashcards.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type flashcardsExportRequest struct {
	Title      string             `json:"title"`
	Flashcards []models.Flashcard `json:"flashcards"`
	Theme      string             `json:"theme"`
}

func (s *Server) decodeFlashcards(w http.ResponseWriter, r *http.Request) (*flashcardsExportRequest, bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return nil, false
	}
	var req flashcardsExportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return nil, false
	}
	if len(req.Flashcards) == 0 {
		s.fail(w, apperr.UserInput("flashcards are required"))
		return nil, false
	}
	return &req, true
}

func (s *Server) handleFlashcardsCSV(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFlashcards(w, r)
	if !ok {
		return
	}
	attachment(w, "text/csv; charset=utf-8", "flashcards.csv")
	if err := export.WriteFlashcardsCSV(w, req.Flashcards); err != nil {
		s.log.Error("write flashcards csv", zap.Error(err))
	}
}

func (s *Server) handleFlashcardsPDF(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeFlashcards(w, r)
	if !ok {
		return
	}
	attachment(w, "application/pdf", "flashcards.pdf")
	if err := export.WriteFlashcardsPDF(w, titleOr(req.Title, "Flashcards"), req.Flashcards, export.ThemeByName(req.Theme)); err != nil {
		s.log.Error("write flashcards pdf", zap.Error(err))
	}
}

func (s *Server) handleMindMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	mm, err := s.MindMaps.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mm)
}

func (s *Server) handleMindMapPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var mm models.MindMap
	if err := decodeJSON(r, &mm); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(mm.CentralTopic) == "" {
		s.fail(w, apperr.UserInput("centralTopic is required"))
		return
	}
	attachment(w, "image/png", "mindmap.png")
	if err := export.WriteMindMapPNG(w, &mm); err != nil {
		s.log.Error("write mind map png", zap.Error(err))
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.SummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	result, err := s.Summaries.Summarize(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type summaryPDFRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Theme   string `json:"theme"`
}

func (s *Server) handleSummaryPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req summaryPDFRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Summary) == "" {
		s.fail(w, apperr.UserInput("summary is required"))
		return
	}
	attachment(w, "application/pdf", "summary.pdf")
	if err := export.WriteSummaryPDF(w, titleOr(req.Title, "Summary"), req.Summary, export.ThemeByName(req.Theme)); err != nil {
		s.log.Error("write summary pdf", zap.Error(err))
	}
}

// handleSummaryStream emits "start" with the stream id, an "update" per
// received chunk carrying the accumulated text, then "complete" or "error".
func (s *Server) handleSummaryStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.SummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	req.Normalize()
	if err := models.ValidateStruct(req); err != nil {
		s.fail(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id, ctx, release := s.Streams.Register(r.Context())
	defer release()
	log := s.log.With(zap.String("stream_id", id))

	if err := sse.WriteEvent("start", map[string]string{"stream_id": id}); err != nil {
		return
	}
	text, err := s.Summaries.SummarizeStream(ctx, req, func(accumulated string) {
		if werr := sse.WriteEvent("update", map[string]string{"text": accumulated}); werr != nil {
			log.Debug("client went away", zap.Error(werr))
		}
	})
	if err != nil && text == "" {
		sse.WriteError(err.Error(), string(apperr.KindOf(err)))
		return
	}

	done := map[string]any{"stream_id": id, "text": text, "partial": ctx.Err() != nil || err != nil}
	if err != nil {
		done["error"] = err.Error()
	}
	if err := sse.WriteEvent("complete", done); err != nil {
		log.Debug("write complete event", zap.Error(err))
	}
}

// handleStopStream serves POST /api/summaries/stream/{id}/stop.
func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/summaries/stream/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "stop" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.Streams.Stop(id) {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stream_id": id, "stopped": true})
}

func titleOr(title, fallback string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return fallback
}
