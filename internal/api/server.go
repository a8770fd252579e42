package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/decks"
	"citewise/internal/extraction"
	"citewise/internal/services"
)

const (
	maxMultipartMemory = 8 << 20  // 8 MB
	maxUploadBytes     = 32 << 20 // 32 MB
	maxJSONBody        = 4 << 20
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Quiz       *services.QuizService
	Flashcards *services.FlashcardService
	MindMaps   *services.MindMapService
	Summaries  *services.SummaryService
	Resume     *services.ResumeService
	Tests      *services.TestSessionStore
	Streams    *services.StreamRegistry
	Extraction *extraction.Service
	Decks      *decks.Store
}

type Server struct {
	mux *http.ServeMux
	Deps
	log *zap.Logger
}

func NewServer(deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		mux:  http.NewServeMux(),
		Deps: deps,
		log:  log.Named("api"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/quiz", s.handleQuiz)
	s.mux.HandleFunc("/api/quiz/pdf", s.handleQuizPDF)
	s.mux.HandleFunc("/api/tests", s.handleCreateTest)
	s.mux.HandleFunc("/api/tests/", s.handleTestActions)

	s.mux.HandleFunc("/api/flashcards", s.handleFlashcards)
	s.mux.HandleFunc("/api/flashcards/csv", s.handleFlashcardsCSV)
	s.mux.HandleFunc("/api/flashcards/pdf", s.handleFlashcardsPDF)

	s.mux.HandleFunc("/api/mindmap", s.handleMindMap)
	s.mux.HandleFunc("/api/mindmap/png", s.handleMindMapPNG)

	s.mux.HandleFunc("/api/summaries", s.handleSummary)
	s.mux.HandleFunc("/api/summaries/pdf", s.handleSummaryPDF)
	s.mux.HandleFunc("/api/summaries/stream", s.handleSummaryStream)
	s.mux.HandleFunc("/api/summaries/stream/", s.handleStopStream)

	s.mux.HandleFunc("/api/resume/analyze", s.handleResumeAnalyze)
	s.mux.HandleFunc("/api/resume/export", s.handleResumeExport)

	s.mux.HandleFunc("/api/start-extraction", s.handleStartExtraction)
	s.mux.HandleFunc("/api/extraction-status/", s.handleExtractionStatus)

	s.mux.HandleFunc("/api/decks", s.handleDecks)
	s.mux.HandleFunc("/api/decks/", s.handleDeckActions)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// decodeJSON reads a JSON request body into dst. Unknown fields are ignored.
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.UserInput("request body is empty")
		}
		return apperr.UserInput(fmt.Sprintf("invalid JSON payload: %v", err))
	}
	return nil
}

func pathID(path, prefix string) (int64, string, error) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	head, tail, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", apperr.UserInput(fmt.Sprintf("invalid id %q", head))
	}
	return id, tail, nil
}

const timeLayout = time.RFC3339

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail writes err with the status its kind maps to.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	body := map[string]string{"error": err.Error()}
	if kind := apperr.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}
