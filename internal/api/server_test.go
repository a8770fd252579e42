package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citewise/internal/db"
	"citewise/internal/decks"
	"citewise/internal/extraction"
	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/prompts"
	"citewise/internal/services"
)

type fakeLLM struct {
	mu     sync.Mutex
	reply  string
	chunks []string
	calls  int
}

func (f *fakeLLM) Complete(ctx context.Context, p prompts.Prompt, opts gateway.Options) (*models.RawModelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &models.RawModelResponse{Model: "fake/model", Text: f.reply, Status: http.StatusOK}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, p prompts.Prompt, opts gateway.Options, onUpdate func(string)) (string, error) {
	var acc strings.Builder
	for _, c := range f.chunks {
		acc.WriteString(c)
		onUpdate(acc.String())
	}
	return acc.String(), nil
}

func newTestServer(t *testing.T, llm *fakeLLM) *Server {
	t.Helper()
	log := zap.NewNop()
	dir := t.TempDir()

	conn, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	flight := &services.Flight{}
	return NewServer(Deps{
		Quiz:       services.NewQuizService(llm, flight, log),
		Flashcards: services.NewFlashcardService(llm, flight, log),
		MindMaps:   services.NewMindMapService(llm, flight, log),
		Summaries:  services.NewSummaryService(llm, flight, log),
		Resume:     services.NewResumeService(llm, flight, log),
		Tests:      services.NewTestSessionStore(),
		Streams:    services.NewStreamRegistry(),
		Extraction: extraction.NewService(extraction.NewJobManager(time.Hour), dir, log),
		Decks:      decks.NewStore(conn, log),
	}, log)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const twoQuestions = `Question 1: Which planet is largest?
A) Mars
B) Jupiter
C) Venus
D) Mercury
Answer: B
Explanation: Jupiter is the largest planet.

Question 2: Which planet is closest to the Sun?
A) Mercury
B) Earth
C) Saturn
D) Neptune
Answer: A`

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	rec := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))
}

func TestQuizEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeLLM{reply: twoQuestions})

	rec := do(t, s, http.MethodPost, "/api/quiz", map[string]any{"topic": "Planets", "count": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[services.QuizResult](t, rec)
	assert.Equal(t, 2, result.Requested)
	assert.Equal(t, 2, result.Obtained)
	assert.Equal(t, "B", result.Questions[0].CorrectAnswer)
	assert.Equal(t, "fake/model", result.Model)
}

func TestQuizEndpointRejectsBadInput(t *testing.T) {
	llm := &fakeLLM{reply: twoQuestions}
	s := newTestServer(t, llm)

	rec := do(t, s, http.MethodPost, "/api/quiz", map[string]any{"count": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "user_input", body["kind"])

	req := httptest.NewRequest(http.MethodPost, "/api/quiz", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	s.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Zero(t, llm.calls)
}

func TestQuizEndpointUnparsableReply(t *testing.T) {
	s := newTestServer(t, &fakeLLM{reply: "I cannot help with that."})
	rec := do(t, s, http.MethodPost, "/api/quiz", map[string]any{"topic": "Planets"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	questions := []models.Question{
		{Text: "2+2?", Options: []string{"3", "4", "5", "6"}, CorrectAnswer: "B"},
		{Text: "Capital of France?", Options: []string{"Paris", "Rome", "Berlin", "Madrid"}, CorrectAnswer: "A"},
		{Text: "incomplete", Options: []string{"x"}},
	}

	rec := do(t, s, http.MethodPost, "/api/tests", map[string]any{"questions": questions})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[models.TestSession](t, rec)
	require.Len(t, session.Questions, 2)
	base := "/api/tests/" + session.ID

	rec = do(t, s, http.MethodPost, base+"/answers", map[string]any{"index": 0, "answer": "b"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, base+"/answers", map[string]any{"index": 1, "answer": "C"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, base+"/answers", map[string]any{"index": 5, "answer": "A"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	score := decode[models.TestScore](t, rec)
	assert.Equal(t, 1, score.Correct)
	assert.Equal(t, 2, score.Total)
	assert.Equal(t, []int{1}, score.Incorrect)

	rec = do(t, s, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[models.TestSession](t, rec)
	assert.False(t, reset.Submitted)
	assert.Empty(t, reset.Answers)
	assert.Len(t, reset.Questions, 2)

	rec = do(t, s, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlashcardsCSVEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	rec := do(t, s, http.MethodPost, "/api/flashcards/csv", map[string]any{
		"flashcards": []models.Flashcard{{Category: "Bio", Front: `Say "hi"`, Back: "hello"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "flashcards.csv")
	assert.Equal(t, "Category,Question,Answer\n\"Bio\",\"Say \"\"hi\"\"\",\"hello\"\n", rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/flashcards/csv", map[string]any{"flashcards": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMindMapPNGEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	rec := do(t, s, http.MethodPost, "/api/mindmap/png", models.MindMap{
		CentralTopic: "Cells",
		MainBranches: []models.MindMapBranch{{Title: "Organelles", Subtopics: []string{"Nucleus"}}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(rec.Body)
	require.NoError(t, err)
}

type sseEvent struct {
	name string
	data map[string]any
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = sseEvent{name: strings.TrimPrefix(line, "event: ")}
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func TestSummaryStreamEvents(t *testing.T) {
	s := newTestServer(t, &fakeLLM{chunks: []string{"Cells ", "divide."}})

	rec := do(t, s, http.MethodPost, "/api/summaries/stream", map[string]any{"text": "Mitosis is cell division."})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "start", events[0].name)
	assert.NotEmpty(t, events[0].data["stream_id"])
	assert.Equal(t, "update", events[1].name)
	assert.Equal(t, "Cells ", events[1].data["text"])
	assert.Equal(t, "Cells divide.", events[2].data["text"])
	assert.Equal(t, "complete", events[3].name)
	assert.Equal(t, "Cells divide.", events[3].data["text"])
	assert.Equal(t, false, events[3].data["partial"])
	assert.Zero(t, s.Streams.Active())
}

func TestSummaryStreamValidatesBeforeStreaming(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	rec := do(t, s, http.MethodPost, "/api/summaries/stream", map[string]any{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestStopStream(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	id, ctx, release := s.Streams.Register(context.Background())
	defer release()

	rec := do(t, s, http.MethodPost, "/api/summaries/stream/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	rec = do(t, s, http.MethodPost, "/api/summaries/stream/unknown/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtractionEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Photosynthesis converts light into chemical energy."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/start-extraction", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decode[map[string]string](t, rec)["job_id"]
	require.NotEmpty(t, jobID)

	var job extraction.Job
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/extraction-status/"+jobID, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &job) != nil {
			return false
		}
		return job.Status != extraction.StatusProcessing
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, extraction.StatusComplete, job.Status)
	assert.Contains(t, job.Text, "Photosynthesis")

	rec = do(t, s, http.MethodGet, "/api/extraction-status/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtractionRejectsUnsupportedFile(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "slides.pptx")
	require.NoError(t, err)
	_, _ = part.Write([]byte("binary"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/start-extraction", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeckEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})

	rec := do(t, s, http.MethodPost, "/api/decks", map[string]any{
		"name":  "Biology",
		"topic": "Cells",
		"flashcards": []models.Flashcard{
			{Category: "Bio", Front: "ATP?", Back: "Energy"},
			{Category: "Bio", Front: "DNA?", Back: "Genes"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	deck := decode[models.Deck](t, rec)
	assert.Equal(t, 2, deck.CardCount)

	rec = do(t, s, http.MethodGet, "/api/decks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]models.Deck](t, rec)
	require.Len(t, list["decks"], 1)

	base := "/api/decks/" + jsonNumber(deck.ID)
	rec = do(t, s, http.MethodGet, base+"/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[map[string]map[string]any](t, rec)
	cardID := int64(next["card"]["id"].(float64))

	rec = do(t, s, http.MethodPost, "/api/cards/"+jsonNumber(cardID)+"/review", map[string]string{"rating": "good"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/cards/"+jsonNumber(cardID)+"/review", map[string]string{"rating": "perfect"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, base+"/csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Bio","DNA?","Genes"`)

	rec = do(t, s, http.MethodGet, "/api/decks/999/next", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/decks/abc/next", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeExport(t *testing.T) {
	s := newTestServer(t, &fakeLLM{})
	report := models.CareerReport{
		Analysis:       models.ResumeAnalysis{Summary: "Strong backend profile."},
		TailoredResume: "JANE DOE",
	}

	rec := do(t, s, http.MethodPost, "/api/resume/export?format=txt", report)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Strong backend profile.")

	rec = do(t, s, http.MethodPost, "/api/resume/export?format=pdf&theme=ocean", report)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = do(t, s, http.MethodPost, "/api/resume/export?format=docx", report)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseRating(t *testing.T) {
	for raw, want := range map[string]int{"again": 1, "Hard": 2, " good ": 3, "easy": 4, "3": 3} {
		got, err := parseRating(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, int(got), raw)
	}
	for _, raw := range []string{"", "0", "5", "meh"} {
		_, err := parseRating(raw)
		assert.Error(t, err, raw)
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
