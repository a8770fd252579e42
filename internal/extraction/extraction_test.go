package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citewise/internal/apperr"
)

func TestJobManagerLifecycleAndPrune(t *testing.T) {
	m := NewJobManager(time.Hour)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	done := m.CreateJob("notes.pdf")
	failed := m.CreateJob("broken.pdf")
	running := m.CreateJob("big.pdf")
	assert.Equal(t, StatusProcessing, done.Status)

	m.MarkComplete(done.ID, "hello")
	m.MarkFailed(failed.ID, "  ")

	got, ok := m.GetJob(done.ID)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, "hello", got.Text)

	got.Text = "mutated"
	again, _ := m.GetJob(done.ID)
	assert.Equal(t, "hello", again.Text, "GetJob returns a snapshot")

	bad, _ := m.GetJob(failed.ID)
	assert.Equal(t, "extraction failed", bad.Error)

	clock = clock.Add(30 * time.Minute)
	assert.Equal(t, 0, m.Prune())

	clock = clock.Add(2 * time.Hour)
	assert.Equal(t, 2, m.Prune())
	_, ok = m.GetJob(done.ID)
	assert.False(t, ok)
	_, ok = m.GetJob(running.ID)
	assert.True(t, ok, "processing jobs are never pruned")
}

func TestExtractorTextFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  Lecture notes on mitosis.\n"), 0o644))

	text, err := Extractor{}.ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Lecture notes on mitosis.", text)

	_, err = Extractor{}.ExtractFile(filepath.Join(dir, "slides.pptx"))
	assert.True(t, apperr.Is(err, apperr.KindUserInput))

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("   "), 0o644))
	_, err = Extractor{}.ExtractFile(empty)
	assert.Error(t, err)
}

type stubOCR struct {
	calls int
	text  string
}

func (s *stubOCR) ReadPDF(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.text, nil
}

func TestExtractorFallsBackToOCRForScans(t *testing.T) {
	// A page with a drawing and no text stands in for a scanned document.
	path := filepath.Join(t.TempDir(), "scan.pdf")
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.Rect(20, 20, 100, 60, "D")
	require.NoError(t, doc.OutputFileAndClose(path))

	ocr := &stubOCR{text: "Transcribed lecture notes"}
	text, err := Extractor{OCR: ocr}.ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Transcribed lecture notes", text)
	assert.Equal(t, 1, ocr.calls)

	_, err = Extractor{}.ExtractFile(path)
	assert.Error(t, err, "without OCR a scan has no extractable text")
}

func TestServiceRunsJobInBackground(t *testing.T) {
	svc := NewService(NewJobManager(time.Hour), t.TempDir(), zap.NewNop())

	job, err := svc.Start("chapter.txt", strings.NewReader("Chapter one text"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := svc.Jobs().GetJob(job.ID)
		return ok && got.Status == StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := svc.Jobs().GetJob(job.ID)
	assert.Equal(t, "Chapter one text", got.Text)

	_, err = svc.Start("image.png", strings.NewReader("x"))
	assert.True(t, apperr.Is(err, apperr.KindUserInput))
}

// statusServer answers start-extraction with a fixed job id and replays the
// given statuses on each poll; the last one repeats.
func statusServer(t *testing.T, statuses ...Job) (*httptest.Server, *int) {
	t.Helper()
	var (
		mu    sync.Mutex
		polls int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start-extraction", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "doc.pdf", header.Filename)
		assert.Equal(t, "pdf bytes", string(body))

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
	})
	mux.HandleFunc("/api/extraction-status/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/job-1") {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		idx := polls
		polls++
		mu.Unlock()
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		_ = json.NewEncoder(w).Encode(statuses[idx])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func countingSleep(n *int) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*n++
		return ctx.Err()
	}
}

func TestClientExtractCompletes(t *testing.T) {
	srv, polls := statusServer(t,
		Job{Status: StatusProcessing},
		Job{Status: StatusProcessing},
		Job{Status: StatusComplete, Text: "extracted"},
	)
	var sleeps int
	client := NewClient(srv.URL, 3*time.Second, 10, zap.NewNop(), WithPollSleep(countingSleep(&sleeps)))

	text, err := client.Extract(context.Background(), "doc.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, "extracted", text)
	assert.Equal(t, 3, *polls)
	assert.Equal(t, 2, sleeps)
}

func TestClientJobFailed(t *testing.T) {
	srv, _ := statusServer(t, Job{Status: StatusFailed, Error: "corrupt pdf"})
	var sleeps int
	client := NewClient(srv.URL, time.Second, 5, zap.NewNop(), WithPollSleep(countingSleep(&sleeps)))

	_, err := client.Extract(context.Background(), "doc.pdf", strings.NewReader("pdf bytes"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindJobFailed))
	assert.Contains(t, err.Error(), "corrupt pdf")
}

func TestClientWaitIsBounded(t *testing.T) {
	srv, polls := statusServer(t, Job{Status: StatusProcessing})
	var sleeps int
	client := NewClient(srv.URL, time.Second, 4, zap.NewNop(), WithPollSleep(countingSleep(&sleeps)))

	_, err := client.Wait(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.Equal(t, 4, *polls)
	assert.Equal(t, 3, sleeps)
}

func TestClientWaitUnknownJob(t *testing.T) {
	srv, _ := statusServer(t, Job{Status: StatusProcessing})
	client := NewClient(srv.URL, time.Second, 4, zap.NewNop())

	_, err := client.Wait(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestClientWaitHonoursContext(t *testing.T) {
	srv, _ := statusServer(t, Job{Status: StatusProcessing})
	client := NewClient(srv.URL, 50*time.Millisecond, 1000, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err := client.Wait(ctx, "job-1")
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
}
