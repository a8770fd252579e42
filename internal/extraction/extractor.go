// Package extraction pulls plain text out of uploaded documents, both as a
// background job service and as a polling client for that service.
package extraction

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"citewise/internal/apperr"
)

// PageReader reads PDFs that have no text layer, such as scans.
type PageReader interface {
	ReadPDF(ctx context.Context, path string) (string, error)
}

// Extractor reads text from PDF and plain text files. When OCR is set it
// is used for PDFs whose text layer is empty.
type Extractor struct {
	OCR PageReader
}

var textExtensions = map[string]bool{".txt": true, ".md": true, ".text": true}

// Supported reports whether the file name has an extension ExtractFile
// understands.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".pdf" || textExtensions[ext]
}

func (e Extractor) ExtractFile(path string) (string, error) {
	return e.ExtractFileContext(context.Background(), path)
}

func (e Extractor) ExtractFileContext(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch {
	case ext == ".pdf":
		text, err = readPDFText(path)
		if err == nil && strings.TrimSpace(text) == "" && e.OCR != nil {
			text, err = e.OCR.ReadPDF(ctx, path)
		}
	case textExtensions[ext]:
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	default:
		return "", apperr.UserInput(fmt.Sprintf("unsupported file type %q", ext))
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}
	return text, nil
}

func readPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	if r.NumPage() == 0 {
		return "", fmt.Errorf("pdf has no pages")
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(data), nil
}

// Service stores uploads and extracts them in the background.
type Service struct {
	jobs      *JobManager
	extractor Extractor
	dir       string
	timeout   time.Duration
	log       *zap.Logger
}

type ServiceOption func(*Service)

// WithOCR enables the scanned-PDF fallback.
func WithOCR(r PageReader) ServiceOption {
	return func(s *Service) { s.extractor.OCR = r }
}

// WithJobTimeout bounds a single background extraction.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

func NewService(jobs *JobManager, uploadDir string, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{jobs: jobs, dir: uploadDir, timeout: 10 * time.Minute, log: log.Named("extraction")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Jobs() *JobManager {
	return s.jobs
}

// Start saves the upload and begins extraction. The returned job is in the
// processing state.
func (s *Service) Start(fileName string, r io.Reader) (*Job, error) {
	if !Supported(fileName) {
		return nil, apperr.UserInput(fmt.Sprintf("unsupported file type %q", filepath.Ext(fileName)))
	}

	path := filepath.Join(s.dir, uuid.NewString()+strings.ToLower(filepath.Ext(fileName)))
	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(path)
		return nil, fmt.Errorf("save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("save upload: %w", err)
	}

	job := s.jobs.CreateJob(fileName)
	go s.run(job.ID, fileName, path)
	return job, nil
}

func (s *Service) run(jobID, fileName, path string) {
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	log := s.log.With(zap.String("job_id", jobID), zap.String("file", fileName))
	text, err := s.extractor.ExtractFileContext(ctx, path)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		s.jobs.MarkFailed(jobID, err.Error())
		return
	}
	log.Info("extraction complete", zap.Int("chars", len(text)))
	s.jobs.MarkComplete(jobID, text)
}
