package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"citewise/internal/apperr"
)

// Client submits documents to an extraction server and polls for the result.
type Client struct {
	baseURL     string
	http        *http.Client
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithPollSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient polls every interval, giving up after maxAttempts status checks.
func NewClient(baseURL string, interval time.Duration, maxAttempts int, log *zap.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log.Named("extraction-client"),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract uploads the document and waits for its text.
func (c *Client) Extract(ctx context.Context, fileName string, r io.Reader) (string, error) {
	jobID, err := c.Start(ctx, fileName, r)
	if err != nil {
		return "", err
	}
	return c.Wait(ctx, jobID)
}

// Start uploads a document and returns the server's job id.
func (c *Client) Start(ctx context.Context, fileName string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/start-extraction", &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", apperr.New(apperr.KindMalformedResponseShape, "start-extraction response has no job_id", nil)
	}
	c.log.Debug("extraction started", zap.String("job_id", out.JobID), zap.String("file", fileName))
	return out.JobID, nil
}

// Wait polls the job status until it completes, fails, or the attempt bound
// or ctx ends the wait. Transient errors are retried within the bound.
func (c *Client) Wait(ctx context.Context, jobID string) (string, error) {
	var last error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.interval); err != nil {
				return "", waitError(err)
			}
		}

		job, err := c.status(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", waitError(ctx.Err())
		case err != nil && (apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindHTTP)):
			return "", err
		case err != nil:
			c.log.Warn("status poll failed", zap.String("job_id", jobID), zap.Int("attempt", attempt), zap.Error(err))
			last = err
			continue
		}

		switch job.Status {
		case StatusComplete:
			return job.Text, nil
		case StatusFailed:
			return "", apperr.New(apperr.KindJobFailed, job.Error, nil)
		case StatusProcessing:
		default:
			c.log.Warn("unknown job status", zap.String("job_id", jobID), zap.String("status", job.Status))
		}
	}

	return "", apperr.New(apperr.KindTimeout,
		fmt.Sprintf("extraction %s not finished after %d attempts", jobID, c.maxAttempts), last)
}

func (c *Client) status(ctx context.Context, jobID string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/extraction-status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	var job Job
	if err := c.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.KindTransport, req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.New(apperr.KindNotFound, "extraction job not found", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return &apperr.Error{Kind: apperr.KindTransport, Message: "extraction server error", Status: resp.StatusCode,
				Err: errors.New(strings.TrimSpace(string(msg)))}
		}
		return apperr.HTTPError(resp.StatusCode, errors.New(strings.TrimSpace(string(msg))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.New(apperr.KindParseFailure, "decode extraction response", err)
	}
	return nil
}

func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.KindTimeout, "extraction wait deadline exceeded", err)
	}
	return apperr.New(apperr.KindTransport, "extraction wait cancelled", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
