// Package gateway talks to an OpenAI-compatible chat completion endpoint
// with an ordered list of fallback models.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/models"
	"citewise/internal/prompts"
)

// ErrUnavailable is returned when no API key or model list is configured.
var ErrUnavailable = errors.New("model gateway is not configured")

type Config struct {
	APIKey  string
	BaseURL string
	// Models is the preference list; the first entry is tried first.
	Models        []string
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffFactor float64
	// Timeout bounds a single non-streaming call.
	Timeout time.Duration
	Referer string
	Title   string
}

// Options tune one call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

type Client struct {
	api    *openai.Client
	cfg    Config
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	models []string
}

type Option func(*Client)

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithHTTPClient sets the transport used for completion calls. Referer and
// title headers are still added on top of it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.api = newAPI(c.cfg, hc)
	}
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}

	c := &Client{
		cfg:    cfg,
		log:    log.Named("gateway"),
		sleep:  sleepContext,
		models: cleanModels(cfg.Models),
	}
	if cfg.APIKey != "" {
		c.api = newAPI(cfg, &http.Client{})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newAPI(cfg Config, hc *http.Client) *openai.Client {
	if cfg.APIKey == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	headers := map[string]string{}
	if cfg.Referer != "" {
		headers["HTTP-Referer"] = cfg.Referer
	}
	if cfg.Title != "" {
		headers["X-Title"] = cfg.Title
	}
	wrapped := *hc
	wrapped.Transport = &headerTransport{base: base, headers: headers}
	oc.HTTPClient = &wrapped

	return openai.NewClientWithConfig(oc)
}

func (c *Client) disabled() bool {
	return c.api == nil || len(c.models) == 0
}

// Models returns the configured preference list.
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}

// Complete sends a non-streaming completion, falling back across models.
func (c *Client) Complete(ctx context.Context, p prompts.Prompt, opts Options) (*models.RawModelResponse, error) {
	return c.complete(ctx, "complete", func(model string) openai.ChatCompletionRequest {
		return c.request(model, p, opts)
	})
}

// Describe sends images, as data URIs or URLs, followed by an instruction
// to a vision-capable model. It follows the same fallback policy as
// Complete.
func (c *Client) Describe(ctx context.Context, instruction string, images []string, opts Options) (*models.RawModelResponse, error) {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	for _, uri := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: uri, Detail: openai.ImageURLDetailAuto},
		})
	}
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: instruction})

	return c.complete(ctx, "describe", func(model string) openai.ChatCompletionRequest {
		return openai.ChatCompletionRequest{
			Model:       model,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
			Messages: []openai.ChatCompletionMessage{{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			}},
		}
	})
}

func (c *Client) complete(ctx context.Context, op string, build func(model string) openai.ChatCompletionRequest) (*models.RawModelResponse, error) {
	if c.disabled() {
		return nil, ErrUnavailable
	}

	var out *models.RawModelResponse
	err := c.withFallback(ctx, op, func(ctx context.Context, model string) error {
		callCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		resp, err := c.api.CreateChatCompletion(callCtx, build(model))
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return apperr.New(apperr.KindInvalidResponseShape, "completion returned no choices", nil)
		}
		out = &models.RawModelResponse{
			Model:  model,
			Text:   resp.Choices[0].Message.Content,
			Status: http.StatusOK,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream opens a streaming completion and calls onUpdate with the full
// accumulated text after every chunk that carries content. Cancelling ctx
// ends the stream and returns the text received so far without an error.
func (c *Client) Stream(ctx context.Context, p prompts.Prompt, opts Options, onUpdate func(accumulated string)) (string, error) {
	if c.disabled() {
		return "", ErrUnavailable
	}

	var (
		stream *openai.ChatCompletionStream
		used   string
	)
	err := c.withFallback(ctx, "stream", func(ctx context.Context, model string) error {
		s, err := c.api.CreateChatCompletionStream(ctx, c.request(model, p, opts))
		if err != nil {
			return classify(err)
		}
		stream, used = s, model
		return nil
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", nil
		}
		return "", err
	}
	defer stream.Close()

	var acc strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.Canceled):
				c.log.Info("stream stopped", zap.String("model", used), zap.Int("chars", acc.Len()))
				return acc.String(), nil
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return acc.String(), apperr.New(apperr.KindTimeout, "stream deadline exceeded", ctx.Err())
			default:
				return acc.String(), apperr.New(apperr.KindTransport, "stream interrupted", err)
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		acc.WriteString(chunk.Choices[0].Delta.Content)
		if onUpdate != nil {
			onUpdate(acc.String())
		}
	}

	if acc.Len() == 0 {
		return "", apperr.New(apperr.KindInvalidResponseShape, "stream ended without content", nil)
	}
	return acc.String(), nil
}

func (c *Client) request(model string, p prompts.Prompt, opts Options) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.User,
	})
	return req
}

// withFallback runs attempt against every model in order. A retryable
// failure moves on to the next model at once; when a whole round fails the
// client backs off and starts over, at most MaxRetries more times.
func (c *Client) withFallback(ctx context.Context, op string, attempt func(ctx context.Context, model string) error) error {
	var last error
	for round := 0; round <= c.cfg.MaxRetries; round++ {
		if round > 0 {
			delay := c.backoff(round)
			c.log.Warn("all models failed, backing off",
				zap.String("op", op), zap.Int("round", round), zap.Duration("delay", delay), zap.Error(last))
			if err := c.sleep(ctx, delay); err != nil {
				return ctxError(err)
			}
		}

		for _, model := range c.models {
			err := attempt(ctx, model)
			if err == nil {
				if round > 0 || model != c.models[0] {
					c.log.Info("completion served by fallback", zap.String("op", op), zap.String("model", model), zap.Int("round", round))
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctxError(ctx.Err())
			}
			if !retryable(err) {
				c.log.Error("completion failed", zap.String("op", op), zap.String("model", model), zap.Error(err))
				return err
			}
			c.log.Warn("model attempt failed, trying next",
				zap.String("op", op), zap.String("model", model), zap.Error(err))
			last = err
		}
	}

	exhausted := &apperr.Error{
		Kind:    apperr.KindOf(last),
		Message: fmt.Sprintf("%d models failed after %d retries", len(c.models), c.cfg.MaxRetries),
		Err:     last,
	}
	var ae *apperr.Error
	if errors.As(last, &ae) {
		exhausted.Status = ae.Status
	}
	return exhausted
}

// backoff returns base * factor^(round-1).
func (c *Client) backoff(round int) time.Duration {
	return time.Duration(float64(c.cfg.BackoffBase) * math.Pow(c.cfg.BackoffFactor, float64(round-1)))
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindRateLimited, apperr.KindTransport, apperr.KindInvalidResponseShape:
		return true
	}
	return false
}

// classify maps go-openai errors onto apperr kinds. 5xx responses count as
// transport failures.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		return apperr.New(apperr.KindTransport, "completion request failed", err)
	case status >= 500:
		return &apperr.Error{Kind: apperr.KindTransport, Message: "upstream server error", Status: status, Err: err}
	default:
		return apperr.HTTPError(status, err)
	}
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.KindTimeout, "completion deadline exceeded", err)
	}
	return apperr.New(apperr.KindTransport, "completion cancelled", err)
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

func cleanModels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}
