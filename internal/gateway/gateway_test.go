package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/prompts"
)

// fakeUpstream scripts one response per call, keyed by model name. Calls
// beyond the script get the last entry.
type fakeUpstream struct {
	mu      sync.Mutex
	scripts map[string][]int
	calls   []string
	headers http.Header
}

func (f *fakeUpstream) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.calls = append(f.calls, body.Model)
		f.headers = r.Header.Clone()
		script := f.scripts[body.Model]
		status := http.StatusOK
		if len(script) > 0 {
			status = script[0]
			if len(script) > 1 {
				f.scripts[body.Model] = script[1:]
			}
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"message":"status %d","type":"upstream"}}`, status)
			return
		}
		fmt.Fprintf(w, `{"id":"x","object":"chat.completion","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":"answer from %s"},"finish_reason":"stop"}]}`, body.Model, body.Model)
	}
}

func (f *fakeUpstream) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, handler http.Handler, sleeps *recordedSleeps) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		APIKey:        "test-key",
		BaseURL:       srv.URL + "/v1",
		Models:        []string{"model-a", "model-b", "model-c"},
		MaxRetries:    3,
		BackoffBase:   100 * time.Millisecond,
		BackoffFactor: 2,
		Referer:       "https://citewise.test",
		Title:         "CiteWise",
	}
	return New(cfg, zap.NewNop(), WithSleep(sleeps.sleep))
}

func TestCompleteFallsBackBeforeBackoff(t *testing.T) {
	up := &fakeUpstream{scripts: map[string][]int{"model-a": {http.StatusTooManyRequests}}}
	sleeps := &recordedSleeps{}
	client := newTestClient(t, up.handler(t), sleeps)

	resp, err := client.Complete(context.Background(), prompts.Prompt{User: "hi"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "model-b", resp.Model)
	assert.Equal(t, "answer from model-b", resp.Text)
	assert.Equal(t, []string{"model-a", "model-b"}, up.callLog())
	assert.Empty(t, sleeps.delays, "no delay before trying the next model")
	assert.Equal(t, "https://citewise.test", up.headers.Get("HTTP-Referer"))
	assert.Equal(t, "CiteWise", up.headers.Get("X-Title"))
	assert.Equal(t, "Bearer test-key", up.headers.Get("Authorization"))
}

func TestCompleteBacksOffBetweenRounds(t *testing.T) {
	up := &fakeUpstream{scripts: map[string][]int{
		"model-a": {http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK},
		"model-b": {http.StatusBadGateway},
		"model-c": {http.StatusTooManyRequests},
	}}
	sleeps := &recordedSleeps{}
	client := newTestClient(t, up.handler(t), sleeps)

	resp, err := client.Complete(context.Background(), prompts.Prompt{User: "hi"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "model-a", resp.Model)
	assert.Equal(t, []string{
		"model-a", "model-b", "model-c",
		"model-a", "model-b", "model-c",
		"model-a",
	}, up.callLog())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.delays)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	up := &fakeUpstream{scripts: map[string][]int{
		"model-a": {http.StatusTooManyRequests},
		"model-b": {http.StatusTooManyRequests},
		"model-c": {http.StatusTooManyRequests},
	}}
	sleeps := &recordedSleeps{}
	client := newTestClient(t, up.handler(t), sleeps)

	_, err := client.Complete(context.Background(), prompts.Prompt{User: "hi"}, Options{})
	require.Error(t, err)

	assert.True(t, apperr.Is(err, apperr.KindRateLimited))
	assert.Len(t, up.callLog(), 12)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
	}, sleeps.delays)
}

func TestCompleteTerminalStatus(t *testing.T) {
	up := &fakeUpstream{scripts: map[string][]int{"model-a": {http.StatusUnauthorized}}}
	sleeps := &recordedSleeps{}
	client := newTestClient(t, up.handler(t), sleeps)

	_, err := client.Complete(context.Background(), prompts.Prompt{User: "hi"}, Options{})
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindHTTP, ae.Kind)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, []string{"model-a"}, up.callLog())
	assert.Empty(t, sleeps.delays)
}

func TestCompleteEmptyChoicesAdvances(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body.Model == "model-a" {
			fmt.Fprint(w, `{"id":"x","choices":[]}`)
			return
		}
		fmt.Fprint(w, `{"id":"y","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	})
	client := newTestClient(t, handler, &recordedSleeps{})

	resp, err := client.Complete(context.Background(), prompts.Prompt{User: "hi"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "model-b", resp.Model)
	assert.Equal(t, "ok", resp.Text)
}

func TestCompleteUnconfigured(t *testing.T) {
	client := New(Config{Models: []string{"m"}}, nil)
	_, err := client.Complete(context.Background(), prompts.Prompt{User: "hi"}, Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func writeChunk(w http.ResponseWriter, content string) {
	fmt.Fprintf(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", content)
	w.(http.Flusher).Flush()
}

func TestStreamAccumulates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"s\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		writeChunk(w, "Hello ")
		writeChunk(w, "world")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	client := newTestClient(t, handler, &recordedSleeps{})

	var seen []string
	final, err := client.Stream(context.Background(), prompts.Prompt{User: "hi"}, Options{}, func(acc string) {
		seen = append(seen, acc)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello ", "Hello world"}, seen)
	assert.Equal(t, "Hello world", final)
}

func TestStreamAbortKeepsPartialText(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "Partial ")
		writeChunk(w, "answer")
		<-r.Context().Done()
	})
	client := newTestClient(t, handler, &recordedSleeps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	final, err := client.Stream(ctx, prompts.Prompt{User: "hi"}, Options{}, func(acc string) {
		if acc == "Partial answer" {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "Partial answer", final)
}

func TestStreamOpenFallsBack(t *testing.T) {
	up := &fakeUpstream{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		up.mu.Lock()
		up.calls = append(up.calls, body.Model)
		up.mu.Unlock()
		if body.Model == "model-a" {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "ok")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	client := newTestClient(t, handler, &recordedSleeps{})

	final, err := client.Stream(context.Background(), prompts.Prompt{User: "hi"}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", final)
	assert.Equal(t, []string{"model-a", "model-b"}, up.callLog())
}

func TestBackoffSchedule(t *testing.T) {
	c := New(Config{BackoffBase: time.Second, BackoffFactor: 3}, nil)
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 3*time.Second, c.backoff(2))
	assert.Equal(t, 9*time.Second, c.backoff(3))
}

func TestDescribeSendsImagesBeforeInstruction(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"page text"},"finish_reason":"stop"}]}`)
	})
	client := newTestClient(t, handler, &recordedSleeps{})

	resp, err := client.Describe(context.Background(), "Transcribe this page.", []string{"data:image/png;base64,AAAA"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "page text", resp.Text)
	assert.Equal(t, "model-a", resp.Model)

	require.Len(t, got.Messages, 1)
	parts := got.Messages[0].Content
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[0].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", parts[0].ImageURL.URL)
	assert.Equal(t, "text", parts[1].Type)
	assert.Equal(t, "Transcribe this page.", parts[1].Text)
}
