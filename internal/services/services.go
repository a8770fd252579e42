package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/singleflight"

	"citewise/internal/gateway"
	"citewise/internal/models"
	"citewise/internal/prompts"
)

// Completer is the slice of the model gateway the services use.
type Completer interface {
	Complete(ctx context.Context, p prompts.Prompt, opts gateway.Options) (*models.RawModelResponse, error)
	Stream(ctx context.Context, p prompts.Prompt, opts gateway.Options, onUpdate func(accumulated string)) (string, error)
}

// ProgressCallback reports the stage a multi-step operation has reached.
type ProgressCallback func(stage string, current, total int)

// Flight collapses concurrent identical requests into one execution whose
// result every caller receives.
type Flight struct {
	group singleflight.Group
}

// share runs fn once per (op, request) among concurrent callers. shared is
// true when the result came from another caller's execution.
//
// fn runs detached from the caller's cancellation so one caller going away
// does not fail the others; each caller still stops waiting when its own ctx
// ends. Deadlines inside fn come from the gateway's per-call timeout.
func share[T any](ctx context.Context, f *Flight, op string, request any, fn func(ctx context.Context) (T, error)) (result T, shared bool, err error) {
	key, err := flightKey(op, request)
	if err != nil {
		return result, false, err
	}
	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return result, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return result, false, ctx.Err()
	}
}

func flightKey(op string, request any) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("digest %s request: %w", op, err)
	}
	sum := sha256.Sum256(body)
	return op + ":" + hex.EncodeToString(sum[:]), nil
}

var (
	thinkBlock  = regexp.MustCompile(`(?is)<think>.*?</think>`)
	outerFences = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*\\s*\n(.*?)\n?```$")
)

// cleanText strips reasoning blocks and a fence wrapping the whole reply
// from a free-text completion.
func cleanText(raw string) string {
	s := strings.TrimSpace(thinkBlock.ReplaceAllString(raw, ""))
	if m := outerFences.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	return s
}
