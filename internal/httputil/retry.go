// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages: bounded retry
// with exponential backoff and classification of failures into the
// pipeline's error taxonomy.
package httputil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// RetryBaseDelay controls the base duration for exponential backoff.
// Tests override this to avoid real sleeps.
var RetryBaseDelay = time.Second

// MaxRetryAfter caps a provider-supplied Retry-After delay.
var MaxRetryAfter = time.Minute

const defaultMaxAttempts = 3

// Request describes one retryable call.
type Request struct {
	// Stage names the pipeline stage for error reporting ("search", "fetch").
	Stage string

	// MaxAttempts is the total number of attempts (default 3).
	MaxAttempts int

	// Logger receives retry diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Do executes req and retries transport failures, HTTP 5xx, and HTTP 429
// with exponential backoff: RetryBaseDelay, then doubling per attempt. A 429
// that carries a Retry-After header waits for that delay instead.
//
// On success the response (status below 400) is returned and the caller
// owns its body. On failure Do returns a *types.UpstreamError whose Kind is
// types.ErrRateLimited for 429 and types.ErrUpstreamUnavailable for
// everything else, including a context deadline. A cancelled context is
// returned as ctx.Err() so callers can tell cancellation from failure.
func Do(ctx context.Context, client *http.Client, req *http.Request, r Request) (*http.Response, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	for attempt := 1; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		var failure *types.UpstreamError

		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, contextError(r.Stage, ctxErr)
			}
			failure = &types.UpstreamError{Kind: types.ErrUpstreamUnavailable, Stage: r.Stage, Err: err}
		case resp.StatusCode == http.StatusTooManyRequests:
			failure = &types.UpstreamError{
				Kind:       types.ErrRateLimited,
				Stage:      r.Stage,
				StatusCode: resp.StatusCode,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			drain(resp)
		case resp.StatusCode >= 500:
			failure = &types.UpstreamError{Kind: types.ErrUpstreamUnavailable, Stage: r.Stage, StatusCode: resp.StatusCode}
			drain(resp)
		case resp.StatusCode >= 400:
			failure = &types.UpstreamError{Kind: types.ErrUpstreamUnavailable, Stage: r.Stage, StatusCode: resp.StatusCode}
			drain(resp)
		default:
			return resp, nil
		}

		if attempt >= maxAttempts || !types.Retryable(failure) {
			return nil, failure
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * RetryBaseDelay
		if failure.RetryAfter > 0 {
			backoff = min(failure.RetryAfter, MaxRetryAfter)
		}
		logger.Warn("retrying upstream call",
			"stage", r.Stage, "attempt", attempt, "max_attempts", maxAttempts,
			"backoff", backoff, "error", failure)

		select {
		case <-ctx.Done():
			return nil, contextError(r.Stage, ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// contextError maps a context error: a deadline is an upstream timeout,
// a cancellation is passed through.
func contextError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.UpstreamError{Kind: types.ErrUpstreamUnavailable, Stage: stage, Err: err}
	}
	return err
}

// parseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. It returns 0 when the header is absent or invalid.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
