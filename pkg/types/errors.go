// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy. Concrete errors wrap one of these sentinels so callers can
// classify failures with errors.Is.
var (
	// ErrMissingField reports incomplete user input. The caller must not
	// proceed to search.
	ErrMissingField = errors.New("missing field")

	// ErrUpstreamUnavailable reports a network, transport, or timeout
	// failure talking to an upstream service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited reports that an upstream service throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedResponse reports an upstream response that lacks the
	// expected shape. It is not retryable.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrGeneration reports a failed summarization call.
	ErrGeneration = errors.New("generation failed")
)

// MissingFieldError names the blank input fields.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field: %s", strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrMissingField.
func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// UpstreamError describes a failed call to an external service.
type UpstreamError struct {
	// Kind is one of the taxonomy sentinels.
	Kind error

	// Stage names the pipeline stage ("search", "fetch", "summarize").
	Stage string

	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int

	// RetryAfter is the provider-supplied delay for rate-limited responses.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the taxonomy kind and the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the taxonomy allows retrying err:
// UpstreamUnavailable and RateLimited are retryable, everything else is not.
// An upstream client error (HTTP 4xx other than 429) is never retryable.
func Retryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.StatusCode >= 400 && ue.StatusCode < 500 && ue.StatusCode != 429 {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrRateLimited)
}
