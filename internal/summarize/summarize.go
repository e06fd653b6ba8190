// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package summarize turns prompts into generated text through a configured
// language-model provider.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Backend abstracts one text-generation provider so tests can supply a mock.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is one generation call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Summarizer invokes a Backend once per call with the configured timeout.
type Summarizer struct {
	Backend Backend
	Config  types.SummarizerConfig
	Logger  *slog.Logger
}

// New returns a Summarizer for the provider named in cfg.
func New(cfg types.SummarizerConfig, logger *slog.Logger) (*Summarizer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := &http.Client{}

	var backend Backend
	switch cfg.Provider {
	case types.ProviderClaude, "":
		backend = &ClaudeBackend{APIKey: cfg.APIKey, Model: cfg.Model, Client: client, HTTP: cfg.HTTPConfig, Logger: logger}
	case types.ProviderOpenAI:
		backend = &OpenAIBackend{APIKey: cfg.APIKey, Model: cfg.Model, Client: client, HTTP: cfg.HTTPConfig, Logger: logger}
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
	return &Summarizer{Backend: backend, Config: cfg, Logger: logger}, nil
}

// Summarize sends p to the backend and returns the generated text. When
// maxTokens is not positive the configured limit is used. Every failure,
// including an empty response, is returned as an error matching
// types.ErrGeneration.
func (s *Summarizer) Summarize(ctx context.Context, p types.Prompt, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = s.Config.MaxTokens
	}
	if s.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.Timeout)
		defer cancel()
	}

	text, err := s.Backend.Generate(ctx, Request{
		Prompt:      p.Text,
		MaxTokens:   maxTokens,
		Temperature: s.Config.Temperature,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", generationError(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", generationError(fmt.Errorf("%s returned empty text", s.Backend.Name()))
	}
	return text, nil
}

func generationError(err error) error {
	return &types.UpstreamError{Kind: types.ErrGeneration, Stage: "summarize", Err: err}
}
