// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func testConfig(provider string) types.SummarizerConfig {
	return types.SummarizerConfig{
		HTTPConfig:  types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "test/0.1", MaxAttempts: 1},
		Provider:    provider,
		Model:       "test-model",
		APIKey:      "secret",
		MaxTokens:   1000,
		Temperature: 0.7,
		Concurrency: 5,
	}
}

// withURL points a provider endpoint at ts for the duration of the test.
func withURL(t *testing.T, target *string, ts *httptest.Server) {
	t.Helper()
	old := *target
	*target = ts.URL
	t.Cleanup(func() { *target = old })
}

type mockBackend struct {
	text string
	err  error
	got  Request
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Generate(ctx context.Context, req Request) (string, error) {
	m.got = req
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.text, m.err
}

func TestSummarizeClaude(t *testing.T) {
	var got claudeRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"  1. Summary of Findings: ...\n"}]}`))
	}))
	defer ts.Close()
	withURL(t, &claudeAPIURL, ts)

	s, err := New(testConfig(types.ProviderClaude), nil)
	require.NoError(t, err)

	text, err := s.Summarize(context.Background(), types.Prompt{Text: "analyze this"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "1. Summary of Findings: ...", text)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "analyze this", got.Messages[0].Content)
}

func TestSummarizeOpenAI(t *testing.T) {
	var got openAIRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"structured analysis"}}]}`))
	}))
	defer ts.Close()
	withURL(t, &openAIAPIURL, ts)

	s, err := New(testConfig(types.ProviderOpenAI), nil)
	require.NoError(t, err)

	text, err := s.Summarize(context.Background(), types.Prompt{Text: "p"}, 250)
	require.NoError(t, err)
	assert.Equal(t, "structured analysis", text)
	assert.Equal(t, 250, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "p", got.Messages[1].Content)
}

func TestSummarizeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		also   error
	}{
		{"server error", http.StatusInternalServerError, `{}`, types.ErrUpstreamUnavailable},
		{"quota", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error"}}`, types.ErrRateLimited},
		{"bad key", http.StatusUnauthorized, `{}`, nil},
		{"empty content", http.StatusOK, `{"content":[]}`, nil},
		{"whitespace text", http.StatusOK, `{"content":[{"type":"text","text":"  "}]}`, nil},
		{"not json", http.StatusOK, `oops`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()
			withURL(t, &claudeAPIURL, ts)

			s, err := New(testConfig(types.ProviderClaude), nil)
			require.NoError(t, err)

			text, err := s.Summarize(context.Background(), types.Prompt{Text: "p"}, 0)
			require.Error(t, err)
			assert.Empty(t, text)
			assert.ErrorIs(t, err, types.ErrGeneration)
			if tt.also != nil {
				assert.ErrorIs(t, err, tt.also)
			}
		})
	}
}

func TestSummarizeTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()
	withURL(t, &claudeAPIURL, ts)

	cfg := testConfig(types.ProviderClaude)
	cfg.Timeout = 50 * time.Millisecond
	s, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), types.Prompt{Text: "p"}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGeneration)
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

func TestSummarizeCancelled(t *testing.T) {
	s := &Summarizer{Backend: &mockBackend{text: "x"}, Config: testConfig("mock")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Summarize(ctx, types.Prompt{Text: "p"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, types.ErrGeneration))
}

func TestSummarizeBackendError(t *testing.T) {
	m := &mockBackend{err: errors.New("model overloaded")}
	s := &Summarizer{Backend: m, Config: testConfig("mock")}

	_, err := s.Summarize(context.Background(), types.Prompt{Text: "p"}, 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGeneration)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, 42, m.got.MaxTokens)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(testConfig("palm"), nil)
	assert.Error(t, err)
}
