// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// openAIAPIURL is the chat completions endpoint. Package-level var for test substitution.
var openAIAPIURL = "https://api.openai.com/v1/chat/completions"

// systemPrompt frames every OpenAI request.
const systemPrompt = "You are an evidence-based medicine assistant. Answer with structured, citation-grounded analysis."

// OpenAIBackend calls the OpenAI chat completions API.
type OpenAIBackend struct {
	APIKey string
	Model  string
	Client *http.Client
	HTTP   types.HTTPConfig
	Logger *slog.Logger
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Name returns the provider identifier.
func (o *OpenAIBackend) Name() string { return types.ProviderOpenAI }

// Generate sends the prompt as a user message and returns the first choice.
func (o *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	bodyBytes, err := json.Marshal(openAIRequest{
		Model:       o.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if o.HTTP.UserAgent != "" {
		httpReq.Header.Set("User-Agent", o.HTTP.UserAgent)
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.Do(ctx, client, httpReq, httputil.Request{
		Stage:       "summarize",
		MaxAttempts: o.HTTP.MaxAttempts,
		Logger:      o.Logger,
	})
	if err != nil {
		return "", fmt.Errorf("calling OpenAI API: %w", err)
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding OpenAI response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
