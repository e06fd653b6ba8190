// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: ncbi-api-key, anthropic-api-key, openai-api-key.
package secrets

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Key file names.
const (
	NCBIAPIKey      = "ncbi-api-key"
	AnthropicAPIKey = "anthropic-api-key"
	OpenAIAPIKey    = "openai-api-key"
)

// DefaultDir is the secrets directory relative to the working directory.
const DefaultDir = ".secrets"

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged as warnings but do not abort.
func Load(dir string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", "name", name, "error", err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills API keys in cfg that are still empty after flags, environment,
// and config file have been read. Values already set win.
func Apply(cfg *types.AppConfig, secrets map[string]string) {
	if cfg.PubMed.APIKey == "" {
		cfg.PubMed.APIKey = secrets[NCBIAPIKey]
	}
	if cfg.Summarizer.APIKey == "" {
		cfg.Summarizer.APIKey = secrets[ProviderKey(cfg.Summarizer.Provider)]
	}
}

// ProviderKey returns the key file name holding the API key for a
// summarization provider, or "" for an unknown provider.
func ProviderKey(provider string) string {
	switch provider {
	case types.ProviderClaude:
		return AnthropicAPIKey
	case types.ProviderOpenAI:
		return OpenAIAPIKey
	}
	return ""
}
