// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/evidence-engine/internal/secrets"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// envKeys are conventional provider variables consulted when neither the
// config, EVIDENCE_ENGINE_* variables, nor .secrets/ supply a key.
var envKeys = map[string]string{
	secrets.NCBIAPIKey:      "NCBI_API_KEY",
	secrets.AnthropicAPIKey: "ANTHROPIC_API_KEY",
	secrets.OpenAIAPIKey:    "OPENAI_API_KEY",
}

// setDefaults registers every configuration key so environment variables
// reach keys absent from the config file.
func setDefaults(v *viper.Viper) {
	d := types.DefaultAppConfig()

	v.SetDefault("pubmed.timeout", d.PubMed.Timeout)
	v.SetDefault("pubmed.user_agent", d.PubMed.UserAgent)
	v.SetDefault("pubmed.max_attempts", d.PubMed.MaxAttempts)
	v.SetDefault("pubmed.search_url", d.PubMed.SearchURL)
	v.SetDefault("pubmed.fetch_url", d.PubMed.FetchURL)
	v.SetDefault("pubmed.article_base_url", d.PubMed.ArticleBaseURL)
	v.SetDefault("pubmed.database", d.PubMed.Database)
	v.SetDefault("pubmed.api_key", d.PubMed.APIKey)
	v.SetDefault("pubmed.max_results", d.PubMed.MaxResults)
	v.SetDefault("pubmed.reviews_only", d.PubMed.ReviewsOnly)

	v.SetDefault("summarizer.timeout", d.Summarizer.Timeout)
	v.SetDefault("summarizer.user_agent", d.Summarizer.UserAgent)
	v.SetDefault("summarizer.max_attempts", d.Summarizer.MaxAttempts)
	v.SetDefault("summarizer.provider", d.Summarizer.Provider)
	v.SetDefault("summarizer.model", d.Summarizer.Model)
	v.SetDefault("summarizer.api_key", d.Summarizer.APIKey)
	v.SetDefault("summarizer.max_tokens", d.Summarizer.MaxTokens)
	v.SetDefault("summarizer.temperature", d.Summarizer.Temperature)
	v.SetDefault("summarizer.concurrency", d.Summarizer.Concurrency)

	v.SetDefault("prompt.max_chars", d.Prompt.MaxChars)
	v.SetDefault("archive.dir", d.Archive.Dir)
	v.SetDefault("archive.max_results", d.Archive.MaxResults)
	v.SetDefault("watch.schedule", d.Watch.Schedule)
	v.SetDefault("watch.queries_file", d.Watch.QueriesFile)
	v.SetDefault("server.addr", d.Server.Addr)
}

// loadConfig decodes v into an AppConfig and fills missing API keys from
// secrets and then from conventional provider variables.
func loadConfig(v *viper.Viper, secretValues map[string]string) (types.AppConfig, error) {
	cfg := types.DefaultAppConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}

	fallback := make(map[string]string, len(envKeys))
	for key, env := range envKeys {
		if val := os.Getenv(env); val != "" {
			fallback[key] = val
		}
	}
	secrets.Apply(&cfg, secretValues)
	secrets.Apply(&cfg, fallback)
	return cfg, nil
}

// flagKeys maps run flags to the configuration keys they override.
var flagKeys = map[string]string{
	"max-results":   "pubmed.max_results",
	"reviews-only":  "pubmed.reviews_only",
	"prompt-budget": "prompt.max_chars",
	"provider":      "summarizer.provider",
	"model":         "summarizer.model",
	"concurrency":   "summarizer.concurrency",
	"archive-dir":   "archive.dir",
	"schedule":      "watch.schedule",
	"queries":       "watch.queries_file",
	"addr":          "server.addr",
}

// bindFlags binds the flags cmd defines to their configuration keys. It runs
// when the command runs, so commands sharing a flag name do not override
// each other's bindings.
func bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// commandConfig binds cmd's flags and returns the validated configuration.
// Commands that never summarize skip the summarizer checks.
func commandConfig(cmd *cobra.Command, summarizes bool) (types.AppConfig, error) {
	if err := bindFlags(cmd); err != nil {
		return types.AppConfig{}, err
	}
	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return cfg, err
	}
	if summarizes {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateSearch()
	}
	return cfg, err
}
