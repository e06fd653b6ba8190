// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout bounds one network call. A timeout is reported as
	// ErrUpstreamUnavailable.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxAttempts is the total number of attempts for retryable failures
	// (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// PubMedConfig holds settings for the search, fetch, and normalize stages.
type PubMedConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// SearchURL is the ESearch endpoint.
	SearchURL string `json:"search_url" yaml:"search_url" mapstructure:"search_url"`

	// FetchURL is the EFetch endpoint.
	FetchURL string `json:"fetch_url" yaml:"fetch_url" mapstructure:"fetch_url"`

	// ArticleBaseURL is prefixed to an identifier to build Article.URL.
	ArticleBaseURL string `json:"article_base_url" yaml:"article_base_url" mapstructure:"article_base_url"`

	// Database is the E-utilities database name (default "pubmed").
	Database string `json:"database" yaml:"database" mapstructure:"database"`

	// APIKey is the optional NCBI API key.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxResults caps the identifier batch (default 10).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// ReviewsOnly restricts searches to systematic reviews and meta-analyses.
	ReviewsOnly bool `json:"reviews_only" yaml:"reviews_only" mapstructure:"reviews_only"`
}

// Summarizer providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// SummarizerConfig holds settings for the summarization adapter.
type SummarizerConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Provider selects the backend: "claude" or "openai".
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the provider's model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey authenticates against the provider. Required.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxTokens bounds the generated text (default 1000).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// Temperature is the sampling temperature (default 0.7).
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`

	// Concurrency bounds parallel per-article calls (default 5).
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
}

// PromptConfig holds settings for the prompt assembler.
type PromptConfig struct {
	// MaxChars is the upper bound on an assembled prompt in characters.
	// Zero disables the bound.
	MaxChars int `json:"max_chars" yaml:"max_chars" mapstructure:"max_chars"`
}

// ArchiveConfig holds settings for the run archive.
type ArchiveConfig struct {
	// Dir is the directory containing the archive database.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// MaxResults is the default number of history results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// WatchConfig holds settings for scheduled literature alerts.
type WatchConfig struct {
	// Schedule is a cron expression (default "@daily").
	Schedule string `json:"schedule" yaml:"schedule" mapstructure:"schedule"`

	// QueriesFile is a YAML file listing saved queries.
	QueriesFile string `json:"queries_file" yaml:"queries_file" mapstructure:"queries_file"`
}

// ServerConfig holds settings for the HTTP boundary.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// AppConfig groups all stage configurations. It is read-only after startup.
type AppConfig struct {
	PubMed     PubMedConfig     `json:"pubmed" yaml:"pubmed" mapstructure:"pubmed"`
	Summarizer SummarizerConfig `json:"summarizer" yaml:"summarizer" mapstructure:"summarizer"`
	Prompt     PromptConfig     `json:"prompt" yaml:"prompt" mapstructure:"prompt"`
	Archive    ArchiveConfig    `json:"archive" yaml:"archive" mapstructure:"archive"`
	Watch      WatchConfig      `json:"watch" yaml:"watch" mapstructure:"watch"`
	Server     ServerConfig     `json:"server" yaml:"server" mapstructure:"server"`
}

// DefaultAppConfig returns the configuration used when nothing overrides it.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		PubMed: PubMedConfig{
			HTTPConfig: HTTPConfig{
				Timeout:     30 * time.Second,
				UserAgent:   "evidence-engine/0.1",
				MaxAttempts: 3,
			},
			SearchURL:      "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi",
			FetchURL:       "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi",
			ArticleBaseURL: "https://pubmed.ncbi.nlm.nih.gov/",
			Database:       "pubmed",
			MaxResults:     10,
		},
		Summarizer: SummarizerConfig{
			HTTPConfig: HTTPConfig{
				Timeout:     60 * time.Second,
				UserAgent:   "evidence-engine/0.1",
				MaxAttempts: 1,
			},
			Provider:    ProviderClaude,
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   1000,
			Temperature: 0.7,
			Concurrency: 5,
		},
		Prompt:  PromptConfig{MaxChars: 12000},
		Archive: ArchiveConfig{Dir: "archive", MaxResults: 20},
		Watch:   WatchConfig{Schedule: "@daily", QueriesFile: "watch.yaml"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// Validate reports configuration errors that must stop the program at
// startup, such as a missing summarizer API key.
func (c AppConfig) Validate() error {
	if err := c.ValidateSearch(); err != nil {
		return err
	}
	switch c.Summarizer.Provider {
	case ProviderClaude, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown summarizer provider %q (want %q or %q)",
			c.Summarizer.Provider, ProviderClaude, ProviderOpenAI)
	}
	if c.Summarizer.APIKey == "" {
		return fmt.Errorf("summarizer API key is required for provider %q", c.Summarizer.Provider)
	}
	return nil
}

// ValidateSearch checks only the settings needed to search and fetch.
// Commands that never summarize use it instead of Validate.
func (c AppConfig) ValidateSearch() error {
	if c.PubMed.SearchURL == "" || c.PubMed.FetchURL == "" {
		return fmt.Errorf("pubmed search and fetch URLs are required")
	}
	if c.PubMed.MaxResults <= 0 {
		return fmt.Errorf("pubmed max_results must be positive, got %d", c.PubMed.MaxResults)
	}
	return nil
}
