// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// runFileVersion is written to every run file. ReadRunFile rejects newer versions.
const runFileVersion = 1

// RunFile is the on-disk representation of a finished run. A saved run can
// be rendered again later without re-querying any service.
type RunFile struct {
	Version int              `yaml:"version"`
	Request pipeline.Request `yaml:"request"`
	Config  RunFileConfig    `yaml:"config"`
	Result  pipeline.Result  `yaml:"result"`
}

// RunFileConfig stores the settings that shaped the run. Secrets are never
// written.
type RunFileConfig struct {
	Database    string  `yaml:"database"`
	MaxResults  int     `yaml:"max_results"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	PromptChars int     `yaml:"prompt_max_chars"`
}

// NewRunFile captures req, the non-secret parts of cfg, and res.
func NewRunFile(req pipeline.Request, cfg types.AppConfig, res *pipeline.Result) RunFile {
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = cfg.PubMed.MaxResults
	}
	return RunFile{
		Version: runFileVersion,
		Request: req,
		Config: RunFileConfig{
			Database:    cfg.PubMed.Database,
			MaxResults:  maxResults,
			Provider:    cfg.Summarizer.Provider,
			Model:       cfg.Summarizer.Model,
			MaxTokens:   cfg.Summarizer.MaxTokens,
			Temperature: cfg.Summarizer.Temperature,
			PromptChars: cfg.Prompt.MaxChars,
		},
		Result: *res,
	}
}

// WriteRunFile saves rf to path as YAML, creating parent directories.
func WriteRunFile(path string, rf RunFile) error {
	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("marshaling run file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating run file directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRunFile loads a previously saved run file from disk.
func ReadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	if rf.Version > runFileVersion {
		return nil, fmt.Errorf("run file version %d is newer than supported version %d", rf.Version, runFileVersion)
	}
	if rf.Result.Articles == nil {
		rf.Result.Articles = []types.Article{}
	}
	return &rf, nil
}

// ErrNoRun reports a run file without a result.
var ErrNoRun = errors.New("run file has no result")

// Run returns the saved result, or ErrNoRun when the file holds none.
func (rf *RunFile) Run() (*pipeline.Result, error) {
	if rf.Result.ID == "" && rf.Result.Query == "" {
		return nil, ErrNoRun
	}
	return &rf.Result, nil
}
