// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one literature-search request end to end: build the
// query, search, fetch, normalize, assemble prompts, and summarize.
// Per-article summaries run on a bounded worker pool and are collected in
// normalizer order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"

	"github.com/pdiddy/evidence-engine/internal/prompt"
	"github.com/pdiddy/evidence-engine/internal/pubmed"
	"github.com/pdiddy/evidence-engine/internal/query"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const defaultConcurrency = 5

// ErrUnknownMode reports a request mode other than batch or single.
var ErrUnknownMode = errors.New("unknown mode")

// Source searches, fetches, and normalizes bibliographic records.
// *pubmed.Client implements it.
type Source interface {
	Search(ctx context.Context, q types.SearchQuery, maxResults int) (types.IdentifierBatch, error)
	Fetch(ctx context.Context, ids types.IdentifierBatch) (types.RawRecordSet, error)
	Normalize(raw types.RawRecordSet) pubmed.NormalizeResult
}

// Summarizer turns a prompt into text. *summarize.Summarizer implements it.
type Summarizer interface {
	Summarize(ctx context.Context, p types.Prompt, maxTokens int) (string, error)
}

// Request describes one user-triggered run.
type Request struct {
	// Question is a free-text clinical question. Ignored when PICO is set.
	Question string `json:"question,omitempty" yaml:"question,omitempty"`

	// PICO holds structured question fields.
	PICO *query.PICO `json:"pico,omitempty" yaml:"pico,omitempty"`

	// ReviewsOnly restricts the search to systematic reviews and meta-analyses.
	ReviewsOnly bool `json:"reviews_only" yaml:"reviews_only"`

	// MaxResults caps the identifier batch. Zero uses the source default.
	MaxResults int `json:"max_results,omitempty" yaml:"max_results,omitempty"`

	// Mode selects the summarization flow. ModeBatch writes one synthesis
	// over all articles; ModeSingle also summarizes each article on its own.
	// Empty means ModeBatch.
	Mode types.PromptMode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// NoSynthesis skips the batch synthesis over all articles.
	NoSynthesis bool `json:"no_synthesis" yaml:"no_synthesis"`

	// SearchOnly stops after normalization.
	SearchOnly bool `json:"search_only" yaml:"search_only"`
}

// Advisory holds non-fatal normalization counts.
type Advisory struct {
	// SkippedRecords counts records that were unparseable or lacked an identifier.
	SkippedRecords int `json:"skipped_records" yaml:"skipped_records"`

	// DuplicateRecords counts repeated records.
	DuplicateRecords int `json:"duplicate_records" yaml:"duplicate_records"`

	// MissingIDs lists identifiers the fetch response did not cover.
	MissingIDs []string `json:"missing_ids,omitempty" yaml:"missing_ids,omitempty"`
}

// Result is the outcome of a run. Articles and summaries are in normalizer
// order regardless of the order summarization calls complete in.
type Result struct {
	ID             string            `json:"id" yaml:"id"`
	Question       string            `json:"question" yaml:"question"`
	Query          types.SearchQuery `json:"query" yaml:"query"`
	Found          int               `json:"found" yaml:"found"`
	Articles       []types.Article   `json:"articles" yaml:"articles"`
	Synthesis      string            `json:"synthesis,omitempty" yaml:"synthesis,omitempty"`
	SynthesisError string            `json:"synthesis_error,omitempty" yaml:"synthesis_error,omitempty"`
	Truncated      bool              `json:"truncated" yaml:"truncated"`
	Advisory       Advisory          `json:"advisory" yaml:"advisory"`
	StartedAt      time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time         `json:"finished_at" yaml:"finished_at"`
}

// Empty reports whether the search matched nothing.
func (r *Result) Empty() bool { return r.Found == 0 }

// Failed returns the number of articles whose summarization failed.
func (r *Result) Failed() int {
	n := 0
	for _, a := range r.Articles {
		if a.Error != "" {
			n++
		}
	}
	return n
}

// Runner wires the stages together. Its fields are read-only during runs,
// so one Runner may serve concurrent runs.
type Runner struct {
	Source     Source
	Summarizer Summarizer
	Assembler  prompt.Assembler

	// Concurrency bounds parallel per-article summarization calls (default 5).
	Concurrency int

	// MaxTokens is passed to every summarization call.
	MaxTokens int

	// Progress receives human-readable progress lines. Nil discards them.
	Progress io.Writer

	// Logger receives structured diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Run executes req. Input validation errors (types.ErrMissingField) return
// before any network call. Search and fetch failures abort the run and are
// returned together with the partial result. Summarization failures never
// abort: they are recorded on the affected article or on the synthesis. A
// cancelled context returns the partial result and the context error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	w := r.Progress
	if w == nil {
		w = io.Discard
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch req.Mode {
	case "", types.ModeBatch, types.ModeSingle:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, req.Mode)
	}

	q, question, err := buildQuery(req)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:        uuid.NewString(),
		Question:  question,
		Query:     q,
		Articles:  []types.Article{},
		StartedAt: time.Now().UTC(),
	}
	defer func() { res.FinishedAt = time.Now().UTC() }()
	logger = logger.With("run", res.ID)

	ids, err := r.Source.Search(ctx, q, req.MaxResults)
	if err != nil {
		return res, fmt.Errorf("searching: %w", err)
	}
	res.Found = len(ids)
	if len(ids) == 0 {
		fmt.Fprintln(w, "No articles found related to your clinical question.")
		return res, nil
	}
	fmt.Fprintf(w, "Found %d articles related to your clinical question.\n", len(ids))

	raw, err := r.Source.Fetch(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("fetching: %w", err)
	}

	norm := r.Source.Normalize(raw)
	res.Articles = norm.Articles
	res.Advisory = Advisory{
		SkippedRecords:   norm.Skipped,
		DuplicateRecords: norm.Duplicates,
		MissingIDs:       norm.Missing,
	}
	fmt.Fprintf(w, "fetched %d records\n", len(res.Articles))
	if norm.Skipped > 0 {
		fmt.Fprintf(w, "warning: skipped %d unparseable records\n", norm.Skipped)
	}
	if len(norm.Missing) > 0 {
		logger.Info("fetch response did not cover all identifiers", "missing", norm.Missing)
	}

	if req.SearchOnly || len(res.Articles) == 0 {
		return res, nil
	}

	if req.Mode == types.ModeSingle {
		fmt.Fprintf(w, "summarizing %d articles\n", len(res.Articles))
		if r.summarizeEach(ctx, res, logger) {
			res.Truncated = true
		}
	}

	if !req.NoSynthesis {
		fmt.Fprintln(w, "writing synthesis")
		text, truncated, err := r.summarize(ctx, res.Articles, question, types.ModeBatch)
		res.Truncated = res.Truncated || truncated
		if err != nil {
			res.SynthesisError = err.Error()
			logger.Warn("synthesis failed", "error", err)
		} else {
			res.Synthesis = text
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if n := res.Failed(); n > 0 {
		fmt.Fprintf(w, "warning: %d of %d article summaries failed\n", n, len(res.Articles))
	}
	return res, nil
}

type outcome struct {
	summary   string
	truncated bool
	err       error
}

// summarizeEach attaches a single-mode summary or error to every article and
// reports whether any prompt was truncated.
func (r *Runner) summarizeEach(ctx context.Context, res *Result, logger *slog.Logger) bool {
	limit := r.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	mapper := iter.Mapper[types.Article, outcome]{MaxGoroutines: limit}
	outcomes := mapper.Map(res.Articles, func(a *types.Article) outcome {
		if err := ctx.Err(); err != nil {
			return outcome{err: err}
		}
		text, truncated, err := r.summarize(ctx, []types.Article{*a}, res.Question, types.ModeSingle)
		return outcome{summary: text, truncated: truncated, err: err}
	})

	anyTruncated := false
	for i, o := range outcomes {
		anyTruncated = anyTruncated || o.truncated
		if o.err != nil {
			res.Articles[i].Error = o.err.Error()
			if !errors.Is(o.err, context.Canceled) {
				logger.Warn("article summary failed", "id", res.Articles[i].ID, "error", o.err)
			}
			continue
		}
		res.Articles[i].Summary = o.summary
	}
	return anyTruncated
}

func (r *Runner) summarize(ctx context.Context, articles []types.Article, question string, mode types.PromptMode) (string, bool, error) {
	p, err := r.Assembler.Assemble(articles, question, mode)
	if err != nil {
		return "", false, fmt.Errorf("%w: assembling prompt: %v", types.ErrGeneration, err)
	}
	text, err := r.Summarizer.Summarize(ctx, p, r.MaxTokens)
	return text, p.Truncated, err
}

// buildQuery returns the search query and the question text shown to the
// model and the user.
func buildQuery(req Request) (types.SearchQuery, string, error) {
	if req.PICO != nil {
		q, err := query.FromPICO(*req.PICO, req.ReviewsOnly)
		if err != nil {
			return "", "", err
		}
		return q, req.PICO.String(), nil
	}
	q, err := query.FreeText(req.Question, req.ReviewsOnly)
	if err != nil {
		return "", "", err
	}
	return q, strings.TrimSpace(req.Question), nil
}
