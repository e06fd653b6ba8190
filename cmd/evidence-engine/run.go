// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/archive"
	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/internal/prompt"
	"github.com/pdiddy/evidence-engine/internal/pubmed"
	"github.com/pdiddy/evidence-engine/internal/query"
	"github.com/pdiddy/evidence-engine/internal/report"
	"github.com/pdiddy/evidence-engine/internal/summarize"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer a free-text clinical question with one synthesis",
	Long: `Ask searches PubMed for a free-text clinical question, fetches the matching
records, and writes one structured analysis across all of them.

Use --per-article to also summarize each article on its own.`,
	Example: `  evidence-engine ask "aspirin AND stroke"
  evidence-engine ask --reviews-only --max-results 20 statins primary prevention`,
	RunE: runAsk,
}

var picoCmd = &cobra.Command{
	Use:   "pico",
	Short: "Answer a PICO question with per-article summaries and a synthesis",
	Long: `PICO builds a PubMed query from Patient, Intervention, Comparison, and
Outcome. Patient, intervention, and outcome are required; comparison is
optional. Each article is summarized on its own (up to --concurrency calls at
a time), then one synthesis is written across all of them.`,
	Example: `  evidence-engine pico --patient "older adults" --intervention statins --outcome mortality`,
	RunE:    runPICO,
}

func init() {
	for _, cmd := range []*cobra.Command{askCmd, picoCmd} {
		addRunFlags(cmd)
		cmd.Flags().String("format", report.FormatMarkdown, "output format: "+strings.Join(report.Formats, ", "))
		cmd.Flags().String("save", "", "save the run to a YAML file")
		cmd.Flags().Bool("archive", false, "store the run in the local archive")
		cmd.Flags().String("archive-dir", "", "archive directory (default from config)")
		cmd.Flags().Int("prompt-budget", 0, "maximum prompt length in characters (default from config)")
		cmd.Flags().String("provider", "", "summarizer provider: claude or openai")
		cmd.Flags().String("model", "", "summarizer model")
		cmd.Flags().Int("concurrency", 0, "parallel per-article summaries (default 5)")
		cmd.Flags().Bool("no-synthesis", false, "skip the synthesis across all articles")
	}
	askCmd.Flags().Bool("per-article", false, "also summarize each article on its own")
	addPICOFlags(picoCmd)

	rootCmd.AddCommand(askCmd, picoCmd)
}

// addRunFlags adds the flags every search-driven command shares.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-results", 0, "maximum number of articles (default from config)")
	cmd.Flags().Bool("reviews-only", false, "restrict to systematic reviews and meta-analyses")
}

func addPICOFlags(cmd *cobra.Command) {
	cmd.Flags().String("patient", "", "patient, population, or problem")
	cmd.Flags().String("intervention", "", "intervention")
	cmd.Flags().String("comparison", "", "comparison (optional)")
	cmd.Flags().String("outcome", "", "outcome")
}

func runAsk(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide a clinical question")
	}
	req := pipeline.Request{Question: strings.Join(args, " "), Mode: types.ModeBatch}
	if perArticle, _ := cmd.Flags().GetBool("per-article"); perArticle {
		req.Mode = types.ModeSingle
	}
	return execute(cmd, req)
}

func runPICO(cmd *cobra.Command, args []string) error {
	p := picoFromFlags(cmd)
	return execute(cmd, pipeline.Request{PICO: &p, Mode: types.ModeSingle})
}

func picoFromFlags(cmd *cobra.Command) query.PICO {
	var p query.PICO
	p.Patient, _ = cmd.Flags().GetString("patient")
	p.Intervention, _ = cmd.Flags().GetString("intervention")
	p.Comparison, _ = cmd.Flags().GetString("comparison")
	p.Outcome, _ = cmd.Flags().GetString("outcome")
	return p
}

// execute runs req with the command's flags and writes the result. A
// partial result is still written before a top-level error is returned.
func execute(cmd *cobra.Command, req pipeline.Request) error {
	cfg, err := commandConfig(cmd, !req.SearchOnly)
	if err != nil {
		return err
	}
	req.MaxResults = cfg.PubMed.MaxResults
	req.ReviewsOnly = cfg.PubMed.ReviewsOnly
	if noSynth, _ := cmd.Flags().GetBool("no-synthesis"); noSynth {
		req.NoSynthesis = true
	}

	runner, err := newRunner(cfg, !req.SearchOnly)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, runErr := runner.Run(ctx, req)
	if res == nil {
		return runErr
	}

	format, _ := cmd.Flags().GetString("format")
	if err := report.Write(res, format, os.Stdout); err != nil {
		return err
	}
	if runErr != nil {
		return describe(runErr)
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" {
		if err := report.WriteRunFile(path, report.NewRunFile(req, cfg, res)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved run to %s\n", path)
	}
	if doArchive, _ := cmd.Flags().GetBool("archive"); doArchive && !res.Empty() {
		store, err := archive.Open(cfg.Archive)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(ctx, "", res); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "archived run %s\n", res.ID)
	}
	return nil
}

// newRunner wires the pipeline stages from cfg. Without summarizes the
// runner has no summarizer and may only serve search-only requests.
func newRunner(cfg types.AppConfig, summarizes bool) (*pipeline.Runner, error) {
	runner := &pipeline.Runner{
		Source:      pubmed.NewClient(cfg.PubMed, logger),
		Assembler:   prompt.New(cfg.Prompt),
		Concurrency: cfg.Summarizer.Concurrency,
		MaxTokens:   cfg.Summarizer.MaxTokens,
		Progress:    os.Stderr,
		Logger:      logger,
	}
	if summarizes {
		s, err := summarize.New(cfg.Summarizer, logger)
		if err != nil {
			return nil, err
		}
		runner.Summarizer = s
	}
	return runner, nil
}

// describe turns a stage failure into the single banner the user sees.
func describe(err error) error {
	switch {
	case errors.Is(err, types.ErrMalformedResponse):
		return fmt.Errorf("search failed: %w", err)
	case errors.Is(err, types.ErrRateLimited):
		return fmt.Errorf("PubMed is rate limiting requests, try again shortly (set an NCBI API key to raise the limit): %w", err)
	case errors.Is(err, types.ErrUpstreamUnavailable):
		return fmt.Errorf("PubMed is unavailable: %w", err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}
