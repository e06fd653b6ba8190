// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/internal/query"
	"github.com/pdiddy/evidence-engine/internal/report"
)

var searchCmd = &cobra.Command{
	Use:   "search [question...]",
	Short: "List matching PubMed articles without summarizing them",
	Long: `Search runs the query, fetch, and normalize stages only. Pass a free-text
question as arguments, or PICO fields as flags. No language model is called
and no summarizer API key is needed.

Use --format csl to write a CSL-YAML bibliography for Pandoc or a reference
manager.`,
	Example: `  evidence-engine search --reviews-only aspirin AND stroke
  evidence-engine search --patient adults --intervention statins --outcome mortality --format csl`,
	RunE: runSearch,
}

func init() {
	addRunFlags(searchCmd)
	addPICOFlags(searchCmd)
	searchCmd.Flags().String("format", report.FormatTable, "output format: "+strings.Join(report.Formats, ", "))
	searchCmd.Flags().String("save", "", "save the run to a YAML file")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := pipeline.Request{SearchOnly: true}
	if len(args) > 0 {
		req.Question = strings.Join(args, " ")
	}
	if p := picoFromFlags(cmd); p != (query.PICO{}) {
		req.PICO = &p
	}
	if req.Question == "" && req.PICO == nil {
		return fmt.Errorf("provide a question or PICO flags")
	}
	return execute(cmd, req)
}
