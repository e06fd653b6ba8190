// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/archive"
	"github.com/pdiddy/evidence-engine/internal/report"
)

var historyCmd = &cobra.Command{
	Use:   "history [query...]",
	Short: "List or search archived runs",
	Long: `History lists the most recent archived runs. With a query it searches the
titles, abstracts, and summaries of archived articles (FTS5 syntax when the
SQLite build supports it). Use --show with a run ID to print that run.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
	historyCmd.Flags().String("show", "", "print the archived run with this ID")
	historyCmd.Flags().String("format", report.FormatMarkdown, "output format for --show")
	historyCmd.Flags().Bool("json", false, "output results as JSON")
	historyCmd.Flags().String("archive-dir", "", "archive directory (default from config)")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd, false)
	if err != nil {
		return err
	}
	store, err := archive.Open(cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if id, _ := cmd.Flags().GetString("show"); id != "" {
		res, err := store.Load(ctx, id)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if jsonOutput {
			format = report.FormatJSON
		}
		return report.Write(res, format, os.Stdout)
	}

	if len(args) > 0 {
		hits, err := store.Search(ctx, strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(hits)
		}
		formatHits(hits)
		return nil
	}

	runs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(runs)
	}
	formatRuns(runs)
	return nil
}

func formatRuns(runs []archive.RunSummary) {
	if len(runs) == 0 {
		fmt.Println("No archived runs.")
		return
	}
	fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-8s  %s\n", "Run", "Started", "Articles", "Question")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for _, r := range runs {
		started := r.StartedAt
		if len(started) > 19 {
			started = started[:19]
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-8d  %s\n", r.ID, started, r.Articles, truncate(r.Question, 40))
	}
	fmt.Fprintf(os.Stdout, "\n%d runs\n", len(runs))
}

func formatHits(hits []archive.Hit) {
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return
	}
	fmt.Fprintf(os.Stdout, "%-4s  %-10s  %-50s  %s\n", "Rank", "PMID", "Title", "Question")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for i, h := range hits {
		fmt.Fprintf(os.Stdout, "%-4d  %-10s  %-50s  %s\n", i+1, h.PMID, truncate(h.Title, 50), truncate(h.Question, 40))
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(hits))
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
