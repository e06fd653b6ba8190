// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/evidence-engine/internal/archive"
	"github.com/pdiddy/evidence-engine/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run saved queries on a schedule and report new articles",
	Long: `Watch reads a YAML list of saved queries, runs each one, archives the
results, and prints the articles no earlier run of that query returned.

The list looks like:

  queries:
    - name: aspirin-stroke
      question: aspirin AND stroke
      reviews_only: true
    - name: statins
      pico: {patient: older adults, intervention: statins, outcome: mortality}
      search_only: true

Without --once, watch keeps running on the cron schedule (default @daily)
until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("queries", "", "saved query list (default from config)")
	watchCmd.Flags().String("schedule", "", `cron schedule, e.g. "0 7 * * 1-5" or "@daily" (default from config)`)
	watchCmd.Flags().Bool("once", false, "run every query once and exit")
	watchCmd.Flags().String("archive-dir", "", "archive directory (default from config)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return err
	}

	queries, err := watch.LoadQueries(cfg.Watch.QueriesFile)
	if err != nil {
		return err
	}
	summarizes := false
	for _, q := range queries {
		summarizes = summarizes || !q.SearchOnly
	}
	if summarizes {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateSearch()
	}
	if err != nil {
		return err
	}

	runner, err := newRunner(cfg, summarizes)
	if err != nil {
		return err
	}
	runner.Progress = nil

	store, err := archive.Open(cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()

	w := &watch.Watcher{
		Runner:   runner,
		Archive:  store,
		Queries:  queries,
		Progress: os.Stderr,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once, _ := cmd.Flags().GetBool("once"); once {
		alerts, err := w.RunOnce(ctx)
		printAlerts(alerts)
		return err
	}

	if err := watch.ValidateSchedule(cfg.Watch.Schedule); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching %d queries on schedule %q\n", len(queries), cfg.Watch.Schedule)
	return w.Schedule(ctx, cfg.Watch.Schedule, printAlerts)
}

func printAlerts(alerts []watch.Alert) {
	for _, a := range alerts {
		fmt.Printf("%s: %d new articles (run %s)\n", a.Query, len(a.New), a.RunID)
		for _, art := range a.New {
			title := art.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("  %s  %s\n", art.URL, truncate(title, 80))
		}
	}
}
