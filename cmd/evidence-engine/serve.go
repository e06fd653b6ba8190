// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/archive"
	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline as an HTTP JSON API",
	Long: `Serve exposes ask, pico, and search as JSON endpoints under /api/v1.
Requests carrying the same X-Session-ID header form a session: a new request
cancels the session's in-flight run. Successful runs are archived unless
--no-archive is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().Bool("no-archive", false, "do not archive runs")
	serveCmd.Flags().String("archive-dir", "", "archive directory (default from config)")
	serveCmd.Flags().Int("prompt-budget", 0, "maximum prompt length in characters (default from config)")
	serveCmd.Flags().Int("concurrency", 0, "parallel per-article summaries per run (default 5)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd, true)
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg, true)
	if err != nil {
		return err
	}
	runner.Progress = nil

	h := &server.Handler{
		Runner:   runner,
		Sessions: &pipeline.Sessions{},
		Logger:   logger,
		Version:  buildVersion(),
	}
	if noArchive, _ := cmd.Flags().GetBool("no-archive"); !noArchive {
		store, err := archive.Open(cfg.Archive)
		if err != nil {
			return err
		}
		defer store.Close()
		h.Archive = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Serve(ctx, cfg.Server.Addr, h)
}
