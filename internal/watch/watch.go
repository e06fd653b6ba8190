// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package watch re-runs saved queries on a cron schedule, archives every
// run, and reports articles that no earlier run of the same query returned.
package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Runner executes one pipeline request. *pipeline.Runner implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Archive stores runs and answers which identifiers a label has seen.
// *archive.Store implements it.
type Archive interface {
	Save(ctx context.Context, label string, res *pipeline.Result) error
	SeenIDs(ctx context.Context, label string) (map[string]bool, error)
}

// Alert lists the new articles found by one saved query.
type Alert struct {
	Query string
	RunID string
	New   []types.Article
}

// Watcher runs a fixed list of saved queries.
type Watcher struct {
	Runner   Runner
	Archive  Archive
	Queries  []SavedQuery
	Progress io.Writer
	Logger   *slog.Logger
}

// RunOnce runs every saved query once. A failing query is reported and
// skipped; the others still run. The returned alerts hold only queries with
// new articles.
func (w *Watcher) RunOnce(ctx context.Context) ([]Alert, error) {
	out := w.progress()
	logger := w.logger()

	var alerts []Alert
	for _, q := range w.Queries {
		if err := ctx.Err(); err != nil {
			return alerts, err
		}

		seen, err := w.Archive.SeenIDs(ctx, q.Name)
		if err != nil {
			return alerts, fmt.Errorf("reading history for %s: %w", q.Name, err)
		}

		res, err := w.Runner.Run(ctx, q.Request)
		if err != nil {
			if ctx.Err() != nil {
				return alerts, ctx.Err()
			}
			fmt.Fprintf(out, "warning: %s: %v\n", q.Name, err)
			logger.Warn("saved query failed", "query", q.Name, "error", err)
			continue
		}

		if err := w.Archive.Save(ctx, q.Name, res); err != nil {
			return alerts, fmt.Errorf("archiving %s: %w", q.Name, err)
		}

		var fresh []types.Article
		for _, a := range res.Articles {
			if !seen[a.ID] {
				fresh = append(fresh, a)
			}
		}
		fmt.Fprintf(out, "%s: %d articles, %d new\n", q.Name, len(res.Articles), len(fresh))
		if len(fresh) > 0 {
			alerts = append(alerts, Alert{Query: q.Name, RunID: res.ID, New: fresh})
		}
	}
	return alerts, nil
}

// Schedule runs RunOnce on the cron expression until ctx is cancelled. notify
// receives the alerts of each pass. A pass still running when the next one
// is due is skipped.
func (w *Watcher) Schedule(ctx context.Context, expr string, notify func([]Alert)) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(expr, func() { w.pass(ctx, notify) }); err != nil {
		return fmt.Errorf("add cron: %w", err)
	}

	w.logger().Info("watch scheduled", "schedule", expr, "queries", len(w.Queries))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// ValidateSchedule reports whether expr is a standard cron expression or
// descriptor such as "@daily".
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

func (w *Watcher) pass(ctx context.Context, notify func([]Alert)) {
	alerts, err := w.RunOnce(ctx)
	if err != nil {
		w.logger().Error("watch pass failed", "error", err)
	}
	if notify != nil && len(alerts) > 0 {
		notify(alerts)
	}
}

func (w *Watcher) progress() io.Writer {
	if w.Progress == nil {
		return io.Discard
	}
	return w.Progress
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w.Logger
}
