// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrBadQuery reports a search query the archive cannot run, such as an
// empty query or invalid full-text syntax.
var ErrBadQuery = errors.New("invalid search query")

// RunSummary is one line of run history.
type RunSummary struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label" yaml:"label"`
	Question  string `json:"question" yaml:"question"`
	Found     int    `json:"found" yaml:"found"`
	Articles  int    `json:"articles" yaml:"articles"`
	StartedAt string `json:"started_at" yaml:"started_at"`
}

// Hit is an archived article matching a search.
type Hit struct {
	RunID     string `json:"run_id" yaml:"run_id"`
	Question  string `json:"question" yaml:"question"`
	PMID      string `json:"pmid" yaml:"pmid"`
	URL       string `json:"url" yaml:"url"`
	Title     string `json:"title" yaml:"title"`
	Summary   string `json:"summary,omitempty" yaml:"summary,omitempty"`
	StartedAt string `json:"started_at" yaml:"started_at"`
}

// List returns the most recent runs, newest first. Zero limit uses the
// store default.
func (s *Store) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = s.maxResults
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.label, r.question, r.found, r.started_at,
			(SELECT count(*) FROM articles a WHERE a.run_id = r.id)
		 FROM runs r
		 ORDER BY r.started_at DESC, r.rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Label, &r.Question, &r.Found, &r.StartedAt, &r.Articles); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Search finds archived articles whose title, abstract, or summary match q.
// With FTS5, q uses FTS5 query syntax and results are ranked by relevance;
// otherwise every whitespace-separated term must appear as a substring.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: empty query", ErrBadQuery)
	}
	if limit <= 0 {
		limit = s.maxResults
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT a.run_id, r.question, a.pmid, a.url, a.title, a.summary, r.started_at `)
	if s.fts {
		qb.WriteString(`FROM articles_fts
			JOIN articles a ON a.rowid = articles_fts.rowid
			JOIN runs r ON r.id = a.run_id
			WHERE articles_fts MATCH ?
			ORDER BY articles_fts.rank, r.started_at DESC`)
		args = append(args, q)
	} else {
		qb.WriteString(`FROM articles a JOIN runs r ON r.id = a.run_id WHERE 1=1`)
		for _, term := range strings.Fields(q) {
			qb.WriteString(` AND (a.title || ' ' || a.abstract || ' ' || a.summary) LIKE ?`)
			args = append(args, "%"+term+"%")
		}
		qb.WriteString(` ORDER BY r.started_at DESC, a.position`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, searchError(err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var (
			h                   Hit
			url, title, summary sql.NullString
		)
		if err := rows.Scan(&h.RunID, &h.Question, &h.PMID, &url, &title, &summary, &h.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		h.URL, h.Title, h.Summary = url.String, title.String, summary.String
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, searchError(err)
	}
	return out, nil
}

// searchError marks generic SQL errors as ErrBadQuery. The statement text
// is fixed, so SQLITE_ERROR here comes from the MATCH expression.
func searchError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrError {
		return fmt.Errorf("%w: %v", ErrBadQuery, se)
	}
	return fmt.Errorf("searching archive: %w", err)
}
