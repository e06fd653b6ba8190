// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package archive persists finished runs in SQLite for later browsing and
// full-text search. The pipeline never reads the archive: each run starts
// from the live services.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const dbFile = "evidence.db"

// ErrNotFound reports an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Store manages the archive database.
type Store struct {
	db         *sql.DB
	maxResults int

	// fts is false when the SQLite build lacks FTS5; Search then falls back
	// to substring matching.
	fts bool
}

// Open opens or creates the archive database at cfg.Dir/evidence.db and
// creates the schema if it does not exist.
func Open(cfg types.ArchiveConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{db: db, maxResults: maxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// FullText reports whether searches use the FTS5 index.
func (s *Store) FullText() bool { return s.fts }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL,
			question TEXT NOT NULL,
			query TEXT NOT NULL,
			found INTEGER NOT NULL,
			synthesis TEXT,
			synthesis_error TEXT,
			truncated INTEGER NOT NULL,
			advisory TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			pmid TEXT NOT NULL,
			url TEXT,
			title TEXT,
			journal TEXT,
			year TEXT,
			mesh_terms TEXT,
			publication_types TEXT,
			abstract TEXT,
			summary TEXT,
			error TEXT,
			UNIQUE(run_id, pmid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_label ON runs(label)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_pmid ON articles(pmid)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='articles_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		s.fts = true
		return nil
	}

	ftsStatements := []string{
		`CREATE VIRTUAL TABLE articles_fts USING fts5(title, abstract, summary, content=articles, content_rowid=rowid)`,
		`CREATE TRIGGER articles_ai AFTER INSERT ON articles BEGIN
			INSERT INTO articles_fts(rowid, title, abstract, summary) VALUES (new.rowid, new.title, new.abstract, new.summary);
		END`,
		`CREATE TRIGGER articles_ad AFTER DELETE ON articles BEGIN
			INSERT INTO articles_fts(articles_fts, rowid, title, abstract, summary) VALUES('delete', old.rowid, old.title, old.abstract, old.summary);
		END`,
	}
	if _, err := s.db.Exec(ftsStatements[0]); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			return nil
		}
		return fmt.Errorf("creating FTS infrastructure: %w", err)
	}
	for _, stmt := range ftsStatements[1:] {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	s.fts = true
	return nil
}

// Save archives res under label (a saved-query name, or the question when
// empty). Saving the same run twice replaces the earlier copy.
func (s *Store) Save(ctx context.Context, label string, res *pipeline.Result) error {
	if res.ID == "" {
		return errors.New("run has no ID")
	}
	if label == "" {
		label = res.Question
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE run_id = ?`, res.ID); err != nil {
		return fmt.Errorf("deleting old articles: %w", err)
	}

	advisory, _ := json.Marshal(res.Advisory)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, label, question, query, found, synthesis, synthesis_error, truncated, advisory, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			label=excluded.label, question=excluded.question, query=excluded.query,
			found=excluded.found, synthesis=excluded.synthesis,
			synthesis_error=excluded.synthesis_error, truncated=excluded.truncated,
			advisory=excluded.advisory, started_at=excluded.started_at,
			finished_at=excluded.finished_at`,
		res.ID, label, res.Question, string(res.Query), res.Found,
		res.Synthesis, res.SynthesisError, res.Truncated, string(advisory),
		formatTime(res.StartedAt), formatTime(res.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO articles (run_id, position, pmid, url, title, journal, year, mesh_terms, publication_types, abstract, summary, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range res.Articles {
		mesh, _ := json.Marshal(a.MeshTerms)
		pubTypes, _ := json.Marshal(a.PublicationType)
		_, err := stmt.ExecContext(ctx,
			res.ID, i, a.ID, a.URL, a.Title, a.Journal, a.Year,
			string(mesh), string(pubTypes), a.Abstract, a.Summary, a.Error,
		)
		if err != nil {
			return fmt.Errorf("inserting article %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// Load returns the archived run with the given ID.
func (s *Store) Load(ctx context.Context, id string) (*pipeline.Result, error) {
	var (
		res       pipeline.Result
		query     string
		synthesis sql.NullString
		synthErr  sql.NullString
		advisory  sql.NullString
		started   string
		finished  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question, query, found, synthesis, synthesis_error, truncated, advisory, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&res.ID, &res.Question, &query, &res.Found, &synthesis, &synthErr,
		&res.Truncated, &advisory, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}
	res.Query = types.SearchQuery(query)
	res.Synthesis = synthesis.String
	res.SynthesisError = synthErr.String
	if advisory.Valid {
		json.Unmarshal([]byte(advisory.String), &res.Advisory)
	}
	res.StartedAt = parseTime(started)
	res.FinishedAt = parseTime(finished.String)

	rows, err := s.db.QueryContext(ctx,
		`SELECT pmid, url, title, journal, year, mesh_terms, publication_types, abstract, summary, error
		 FROM articles WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("loading articles: %w", err)
	}
	defer rows.Close()

	res.Articles = []types.Article{}
	for rows.Next() {
		var (
			a                                        types.Article
			url, title, journal, year, abs, sum, msg sql.NullString
			mesh, pubTypes                           sql.NullString
		)
		if err := rows.Scan(&a.ID, &url, &title, &journal, &year, &mesh, &pubTypes, &abs, &sum, &msg); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		a.URL, a.Title, a.Journal, a.Year = url.String, title.String, journal.String, year.String
		a.Abstract, a.Summary, a.Error = abs.String, sum.String, msg.String
		a.MeshTerms = decodeList(mesh)
		a.PublicationType = decodeList(pubTypes)
		res.Articles = append(res.Articles, a)
	}
	return &res, rows.Err()
}

// SeenIDs returns the PMIDs archived under label by any earlier run.
func (s *Store) SeenIDs(ctx context.Context, label string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.pmid FROM articles a JOIN runs r ON a.run_id = r.id WHERE r.label = ?`, label)
	if err != nil {
		return nil, fmt.Errorf("querying archived identifiers: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identifier: %w", err)
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeList(s sql.NullString) []string {
	out := []string{}
	if s.Valid {
		json.Unmarshal([]byte(s.String), &out)
	}
	if out == nil {
		out = []string{}
	}
	return out
}
