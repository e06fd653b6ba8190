// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package watch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/archive"
	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// scriptedRunner returns the next identifier list for each question.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string][][]string
	fail    map[string]error
	calls   int
}

func (r *scriptedRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.fail[req.Question]; err != nil {
		return nil, err
	}
	script := r.results[req.Question]
	var ids []string
	if len(script) > 0 {
		ids, r.results[req.Question] = script[0], script[1:]
	}
	res := &pipeline.Result{
		ID:        uuid.NewString(),
		Question:  req.Question,
		Query:     types.SearchQuery(req.Question),
		Found:     len(ids),
		Articles:  []types.Article{},
		StartedAt: time.Now().UTC(),
	}
	for _, id := range ids {
		res.Articles = append(res.Articles, types.Article{ID: id, MeshTerms: []string{}, PublicationType: []string{}})
	}
	return res, nil
}

func testArchive(t *testing.T) *archive.Store {
	t.Helper()
	s, err := archive.Open(types.ArchiveConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ids(articles []types.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func TestRunOnceReportsNewArticles(t *testing.T) {
	runner := &scriptedRunner{results: map[string][][]string{
		"aspirin stroke": {{"1", "2"}, {"2", "3", "1"}, {"3"}},
	}}
	var progress bytes.Buffer
	w := &Watcher{
		Runner:   runner,
		Archive:  testArchive(t),
		Queries:  []SavedQuery{{Name: "aspirin", Request: pipeline.Request{Question: "aspirin stroke"}}},
		Progress: &progress,
	}
	ctx := context.Background()

	alerts, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "aspirin", alerts[0].Query)
	assert.Equal(t, []string{"1", "2"}, ids(alerts[0].New))

	alerts, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{"3"}, ids(alerts[0].New))

	alerts, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Contains(t, progress.String(), "aspirin: 1 articles, 0 new")
}

func TestRunOnceSkipsFailingQuery(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string][][]string{"statins": {{"10"}}},
		fail:    map[string]error{"broken": &types.UpstreamError{Kind: types.ErrMalformedResponse, Stage: "search"}},
	}
	var progress bytes.Buffer
	w := &Watcher{
		Runner:  runner,
		Archive: testArchive(t),
		Queries: []SavedQuery{
			{Name: "broken", Request: pipeline.Request{Question: "broken"}},
			{Name: "statins", Request: pipeline.Request{Question: "statins"}},
		},
		Progress: &progress,
	}

	alerts, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "statins", alerts[0].Query)
	assert.Contains(t, progress.String(), "warning: broken: search: malformed response")
}

func TestRunOnceCancelled(t *testing.T) {
	runner := &scriptedRunner{}
	w := &Watcher{
		Runner:  runner,
		Archive: testArchive(t),
		Queries: []SavedQuery{{Name: "a", Request: pipeline.Request{Question: "a"}}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, runner.calls)
}

type failingArchive struct{}

func (failingArchive) Save(context.Context, string, *pipeline.Result) error { return errors.New("disk full") }
func (failingArchive) SeenIDs(context.Context, string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func TestRunOnceArchiveError(t *testing.T) {
	w := &Watcher{
		Runner:  &scriptedRunner{},
		Archive: failingArchive{},
		Queries: []SavedQuery{{Name: "a", Request: pipeline.Request{Question: "a"}}},
	}
	_, err := w.RunOnce(context.Background())
	assert.ErrorContains(t, err, "archiving a: disk full")
}

func TestSchedule(t *testing.T) {
	runner := &scriptedRunner{results: map[string][][]string{"q": {{"1"}}}}
	w := &Watcher{
		Runner:  runner,
		Archive: testArchive(t),
		Queries: []SavedQuery{{Name: "q", Request: pipeline.Request{Question: "q"}}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []Alert, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Schedule(ctx, "@every 1s", func(a []Alert) {
			select {
			case got <- a:
			default:
			}
		})
	}()

	select {
	case alerts := <-got:
		require.Len(t, alerts, 1)
		assert.Equal(t, []string{"1"}, ids(alerts[0].New))
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled pass did not run")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduleInvalidExpression(t *testing.T) {
	w := &Watcher{Runner: &scriptedRunner{}, Archive: failingArchive{}}
	err := w.Schedule(context.Background(), "every tuesday", nil)
	assert.ErrorContains(t, err, "add cron")
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@daily", false},
		{"0 7 * * 1-5", false},
		{"@every 6h", false},
		{"61 * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadQueries(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []SavedQuery
		errMsg  string
	}{
		{
			name: "free text and pico",
			content: `queries:
  - name: aspirin
    question: aspirin for secondary stroke prevention
    reviews_only: true
    max_results: 20
  - name: statins
    pico:
      patient: older adults
      intervention: statins
      outcome: mortality
    mode: single
`,
			want: []SavedQuery{
				{Name: "aspirin", Request: pipeline.Request{Question: "aspirin for secondary stroke prevention", ReviewsOnly: true, MaxResults: 20}},
			},
		},
		{name: "missing name", content: "queries:\n  - question: q\n", errMsg: "has no name"},
		{name: "duplicate name", content: "queries:\n  - name: a\n    question: q\n  - name: a\n    question: r\n", errMsg: "duplicate"},
		{name: "no question", content: "queries:\n  - name: a\n", errMsg: "neither question nor pico"},
		{name: "bad yaml", content: "queries: [", errMsg: "parsing watch list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "watch.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got, err := LoadQueries(path)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, tt.want[0], got[0])
			assert.Equal(t, "statins", got[1].Name)
			require.NotNil(t, got[1].PICO)
			assert.Equal(t, "older adults", got[1].PICO.Patient)
			assert.Equal(t, types.ModeSingle, got[1].Mode)
		})
	}
}
