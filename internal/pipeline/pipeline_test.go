// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/prompt"
	"github.com/pdiddy/evidence-engine/internal/pubmed"
	"github.com/pdiddy/evidence-engine/internal/query"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

type fakeSource struct {
	ids       types.IdentifierBatch
	articles  []types.Article
	skipped   int
	missing   []string
	searchErr error
	fetchErr  error

	mu       sync.Mutex
	queries  []types.SearchQuery
	fetches  int
	maxAsked int
}

func (f *fakeSource) Search(ctx context.Context, q types.SearchQuery, maxResults int) (types.IdentifierBatch, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.maxAsked = maxResults
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.ids, f.searchErr
}

func (f *fakeSource) Fetch(ctx context.Context, ids types.IdentifierBatch) (types.RawRecordSet, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.fetchErr != nil {
		return types.RawRecordSet{}, f.fetchErr
	}
	return types.RawRecordSet{Requested: ids}, nil
}

func (f *fakeSource) Normalize(types.RawRecordSet) pubmed.NormalizeResult {
	out := make([]types.Article, len(f.articles))
	copy(out, f.articles)
	return pubmed.NormalizeResult{Articles: out, Skipped: f.skipped, Missing: f.missing}
}

var pmidRe = regexp.MustCompile(`PMID: (\d+)`)

// fakeSummarizer answers batch prompts with "synthesis" and single prompts
// with "summary of <id>". Delays and failures are keyed by PMID.
type fakeSummarizer struct {
	delay map[string]time.Duration
	fail  map[string]bool
	batch error

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	prompts  sync.Map
}

func (f *fakeSummarizer) Summarize(ctx context.Context, p types.Prompt, _ int) (string, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if strings.Contains(p.Text, "following articles") {
		f.prompts.Store("batch", p.Text)
		if f.batch != nil {
			return "", f.batch
		}
		return "synthesis", nil
	}

	m := pmidRe.FindStringSubmatch(p.Text)
	if m == nil {
		return "", errors.New("no PMID in prompt")
	}
	id := m[1]
	f.prompts.Store(id, p.Text)
	select {
	case <-time.After(f.delay[id]):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if f.fail[id] {
		return "", &types.UpstreamError{Kind: types.ErrGeneration, Stage: "summarize", StatusCode: 500}
	}
	return "summary of " + id, nil
}

func articles(ids ...string) []types.Article {
	out := make([]types.Article, len(ids))
	for i, id := range ids {
		out[i] = types.Article{
			ID:       id,
			URL:      pubmed.ArticleURL("https://pubmed.ncbi.nlm.nih.gov/", id),
			Abstract: "Abstract of " + id + ".",
		}
	}
	return out
}

func newRunner(src Source, sum Summarizer) (*Runner, *bytes.Buffer) {
	var progress bytes.Buffer
	return &Runner{
		Source:      src,
		Summarizer:  sum,
		Assembler:   prompt.Assembler{MaxChars: 12000},
		Concurrency: 2,
		MaxTokens:   1000,
		Progress:    &progress,
	}, &progress
}

func TestRunBatch(t *testing.T) {
	src := &fakeSource{ids: types.IdentifierBatch{"1", "2", "3"}, articles: articles("1", "2", "3")}
	sum := &fakeSummarizer{}
	r, progress := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{Question: "aspirin AND stroke", ReviewsOnly: true, MaxResults: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Found)
	assert.Equal(t, "synthesis", res.Synthesis)
	assert.Empty(t, res.SynthesisError)
	assert.Equal(t, "aspirin AND stroke", res.Question)
	assert.Equal(t, types.SearchQuery("aspirin AND stroke AND "+query.ReviewFilter), res.Query)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
	assert.Equal(t, int32(1), sum.calls.Load())
	assert.Equal(t, 3, src.maxAsked)
	for _, a := range res.Articles {
		assert.Empty(t, a.Summary)
	}

	text, ok := sum.prompts.Load("batch")
	require.True(t, ok)
	assert.Contains(t, text, "'aspirin AND stroke'")
	assert.Contains(t, progress.String(), "Found 3 articles related to your clinical question.")
}

func TestRunSingleModePreservesOrder(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5"}
	src := &fakeSource{ids: ids, articles: articles(ids...)}
	// Earlier articles finish last.
	sum := &fakeSummarizer{delay: map[string]time.Duration{
		"1": 40 * time.Millisecond,
		"2": 30 * time.Millisecond,
		"3": 20 * time.Millisecond,
		"4": 10 * time.Millisecond,
	}}
	r, _ := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{
		PICO: &query.PICO{Patient: "adults", Intervention: "statins", Outcome: "mortality"},
		Mode: types.ModeSingle,
	})
	require.NoError(t, err)

	require.Len(t, res.Articles, 5)
	for i, a := range res.Articles {
		assert.Equal(t, ids[i], a.ID)
		assert.Equal(t, "summary of "+ids[i], a.Summary)
		assert.Empty(t, a.Error)
	}
	assert.Equal(t, "synthesis", res.Synthesis)
	assert.Equal(t, int32(6), sum.calls.Load())
	assert.LessOrEqual(t, sum.peak.Load(), int32(2))
	assert.Equal(t, "adults AND statins AND mortality", res.Question)
}

func TestRunGenerationErrorIsPerArticle(t *testing.T) {
	src := &fakeSource{ids: types.IdentifierBatch{"1", "2", "3"}, articles: articles("1", "2", "3")}
	sum := &fakeSummarizer{fail: map[string]bool{"2": true}}
	r, progress := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{Question: "q", Mode: types.ModeSingle})
	require.NoError(t, err)

	assert.Equal(t, "summary of 1", res.Articles[0].Summary)
	assert.Empty(t, res.Articles[1].Summary)
	assert.Contains(t, res.Articles[1].Error, "generation failed")
	assert.Equal(t, "summary of 3", res.Articles[2].Summary)
	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, "synthesis", res.Synthesis)
	assert.Contains(t, progress.String(), "warning: 1 of 3 article summaries failed")
}

func TestRunSynthesisError(t *testing.T) {
	src := &fakeSource{ids: types.IdentifierBatch{"1"}, articles: articles("1")}
	sum := &fakeSummarizer{batch: fmt.Errorf("%w: quota", types.ErrGeneration)}
	r, _ := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.Empty(t, res.Synthesis)
	assert.Contains(t, res.SynthesisError, "quota")
	assert.Len(t, res.Articles, 1)
}

func TestRunNoResults(t *testing.T) {
	src := &fakeSource{ids: types.IdentifierBatch{}}
	sum := &fakeSummarizer{}
	r, progress := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{Question: "nothing matches"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Empty(t, res.Articles)
	assert.Zero(t, src.fetches)
	assert.Zero(t, sum.calls.Load())
	assert.Contains(t, progress.String(), "No articles found related to your clinical question.")
}

func TestRunMissingField(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{"blank question", Request{Question: "  "}, []string{"question"}},
		{"blank patient", Request{PICO: &query.PICO{Intervention: "statins", Comparison: "placebo", Outcome: "mortality"}}, []string{"patient"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			r, _ := newRunner(src, &fakeSummarizer{})

			res, err := r.Run(context.Background(), tt.req)
			assert.Nil(t, res)
			require.ErrorIs(t, err, types.ErrMissingField)
			var mf *types.MissingFieldError
			require.ErrorAs(t, err, &mf)
			assert.Equal(t, tt.want, mf.Fields)
			assert.Empty(t, src.queries)
		})
	}
}

func TestRunUnknownMode(t *testing.T) {
	r, _ := newRunner(&fakeSource{}, &fakeSummarizer{})
	_, err := r.Run(context.Background(), Request{Question: "q", Mode: "bulk"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestRunStageErrors(t *testing.T) {
	unavailable := &types.UpstreamError{Kind: types.ErrUpstreamUnavailable, Stage: "search", StatusCode: 503}
	malformed := &types.UpstreamError{Kind: types.ErrMalformedResponse, Stage: "fetch"}

	tests := []struct {
		name    string
		src     *fakeSource
		want    error
		found   int
		fetched bool
	}{
		{"search unavailable", &fakeSource{searchErr: unavailable}, types.ErrUpstreamUnavailable, 0, false},
		{"fetch malformed", &fakeSource{ids: types.IdentifierBatch{"1"}, fetchErr: malformed}, types.ErrMalformedResponse, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := &fakeSummarizer{}
			r, _ := newRunner(tt.src, sum)

			res, err := r.Run(context.Background(), Request{Question: "q"})
			require.ErrorIs(t, err, tt.want)
			require.NotNil(t, res)
			assert.Equal(t, tt.found, res.Found)
			assert.Equal(t, tt.fetched, tt.src.fetches > 0)
			assert.Zero(t, sum.calls.Load())
		})
	}
}

func TestRunSearchOnlyAndAdvisory(t *testing.T) {
	src := &fakeSource{
		ids:      types.IdentifierBatch{"1", "2", "3"},
		articles: articles("1", "3"),
		skipped:  1,
		missing:  []string{"2"},
	}
	sum := &fakeSummarizer{}
	r, progress := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{Question: "aspirin AND stroke", SearchOnly: true})
	require.NoError(t, err)
	require.Len(t, res.Articles, 2)
	assert.Equal(t, "1", res.Articles[0].ID)
	assert.Equal(t, "3", res.Articles[1].ID)
	assert.Equal(t, 1, res.Advisory.SkippedRecords)
	assert.Equal(t, []string{"2"}, res.Advisory.MissingIDs)
	assert.Zero(t, sum.calls.Load())
	assert.Contains(t, progress.String(), "warning: skipped 1 unparseable records")
}

func TestRunNoSynthesis(t *testing.T) {
	src := &fakeSource{ids: types.IdentifierBatch{"1", "2"}, articles: articles("1", "2")}
	sum := &fakeSummarizer{}
	r, _ := newRunner(src, sum)

	res, err := r.Run(context.Background(), Request{Question: "q", Mode: types.ModeSingle, NoSynthesis: true})
	require.NoError(t, err)
	assert.Empty(t, res.Synthesis)
	assert.Equal(t, int32(2), sum.calls.Load())
}

func TestRunTruncatedFlag(t *testing.T) {
	arts := articles("1")
	arts[0].Abstract = strings.Repeat("long abstract ", 400)
	src := &fakeSource{ids: types.IdentifierBatch{"1"}, articles: arts}
	r, _ := newRunner(src, &fakeSummarizer{})
	r.Assembler = prompt.Assembler{MaxChars: 2500}

	res, err := r.Run(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, arts[0].Abstract, res.Articles[0].Abstract)
}

func TestRunCancelled(t *testing.T) {
	src := &fakeSource{ids: types.IdentifierBatch{"1", "2"}, articles: articles("1", "2")}
	sum := &fakeSummarizer{delay: map[string]time.Duration{"1": time.Minute, "2": time.Minute}}
	r, _ := newRunner(src, sum)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, Request{Question: "q", Mode: types.ModeSingle, NoSynthesis: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Len(t, res.Articles, 2)
	for _, a := range res.Articles {
		assert.NotEmpty(t, a.Error)
	}
}
