// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prompt renders normalized articles into bounded instruction
// prompts for the summarization adapter.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ellipsis marks an abstract shortened to fit the budget.
const ellipsis = "…"

// ErrOverBudget reports that the prompt exceeds the budget even with every
// abstract removed.
var ErrOverBudget = errors.New("prompt metadata exceeds budget")

// Assembler renders prompts. MaxChars bounds the rendered length in
// characters (runes); zero disables the bound.
type Assembler struct {
	MaxChars int
}

// New returns an Assembler for cfg.
func New(cfg types.PromptConfig) Assembler {
	return Assembler{MaxChars: cfg.MaxChars}
}

// Assemble renders articles for question. Batch mode accepts one or more
// articles; single mode requires exactly one. When the rendered prompt is
// over budget, abstracts are shortened starting with the longest until the
// prompt fits, and the result is marked Truncated. Metadata is never cut.
func (a Assembler) Assemble(articles []types.Article, question string, mode types.PromptMode) (types.Prompt, error) {
	var render func([]types.Article) (string, error)
	switch mode {
	case types.ModeBatch:
		if len(articles) == 0 {
			return types.Prompt{}, fmt.Errorf("batch prompt needs at least one article")
		}
		render = func(as []types.Article) (string, error) {
			return execute(batchTmpl, struct {
				Question string
				Articles []types.Article
			}{question, as})
		}
	case types.ModeSingle:
		if len(articles) != 1 {
			return types.Prompt{}, fmt.Errorf("single prompt needs exactly one article, got %d", len(articles))
		}
		render = func(as []types.Article) (string, error) {
			return execute(singleTmpl, struct {
				Question string
				Article  types.Article
			}{question, as[0]})
		}
	default:
		return types.Prompt{}, fmt.Errorf("unknown prompt mode %q", mode)
	}

	text, err := render(articles)
	if err != nil {
		return types.Prompt{}, fmt.Errorf("rendering prompt: %w", err)
	}
	if a.MaxChars <= 0 || utf8.RuneCountInString(text) <= a.MaxChars {
		return types.Prompt{Text: text}, nil
	}
	return a.fit(articles, render, utf8.RuneCountInString(text))
}

// fit lowers a common cap on abstract length until the rendered prompt is
// within budget. Only abstracts longer than the cap are cut, so the longest
// abstracts shrink first and shorter ones are untouched while possible.
func (a Assembler) fit(articles []types.Article, render func([]types.Article) (string, error), length int) (types.Prompt, error) {
	lengths := make([]int, len(articles))
	for i, art := range articles {
		lengths[i] = utf8.RuneCountInString(art.Abstract)
	}

	limit := capFor(lengths, length-a.MaxChars)
	for {
		trimmed := make([]types.Article, len(articles))
		for i, art := range articles {
			trimmed[i] = art
			trimmed[i].Abstract = shorten(art.Abstract, limit)
		}

		text, err := render(trimmed)
		if err != nil {
			return types.Prompt{}, fmt.Errorf("rendering prompt: %w", err)
		}
		n := utf8.RuneCountInString(text)
		if n <= a.MaxChars {
			return types.Prompt{Text: text, Truncated: true}, nil
		}
		if limit == 0 {
			return types.Prompt{}, fmt.Errorf("%w: %d characters without abstracts, budget %d", ErrOverBudget, n, a.MaxChars)
		}
		// Markers and rune boundaries can leave a small overflow.
		limit = max(0, limit-(n-a.MaxChars))
	}
}

// capFor returns the largest per-abstract cap whose removals add up to at
// least excess characters.
func capFor(lengths []int, excess int) int {
	sorted := append([]int(nil), lengths...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	removed := 0
	for i := range sorted {
		next := 0
		if i+1 < len(sorted) {
			next = sorted[i+1]
		}
		// Lowering the cap from sorted[i] to next cuts i+1 abstracts.
		step := (sorted[i] - next) * (i + 1)
		if removed+step >= excess {
			need := excess - removed
			return sorted[i] - (need+i)/(i+1)
		}
		removed += step
	}
	return 0
}

// shorten cuts s to at most limit runes including the ellipsis marker.
func shorten(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	if limit <= utf8.RuneCountInString(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:limit-utf8.RuneCountInString(ellipsis)]), " \n\t")
	return cut + ellipsis
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
