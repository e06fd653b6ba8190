// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package query builds search-engine query strings from a free-text clinical
// question or from PICO (Patient, Intervention, Comparison, Outcome) fields.
package query

import (
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ReviewFilter restricts a query to systematic reviews and meta-analyses.
const ReviewFilter = "(systematic[sb] OR meta-analysis[pt])"

// PICO holds the four clauses of a structured clinical question.
// Comparison is optional.
type PICO struct {
	Patient      string `json:"patient" yaml:"patient"`
	Intervention string `json:"intervention" yaml:"intervention"`
	Comparison   string `json:"comparison,omitempty" yaml:"comparison,omitempty"`
	Outcome      string `json:"outcome" yaml:"outcome"`
}

// Validate returns a *types.MissingFieldError naming every blank required
// field, in patient, intervention, outcome order.
func (p PICO) Validate() error {
	var missing []string
	if blank(p.Patient) {
		missing = append(missing, "patient")
	}
	if blank(p.Intervention) {
		missing = append(missing, "intervention")
	}
	if blank(p.Outcome) {
		missing = append(missing, "outcome")
	}
	if len(missing) > 0 {
		return &types.MissingFieldError{Fields: missing}
	}
	return nil
}

// String joins the non-empty clauses with AND.
func (p PICO) String() string {
	var clauses []string
	for _, c := range []string{p.Patient, p.Intervention, p.Comparison, p.Outcome} {
		if c = strings.TrimSpace(c); c != "" {
			clauses = append(clauses, c)
		}
	}
	return strings.Join(clauses, " AND ")
}

// FreeText builds a query from a clinical question. The question is kept
// verbatim apart from surrounding whitespace.
func FreeText(question string, reviewsOnly bool) (types.SearchQuery, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", &types.MissingFieldError{Fields: []string{"question"}}
	}
	return withFilter(q, reviewsOnly), nil
}

// FromPICO builds a query from PICO fields. An empty Comparison is omitted
// rather than rendered as an empty clause.
func FromPICO(p PICO, reviewsOnly bool) (types.SearchQuery, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return withFilter(p.String(), reviewsOnly), nil
}

func withFilter(q string, reviewsOnly bool) types.SearchQuery {
	if !reviewsOnly {
		return types.SearchQuery(q)
	}
	return types.SearchQuery(q + " AND " + ReviewFilter)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
