// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the evidence-engine pipeline:
// search queries, identifier batches, raw record sets, normalized articles,
// prompts, the error taxonomy, and configuration.
package types

import "strings"

// SearchQuery is a search-engine query string built by the query builder.
// It is immutable once built.
type SearchQuery string

// String returns the query text.
func (q SearchQuery) String() string { return string(q) }

// IdentifierBatch is an ordered, duplicate-free list of record identifiers
// (PMIDs) returned by a search and consumed once by a fetch.
type IdentifierBatch []string

// Join returns the identifiers as a comma-separated list.
func (b IdentifierBatch) Join() string {
	return strings.Join(b, ",")
}

// RawRecordSet is the undecoded response of a batched fetch.
type RawRecordSet struct {
	// Body is the bibliographic XML as returned by the fetch endpoint.
	Body []byte

	// Requested is the identifier batch the fetch was issued for.
	Requested IdentifierBatch
}

// Article is the canonical normalized record. ID is required and is the
// uniqueness key; every other field may be empty.
type Article struct {
	// ID is the database's stable identifier (PMID).
	ID string `json:"id" yaml:"id"`

	// URL is derived as base URL + ID.
	URL string `json:"url" yaml:"url"`

	// Title is the article title when the record carries one.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Journal is the journal title when present.
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`

	// Year is the publication year when present.
	Year string `json:"year,omitempty" yaml:"year,omitempty"`

	// MeshTerms lists descriptor (MeSH) headings in record order.
	MeshTerms []string `json:"mesh_terms" yaml:"mesh_terms"`

	// PublicationType lists publication types in record order
	// (e.g. "Meta-Analysis").
	PublicationType []string `json:"publication_type" yaml:"publication_type"`

	// Abstract is the abstract text, or "" when the record has none.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Summary is the per-article analysis attached by a summarization call.
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Error describes a failed summarization for this article. It is shown
	// next to the article instead of a summary.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// HasPublicationType reports whether the article carries the named type,
// compared case-insensitively.
func (a Article) HasPublicationType(name string) bool {
	for _, pt := range a.PublicationType {
		if strings.EqualFold(pt, name) {
			return true
		}
	}
	return false
}

// PromptMode selects how the prompt assembler renders articles.
type PromptMode string

const (
	// ModeBatch renders all articles as a digest list followed by one
	// instruction template.
	ModeBatch PromptMode = "batch"

	// ModeSingle embeds one article into a per-article template.
	ModeSingle PromptMode = "single"
)

// Prompt is a transient instruction prompt for one summarization call.
type Prompt struct {
	// Text is the rendered prompt.
	Text string

	// Truncated reports whether abstract text was shortened to fit the
	// configured budget.
	Truncated bool
}
