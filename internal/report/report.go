// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders pipeline results for people and tools: a terminal
// table, Markdown with summaries, JSON, YAML, and CSL-YAML bibliographies.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Output formats.
const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatCSL      = "csl"
)

// Formats lists the accepted format names.
var Formats = []string{FormatTable, FormatMarkdown, FormatJSON, FormatYAML, FormatCSL}

// Write renders res to w in the named format.
func Write(res *pipeline.Result, format string, w io.Writer) error {
	switch format {
	case FormatTable:
		Table(res, w)
		return nil
	case FormatMarkdown, "md":
		Markdown(res, w)
		return nil
	case FormatJSON:
		return JSON(res, w)
	case FormatYAML:
		return YAML(res, w)
	case FormatCSL:
		return CSL(res, w)
	}
	return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// Table writes articles as a human-readable table to w.
func Table(res *pipeline.Result, w io.Writer) {
	if len(res.Articles) == 0 {
		fmt.Fprintln(w, "No articles found related to your clinical question.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-10s  %-4s  %-50s  %-24s  %s\n",
		"Rank", "PMID", "Year", "Title", "Journal", "Type")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for i, a := range res.Articles {
		kind, _ := evidenceType(a)
		fmt.Fprintf(w, "%-4d  %-10s  %-4s  %-50s  %-24s  %s\n",
			i+1, a.ID, a.Year, truncate(a.Title, 50), truncate(a.Journal, 24), kind)
	}

	fmt.Fprintf(w, "\n%d articles", len(res.Articles))
	if n := res.Advisory.SkippedRecords; n > 0 {
		fmt.Fprintf(w, " (%d unparseable records skipped)", n)
	}
	fmt.Fprintln(w)
}

// Markdown writes the synthesis and one block per article to w. Failed
// summaries are shown inline next to their article.
func Markdown(res *pipeline.Result, w io.Writer) {
	fmt.Fprintf(w, "# %s\n\n", res.Question)
	fmt.Fprintf(w, "Query: `%s`\n\n", res.Query)

	if res.Empty() {
		fmt.Fprintln(w, "No articles found related to your clinical question.")
		return
	}
	fmt.Fprintf(w, "Found %d articles related to your clinical question.\n", res.Found)
	if res.Truncated {
		fmt.Fprintln(w, "\n> Some abstracts were shortened to fit the prompt budget.")
	}

	switch {
	case res.Synthesis != "":
		fmt.Fprintf(w, "\n## Synthesis\n\n%s\n", strings.TrimSpace(res.Synthesis))
	case res.SynthesisError != "":
		fmt.Fprintf(w, "\n## Synthesis\n\n> Synthesis failed: %s\n", res.SynthesisError)
	}

	fmt.Fprintln(w, "\n## Articles")
	for _, a := range res.Articles {
		title := a.Title
		if title == "" {
			title = "PMID " + a.ID
		}
		fmt.Fprintf(w, "\n### [%s](%s)\n\n", title, a.URL)

		var meta []string
		if a.Journal != "" {
			meta = append(meta, a.Journal)
		}
		if a.Year != "" {
			meta = append(meta, a.Year)
		}
		meta = append(meta, "PMID "+a.ID)
		if kind, synthesis := evidenceType(a); synthesis {
			meta = append(meta, "**"+kind+"**")
		}
		fmt.Fprintf(w, "%s\n", strings.Join(meta, " · "))
		if len(a.PublicationType) > 0 {
			fmt.Fprintf(w, "\nPublication types: %s\n", strings.Join(a.PublicationType, ", "))
		}
		if len(a.MeshTerms) > 0 {
			fmt.Fprintf(w, "\nMeSH terms: %s\n", strings.Join(a.MeshTerms, ", "))
		}

		switch {
		case a.Error != "":
			fmt.Fprintf(w, "\n> Summary failed: %s\n", a.Error)
		case a.Summary != "":
			fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(a.Summary))
		}
	}

	if len(res.Advisory.MissingIDs) > 0 {
		fmt.Fprintf(w, "\n_No record returned for: %s_\n", strings.Join(res.Advisory.MissingIDs, ", "))
	}
}

// JSON writes the result as indented JSON to w.
func JSON(res *pipeline.Result, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// YAML writes the result as YAML to w.
func YAML(res *pipeline.Result, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(res)
}

// synthesisTypes are the publication types that mark evidence-synthesis
// articles, strongest first.
var synthesisTypes = []string{"Meta-Analysis", "Systematic Review"}

// evidenceType returns the publication type to show for a, preferring an
// evidence-synthesis type, and reports whether it is one.
func evidenceType(a types.Article) (string, bool) {
	for _, t := range synthesisTypes {
		if a.HasPublicationType(t) {
			return t, true
		}
	}
	if len(a.PublicationType) > 0 {
		return a.PublicationType[0], false
	}
	return "", false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
