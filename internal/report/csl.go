// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"io"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// CSLItem represents a bibliographic entry in CSL (Citation Style Language)
// format. The field names and structure follow the CSL-YAML schema so that
// output is consumable by Pandoc and reference managers.
type CSLItem struct {
	ID             string   `yaml:"id"`
	Type           string   `yaml:"type"`
	Title          string   `yaml:"title,omitempty"`
	ContainerTitle string   `yaml:"container-title,omitempty"`
	Abstract       string   `yaml:"abstract,omitempty"`
	Issued         *CSLDate `yaml:"issued,omitempty"`
	URL            string   `yaml:"URL,omitempty"`
	PMID           string   `yaml:"PMID"`
	Keyword        string   `yaml:"keyword,omitempty"`
}

// CSLDate represents a date in CSL format using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

// CSL writes the result's articles as a CSL-YAML list to w.
func CSL(res *pipeline.Result, w io.Writer) error {
	items := make([]CSLItem, len(res.Articles))
	for i, a := range res.Articles {
		items[i] = toCSLItem(a)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

func toCSLItem(a types.Article) CSLItem {
	item := CSLItem{
		ID:             "pmid" + a.ID,
		Type:           "article-journal",
		Title:          a.Title,
		ContainerTitle: a.Journal,
		Abstract:       a.Abstract,
		URL:            a.URL,
		PMID:           a.ID,
	}
	// Bookshelf records carry no journal.
	if a.Journal == "" {
		item.Type = "chapter"
	}
	if year, err := strconv.Atoi(a.Year); err == nil && year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{year}}}
	}
	if len(a.MeshTerms) > 0 {
		item.Keyword = strings.Join(a.MeshTerms, ", ")
	}
	return item
}
