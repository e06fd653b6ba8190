// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Record element names inside a PubmedArticleSet.
const (
	articleElement     = "PubmedArticle"
	bookArticleElement = "PubmedBookArticle"
)

// recordStart finds the next record start tag when resynchronizing after a
// syntax error.
var recordStart = regexp.MustCompile(`<(PubmedArticle|PubmedBookArticle)[\s>/]`)

// NormalizeResult holds normalized articles and advisory counts. Nothing in
// it is fatal.
type NormalizeResult struct {
	// Articles are in order of appearance in the raw record set, which is
	// not guaranteed to match the requested identifier order.
	Articles []types.Article

	// Skipped counts records that could not be parsed or had no identifier.
	Skipped int

	// Duplicates counts records whose identifier was already normalized.
	Duplicates int

	// Missing lists requested identifiers with no record in the response.
	Missing []string
}

// Normalize parses every record in raw into an Article. It never fails: a
// record that cannot be decoded or lacks an identifier is skipped, logged,
// and counted. Normalizing the same input twice yields identical output.
func (c *Client) Normalize(raw types.RawRecordSet) NormalizeResult {
	return Normalize(raw, c.Config.ArticleBaseURL, c.Logger)
}

// Normalize is the stateless form of Client.Normalize.
func Normalize(raw types.RawRecordSet, baseURL string, logger *slog.Logger) NormalizeResult {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n := normalizer{baseURL: baseURL, logger: logger, seen: map[string]bool{}}
	n.result.Articles = []types.Article{}

	data := raw.Body
	for len(data) > 0 {
		resume, ok := n.scan(data)
		if !ok {
			break
		}
		loc := recordStart.FindIndex(data[resume:])
		if loc == nil {
			break
		}
		data = data[resume+loc[0]:]
	}

	for _, id := range raw.Requested {
		if !n.seen[id] {
			n.result.Missing = append(n.result.Missing, id)
		}
	}
	return n.result
}

type normalizer struct {
	baseURL string
	logger  *slog.Logger
	seen    map[string]bool
	result  NormalizeResult
}

// scan decodes records from data until EOF or a syntax error. On error it
// returns the offset from which to look for the next record and true.
func (n *normalizer) scan(data []byte) (resume int, retry bool) {
	dec := newDecoder(bytes.NewReader(data))
	for {
		offset := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return 0, false
		}
		if err != nil {
			// Damage outside a record, e.g. a stray closing tag left after
			// resynchronizing.
			return offset + 1, true
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var (
			article types.Article
			decErr  error
		)
		switch se.Name.Local {
		case articleElement:
			var rec pubmedArticle
			if decErr = dec.DecodeElement(&rec, &se); decErr == nil {
				article = rec.article()
			}
		case bookArticleElement:
			var rec pubmedBookArticle
			if decErr = dec.DecodeElement(&rec, &se); decErr == nil {
				article = rec.article()
			}
		default:
			continue
		}

		if decErr != nil {
			n.result.Skipped++
			n.logger.Warn("skipping unparseable record", "element", se.Name.Local, "offset", offset, "error", decErr)
			return offset + 1, true
		}
		n.add(article)
	}
}

func (n *normalizer) add(a types.Article) {
	if a.ID == "" {
		n.result.Skipped++
		n.logger.Warn("dropping record without identifier", "title", a.Title)
		return
	}
	if n.seen[a.ID] {
		n.result.Duplicates++
		n.logger.Debug("dropping duplicate record", "id", a.ID)
		return
	}
	n.seen[a.ID] = true
	a.URL = ArticleURL(n.baseURL, a.ID)
	n.result.Articles = append(n.result.Articles, a)
}

// ArticleURL derives the canonical article URL from the base URL and id.
func ArticleURL(baseURL, id string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + id
}

// EFetch XML structures. Only the fields the pipeline uses are mapped.
type pubmedArticle struct {
	PMID            string     `xml:"MedlineCitation>PMID"`
	Journal         string     `xml:"MedlineCitation>Article>Journal>Title"`
	PubYear         string     `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
	MedlineDate     string     `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>MedlineDate"`
	Title           richText   `xml:"MedlineCitation>Article>ArticleTitle"`
	AbstractTexts   []richText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	PublicationType []string   `xml:"MedlineCitation>Article>PublicationTypeList>PublicationType"`
	Descriptors     []string   `xml:"MedlineCitation>MeshHeadingList>MeshHeading>DescriptorName"`
}

func (r pubmedArticle) article() types.Article {
	year := strings.TrimSpace(r.PubYear)
	if year == "" {
		year = leadingYear(r.MedlineDate)
	}
	return types.Article{
		ID:              strings.TrimSpace(r.PMID),
		Title:           r.Title.Text,
		Journal:         collapseSpace(r.Journal),
		Year:            year,
		MeshTerms:       cleanList(r.Descriptors),
		PublicationType: cleanList(r.PublicationType),
		Abstract:        joinAbstract(r.AbstractTexts),
	}
}

type pubmedBookArticle struct {
	PMID            string     `xml:"BookDocument>PMID"`
	BookTitle       string     `xml:"BookDocument>Book>BookTitle"`
	PubYear         string     `xml:"BookDocument>Book>PubDate>Year"`
	Title           richText   `xml:"BookDocument>ArticleTitle"`
	AbstractTexts   []richText `xml:"BookDocument>Abstract>AbstractText"`
	PublicationType []string   `xml:"BookDocument>PublicationType"`
}

func (r pubmedBookArticle) article() types.Article {
	title := r.Title.Text
	if title == "" {
		title = collapseSpace(r.BookTitle)
	}
	return types.Article{
		ID:              strings.TrimSpace(r.PMID),
		Title:           title,
		Year:            strings.TrimSpace(r.PubYear),
		MeshTerms:       []string{},
		PublicationType: cleanList(r.PublicationType),
		Abstract:        joinAbstract(r.AbstractTexts),
	}
}

// richText captures the text content of an element, flattening inline
// markup such as <i> or <sup>, and its Label attribute if any.
type richText struct {
	Label string
	Text  string
}

func (t *richText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "Label" {
			t.Label = strings.TrimSpace(attr.Value)
		}
	}
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				t.Text = collapseSpace(b.String())
				return nil
			}
			depth--
		case xml.CharData:
			b.Write(tok)
		}
	}
}

// joinAbstract joins structured abstract sections in order, each prefixed
// with its label.
func joinAbstract(sections []richText) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		if s.Label != "" {
			parts = append(parts, s.Label+": "+s.Text)
			continue
		}
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n")
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = collapseSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// leadingYear extracts a year from a MedlineDate such as "2019 Nov-Dec".
func leadingYear(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 4 {
		for _, r := range s[:4] {
			if r < '0' || r > '9' {
				return ""
			}
		}
		return s[:4]
	}
	return ""
}
