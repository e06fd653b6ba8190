// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package prompt

import (
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join": strings.Join,
}

// batchTmpl renders a digest of many articles followed by the six-section
// analysis instructions.
var batchTmpl = template.Must(template.New("batch").Funcs(funcs).Parse(`Using your expert knowledge, analyze the following articles related to '{{.Question}}':
{{range $i, $a := .Articles}}{{if $i}}

{{end}}PMID: {{$a.ID}}{{if $a.Title}}, Title: {{$a.Title}}{{end}}{{if $a.Journal}}, Journal: {{$a.Journal}}{{end}}{{if $a.Year}}, Year: {{$a.Year}}{{end}}, URL: {{$a.URL}}, MeSH terms: {{join $a.MeshTerms ", "}}, Abstract: {{$a.Abstract}}{{end}}

Please provide a structured analysis with the following sections:

1. Summary of Findings:
- Provide a brief summary of the main findings of these articles.

2. Important Outcomes (with PMID, URL, and MeSH terms):
- List the most important outcomes in bullet points and ensure that the PMID, URL, and MeSH terms mentioned for each outcome correspond to the correct article.

3. Comparisons and Contrasts:
- Highlight any key differences or similarities between the findings of these articles.

4. Innovative Treatments or Methodologies:
- Are there any innovative treatments or methodologies mentioned in these articles that could have significant impact on the field?

5. Future Research and Unanswered Questions:
- Briefly discuss any potential future research directions or unanswered questions based on the findings of these articles.

6. Conclusion:
- Sum up the main takeaways from these articles.`))

// singleTmpl embeds one article into the same six sections.
var singleTmpl = template.Must(template.New("single").Funcs(funcs).Parse(`Using your expert knowledge, analyze the following article related to '{{.Question}}':
{{with .Article}}{{if .Title}}Title: {{.Title}}
{{end}}{{if .Journal}}Journal: {{.Journal}}{{if .Year}} ({{.Year}}){{end}}
{{else if .Year}}Year: {{.Year}}
{{end}}{{if .PublicationType}}Publication types: {{join .PublicationType ", "}}
{{end}}Abstract: {{.Abstract}}

Please provide a structured analysis with the following sections:

1. Summary of Findings:
- Provide a brief summary of the main findings of this article.

2. Important Outcomes (with PMID: {{.ID}}, URL: {{.URL}}, and MeSH terms: {{join .MeshTerms ", "}}):
- List the most important outcomes in bullet points and ensure that the PMID, URL, and MeSH terms mentioned for each outcome correspond to the correct article.{{end}}

3. Comparisons and Contrasts:
- Highlight any key differences or similarities with other findings.

4. Innovative Treatments or Methodologies:
- Are there any innovative treatments or methodologies mentioned in this article that could have significant impact on the field?

5. Future Research and Unanswered Questions:
- Briefly discuss any potential future research directions or unanswered questions based on the findings of this article.

6. Conclusion:
- Sum up the main takeaways from this article.`))
