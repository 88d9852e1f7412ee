package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"grantsmith/api/internal/proposal"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("document.html").Funcs(template.FuncMap{
	"longDate": func(t time.Time) string { return t.Format("2 January 2006") },
	"shortFingerprint": func(fp string) string {
		if len(fp) > 12 {
			return fp[:12]
		}
		return fp
	},
}).ParseFS(templateFS, "templates/document.html"))

// PageData is everything the printable page shows around the body.
type PageData struct {
	Title       string
	TemplateID  string
	Contents    []string
	Body        template.HTML
	UpdatedAt   time.Time
	Completed   int
	Total       int
	Fingerprint string
}

func newPageData(doc proposal.Document, assembled, body string, updatedAt time.Time) PageData {
	contents := make([]string, 0, len(doc.Structure))
	for _, section := range doc.Ordered() {
		if section.Authoritative() {
			contents = append(contents, section.Name)
		}
	}
	return PageData{
		Title:       doc.Title,
		TemplateID:  doc.TemplateID,
		Contents:    contents,
		Body:        template.HTML(body),
		UpdatedAt:   updatedAt,
		Completed:   doc.CompletedCount(),
		Total:       len(doc.Structure),
		Fingerprint: proposal.Fingerprint(assembled),
	}
}

func renderPage(data PageData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
