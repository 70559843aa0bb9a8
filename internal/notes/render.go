package notes

import (
	"bytes"
	"html/template"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/notevault/internal/obs"
)

var notePage = template.Must(template.New("note").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
</head>
<body>
<article data-intact="{{.Intact}}">
<h1>{{.Title}}</h1>
<time datetime="{{.Date}}">{{.Date}}</time>
{{if not .Intact}}<p role="alert">This note failed its integrity check and may have been altered.</p>
{{end}}{{.Body}}
</article>
</body>
</html>`))

// sanitizer is safe for concurrent use.
var sanitizer = bluemonday.UGCPolicy()

const renderFailedPage = `<!DOCTYPE html><html><head><title>Error</title></head><body><h1>Error rendering note</h1></body></html>`

// RenderMarkdown converts note content to HTML with scripts, event
// handlers and javascript: URLs stripped.
func RenderMarkdown(content string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	r := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank})
	return sanitizer.SanitizeBytes(markdown.ToHTML([]byte(content), p, r))
}

// RenderHTML renders a note as a standalone page. Tampered notes carry a
// visible warning.
func RenderHTML(note Note) []byte {
	return renderPage(notePage, note)
}

func renderPage(page *template.Template, note Note) []byte {
	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Title, Date string
		Intact      bool
		Body        template.HTML
	}{
		Title:  note.Title,
		Date:   note.Date.UTC().Format(time.RFC3339),
		Intact: note.Intact,
		Body:   template.HTML(RenderMarkdown(note.Content)),
	})
	if err != nil {
		obs.Pkg("notes").Error("render_failed", "title_len", len(note.Title), "error", err)
		return []byte(renderFailedPage)
	}
	return buf.Bytes()
}
