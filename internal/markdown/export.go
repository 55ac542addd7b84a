// Package markdown exports local notes as standalone HTML documents.
package markdown

import (
	"bytes"
	"fmt"
	"html/template"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/jun/securenotes/internal/model"
)

const codeStyle = "github"

var page = template.Must(template.New("note").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
{{.CSS}}</style>
</head>
<body>
<article>
<h1>{{.Title}}</h1>
<p class="meta">Updated {{.Updated}}</p>
{{.Body}}</article>
</body>
</html>
`))

// Exporter converts note bodies (Markdown) to HTML.
type Exporter struct {
	md  goldmark.Markdown
	css template.CSS
}

// NewExporter creates an Exporter with GFM and chroma class-based highlighting.
// Raw HTML in note bodies is escaped, since notes may come from other devices.
func NewExporter() (*Exporter, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(codeStyle),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var css bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&css, styles.Get(codeStyle)); err != nil {
		return nil, fmt.Errorf("failed to generate highlight CSS: %w", err)
	}

	return &Exporter{md: md, css: template.CSS(css.String())}, nil
}

// Render converts a Markdown fragment to HTML.
func (e *Exporter) Render(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderNote renders a whole note as a self-contained HTML page.
func (e *Exporter) RenderNote(note model.Note) ([]byte, error) {
	body, err := e.Render([]byte(note.Content))
	if err != nil {
		return nil, fmt.Errorf("render note %s: %w", note.ID, err)
	}

	title := note.Title
	if title == "" {
		title = "Untitled"
	}

	var buf bytes.Buffer
	err = page.Execute(&buf, struct {
		Title   string
		CSS     template.CSS
		Updated string
		Body    template.HTML
	}{
		Title:   title,
		CSS:     e.css,
		Updated: note.UpdatedAt.Format("2006-01-02 15:04"),
		Body:    template.HTML(body),
	})
	if err != nil {
		return nil, fmt.Errorf("render note %s: %w", note.ID, err)
	}
	return buf.Bytes(), nil
}
