package render

import (
	"bytes"
	"fmt"
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"agency-dashboard/internal/types"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var exportPolicy = newExportPolicy()

func newExportPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AllowElements("p", "br", "strong", "em", "del", "code", "pre", "blockquote", "hr")
	p.AllowElements("ul", "ol", "li")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowElements("figure", "figcaption", "section")
	p.AllowAttrs("href").OnElements("a")
	p.AllowImages()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("section")
	p.AllowURLSchemes("http", "https", "data")
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

const exportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; color: #222; }
section.result { border-left: 3px solid #ccc; padding: 0 1rem; margin: 1.5rem 0; }
figure img { max-width: 100%%; }
</style>
</head>
<body>
<h1>%s</h1>
<p><em>Exported %s</em></p>
%s
</body>
</html>
`

// ExportHTML renders results as a standalone HTML page. Text results are
// treated as Markdown; all result markup is sanitized.
func ExportHTML(title string, results []types.Result, at time.Time) ([]byte, error) {
	var body bytes.Buffer
	if len(results) == 0 {
		body.WriteString("<p>" + NoResults + "</p>\n")
	}
	for _, r := range results {
		body.WriteString(`<section class="result">`)
		switch r.Type {
		case types.ResultImage:
			alt := r.Alt
			if alt == "" {
				alt = DefaultImageAlt
			}
			fmt.Fprintf(&body, `<figure><img src="%s" alt="%s"><figcaption>%s</figcaption></figure>`,
				html.EscapeString(r.Content), html.EscapeString(alt), html.EscapeString(alt))
		default:
			if err := markdown.Convert([]byte(r.Content), &body); err != nil {
				return nil, fmt.Errorf("render result: %w", err)
			}
		}
		body.WriteString("</section>\n")
	}
	safe := exportPolicy.SanitizeBytes(body.Bytes())
	escapedTitle := html.EscapeString(title)
	return []byte(fmt.Sprintf(exportTemplate, escapedTitle, escapedTitle, at.UTC().Format(time.RFC1123), safe)), nil
}
