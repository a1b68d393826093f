package export

import (
	"html"
	"html/template"
	"strings"
)

// TextToHTML turns plain chapter text into escaped paragraphs. Blank lines separate
// paragraphs and single newlines become line breaks.
func TextToHTML(text string) template.HTML {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	for _, block := range strings.Split(normalized, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(line))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>\n")
	}
	return template.HTML(b.String())
}
