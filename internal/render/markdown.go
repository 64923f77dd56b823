// Package render turns model replies into HTML that is safe to embed.
package render

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders markdown to sanitized HTML. It is safe for concurrent use.
type Markdown struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdown creates a renderer with GitHub-flavored markdown enabled.
func NewMarkdown() *Markdown {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")

	return &Markdown{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: policy,
	}
}

// Render converts raw markdown to HTML. Any HTML in the input is sanitized,
// so the result can be embedded without further escaping.
func (m *Markdown) Render(raw string) string {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(raw), &buf); err != nil {
		return "<p>" + strings.ReplaceAll(html.EscapeString(raw), "\n", "<br>") + "</p>"
	}
	return strings.TrimSpace(m.policy.Sanitize(buf.String()))
}
