// Package conversion renders chat message markdown to sanitized HTML.
package conversion

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/mermaid"
)

// Converter renders markdown to HTML. Renders are memoized in a bounded
// cache because streaming re-renders the same accumulated text many times.
type Converter struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
	cache     *renderCache

	style       string
	withMermaid bool
}

// Option configures the Converter.
type Option func(*Converter)

// WithHighlighting enables syntax highlighting with the given chroma style.
func WithHighlighting(style string) Option {
	return func(c *Converter) { c.style = style }
}

// WithMermaid renders mermaid fenced blocks as client-side diagrams.
func WithMermaid() Option {
	return func(c *Converter) { c.withMermaid = true }
}

// WithSanitization filters the rendered HTML through the given policy.
func WithSanitization(policy *bluemonday.Policy) Option {
	return func(c *Converter) { c.sanitizer = policy }
}

// WithCacheSize bounds the render cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.cache = newRenderCache(n)
		} else {
			c.cache = nil
		}
	}
}

// NewConverter creates a Converter with the given options.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{cache: newRenderCache(defaultCacheSize)}
	for _, opt := range opts {
		opt(c)
	}

	extensions := []goldmark.Extender{extension.GFM}
	if c.style != "" {
		extensions = append(extensions, highlighting.NewHighlighting(
			highlighting.WithStyle(c.style),
		))
	}
	if c.withMermaid {
		extensions = append(extensions, &mermaid.Extender{RenderMode: mermaid.RenderModeClient})
	}
	c.md = goldmark.New(
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	return c
}

// DefaultConverter returns a converter configured for assistant messages.
func DefaultConverter() *Converter {
	return NewConverter(
		WithHighlighting("monokai"),
		WithMermaid(),
		WithSanitization(MessageSanitizer()),
	)
}

// MessageSanitizer builds the bluemonday policy for rendered messages.
func MessageSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	// Highlighting and mermaid both hang classes off generic elements.
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")
	p.AllowDataAttributes()

	// Heading anchors.
	p.AllowAttrs("id").Matching(bluemonday.Paragraph).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	return p
}

// Convert renders markdown to HTML, sanitizing when a policy is set.
func (c *Converter) Convert(markdown string) (string, error) {
	if c.cache != nil {
		if html, ok := c.cache.get(markdown); ok {
			return html, nil
		}
	}
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	result := buf.String()
	if c.sanitizer != nil {
		result = c.sanitizer.Sanitize(result)
	}
	if c.cache != nil {
		c.cache.put(markdown, result)
	}
	return result, nil
}

// Render converts markdown, falling back to an escaped block on parse
// failure so a malformed fragment never breaks the message view.
func (c *Converter) Render(markdown string) string {
	result, err := c.Convert(markdown)
	if err != nil {
		return "<pre>" + EscapeHTML(markdown) + "</pre>"
	}
	return result
}

// EscapeHTML escapes special HTML characters.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
