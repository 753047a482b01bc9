// Package htmlgen post-processes generated HTML documents and converts between
// HTML and markdown.
package htmlgen

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

const (
	// HeroPlaceholder is the hero image source generated documents reference.
	HeroPlaceholder = "{{HERO_IMAGE_BASE64}}"
	// BuildPlanMarker opens the machine-readable build plan comment.
	BuildPlanMarker = "BUILD PLAN:"
)

// Document is a post-processed HTML page.
type Document struct {
	HTML      string
	BuildPlan string
	// HasPlan reports whether a build plan comment was present.
	HasPlan bool
}

// Postprocess strips markdown fences, extracts the build plan comment and
// substitutes the hero image.
func Postprocess(raw, heroURL string) Document {
	plan, stripped, ok := ExtractBuildPlan(StripFences(raw))
	return Document{
		HTML:      SubstituteHero(stripped, heroURL),
		BuildPlan: plan,
		HasPlan:   ok,
	}
}

// StripFences removes markdown code fences wrapped around a document.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```html", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// ExtractBuildPlan removes the first BUILD PLAN comment from doc and returns its
// trimmed content. Everything else is reproduced byte for byte.
func ExtractBuildPlan(doc string) (plan, stripped string, found bool) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var out strings.Builder
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if !errors.Is(z.Err(), io.EOF) {
				// Malformed input: keep whatever was not consumed.
				out.Write(z.Raw())
			}
			break
		}
		raw := z.Raw()
		if tt == html.CommentToken && !found {
			text := strings.TrimSpace(string(z.Text()))
			if rest, ok := strings.CutPrefix(text, BuildPlanMarker); ok {
				plan = strings.TrimSpace(rest)
				found = true
				continue
			}
		}
		out.Write(raw)
	}
	return plan, strings.TrimSpace(out.String()), found
}

// SubstituteHero replaces every hero placeholder with url.
func SubstituteHero(doc, url string) string {
	return strings.ReplaceAll(doc, HeroPlaceholder, url)
}

// Converter turns sandbox HTML into a markdown digest and markdown into HTML.
type Converter struct {
	toMarkdown *md.Converter
	toHTML     goldmark.Markdown
}

func NewConverter() *Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	c.Remove("script", "style", "noscript")
	return &Converter{toMarkdown: c, toHTML: goldmark.New()}
}

// Markdown converts an HTML document to markdown. Inline data URLs are elided
// so the digest stays readable.
func (c *Converter) Markdown(doc string) (string, error) {
	out, err := c.toMarkdown.ConvertString(doc)
	if err != nil {
		return "", fmt.Errorf("converting html to markdown: %w", err)
	}
	return elideDataURLs(strings.TrimSpace(out)), nil
}

func (c *Converter) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.toHTML.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

func elideDataURLs(s string) string {
	var out strings.Builder
	for {
		i := strings.Index(s, "data:image/")
		if i < 0 {
			out.WriteString(s)
			return out.String()
		}
		out.WriteString(s[:i])
		out.WriteString("data:image/...")
		s = s[i:]
		end := strings.IndexAny(s, ") \"'\n")
		if end < 0 {
			return out.String()
		}
		s = s[end:]
	}
}
