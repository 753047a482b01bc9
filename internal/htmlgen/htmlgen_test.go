package htmlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostprocess(t *testing.T) {
	raw := "```html\n<!-- BUILD PLAN: hero, three cards | STYLES: tailwind -->\n<!DOCTYPE html><html><body><img src=\"{{HERO_IMAGE_BASE64}}\" alt=\"hero\"><!-- keep me --></body></html>\n```"

	doc := Postprocess(raw, "data:image/png;base64,QUJD")
	assert.True(t, doc.HasPlan)
	assert.Equal(t, "hero, three cards | STYLES: tailwind", doc.BuildPlan)
	assert.Equal(t, `<!DOCTYPE html><html><body><img src="data:image/png;base64,QUJD" alt="hero"><!-- keep me --></body></html>`, doc.HTML)
	assert.NotContains(t, doc.HTML, "```")
	assert.NotContains(t, doc.HTML, HeroPlaceholder)
}

func TestExtractBuildPlanMissing(t *testing.T) {
	plan, stripped, found := ExtractBuildPlan("<html><!-- just a note --><body>x</body></html>")
	assert.False(t, found)
	assert.Empty(t, plan)
	assert.Equal(t, "<html><!-- just a note --><body>x</body></html>", stripped)
}

func TestExtractBuildPlanOnlyFirst(t *testing.T) {
	plan, stripped, found := ExtractBuildPlan("<!-- BUILD PLAN: a --><p>x</p><!-- BUILD PLAN: b -->")
	assert.True(t, found)
	assert.Equal(t, "a", plan)
	assert.Equal(t, "<p>x</p><!-- BUILD PLAN: b -->", stripped)
}

func TestExtractBuildPlanKeepsScriptBodies(t *testing.T) {
	in := "<!-- BUILD PLAN: x --><script>if (a < b) { document.write('<!-- not a comment -->') }</script>"
	_, stripped, _ := ExtractBuildPlan(in)
	assert.Equal(t, "<script>if (a < b) { document.write('<!-- not a comment -->') }</script>", stripped)
}

func TestSubstituteHeroReplacesAll(t *testing.T) {
	got := SubstituteHero("a {{HERO_IMAGE_BASE64}} b {{HERO_IMAGE_BASE64}}", "U")
	assert.Equal(t, "a U b U", got)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "<p>x</p>", StripFences("```html\n<p>x</p>\n```"))
	assert.Equal(t, "<p>x</p>", StripFences("  <p>x</p>  "))
}

func TestConverterMarkdown(t *testing.T) {
	c := NewConverter()
	out, err := c.Markdown(`<html><head><style>h1{color:red}</style></head><body><h1>Cafe Luna</h1><img src="data:image/png;base64,QUJDREVG" alt="hero"><p>Fresh <strong>coffee</strong>.</p></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, out, "# Cafe Luna")
	assert.Contains(t, out, "**coffee**")
	assert.Contains(t, out, "data:image/...")
	assert.NotContains(t, out, "QUJDREVG")
	assert.NotContains(t, out, "color:red")
}

func TestConverterHTML(t *testing.T) {
	c := NewConverter()
	out, err := c.HTML("Revision **v3** logged")
	require.NoError(t, err)
	assert.Equal(t, "<p>Revision <strong>v3</strong> logged</p>\n", out)
}

func TestElideDataURLs(t *testing.T) {
	assert.Equal(t, "![a](data:image/...)", elideDataURLs("![a](data:image/png;base64,AAAA)"))
	assert.Equal(t, "no images", elideDataURLs("no images"))
	assert.Equal(t, "tail data:image/...", elideDataURLs("tail data:image/png;base64,AAAA"))
}
