package docgrapher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkdown = `# Demo Project

The ` + "`greeting`" + ` function says hello. See [the source](main.py)
and the ` + "`main.Greeter`" + ` class.

` + "```python\ndef greeting(name):\n    return make_message(name)\n```" + `

More prose here.
`

func TestParseMarkdownCollectsStructure(t *testing.T) {
	parsed, err := parseMarkdown([]byte(sampleMarkdown))
	require.NoError(t, err)

	assert.Equal(t, "Demo Project", parsed.Title)
	assert.Contains(t, parsed.Text, "says hello")
	assert.Contains(t, parsed.Identifiers, "greeting")
	assert.Contains(t, parsed.Identifiers, "main.Greeter")
	assert.Contains(t, parsed.Links, "main.py")

	// Fenced code blocks are mined for identifiers, not kept as prose
	assert.Contains(t, parsed.Identifiers, "make_message")
	assert.NotContains(t, parsed.Text, "def greeting")
}

func TestParseMarkdownWithoutHeadingFallsBackToFirstLine(t *testing.T) {
	parsed, err := parseMarkdown([]byte("Just a paragraph of text.\nSecond line."))
	require.NoError(t, err)
	assert.Equal(t, "Just a paragraph of text.", parsed.Title)
}

func TestParsePlainTextMinesIdentifiers(t *testing.T) {
	parsed := parsePlainText([]byte("Call frob_widget from pkg.widgets when needed."))
	assert.Contains(t, parsed.Identifiers, "frob_widget")
	assert.Contains(t, parsed.Identifiers, "pkg.widgets")
}

func TestParseHTMLStripsChromeAndConverts(t *testing.T) {
	html := `<html><head><title>API Guide</title></head><body>
<nav>ignore this menu</nav>
<h1>Guide</h1>
<p>Use the <code>greeting</code> function.</p>
<script>var x = 1;</script>
</body></html>`

	parsed, err := parseHTML([]byte(html))
	require.NoError(t, err)

	assert.Equal(t, "API Guide", parsed.Title)
	assert.Contains(t, parsed.Identifiers, "greeting")
	assert.NotContains(t, parsed.Text, "ignore this menu")
	assert.NotContains(t, parsed.Text, "var x")
}

func TestDocumentationIDIsStable(t *testing.T) {
	first := documentationID("file:README.md")
	second := documentationID("file:README.md")
	other := documentationID("file:docs/guide.md")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Contains(t, first, "doc_")
}
