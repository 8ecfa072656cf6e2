package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateSourceKeepsShortSourceVerbatim(t *testing.T) {
	source := "def greeting(name):\n    return name\n"
	assert.Equal(t, source, truncateSource(source, "", 1000))
}

func TestTruncateSourcePrefersDocstringAndSignatures(t *testing.T) {
	var body strings.Builder
	body.WriteString("def important_entry(x):\n")
	for i := 0; i < 500; i++ {
		body.WriteString("    x = x + 1  # padding line to overflow the budget\n")
	}
	body.WriteString("class LateArrival:\n")

	truncated := truncateSource(body.String(), "Computes a value.", 100)

	assert.Less(t, len(truncated), len(body.String()))
	assert.Contains(t, truncated, "Computes a value.")
	assert.Contains(t, truncated, "def important_entry(x):")
	// The trailing declaration survives because signatures outrank the head
	assert.Contains(t, truncated, "class LateArrival:")
}

func TestTruncateSourceIsDeterministic(t *testing.T) {
	source := strings.Repeat("line of code here\n", 400)
	first := truncateSource(source, "doc", 50)
	second := truncateSource(source, "doc", 50)
	assert.Equal(t, first, second)
}

func TestRenderPromptSubstitutesFields(t *testing.T) {
	e := &entity{Label: "Function", QualifiedName: "main.greeting", Docstring: "Says hello."}
	prompt := renderPrompt(e, "def greeting(): ...", []string{"- main.helper: helps"}, nil, nil)

	assert.Contains(t, prompt, "main.greeting")
	assert.Contains(t, prompt, "Says hello.")
	assert.Contains(t, prompt, "def greeting(): ...")
	assert.Contains(t, prompt, "main.helper")
	assert.NotContains(t, prompt, "{name}")
}

func TestRenderPromptAppliesOverridesAndGroup(t *testing.T) {
	e := &entity{Label: "Function", QualifiedName: "a"}
	prompt := renderPrompt(e, "src", nil, []string{"b", "c"},
		map[string]string{"Function": "Custom for {name}"})

	assert.Contains(t, prompt, "Custom for a")
	assert.Contains(t, prompt, "b, c")
}
