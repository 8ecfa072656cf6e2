package docgrapher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/models"
)

func testLinker() *linker {
	l := &linker{
		threshold: 0.8,
		byQName:   make(map[string]*codeTarget),
		byName:    make(map[string][]*codeTarget),
		filePaths: make(map[string]*codeTarget),
	}
	l.add(&codeTarget{Label: models.NodeFunction, QualifiedName: "main.greeting", Name: "greeting"})
	l.add(&codeTarget{Label: models.NodeFunction, QualifiedName: "pkg.util.helper", Name: "helper"})
	l.add(&codeTarget{Label: models.NodeFunction, QualifiedName: "pkg.deep.nested.helper", Name: "helper"})
	l.add(&codeTarget{Label: models.NodeClass, QualifiedName: "main.Greeter", Name: "Greeter"})
	l.add(&codeTarget{Label: models.NodeModule, QualifiedName: "main", Name: "main"})

	for _, file := range []*codeTarget{
		{Label: models.NodeFile, QualifiedName: "/main.py", Name: "main.py"},
		{Label: models.NodeFile, QualifiedName: "/pkg/util.py", Name: "util.py"},
	} {
		l.filePaths[file.QualifiedName] = file
		l.targets = append(l.targets, file)
	}
	return l
}

func TestResolveExactQualifiedName(t *testing.T) {
	l := testLinker()
	target := l.resolve("main.greeting")
	require.NotNil(t, target)
	assert.Equal(t, "main.greeting", target.QualifiedName)
}

func TestResolveSimpleNameTieBreaksShorter(t *testing.T) {
	l := testLinker()
	// Two helpers exist; the shorter qualified name wins
	target := l.resolve("helper")
	require.NotNil(t, target)
	assert.Equal(t, "pkg.util.helper", target.QualifiedName)
}

func TestResolveStripsCallParens(t *testing.T) {
	l := testLinker()
	target := l.resolve("greeting()")
	require.NotNil(t, target)
	assert.Equal(t, "main.greeting", target.QualifiedName)
}

func TestResolveQualifiedSuffix(t *testing.T) {
	l := testLinker()
	target := l.resolve("util.helper")
	require.NotNil(t, target)
	assert.Equal(t, "pkg.util.helper", target.QualifiedName)
}

func TestResolvePathMentions(t *testing.T) {
	l := testLinker()

	exact := l.resolve("/main.py")
	require.NotNil(t, exact)
	assert.Equal(t, models.NodeFile, exact.Label)

	relative := l.resolve("pkg/util.py")
	require.NotNil(t, relative)
	assert.Equal(t, "/pkg/util.py", relative.QualifiedName)

	dotted := l.resolve("./pkg/util.py")
	require.NotNil(t, dotted)
	assert.Equal(t, "/pkg/util.py", dotted.QualifiedName)
}

func TestResolveFuzzyWithinThreshold(t *testing.T) {
	l := testLinker()

	// One edit away from "Greeter": above the 0.8 threshold
	target := l.resolve("Greetr")
	require.NotNil(t, target)
	assert.Equal(t, "main.Greeter", target.QualifiedName)

	// Nothing resembles this
	assert.Nil(t, l.resolve("zqxwvut"))
}

func TestResolveEmptyMention(t *testing.T) {
	l := testLinker()
	assert.Nil(t, l.resolve(""))
	assert.Nil(t, l.resolve("   "))
}

func TestSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 0.0, similarity("", "abc"))
	assert.InDelta(t, 0.75, similarity("abcd", "abce"), 0.01)
}

func TestExtractCodeTokens(t *testing.T) {
	text := "The greeting_fn helper lives in main.greeting and pkg/util.py. " +
		"Use GreeterFactory to build one. Plain words stay out."

	tokens := extractCodeTokens(text)

	assert.Contains(t, tokens, "greeting_fn")
	assert.Contains(t, tokens, "main.greeting")
	assert.Contains(t, tokens, "GreeterFactory")
	assert.Contains(t, tokens, "pkg/util.py")
	assert.NotContains(t, tokens, "Plain")
	assert.NotContains(t, tokens, "words")
}
