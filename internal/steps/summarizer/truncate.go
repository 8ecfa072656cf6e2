package summarizer

import (
	"regexp"
	"sort"
	"strings"
)

// Rough chars-per-token ratio used for budget accounting. Close enough for
// truncation decisions; the provider enforces its own hard limit.
const charsPerToken = 4

// signaturePattern matches declaration lines across the languages the AST
// extractor supports
var signaturePattern = regexp.MustCompile(`^\s*(def |class |func |fn |function |public |private |protected |static |interface |type |impl )`)

// truncateSource deterministically reduces source text to a token budget.
// Preference order: the docstring, declaration signatures, then the head of
// the source. The same input always truncates the same way, so summary
// content hashes stay stable across reruns.
func truncateSource(source, docstring string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	budget := maxTokens * charsPerToken

	if len(source) <= budget {
		return source
	}

	var parts []string
	remaining := budget

	if docstring != "" {
		doc := docstring
		if len(doc) > remaining/2 {
			doc = doc[:remaining/2]
		}
		parts = append(parts, doc)
		remaining -= len(doc)
	}

	lines := strings.Split(source, "\n")

	// Signatures, in source order
	var signatureIdx []int
	for i, line := range lines {
		if signaturePattern.MatchString(line) {
			signatureIdx = append(signatureIdx, i)
		}
	}
	taken := make(map[int]bool)
	var sigBlock []string
	for _, i := range signatureIdx {
		line := lines[i]
		if len(line)+1 > remaining {
			break
		}
		sigBlock = append(sigBlock, line)
		taken[i] = true
		remaining -= len(line) + 1
	}
	if len(sigBlock) > 0 {
		parts = append(parts, strings.Join(sigBlock, "\n"))
	}

	// Head of the source with whatever budget is left
	var headIdx []int
	for i := range lines {
		if taken[i] {
			continue
		}
		line := lines[i]
		if len(line)+1 > remaining {
			break
		}
		headIdx = append(headIdx, i)
		taken[i] = true
		remaining -= len(line) + 1
	}
	if len(headIdx) > 0 {
		sort.Ints(headIdx)
		var head []string
		for _, i := range headIdx {
			head = append(head, lines[i])
		}
		parts = append(parts, strings.Join(head, "\n"))
	}

	return strings.Join(parts, "\n\n")
}
