// -----------------------------------------------------------------------
// Entity Linker - Resolves documentation mentions to code graph nodes
// -----------------------------------------------------------------------

package docgrapher

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// codeTarget is one linkable node loaded from the graph
type codeTarget struct {
	Label         string
	QualifiedName string // identity for symbols; path for files
	Name          string // simple name (last path/qualifier segment)
}

// linker resolves identifier and path mentions against the code graph.
// Resolution order: path-shaped mentions against File nodes, exact
// qualified name, exact simple name (in any module), qualified-name suffix,
// then fuzzy match bounded by the similarity threshold. Ties break toward
// the shorter qualified name.
type linker struct {
	threshold float64
	byQName   map[string]*codeTarget
	byName    map[string][]*codeTarget
	filePaths map[string]*codeTarget
	targets   []*codeTarget
}

const linkerSymbolQuery = `MATCH (n:%s)
WHERE n.qualified_name IS NOT NULL
RETURN n.qualified_name AS qualified_name, n.name AS name`

const linkerFileQuery = `MATCH (n:File) RETURN n.path AS path, n.name AS name`

// newLinker loads every linkable code node. When the AST extraction step
// did not run, only File targets exist and linking degrades gracefully.
func newLinker(ctx context.Context, store interfaces.GraphStore, threshold float64) (*linker, error) {
	l := &linker{
		threshold: threshold,
		byQName:   make(map[string]*codeTarget),
		byName:    make(map[string][]*codeTarget),
		filePaths: make(map[string]*codeTarget),
	}

	for _, label := range []string{models.NodeModule, models.NodeClass, models.NodeFunction} {
		rows, err := store.ExecuteRead(ctx, strings.Replace(linkerSymbolQuery, "%s", label, 1), nil)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			target := &codeTarget{
				Label:         label,
				QualifiedName: stringVal(row, "qualified_name"),
				Name:          stringVal(row, "name"),
			}
			if target.QualifiedName == "" {
				continue
			}
			if target.Name == "" {
				target.Name = lastSegment(target.QualifiedName)
			}
			l.add(target)
		}
	}

	rows, err := store.ExecuteRead(ctx, linkerFileQuery, nil)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		target := &codeTarget{
			Label:         models.NodeFile,
			QualifiedName: stringVal(row, "path"),
			Name:          stringVal(row, "name"),
		}
		if target.QualifiedName == "" {
			continue
		}
		l.filePaths[target.QualifiedName] = target
		l.targets = append(l.targets, target)
	}

	return l, nil
}

func (l *linker) add(target *codeTarget) {
	l.byQName[target.QualifiedName] = target
	l.byName[target.Name] = append(l.byName[target.Name], target)
	l.targets = append(l.targets, target)
}

// hasSymbols reports whether symbol nodes were available for linking
func (l *linker) hasSymbols() bool {
	return len(l.byQName) > 0
}

// resolve maps one mention to a code target, or nil when nothing clears
// the threshold
func (l *linker) resolve(mention string) *codeTarget {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return nil
	}

	// Path-shaped mentions resolve against File nodes
	if strings.Contains(mention, "/") {
		if target := l.resolvePath(mention); target != nil {
			return target
		}
	}

	// Strip call parentheses: "greeting()" mentions greeting
	mention = strings.TrimSuffix(mention, "()")

	// Exact qualified-name match
	if target, ok := l.byQName[mention]; ok {
		return target
	}

	// Exact simple-name match; ties break toward the shorter qualified name
	if candidates := l.byName[mention]; len(candidates) > 0 {
		return shortest(candidates)
	}

	// Qualified mention whose trailing segments match (module.Class.method
	// mentioned as Class.method)
	if strings.Contains(mention, ".") {
		var suffixMatches []*codeTarget
		for qname, target := range l.byQName {
			if strings.HasSuffix(qname, "."+mention) {
				suffixMatches = append(suffixMatches, target)
			}
		}
		if len(suffixMatches) > 0 {
			return shortest(suffixMatches)
		}
	}

	// Fuzzy fallback bounded by the similarity threshold
	return l.resolveFuzzy(mention)
}

// resolvePath matches a path mention against File nodes by exact path,
// then by suffix
func (l *linker) resolvePath(mention string) *codeTarget {
	normalized := "/" + strings.TrimPrefix(strings.TrimPrefix(mention, "./"), "/")
	if target, ok := l.filePaths[normalized]; ok {
		return target
	}

	var matches []*codeTarget
	for path, target := range l.filePaths {
		if strings.HasSuffix(path, normalized) {
			matches = append(matches, target)
		}
	}
	if len(matches) > 0 {
		return shortest(matches)
	}
	return nil
}

// resolveFuzzy scans all targets for the best similarity score above the
// threshold; ties break toward the shorter qualified name
func (l *linker) resolveFuzzy(mention string) *codeTarget {
	var best *codeTarget
	bestScore := l.threshold

	for _, target := range l.targets {
		score := similarity(mention, target.Name)
		if qScore := similarity(mention, target.QualifiedName); qScore > score {
			score = qScore
		}
		if score > bestScore ||
			(score == bestScore && best != nil && len(target.QualifiedName) < len(best.QualifiedName)) {
			best = target
			bestScore = score
		}
	}
	return best
}

func shortest(candidates []*codeTarget) *codeTarget {
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].QualifiedName) != len(candidates[j].QualifiedName) {
			return len(candidates[i].QualifiedName) < len(candidates[j].QualifiedName)
		}
		return candidates[i].QualifiedName < candidates[j].QualifiedName
	})
	return candidates[0]
}

// similarity is 1 - normalized Levenshtein distance
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	longest := la
	if lb > longest {
		longest = lb
	}
	return 1 - float64(prev[lb])/float64(longest)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// identifierPattern matches code-like tokens: qualified names, CamelCase,
// and snake_case words
var identifierPattern = regexp.MustCompile(
	`\b[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)+\b` + // dotted
		`|\b[a-z0-9]+_[a-z0-9_]+\b` + // snake_case
		`|\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`, // CamelCase
)

// pathPattern matches filesystem-path mentions with an extension
var pathPattern = regexp.MustCompile(`\b[\w./-]+/[\w.-]+\.\w+\b|\b[\w-]+\.\w{1,5}\b`)

// extractCodeTokens mines identifier-shaped tokens from prose or quoted code
func extractCodeTokens(text string) []string {
	seen := make(map[string]bool)
	var tokens []string

	for _, match := range identifierPattern.FindAllString(text, -1) {
		if !seen[match] {
			seen[match] = true
			tokens = append(tokens, match)
		}
	}
	for _, match := range pathPattern.FindAllString(text, -1) {
		if strings.Contains(match, "/") && !seen[match] {
			seen[match] = true
			tokens = append(tokens, match)
		}
	}
	return tokens
}

func lastSegment(qualified string) string {
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		return qualified[idx+1:]
	}
	return qualified
}

func stringVal(row interfaces.Row, key string) string {
	if value, ok := row[key].(string); ok {
		return value
	}
	return ""
}
