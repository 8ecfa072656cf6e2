// -----------------------------------------------------------------------
// Markdown Parser - Extracts text and identifier mentions from markdown
// -----------------------------------------------------------------------

package docgrapher

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// parsedDoc is the normalized form every documentation format reduces to
type parsedDoc struct {
	Title       string
	Text        string
	Identifiers []string // inline code spans and code-like tokens
	Links       []string // link destinations (often file paths)
}

// parseMarkdown walks the goldmark AST collecting plain text, inline code
// spans (the strongest identifier signal), and link destinations
func parseMarkdown(source []byte) (*parsedDoc, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)

	doc := md.Parser().Parse(text.NewReader(source))

	result := &parsedDoc{}
	var textBuf strings.Builder
	seen := make(map[string]bool)

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			heading := string(node.Text(source))
			if result.Title == "" && node.Level == 1 {
				result.Title = heading
			}
			textBuf.WriteString(heading)
			textBuf.WriteString("\n")

		case *ast.Text:
			textBuf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				textBuf.WriteString("\n")
			} else {
				textBuf.WriteString(" ")
			}

		case *ast.CodeSpan:
			span := strings.TrimSpace(string(node.Text(source)))
			if span != "" && !seen[span] {
				seen[span] = true
				result.Identifiers = append(result.Identifiers, span)
			}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			// Fenced blocks are quoted source, not prose; mine them for
			// identifiers but keep them out of the text body.
			var block strings.Builder
			for i := 0; i < node.Lines().Len(); i++ {
				line := node.Lines().At(i)
				block.Write(line.Value(source))
			}
			for _, token := range extractCodeTokens(block.String()) {
				if !seen[token] {
					seen[token] = true
					result.Identifiers = append(result.Identifiers, token)
				}
			}
			return ast.WalkSkipChildren, nil

		case *ast.Link:
			dest := string(node.Destination)
			if dest != "" {
				result.Links = append(result.Links, dest)
			}
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	result.Text = strings.TrimSpace(textBuf.String())
	if result.Title == "" {
		result.Title = strings.Join(strings.Fields(firstLine(result.Text)), " ")
	}
	return result, nil
}

// parsePlainText handles formats without structure (.rst, extracted PDF
// text): the whole body is prose, identifiers are mined from it directly.
func parsePlainText(source []byte) *parsedDoc {
	body := strings.TrimSpace(string(source))
	return &parsedDoc{
		Title:       firstLine(body),
		Text:        body,
		Identifiers: extractCodeTokens(body),
	}
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return strings.TrimSpace(text)
}
