package docgrapher

import (
	"bytes"
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// parseHTML reduces an HTML document to the normalized form by converting
// the body to markdown and reusing the markdown walk. goquery strips
// navigation chrome first so identifier mining sees content, not menus.
func parseHTML(source []byte) (*parsedDoc, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, header, footer").Remove()

	body := doc.Find("body")
	html, err := body.Html()
	if err != nil || html == "" {
		// Fragment without a body element: convert the whole input
		html = string(source)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	parsed, err := parseMarkdown([]byte(markdown))
	if err != nil {
		return nil, err
	}

	if title := doc.Find("title").First().Text(); title != "" {
		parsed.Title = title
	}
	return parsed, nil
}
