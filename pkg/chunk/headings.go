package chunk

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractHeadings parses markdown and returns all heading texts in document
// order. Inline markup inside a heading is flattened to its text content.
func ExtractHeadings(markdown string) []string {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var headings []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if title := headingText(heading, source); title != "" {
			headings = append(headings, title)
		}
		return ast.WalkSkipChildren, nil
	})

	return headings
}

// headingText flattens a heading's inline content, including text nested
// under emphasis or links.
func headingText(heading *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	ast.Walk(heading, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if textNode, ok := n.(*ast.Text); ok {
				buf.Write(textNode.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
