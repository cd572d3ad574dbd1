package scraper

import (
	"fmt"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extractor turns an HTML document into a newline-separated corpus.
type Extractor func(document string) (string, error)

// invisible holds elements whose text never renders.
const invisible = "head, script, style, noscript, iframe, svg, template, object"

// blocks break the text flow; everything else is treated as inline.
var blocks = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Section: true, atom.Table: true, atom.Td: true, atom.Th: true, atom.Tr: true,
	atom.Ul: true, atom.Option: true, atom.Button: true, atom.Label: true,
}

// ExtractText returns the visible text of document, one block per line.
func ExtractText(document string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(invisible).Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		writeText(&b, n)
	}
	return tidyLines(b.String()), nil
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return ' '
			}
			return r
		}, n.Data))
		return
	case html.CommentNode:
		return
	}
	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

// ExtractMarkdown converts document to Markdown.
func ExtractMarkdown(document string) (string, error) {
	md, err := htmltomarkdown.ConvertString(document)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return tidyLines(md), nil
}

// ExtractorFor maps the scraper.extract setting to an Extractor.
func ExtractorFor(mode string) (Extractor, error) {
	switch mode {
	case "", "text":
		return ExtractText, nil
	case "markdown":
		return ExtractMarkdown, nil
	default:
		return nil, fmt.Errorf("unknown extract mode %q", mode)
	}
}

// tidyLines collapses runs of spaces and drops blank lines.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
