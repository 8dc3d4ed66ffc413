// Package render turns fetched document bytes into text for delivery.
package render

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/HendryAvila/docket/internal/doc"
)

// Renderer converts one document. A render error concerns that document
// only.
type Renderer interface {
	Render(ctx context.Context, ref doc.Ref, content []byte) (string, error)
}

// Default passes text through unchanged and, when HTMLToText is set,
// reduces HTML pages to markdown-flavoured text.
type Default struct {
	HTMLToText bool
}

func (d Default) Render(_ context.Context, ref doc.Ref, content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("render: %s is not valid UTF-8 text", ref)
	}
	if d.HTMLToText && isHTML(ref, content) {
		text, err := htmlToText(string(content))
		if err != nil {
			return "", fmt.Errorf("render: %s: %w", ref, err)
		}
		return text, nil
	}
	return string(content), nil
}

func isHTML(ref doc.Ref, content []byte) bool {
	loc := ref.Locator
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	switch strings.ToLower(path.Ext(loc)) {
	case ".html", ".htm", ".xhtml":
		return true
	case ".md", ".markdown", ".txt":
		return false
	}
	return strings.HasPrefix(http.DetectContentType(content), "text/html")
}

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]+`)
)

func htmlToText(src string) (string, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	walk(root, &sb, 0)

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiSpace.ReplaceAllString(line, " "))
	}
	out := multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out), nil
}

func walk(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			sb.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		case "p", "div", "section", "article", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
			sb.WriteString(textContent(n))
			sb.WriteString("\n```\n\n")
			return
		case "code":
			sb.WriteString("`" + strings.TrimSpace(textContent(n)) + "` ")
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, depth+1)
	}
	if n.Type == html.ElementNode && len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6' {
		sb.WriteString("\n\n")
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}
