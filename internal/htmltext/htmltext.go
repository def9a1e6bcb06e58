// Package htmltext pulls plain text and images out of HTML fragments found in
// feed entries and extracted articles.
package htmltext

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// skipped elements never contribute text.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// block elements end a line of text.
var block = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "section": true, "article": true,
}

func parse(fragment string) (*html.Node, bool) {
	if strings.TrimSpace(fragment) == "" {
		return nil, false
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, false
	}
	return doc, true
}

// FirstImage returns the src of the first img element, resolved against base
// when base is a valid URL. Data URIs are ignored.
func FirstImage(fragment, base string) string {
	doc, ok := parse(fragment)
	if !ok {
		return ""
	}
	var src string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "img" {
			if s := strings.TrimSpace(getAttr(n, "src")); s != "" && !strings.HasPrefix(s, "data:") {
				src = s
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(doc) {
		return ""
	}
	return Resolve(src, base)
}

// Resolve makes ref absolute relative to base. Invalid input returns ref.
func Resolve(ref, base string) string {
	if base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Text renders fragment as plain text. Block elements become line breaks and
// runs of blank space collapse.
func Text(fragment string) string {
	doc, ok := parse(fragment)
	if !ok {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipped[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && block[n.Data] {
			sb.WriteByte('\n')
		}
	}
	walk(doc)
	return collapse(sb.String())
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Excerpt shortens text to at most limit runes, cutting at a word boundary
// and appending an ellipsis.
func Excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)[:limit]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
