package htmldoc

import (
	"golang.org/x/net/html"

	"github.com/raaihank/safedom/internal/aicontext"
)

type node struct {
	doc *Document
	n   *html.Node
}

func (n *node) Kind() aicontext.NodeKind {
	if n.n.Type == html.TextNode {
		return aicontext.TextNode
	}
	return aicontext.ElementNode
}

func (n *node) Attr(name string) (string, bool) {
	if n.n.Type != html.ElementNode {
		return "", false
	}
	return attr(n.n, name)
}

// Children skips comments and doctype nodes.
func (n *node) Children() []aicontext.Node {
	var out []aicontext.Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode || c.Type == html.TextNode {
			out = append(out, &node{doc: n.doc, n: c})
		}
	}
	return out
}

// Text prefers the live value of form controls over their markup.
func (n *node) Text() string {
	if isControl(n.n) {
		return n.doc.value(n.n)
	}
	return textContent(n.n)
}
