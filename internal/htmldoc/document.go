// Package htmldoc adapts parsed HTML documents to the aicontext node model.
package htmldoc

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/raaihank/safedom/internal/aicontext"
)

// Document is a parsed HTML tree plus the live values of its form controls.
type Document struct {
	root   *html.Node
	values map[*html.Node]string
}

// Parse reads an HTML document from r
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{root: root, values: make(map[*html.Node]string)}, nil
}

// ParseString parses an HTML string
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document element.
func (d *Document) Root() aicontext.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return &node{doc: d, n: c}
		}
	}
	return nil
}

// Resolve returns the first element matching a CSS selector.
func (d *Document) Resolve(selector string) (aicontext.Node, error) {
	n, err := d.match(selector)
	if err != nil {
		return nil, err
	}
	return &node{doc: d, n: n}, nil
}

// SetValue sets the live value of the input or textarea matching selector,
// the way a user typing into the page would.
func (d *Document) SetValue(selector, value string) error {
	n, err := d.match(selector)
	if err != nil {
		return err
	}
	if !isControl(n) {
		return fmt.Errorf("element %q is not an input or textarea", selector)
	}
	d.values[n] = value
	return nil
}

// SetValues applies SetValue for every selector in values.
func (d *Document) SetValues(values map[string]string) error {
	for selector, value := range values {
		if err := d.SetValue(selector, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) match(selector string) (*html.Node, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, &aicontext.NotFoundError{Selector: selector}
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	n := sel.MatchFirst(d.root)
	if n == nil {
		return nil, &aicontext.NotFoundError{Selector: selector}
	}
	return n, nil
}

// value returns the current value of a form control.
func (d *Document) value(n *html.Node) string {
	if v, ok := d.values[n]; ok {
		return v
	}
	if n.DataAtom == atom.Textarea {
		return textContent(n)
	}
	v, _ := attr(n, "value")
	return v
}

func isControl(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Input || n.DataAtom == atom.Textarea)
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}
