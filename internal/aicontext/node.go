// Package aicontext walks a document tree, applies data-ai directives and
// assembles a redacted, prompt-safe payload.
package aicontext

// Attribute names read from elements.
const (
	DirectiveAttr = "data-ai"
	LabelAttr     = "data-ai-label"
)

// NodeKind distinguishes elements from text.
type NodeKind int

const (
	ElementNode NodeKind = iota
	TextNode
)

// Node is the read-only view of a document node the traversal needs.
type Node interface {
	Kind() NodeKind
	// Attr returns an attribute value; text nodes have none.
	Attr(name string) (string, bool)
	// Children returns element and text children in document order.
	Children() []Node
	// Text returns the text content of an element, or the current value for
	// form controls. For text nodes it returns the node's data.
	Text() string
}

// Resolver resolves a selector to a node. Implementations return an error
// matching ErrNotFound when nothing matches.
type Resolver interface {
	Resolve(selector string) (Node, error)
}
