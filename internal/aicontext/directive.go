package aicontext

import (
	"strings"
)

// DirectiveKind is the closed set of data-ai values.
type DirectiveKind int

const (
	// DirectiveNone: attribute absent or blank.
	DirectiveNone DirectiveKind = iota
	DirectiveInclude
	DirectiveExclude
	DirectiveRedact
	// DirectiveUnknown: a non-blank value that is none of the above. The node
	// counts as directive-bearing but contributes nothing.
	DirectiveUnknown
)

const redactPrefix = "redact:"

// Directive is the parsed data-ai attribute of one element.
type Directive struct {
	Kind DirectiveKind
	// Types lists requested rule types for DirectiveRedact.
	Types []string
}

// ParseDirective parses a data-ai attribute value.
func ParseDirective(value string, present bool) Directive {
	v := strings.TrimSpace(value)
	if !present || v == "" {
		return Directive{Kind: DirectiveNone}
	}

	switch {
	case v == "include":
		return Directive{Kind: DirectiveInclude}
	case v == "exclude":
		return Directive{Kind: DirectiveExclude}
	case strings.HasPrefix(v, redactPrefix):
		return Directive{Kind: DirectiveRedact, Types: strings.Fields(strings.TrimPrefix(v, redactPrefix))}
	default:
		return Directive{Kind: DirectiveUnknown}
	}
}

// DirectiveOf reads and parses the directive of n. Text nodes have none.
func DirectiveOf(n Node) Directive {
	if n.Kind() != ElementNode {
		return Directive{Kind: DirectiveNone}
	}
	return ParseDirective(n.Attr(DirectiveAttr))
}

// Bearing reports whether the directive marks its subtree as handled, which
// keeps the fallback pass from collecting the same text twice.
func (d Directive) Bearing() bool {
	return d.Kind != DirectiveNone
}

func (d Directive) String() string {
	switch d.Kind {
	case DirectiveNone:
		return ""
	case DirectiveInclude:
		return "include"
	case DirectiveExclude:
		return "exclude"
	case DirectiveRedact:
		return redactPrefix + strings.Join(d.Types, " ")
	default:
		return "unknown"
	}
}

// labelOf returns the trimmed data-ai-label, or "" when absent.
func labelOf(n Node) string {
	label, _ := n.Attr(LabelAttr)
	return strings.TrimSpace(label)
}
