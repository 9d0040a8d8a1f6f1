package aicontext

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raaihank/safedom/internal/privacy"
)

// Region is an informational hint for host applications. It does not change
// collection or redaction.
type Region string

const (
	RegionUnset  Region = ""
	RegionEU     Region = "eu"
	RegionUS     Region = "us"
	RegionGlobal Region = "global"
)

// Valid reports whether r is one of the known regions or unset.
func (r Region) Valid() bool {
	switch r {
	case RegionUnset, RegionEU, RegionUS, RegionGlobal:
		return true
	}
	return false
}

// Options configures Build.
type Options struct {
	// IncludeUnlabeled also collects text outside any data-ai element
	// (labeledOnly=false). Off by default.
	IncludeUnlabeled bool
	// RedactionRules replaces the default rule set when non-nil.
	RedactionRules privacy.RuleSet
	Region         Region
	// StartCounter numbers the first placeholder; values below 1 mean 1.
	StartCounter int
}

func (o Options) rules() privacy.RuleSet {
	if o.RedactionRules != nil {
		return o.RedactionRules
	}
	return privacy.DefaultRules()
}

// traversal carries the per-call state of one Build.
type traversal struct {
	rules   privacy.RuleSet
	counter int
	out     *assembler
}

// BuildFromSelector resolves selector with r and builds the context under it.
func BuildFromSelector(r Resolver, selector string, opts Options) (*AiContext, error) {
	root, err := r.Resolve(selector)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve root %q: %w", selector, err)
	}
	if root == nil {
		return nil, &NotFoundError{Selector: selector}
	}
	return Build(root, opts)
}

// Build collects include and redact directives under root and, when
// opts.IncludeUnlabeled is set, the remaining unlabeled text.
func Build(root Node, opts Options) (*AiContext, error) {
	if root == nil {
		return nil, &NotFoundError{}
	}

	rules := opts.rules()
	if err := privacy.ValidateRules(rules); err != nil {
		return nil, err
	}

	counter := opts.StartCounter
	if counter < 1 {
		counter = 1
	}
	t := &traversal{rules: rules, counter: counter, out: newAssembler()}

	if err := t.collectDirected(root); err != nil {
		return nil, err
	}

	if opts.IncludeUnlabeled {
		if err := t.collectFallback(root); err != nil {
			return nil, err
		}
	}

	return t.out.context(), nil
}

// collectDirected visits elements breadth-first in document order. Excluded
// elements are not expanded.
func (t *traversal) collectDirected(root Node) error {
	queue := []Node{root}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		directive := DirectiveOf(node)
		if directive.Kind == DirectiveExclude {
			continue
		}

		if err := t.collect(node, directive); err != nil {
			return err
		}

		for _, child := range node.Children() {
			if child.Kind() == ElementNode {
				queue = append(queue, child)
			}
		}
	}
	return nil
}

// collect applies a single element's directive.
func (t *traversal) collect(node Node, directive Directive) error {
	switch directive.Kind {
	case DirectiveInclude:
		if text := strings.TrimSpace(node.Text()); text != "" {
			t.out.add(labelOf(node), text)
		}
	case DirectiveRedact:
		text := strings.TrimSpace(node.Text())
		if text == "" {
			return nil
		}
		result, err := t.redact(text, t.rules.Select(directive.Types...))
		if err != nil {
			return err
		}
		t.out.add(labelOf(node), result.Text)
	case DirectiveNone, DirectiveExclude, DirectiveUnknown:
	}
	return nil
}

// collectFallback gathers text outside directive-bearing subtrees in document
// order and redacts it once with the full rule set.
func (t *traversal) collectFallback(root Node) error {
	var parts []string
	var walk func(n Node)
	walk = func(n Node) {
		switch n.Kind() {
		case TextNode:
			if text := strings.TrimSpace(n.Text()); text != "" {
				parts = append(parts, text)
			}
		case ElementNode:
			if DirectiveOf(n).Bearing() {
				return
			}
			for _, child := range n.Children() {
				walk(child)
			}
		}
	}
	walk(root)

	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return nil
	}

	result, err := t.redact(text, t.rules)
	if err != nil {
		return err
	}
	t.out.add("", result.Text)
	return nil
}

// redact runs the engine with the run-level counter and records the redactions.
func (t *traversal) redact(text string, rules privacy.RuleSet) (privacy.Result, error) {
	result, err := privacy.ApplyRedactions(text, rules, t.counter)
	if err != nil {
		return privacy.Result{}, err
	}
	t.counter += len(result.Redactions)
	t.out.addRedactions(result.Redactions)
	return result, nil
}
