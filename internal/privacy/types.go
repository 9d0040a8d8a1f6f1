package privacy

import (
	"fmt"
	"strconv"

	"github.com/dlclark/regexp2"
)

// PlaceholderSuffix closes every placeholder token, e.g. "__EMAIL_" + "1" + "__".
const PlaceholderSuffix = "__"

// Pattern is an immutable, compiled match template. Every application runs a
// fresh scan over it, so one Pattern can be shared across calls and goroutines.
type Pattern struct {
	re    *regexp2.Regexp
	limit int
}

// Compile compiles expr into an exhaustive pattern that reports every
// non-overlapping match in a single pass.
func Compile(expr string, opts regexp2.RegexOptions) (Pattern, error) {
	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to compile pattern %q: %w", expr, err)
	}
	return Pattern{re: re, limit: -1}, nil
}

// MustCompile is like Compile but panics on error. Used for built-in rules.
func MustCompile(expr string, opts regexp2.RegexOptions) Pattern {
	p, err := Compile(expr, opts)
	if err != nil {
		panic(err)
	}
	return p
}

// FirstOnly returns a copy of the pattern that stops after the first match.
// Such patterns are rejected by ValidateRules.
func (p Pattern) FirstOnly() Pattern {
	return Pattern{re: p.re, limit: 1}
}

// Exhaustive reports whether the pattern is compiled and scans the whole input.
func (p Pattern) Exhaustive() bool {
	return p.re != nil && p.limit == -1
}

// String returns the source expression.
func (p Pattern) String() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()
}

// replace scans input once and substitutes each match for which fn returns
// ok. Rejected matches are written back verbatim.
func (p Pattern) replace(input string, fn func(match string) (string, bool)) (string, error) {
	return p.re.ReplaceFunc(input, func(m regexp2.Match) string {
		original := m.String()
		if replacement, ok := fn(original); ok {
			return replacement
		}
		return original
	}, -1, p.limit)
}

// Rule is a single redaction rule.
//
// Patterns must not be able to match placeholder syntax produced by earlier
// rules in the same set (for example "__EMAIL_1__"); the engine applies rules
// to the working text and does not protect inserted placeholders.
type Rule struct {
	Type              string
	Pattern           Pattern
	PlaceholderPrefix string
	// Validate optionally accepts or rejects a structural match, e.g. a checksum.
	Validate func(match string) bool
}

// RuleSet is an ordered list of rules. Earlier rules consume spans before later ones see them.
type RuleSet []Rule

// Types returns the rule types in order.
func (rs RuleSet) Types() []string {
	types := make([]string, 0, len(rs))
	for _, r := range rs {
		types = append(types, r.Type)
	}
	return types
}

// Select returns the rules whose type is in types, preserving order. An empty
// request, or one that matches nothing, yields the full set.
func (rs RuleSet) Select(types ...string) RuleSet {
	if len(types) == 0 {
		return rs
	}

	requested := make(map[string]bool, len(types))
	for _, t := range types {
		requested[t] = true
	}

	var matched RuleSet
	for _, r := range rs {
		if requested[r.Type] {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return rs
	}
	return matched
}

// Redaction records one replaced span.
type Redaction struct {
	Placeholder string `json:"placeholder"`
	Original    string `json:"original"`
	Type        string `json:"type"`
}

// Result is the output of ApplyRedactions.
type Result struct {
	Text       string      `json:"text"`
	Redactions []Redaction `json:"redactions"`
}

// FormatPlaceholder builds the placeholder token for prefix and counter.
func FormatPlaceholder(prefix string, counter int) string {
	return prefix + strconv.Itoa(counter) + PlaceholderSuffix
}

// CountByType tallies redactions per type.
func CountByType(redactions []Redaction) map[string]int {
	counts := make(map[string]int)
	for _, r := range redactions {
		counts[r.Type]++
	}
	return counts
}
