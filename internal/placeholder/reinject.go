// Package placeholder restores and audits placeholder tokens in text returned by an AI model.
package placeholder

import (
	"strings"

	"github.com/raaihank/safedom/internal/privacy"
)

// Reinject replaces every occurrence of each record's placeholder with its
// original value, in the order given. Replacement is literal substring
// substitution, so original values are never interpreted as patterns.
func Reinject(text string, redactions []privacy.Redaction) string {
	if text == "" {
		return ""
	}
	if len(redactions) == 0 {
		return text
	}

	result := text
	for _, r := range redactions {
		if r.Placeholder == "" {
			continue
		}
		result = strings.ReplaceAll(result, r.Placeholder, r.Original)
	}
	return result
}

// Known returns the placeholders of redactions, in order.
func Known(redactions []privacy.Redaction) []string {
	known := make([]string, 0, len(redactions))
	for _, r := range redactions {
		known = append(known, r.Placeholder)
	}
	return known
}
