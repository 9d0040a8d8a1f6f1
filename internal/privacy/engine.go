package privacy

import (
	"fmt"
)

// ApplyRedactions runs rules over input in order. Each rule scans the output of
// the previous one. Accepted matches become prefix+counter+"__" placeholders,
// with the counter starting at startCounter (values below 1 start at 1) and
// shared across all rules of the call.
func ApplyRedactions(input string, rules RuleSet, startCounter int) (Result, error) {
	if input == "" {
		return Result{Text: "", Redactions: []Redaction{}}, nil
	}
	if startCounter < 1 {
		startCounter = 1
	}

	working := input
	redactions := make([]Redaction, 0)
	counter := startCounter

	for _, rule := range rules {
		if rule.Pattern.re == nil {
			return Result{}, &ConfigurationError{RuleType: rule.Type, Reason: "pattern is not set"}
		}

		out, err := rule.Pattern.replace(working, func(match string) (string, bool) {
			if rule.Validate != nil && !rule.Validate(match) {
				return "", false
			}
			placeholder := FormatPlaceholder(rule.PlaceholderPrefix, counter)
			counter++
			redactions = append(redactions, Redaction{
				Placeholder: placeholder,
				Original:    match,
				Type:        rule.Type,
			})
			return placeholder, true
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to apply rule %q: %w", rule.Type, err)
		}
		working = out
	}

	return Result{Text: working, Redactions: redactions}, nil
}
