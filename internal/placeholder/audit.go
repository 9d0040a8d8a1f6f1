package placeholder

import (
	"regexp"
)

// tokenPattern matches placeholder-shaped tokens such as __EMAIL_1__,
// __IBAN_NL_12__ or __V2_3__. Segments may carry digits, as prefixes derived
// from rule types do, but the first segment needs a letter.
var tokenPattern = regexp.MustCompile(`__[0-9]*[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)*_[0-9]+__`)

// FindUnknown returns placeholder-shaped tokens in text that are not in known,
// de-duplicated in first-seen order. Typical use is warning about placeholders
// a user typed by hand, which Reinject would leave untouched.
func FindUnknown(text string, known []string) []string {
	if text == "" {
		return []string{}
	}

	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	seen := make(map[string]bool)
	unknown := []string{}
	for _, token := range tokenPattern.FindAllString(text, -1) {
		if knownSet[token] || seen[token] {
			continue
		}
		seen[token] = true
		unknown = append(unknown, token)
	}
	return unknown
}
