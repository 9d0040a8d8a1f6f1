package privacy

import (
	"strings"
)

// digitsOnly strips everything except ASCII digits.
func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValidLuhn checks card-like numbers (13-19 digits, separators ignored) against the Luhn checksum.
func ValidLuhn(match string) bool {
	digits := digitsOnly(match)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

// ValidIBAN checks the ISO 13616 mod-97 checksum. Spaces are ignored.
func ValidIBAN(match string) bool {
	clean := strings.ToUpper(strings.ReplaceAll(match, " ", ""))
	if len(clean) < 15 || len(clean) > 34 {
		return false
	}

	rearranged := clean[4:] + clean[:4]
	remainder := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		switch {
		case c >= '0' && c <= '9':
			remainder = (remainder*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			v := int(c-'A') + 10
			remainder = (remainder*100 + v) % 97
		default:
			return false
		}
	}
	return remainder == 1
}

// ValidBSN applies the Dutch citizen service number eleven-test.
func ValidBSN(match string) bool {
	digits := digitsOnly(match)
	if len(digits) != 9 || digits == "000000000" {
		return false
	}

	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(digits[i]-'0') * (9 - i)
	}
	sum -= int(digits[8] - '0')
	return sum%11 == 0
}

// validators maps the names usable in rule files to predicates.
var validators = map[string]func(string) bool{
	"luhn": ValidLuhn,
	"iban": ValidIBAN,
	"bsn":  ValidBSN,
}

// Validator looks up a named validator. The empty name yields nil, ok.
func Validator(name string) (func(string) bool, bool) {
	if name == "" {
		return nil, true
	}
	v, ok := validators[strings.ToLower(name)]
	return v, ok
}
