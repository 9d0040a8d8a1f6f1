package privacy

import (
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

// Built-in rule types.
const (
	TypeEmail      = "email"
	TypeIBAN       = "iban"
	TypeCreditCard = "creditcard"
	TypeSSN        = "ssn"
	TypePhone      = "phone"
)

// Digit classes are spelled [0-9]: regexp2 follows .NET, where \d also
// matches non-ASCII decimal digits such as Arabic-Indic ones.
var (
	emailPattern = MustCompile(`\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`, regexp2.IgnoreCase)
	ibanPattern  = MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{4}[A-Z0-9]{7}[A-Z0-9]{0,16}\b`, regexp2.IgnoreCase)
	// 13-19 digits with optional spaces or hyphens; Luhn decides.
	cardPattern = MustCompile(`\b(?:[0-9][ -]*?){13,19}\b`, regexp2.None)
	ssnPattern  = MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`, regexp2.None)
	// 7-15 digits with common separators, keeping a leading "+".
	phonePattern = MustCompile(`(?<![A-Za-z0-9_])(?=(?:[^0-9]*[0-9]){7,15}\b)\+?(?:[0-9][ \t().-]?){6,14}[0-9](?![A-Za-z0-9_])`, regexp2.None)
)

func emailRule() Rule {
	return Rule{Type: TypeEmail, Pattern: emailPattern, PlaceholderPrefix: "__EMAIL_"}
}

func ibanRule() Rule {
	return Rule{Type: TypeIBAN, Pattern: ibanPattern, PlaceholderPrefix: "__IBAN_", Validate: ValidIBAN}
}

func cardRule() Rule {
	return Rule{Type: TypeCreditCard, Pattern: cardPattern, PlaceholderPrefix: "__CARD_", Validate: ValidLuhn}
}

func ssnRule() Rule {
	return Rule{Type: TypeSSN, Pattern: ssnPattern, PlaceholderPrefix: "__SSN_"}
}

func phoneRule() Rule {
	return Rule{Type: TypePhone, Pattern: phonePattern, PlaceholderPrefix: "__PHONE_"}
}

// countryRules holds per-country rules keyed by lower-case ISO 3166 code.
var countryRules = map[string][]Rule{
	"nl": {
		{Type: "iban-nl", Pattern: MustCompile(`\bNL[0-9]{2}[A-Z]{4}[0-9]{10}\b`, regexp2.IgnoreCase), PlaceholderPrefix: "__IBAN_NL_", Validate: ValidIBAN},
		{Type: "bsn", Pattern: MustCompile(`\b[0-9]{4}\.?[0-9]{2}\.?[0-9]{3}\b`, regexp2.None), PlaceholderPrefix: "__BSN_", Validate: ValidBSN},
	},
	"de": {
		{Type: "iban-de", Pattern: MustCompile(`\bDE[0-9]{20}\b`, regexp2.IgnoreCase), PlaceholderPrefix: "__IBAN_DE_", Validate: ValidIBAN},
	},
	"be": {
		{Type: "iban-be", Pattern: MustCompile(`\bBE[0-9]{14}\b`, regexp2.IgnoreCase), PlaceholderPrefix: "__IBAN_BE_", Validate: ValidIBAN},
	},
	"fr": {
		{Type: "iban-fr", Pattern: MustCompile(`\bFR[0-9]{12}[A-Z0-9]{11}[0-9]{2}\b`, regexp2.IgnoreCase), PlaceholderPrefix: "__IBAN_FR_", Validate: ValidIBAN},
	},
	"es": {
		{Type: "iban-es", Pattern: MustCompile(`\bES[0-9]{22}\b`, regexp2.IgnoreCase), PlaceholderPrefix: "__IBAN_ES_", Validate: ValidIBAN},
	},
	"gb": {
		{Type: "iban-gb", Pattern: MustCompile(`\bGB[0-9]{2}[A-Z]{4}[0-9]{14}\b`, regexp2.IgnoreCase), PlaceholderPrefix: "__IBAN_GB_", Validate: ValidIBAN},
		{Type: "nino", Pattern: MustCompile(`\b[A-CEGHJ-PR-TW-Z][A-CEGHJ-NPR-TW-Z] ?[0-9]{2} ?[0-9]{2} ?[0-9]{2} ?[A-D]\b`, regexp2.None), PlaceholderPrefix: "__NINO_"},
	},
}

// RuleOptions controls CreateRules. The zero value keeps both generic rules.
type RuleOptions struct {
	Countries                   []string
	ExcludeGenericPhone         bool
	ExcludeGenericAccountNumber bool
	ExtraRules                  RuleSet
}

// DefaultRules returns the base rule set: email, iban, creditcard, ssn, phone.
func DefaultRules() RuleSet {
	return RuleSet{emailRule(), ibanRule(), cardRule(), ssnRule(), phoneRule()}
}

// CreateRules composes country rules, then base rules, then opts.ExtraRules.
// Unknown country codes contribute nothing.
func CreateRules(opts RuleOptions) RuleSet {
	var rules RuleSet

	for _, code := range opts.Countries {
		rules = append(rules, countryRules[strings.ToLower(strings.TrimSpace(code))]...)
	}

	rules = append(rules, emailRule())
	if !opts.ExcludeGenericAccountNumber {
		rules = append(rules, ibanRule())
	}
	rules = append(rules, cardRule(), ssnRule())
	if !opts.ExcludeGenericPhone {
		rules = append(rules, phoneRule())
	}

	rules = append(rules, opts.ExtraRules...)
	return rules
}

// Countries lists the supported country codes.
func Countries() []string {
	codes := make([]string, 0, len(countryRules))
	for code := range countryRules {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// SupportedCountry reports whether code has country rules.
func SupportedCountry(code string) bool {
	_, ok := countryRules[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// ValidateRules fails with a *ConfigurationError for the first rule that is
// not exhaustive-scanning or has no placeholder prefix.
func ValidateRules(rules RuleSet) error {
	for _, rule := range rules {
		if rule.Pattern.re == nil {
			return &ConfigurationError{RuleType: rule.Type, Reason: "pattern is not set"}
		}
		if !rule.Pattern.Exhaustive() {
			return &ConfigurationError{RuleType: rule.Type, Reason: "pattern must scan for all matches, not only the first"}
		}
		if rule.PlaceholderPrefix == "" {
			return &ConfigurationError{RuleType: rule.Type, Reason: "placeholder prefix is empty"}
		}
	}
	return nil
}
