package privacy

import (
	"fmt"
	"os"
	"strings"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

// RuleSpec is the serialisable form of a Rule, used in config and rule files.
type RuleSpec struct {
	Type              string `yaml:"type" mapstructure:"type" json:"type"`
	Pattern           string `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
	PlaceholderPrefix string `yaml:"placeholder_prefix" mapstructure:"placeholder_prefix" json:"placeholder_prefix,omitempty"`
	IgnoreCase        bool   `yaml:"ignore_case" mapstructure:"ignore_case" json:"ignore_case,omitempty"`
	Validator         string `yaml:"validator" mapstructure:"validator" json:"validator,omitempty"`
	// FirstOnly compiles a non-exhaustive pattern; ValidateRules rejects it.
	FirstOnly bool `yaml:"first_only" mapstructure:"first_only" json:"first_only,omitempty"`
}

// ruleFile is the on-disk layout of a YAML rule file.
type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// Compile turns s into a Rule. A missing prefix is derived from the
// type: "order-id" becomes "__ORDER_ID_".
func (s RuleSpec) Compile() (Rule, error) {
	if strings.TrimSpace(s.Type) == "" {
		return Rule{}, &ConfigurationError{RuleType: s.Type, Reason: "type is empty"}
	}

	opts := regexp2.None
	if s.IgnoreCase {
		opts |= regexp2.IgnoreCase
	}
	pattern, err := Compile(s.Pattern, opts)
	if err != nil {
		return Rule{}, &ConfigurationError{RuleType: s.Type, Reason: err.Error()}
	}
	if s.FirstOnly {
		pattern = pattern.FirstOnly()
	}

	validate, ok := Validator(s.Validator)
	if !ok {
		return Rule{}, &ConfigurationError{RuleType: s.Type, Reason: fmt.Sprintf("unknown validator %q", s.Validator)}
	}

	prefix := s.PlaceholderPrefix
	if prefix == "" {
		prefix = DefaultPrefix(s.Type)
	}

	return Rule{Type: s.Type, Pattern: pattern, PlaceholderPrefix: prefix, Validate: validate}, nil
}

// DefaultPrefix derives a placeholder prefix from a rule type.
func DefaultPrefix(ruleType string) string {
	upper := strings.ToUpper(strings.TrimSpace(ruleType))
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return "__" + upper + "_"
}

// CompileSpecs compiles specs in order.
func CompileSpecs(specs []RuleSpec) (RuleSet, error) {
	rules := make(RuleSet, 0, len(specs))
	for _, spec := range specs {
		rule, err := spec.Compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRuleFile reads a YAML file of the form
//
//	rules:
//	  - type: order-id
//	    pattern: 'ORD-\d{6}'
func LoadRuleFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	rules, err := CompileSpecs(file.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule file %s: %w", path, err)
	}
	return rules, nil
}
