package privacy

import (
	"fmt"

	"github.com/raaihank/safedom/internal/logger"
	"go.uber.org/zap"
)

// Config selects the active rule set.
type Config struct {
	Countries            []string   `yaml:"countries" mapstructure:"countries"`
	GenericPhone         bool       `yaml:"generic_phone" mapstructure:"generic_phone"`
	GenericAccountNumber bool       `yaml:"generic_account_number" mapstructure:"generic_account_number"`
	ExtraRules           []RuleSpec `yaml:"extra_rules" mapstructure:"extra_rules"`
	RuleFiles            []string   `yaml:"rule_files" mapstructure:"rule_files"`
}

// Detector holds a validated rule set built from configuration
type Detector struct {
	rules  RuleSet
	logger *logger.Logger
	config Config
}

// New builds and validates the rule set described by cfg
func New(cfg Config, log *logger.Logger) (*Detector, error) {
	rules, err := buildRules(cfg)
	if err != nil {
		return nil, err
	}

	detector := &Detector{
		rules:  rules,
		logger: log,
		config: cfg,
	}

	log.Info("Redaction rules initialized",
		zap.Int("total_rules", len(rules)),
		zap.Strings("countries", cfg.Countries),
		zap.Strings("rule_types", rules.Types()),
	)

	return detector, nil
}

// Rules returns the active rule set
func (d *Detector) Rules() RuleSet {
	return d.rules
}

// Config returns the configuration the detector was built from
func (d *Detector) Config() Config {
	return d.config
}

// ProcessText redacts text with the active rules, numbering placeholders from startCounter
func (d *Detector) ProcessText(text string, startCounter int) (Result, error) {
	result, err := ApplyRedactions(text, d.rules, startCounter)
	if err != nil {
		return Result{}, err
	}

	if len(result.Redactions) > 0 {
		d.logger.LogRedactions("PII redacted", CountByType(result.Redactions))
	}

	return result, nil
}

// RulesFor returns the active rules, or a set composed for other countries
// with the same generic toggles and extra rules
func (d *Detector) RulesFor(countries []string) (RuleSet, error) {
	if len(countries) == 0 {
		return d.rules, nil
	}

	cfg := d.config
	cfg.Countries = countries
	return buildRules(cfg)
}

// buildRules composes and validates the rule set for cfg
func buildRules(cfg Config) (RuleSet, error) {
	extra, err := CompileSpecs(cfg.ExtraRules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile extra rules: %w", err)
	}

	for _, path := range cfg.RuleFiles {
		fileRules, err := LoadRuleFile(path)
		if err != nil {
			return nil, err
		}
		extra = append(extra, fileRules...)
	}

	rules := CreateRules(RuleOptions{
		Countries:                   cfg.Countries,
		ExcludeGenericPhone:         !cfg.GenericPhone,
		ExcludeGenericAccountNumber: !cfg.GenericAccountNumber,
		ExtraRules:                  extra,
	})

	if err := ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("failed to validate redaction rules: %w", err)
	}
	return rules, nil
}
