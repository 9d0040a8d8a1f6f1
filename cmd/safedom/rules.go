package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/safedom/internal/config"
	"github.com/raaihank/safedom/internal/logger"
	"github.com/raaihank/safedom/internal/privacy"
)

// ruleFlags selects the rule set shared by every command
type ruleFlags struct {
	configPath       string
	countries        []string
	noGenericPhone   bool
	noGenericAccount bool
	ruleFiles        []string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "Configuration file providing privacy defaults")
	flags.StringSliceVar(&f.countries, "countries", nil, "Country rule sets to prepend, e.g. nl,de")
	flags.BoolVar(&f.noGenericPhone, "no-generic-phone", false, "Drop the generic phone rule")
	flags.BoolVar(&f.noGenericAccount, "no-generic-account", false, "Drop the generic IBAN rule")
	flags.StringSliceVar(&f.ruleFiles, "rules", nil, "YAML rule files appended after the built-in rules")
}

func (f *ruleFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.GetDefaults()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, exitError(3, "failed to load config: %v", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("countries") {
		cfg.Privacy.Countries = f.countries
	}
	if f.noGenericPhone {
		cfg.Privacy.GenericPhone = false
	}
	if f.noGenericAccount {
		cfg.Privacy.GenericAccountNumber = false
	}
	cfg.Privacy.RuleFiles = append(cfg.Privacy.RuleFiles, f.ruleFiles...)

	for _, code := range cfg.Privacy.Countries {
		if !privacy.SupportedCountry(code) {
			return nil, exitError(3, "unsupported country: %s (available: %s)", code, strings.Join(privacy.Countries(), ", "))
		}
	}
	return cfg, nil
}

func (f *ruleFlags) detector(cmd *cobra.Command) (*privacy.Detector, *config.Config, error) {
	cfg, err := f.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	detector, err := privacy.New(cfg.Privacy.Config, logger.NewNop())
	if err != nil {
		return nil, nil, exitError(3, "%v", err)
	}
	return detector, cfg, nil
}

func newRulesCmd() *cobra.Command {
	f := &ruleFlags{}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the active redaction rules in application order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			detector, _, err := f.detector(cmd)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tPREFIX\tVALIDATED\tPATTERN")
			for _, rule := range detector.Rules() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", rule.Type, rule.PlaceholderPrefix, rule.Validate != nil, rule.Pattern.String())
			}
			return w.Flush()
		},
	}
	f.register(cmd)
	cmd.Long = "Supported countries: " + strings.Join(privacy.Countries(), ", ")

	return cmd
}
