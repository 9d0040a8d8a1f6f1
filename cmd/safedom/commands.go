package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raaihank/safedom/internal/aicontext"
	"github.com/raaihank/safedom/internal/htmldoc"
	"github.com/raaihank/safedom/internal/placeholder"
	"github.com/raaihank/safedom/internal/privacy"
)

// readInput reads the named file, or stdin when no file or "-" is given
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, exitError(3, "failed to read %s: %v", args[0], err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type contextFlags struct {
	rules       ruleFlags
	selector    string
	values      []string
	labeledOnly bool
	region      string
}

func newContextCmd() *cobra.Command {
	f := &contextFlags{}

	cmd := &cobra.Command{
		Use:   "context [html-file]",
		Short: "Build a redacted AI context from an HTML document",
		Long: "Reads HTML from the file or stdin, walks data-ai directives below the selected element " +
			"and prints the context with its redaction records as JSON. Keep the records to reinject later.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(cmd, args, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.selector, "selector", "body", "CSS selector of the root element")
	flags.StringArrayVar(&f.values, "value", nil, "Form control value as selector=value (may be repeated)")
	flags.BoolVar(&f.labeledOnly, "labeled-only", true, "Skip text outside data-ai elements")
	flags.StringVar(&f.region, "region", "", "Region hint: eu, us or global")
	f.rules.register(cmd)

	return cmd
}

func runContext(cmd *cobra.Command, args []string, f *contextFlags) error {
	detector, cfg, err := f.rules.detector(cmd)
	if err != nil {
		return err
	}

	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	doc, err := htmldoc.Parse(bytes.NewReader(data))
	if err != nil {
		return exitError(3, "%v", err)
	}

	for _, kv := range f.values {
		selector, value, ok := strings.Cut(kv, "=")
		if !ok {
			return exitError(3, "invalid --value %q, want selector=value", kv)
		}
		if err := doc.SetValue(selector, value); err != nil {
			return exitError(3, "%v", err)
		}
	}

	region := aicontext.Region(strings.ToLower(f.region))
	if region == aicontext.RegionUnset {
		region = aicontext.Region(cfg.Privacy.Region)
	}
	if !region.Valid() {
		return exitError(3, "invalid region: %s", f.region)
	}

	labeledOnly := f.labeledOnly
	if !cmd.Flags().Changed("labeled-only") && f.rules.configPath != "" {
		labeledOnly = cfg.Privacy.LabeledOnly
	}

	ctx, err := aicontext.BuildFromSelector(doc, f.selector, aicontext.Options{
		IncludeUnlabeled: !labeledOnly,
		RedactionRules:   detector.Rules(),
		Region:           region,
	})
	if errors.Is(err, aicontext.ErrNotFound) {
		return exitError(1, "%v", err)
	}
	if err != nil {
		return exitError(3, "%v", err)
	}

	return writeJSON(cmd.OutOrStdout(), ctx)
}

type redactFlags struct {
	rules        ruleFlags
	types        []string
	startCounter int
}

func newRedactCmd() *cobra.Command {
	f := &redactFlags{}

	cmd := &cobra.Command{
		Use:   "redact [text-file]",
		Short: "Replace PII in plain text with placeholders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detector, _, err := f.rules.detector(cmd)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			rules := detector.Rules()
			if len(f.types) > 0 {
				rules = rules.Select(f.types...)
			}
			result, err := privacy.ApplyRedactions(string(data), rules, f.startCounter)
			if err != nil {
				return exitError(3, "%v", err)
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.types, "types", nil, "Only apply these rule types")
	flags.IntVar(&f.startCounter, "start-counter", 1, "First placeholder number")
	f.rules.register(cmd)

	return cmd
}

// loadRedactions accepts a bare array of records or any object with a
// "redactions" array, such as the output of context or redact
func loadRedactions(path string) ([]privacy.Redaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exitError(3, "failed to read %s: %v", path, err)
	}

	var redactions []privacy.Redaction
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &redactions)
	} else {
		var wrapper struct {
			Redactions []privacy.Redaction `json:"redactions"`
		}
		err = json.Unmarshal(data, &wrapper)
		redactions = wrapper.Redactions
	}
	if err != nil {
		return nil, exitError(3, "failed to parse redactions in %s: %v", path, err)
	}
	return redactions, nil
}

type reinjectFlags struct {
	redactions string
	strict     bool
}

func newReinjectCmd() *cobra.Command {
	f := &reinjectFlags{}

	cmd := &cobra.Command{
		Use:   "reinject [text-file]",
		Short: "Restore original values into AI output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			redactions, err := loadRedactions(f.redactions)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			text := string(data)
			unknown := placeholder.FindUnknown(text, placeholder.Known(redactions))
			if len(unknown) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: unknown placeholders: %s\n", strings.Join(unknown, ", "))
				if f.strict {
					return exitError(1, "refusing to reinject: %d unknown placeholders", len(unknown))
				}
			}

			_, err = io.WriteString(cmd.OutOrStdout(), placeholder.Reinject(text, redactions))
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.redactions, "redactions", "", "JSON file with redaction records")
	flags.BoolVar(&f.strict, "strict", false, "Fail when the text contains unknown placeholders")
	_ = cmd.MarkFlagRequired("redactions")

	return cmd
}

func newAuditCmd() *cobra.Command {
	var redactionsPath string

	cmd := &cobra.Command{
		Use:   "audit [text-file]",
		Short: "List placeholders that match no redaction record",
		Long:  "Exits with status 1 when unknown placeholders are found.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var known []string
			if redactionsPath != "" {
				redactions, err := loadRedactions(redactionsPath)
				if err != nil {
					return err
				}
				known = placeholder.Known(redactions)
			}
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			unknown := placeholder.FindUnknown(string(data), known)
			for _, p := range unknown {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if len(unknown) > 0 {
				return exitError(1, "%d unknown placeholders", len(unknown))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&redactionsPath, "redactions", "", "JSON file with redaction records")

	return cmd
}
