package aicontext

import (
	"strings"

	"github.com/raaihank/safedom/internal/privacy"
)

// AiContext is the prompt-safe payload.
type AiContext struct {
	// Fields maps data-ai-label to collected text; repeated labels are joined with "\n".
	Fields map[string]string `json:"fields"`
	// RawText joins every collected fragment with a blank line.
	RawText string `json:"rawText"`
	// Redactions lists every placeholder in encounter order.
	Redactions []privacy.Redaction `json:"redactions"`
}

// Placeholders returns the placeholders present in the context.
func (c *AiContext) Placeholders() []string {
	out := make([]string, 0, len(c.Redactions))
	for _, r := range c.Redactions {
		out = append(out, r.Placeholder)
	}
	return out
}

type assembler struct {
	fields     map[string]string
	raw        []string
	redactions []privacy.Redaction
}

func newAssembler() *assembler {
	return &assembler{
		fields:     make(map[string]string),
		redactions: []privacy.Redaction{},
	}
}

// add appends text to the raw fragments and, when label is set, to its field.
func (a *assembler) add(label, text string) {
	a.raw = append(a.raw, text)
	if label == "" {
		return
	}
	if existing, ok := a.fields[label]; ok && existing != "" {
		a.fields[label] = existing + "\n" + text
		return
	}
	a.fields[label] = text
}

func (a *assembler) addRedactions(rs []privacy.Redaction) {
	a.redactions = append(a.redactions, rs...)
}

func (a *assembler) context() *AiContext {
	fields := make(map[string]string, len(a.fields))
	for k, v := range a.fields {
		fields[k] = v
	}
	return &AiContext{
		Fields:     fields,
		RawText:    strings.Join(a.raw, "\n\n"),
		Redactions: a.redactions,
	}
}
