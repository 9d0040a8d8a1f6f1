// Package audit records which kinds of PII were redacted, and how often,
// without storing the originals.
package audit

import (
	"context"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/raaihank/safedom/internal/privacy"
)

// Source values for Entry.Source
const (
	SourceContext  = "context"
	SourceRedact   = "redact"
	SourceReinject = "reinject"
	SourceBatch    = "batch"
)

// Entry is one audited redaction run
type Entry struct {
	ID             int64          `db:"id" json:"id"`
	SessionID      string         `db:"session_id" json:"session_id"`
	Source         string         `db:"source" json:"source"`
	RedactionCount int            `db:"redaction_count" json:"redaction_count"`
	Types          pq.StringArray `db:"types" json:"types"`
	Region         string         `db:"region" json:"region,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Stats summarises the audit log
type Stats struct {
	TotalRuns       int64 `db:"total_runs" json:"total_runs"`
	TotalRedactions int64 `db:"total_redactions" json:"total_redactions"`
}

// Recorder stores audit entries
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
	Close() error
}

// Config contains database configuration
type Config struct {
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
}

// NewEntry summarises redactions into an entry. Originals are dropped.
func NewEntry(session, source, region string, redactions []privacy.Redaction) *Entry {
	counts := privacy.CountByType(redactions)
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	return &Entry{
		SessionID:      session,
		Source:         source,
		RedactionCount: len(redactions),
		Types:          types,
		Region:         region,
		CreatedAt:      time.Now().UTC(),
	}
}

// NopRecorder discards entries
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Entry) error { return nil }

func (NopRecorder) Close() error { return nil }
