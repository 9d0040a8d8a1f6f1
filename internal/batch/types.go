package batch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/safedom/internal/aicontext"
)

// Document is a single HTML document from the input dataset
type Document struct {
	ID       string `csv:"id" parquet:"id" json:"id"`
	HTML     string `csv:"html" parquet:"html" json:"html"`
	Selector string `csv:"selector" parquet:"selector" json:"selector,omitempty"`
}

// Row is the output written for each document. Fields and redactions are
// stored as JSON so the same row shape works for Parquet and JSONL.
type Row struct {
	ID             string `parquet:"id" json:"id"`
	RawText        string `parquet:"raw_text" json:"raw_text"`
	FieldsJSON     string `parquet:"fields_json" json:"fields_json"`
	RedactionsJSON string `parquet:"redactions_json" json:"redactions_json"`
	RedactionCount int64  `parquet:"redaction_count" json:"redaction_count"`
	Error          string `parquet:"error" json:"error,omitempty"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Redactions      int64         `json:"redactions"`
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	BatchSize int
	Workers   int
	// Selector is used for documents that do not carry their own
	Selector         string
	OutputFormat     FileFormat
	IncludeUnlabeled bool
	Region           aicontext.Region
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Selector == "" {
		c.Selector = "body"
	}
	return c
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
	FormatUnknown FileFormat = ""
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatUnknown
	}
}
