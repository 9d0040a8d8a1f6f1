// Package batch redacts datasets of HTML documents offline, reading CSV,
// JSONL or Parquet and writing one Row per document.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/safedom/internal/aicontext"
	"github.com/raaihank/safedom/internal/audit"
	"github.com/raaihank/safedom/internal/htmldoc"
	"github.com/raaihank/safedom/internal/privacy"
)

// Pipeline redacts documents in batches using a worker pool
type Pipeline struct {
	rules    privacy.RuleSet
	recorder audit.Recorder
	config   Config
	logger   *zap.Logger
}

// NewPipeline creates a new batch pipeline. A nil recorder disables auditing.
func NewPipeline(rules privacy.RuleSet, recorder audit.Recorder, config Config, logger *zap.Logger) (*Pipeline, error) {
	if err := privacy.ValidateRules(rules); err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Pipeline{
		rules:    rules,
		recorder: recorder,
		config:   config.withDefaults(),
		logger:   logger.With(zap.String("component", "batch")),
	}, nil
}

// ProcessFile redacts every document in inputPath and writes rows to outputPath
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	inFormat := DetectFileFormat(inputPath)
	if inFormat == FormatUnknown {
		return nil, fmt.Errorf("unsupported input format: %s", inputPath)
	}
	outFormat := p.config.OutputFormat
	if outFormat == FormatUnknown {
		outFormat = DetectFileFormat(outputPath)
	}
	if outFormat != FormatParquet && outFormat != FormatJSONL {
		return nil, fmt.Errorf("unsupported output format: %q", outFormat)
	}

	p.logger.Info("Starting batch pipeline",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("input_format", string(inFormat)),
		zap.String("output_format", string(outFormat)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.Workers))

	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	var readBatch func() ([]Document, error)
	switch inFormat {
	case FormatCSV:
		readBatch, err = p.csvBatches(in)
	case FormatParquet:
		reader := parquet.NewReader(in)
		defer reader.Close()
		readBatch = p.parquetBatches(reader)
	case FormatJSONL:
		readBatch = p.jsonBatches(in)
	}
	if err != nil {
		return nil, err
	}

	var sink rowWriter
	if outFormat == FormatParquet {
		sink = &parquetWriter{w: parquet.NewGenericWriter[Row](out)}
	} else {
		sink = &jsonlWriter{enc: json.NewEncoder(out)}
	}

	start := time.Now()
	result := &ProcessingResult{}
	if err := p.processBatches(ctx, readBatch, sink, result); err != nil {
		sink.Close()
		return result, err
	}
	if err := sink.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize output: %w", err)
	}
	result.Duration = time.Since(start)

	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("redactions", result.Redactions),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// csvBatches reads documents using the header row to locate columns
func (p *Pipeline) csvBatches(r io.Reader) (func() ([]Document, error), error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	htmlCol, ok := columns["html"]
	if !ok {
		return nil, fmt.Errorf("CSV header has no html column: %v", header)
	}
	p.logger.Debug("CSV header detected", zap.Strings("columns", header))

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	return func() ([]Document, error) {
		var batch []Document
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				continue
			}
			if htmlCol >= len(record) {
				p.logger.Warn("CSV record missing html column", zap.Int("length", len(record)))
				continue
			}
			batch = append(batch, Document{
				ID:       strings.TrimSpace(field(record, "id")),
				HTML:     record[htmlCol],
				Selector: strings.TrimSpace(field(record, "selector")),
			})
		}
		return batch, nil
	}, nil
}

func (p *Pipeline) parquetBatches(reader *parquet.Reader) func() ([]Document, error) {
	return func() ([]Document, error) {
		var batch []Document
		for len(batch) < p.config.BatchSize {
			var doc Document
			err := reader.Read(&doc)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			batch = append(batch, doc)
		}
		return batch, nil
	}
}

// jsonBatches reads one JSON document per line
func (p *Pipeline) jsonBatches(r io.Reader) func() ([]Document, error) {
	decoder := json.NewDecoder(r)
	return func() ([]Document, error) {
		var batch []Document
		for len(batch) < p.config.BatchSize {
			var doc Document
			err := decoder.Decode(&doc)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to read JSON record: %w", err)
			}
			batch = append(batch, doc)
		}
		return batch, nil
	}
}

func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]Document, error), sink rowWriter, result *ProcessingResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		offset := result.TotalRecords
		rows := p.processBatch(ctx, batch, offset)
		for _, row := range rows {
			result.TotalRecords++
			if row.Error != "" {
				result.ProcessedFailed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", row.ID, row.Error))
				continue
			}
			result.ProcessedOK++
			result.Redactions += row.RedactionCount
		}

		if err := sink.Write(rows); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
		p.logger.Debug("Batch processed",
			zap.Int("batch_size", len(batch)),
			zap.Int64("records_processed", result.TotalRecords))
	}
}

// processBatch fans documents out to workers; rows keep input order
func (p *Pipeline) processBatch(ctx context.Context, batch []Document, offset int64) []Row {
	rows := make([]Row, len(batch))
	jobs := make(chan int)

	workers := p.config.Workers
	if workers > len(batch) {
		workers = len(batch)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				doc := batch[i]
				if doc.ID == "" {
					doc.ID = fmt.Sprintf("row-%d", offset+int64(i)+1)
				}
				rows[i] = p.processDocument(ctx, doc)
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return rows
}

// processDocument builds the redacted context for one document. Each
// document numbers its placeholders from 1.
func (p *Pipeline) processDocument(ctx context.Context, doc Document) Row {
	row := Row{ID: doc.ID}

	parsed, err := htmldoc.ParseString(doc.HTML)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	selector := doc.Selector
	if selector == "" {
		selector = p.config.Selector
	}

	aiCtx, err := aicontext.BuildFromSelector(parsed, selector, aicontext.Options{
		IncludeUnlabeled: p.config.IncludeUnlabeled,
		RedactionRules:   p.rules,
		Region:           p.config.Region,
	})
	if err != nil {
		row.Error = err.Error()
		return row
	}

	fields, err := json.Marshal(aiCtx.Fields)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	redactions, err := json.Marshal(aiCtx.Redactions)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.RawText = aiCtx.RawText
	row.FieldsJSON = string(fields)
	row.RedactionsJSON = string(redactions)
	row.RedactionCount = int64(len(aiCtx.Redactions))

	entry := audit.NewEntry(doc.ID, audit.SourceBatch, string(p.config.Region), aiCtx.Redactions)
	if err := p.recorder.Record(ctx, entry); err != nil {
		p.logger.Warn("Failed to record audit entry",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	}
	return row
}

type rowWriter interface {
	Write(rows []Row) error
	Close() error
}

type parquetWriter struct {
	w *parquet.GenericWriter[Row]
}

func (w *parquetWriter) Write(rows []Row) error {
	_, err := w.w.Write(rows)
	return err
}

func (w *parquetWriter) Close() error {
	return w.w.Close()
}

type jsonlWriter struct {
	enc *json.Encoder
}

func (w *jsonlWriter) Write(rows []Row) error {
	for i := range rows {
		if err := w.enc.Encode(&rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *jsonlWriter) Close() error { return nil }
