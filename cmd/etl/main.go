package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/safedom/internal/aicontext"
	"github.com/raaihank/safedom/internal/audit"
	"github.com/raaihank/safedom/internal/batch"
	"github.com/raaihank/safedom/internal/config"
	"github.com/raaihank/safedom/internal/logger"
	"github.com/raaihank/safedom/internal/privacy"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSONL)")
		outputFile   = flag.String("output", "", "Output file (Parquet or JSONL)")
		batchSize    = flag.Int("batch-size", 0, "Batch size for processing (default from config)")
		workers      = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		selector     = flag.String("selector", "", "Root selector for documents without one (default from config)")
		outputFormat = flag.String("format", "", "Output format: parquet or jsonl (default from the output extension, then config)")
		unlabeled    = flag.Bool("include-unlabeled", false, "Also collect text outside data-ai elements")
		showStats    = flag.Bool("stats", false, "Show audit log statistics and exit")
	)
	flag.Parse()

	if (*inputFile == "" || *outputFile == "") && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input pages.csv --output pages.parquet --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input pages.jsonl --output pages.jsonl --format jsonl --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	recorder, err := newRecorder(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize audit recorder", zap.Error(err))
	}
	defer recorder.Close()

	if *showStats {
		if err := showAuditStats(ctx, recorder); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	detector, err := privacy.New(cfg.Privacy.Config, log.WithComponent("privacy"))
	if err != nil {
		log.Fatal("Failed to build redaction rules", zap.Error(err))
	}

	batchConfig := batch.Config{
		BatchSize:        pick(*batchSize, cfg.Batch.BatchSize),
		Workers:          pick(*workers, cfg.Batch.Workers),
		Selector:         cfg.Batch.Selector,
		IncludeUnlabeled: *unlabeled || !cfg.Privacy.LabeledOnly,
		Region:           aicontext.Region(cfg.Privacy.Region),
	}
	if *selector != "" {
		batchConfig.Selector = *selector
	}
	switch {
	case *outputFormat != "":
		batchConfig.OutputFormat = batch.FileFormat(*outputFormat)
	case batch.DetectFileFormat(*outputFile) == batch.FormatUnknown:
		batchConfig.OutputFormat = batch.FileFormat(cfg.Batch.OutputFormat)
	}

	if err := processDataset(ctx, detector.Rules(), recorder, batchConfig, *inputFile, *outputFile, log); err != nil {
		log.Fatal("Batch processing failed", zap.Error(err))
	}

	log.Info("Batch pipeline completed successfully")
}

func pick(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func newRecorder(cfg *config.Config, log *logger.Logger) (audit.Recorder, error) {
	if !cfg.Audit.Enabled {
		return audit.NopRecorder{}, nil
	}
	return audit.NewPostgresRecorder(audit.Config{
		DatabaseURL:  cfg.Audit.DatabaseURL,
		MaxOpenConns: cfg.Audit.MaxOpenConns,
		MaxIdleConns: cfg.Audit.MaxIdleConns,
	}, log.Logger)
}

// processDataset redacts the input dataset into the output file
func processDataset(ctx context.Context, rules privacy.RuleSet, recorder audit.Recorder, batchConfig batch.Config, inputFile, outputFile string, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	pipeline, err := batch.NewPipeline(rules, recorder, batchConfig, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	result, err := pipeline.ProcessFile(ctx, inputFile, outputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	log.Info("Dataset processing completed",
		zap.String("input", inputFile),
		zap.String("output", outputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("redactions", result.Redactions),
		zap.Duration("total_duration", result.Duration))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return nil
}

// showAuditStats prints totals from the audit log
func showAuditStats(ctx context.Context, recorder audit.Recorder) error {
	pg, ok := recorder.(*audit.PostgresRecorder)
	if !ok {
		return fmt.Errorf("audit log is not enabled")
	}

	stats, err := pg.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get audit stats: %w", err)
	}
	recent, err := pg.Recent(ctx, 10)
	if err != nil {
		return fmt.Errorf("failed to get recent entries: %w", err)
	}

	fmt.Printf("\n=== SafeDOM Audit Statistics ===\n")
	fmt.Printf("Total Runs:         %d\n", stats.TotalRuns)
	fmt.Printf("Total Redactions:   %d\n", stats.TotalRedactions)

	if len(recent) > 0 {
		fmt.Printf("\n=== Recent Runs ===\n")
		for _, e := range recent {
			fmt.Printf("%s  %-8s  %-36s  %3d  %v\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Source, e.SessionID, e.RedactionCount, []string(e.Types))
		}
	}

	return nil
}
