package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/config"
	"github.com/docmask/docmask/internal/logger"
	"github.com/docmask/docmask/internal/pipeline"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		inputPath   = flag.String("input", "", "Path to the source .docx document")
		outputPath  = flag.String("output", "", "Path for the anonymized document (default: <input>.anonymized.docx)")
		configPath  = flag.String("config", "", "Path to configuration file")
		patternPath = flag.String("patterns", "", "Override the pattern catalogue path")
		nlpEndpoint = flag.String("nlp-endpoint", "", "Override the entity recogniser URL")
		noHighlight = flag.Bool("no-highlight", false, "Do not highlight replaced text")
		reportDir   = flag.String("report-dir", "", "Directory for report.xlsx and ledger.json")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("docmask %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		usage()
		os.Exit(2)
	}
	if *outputPath == "" {
		*outputPath = defaultOutputPath(*inputPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *patternPath != "" {
		cfg.Patterns.Path = *patternPath
	}
	if *nlpEndpoint != "" {
		cfg.NLP.Endpoint = *nlpEndpoint
	}
	if *noHighlight {
		cfg.Apply.HighlightReplacements = false
	}
	if *reportDir != "" {
		cfg.Report.Dir = *reportDir
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting docmask",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("input", *inputPath),
		zap.String("output", *outputPath))

	anon, err := pipeline.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer anon.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Patterns.Watch {
		go func() {
			if err := anon.Patterns().Watch(ctx); err != nil && ctx.Err() == nil {
				log.Warn("Pattern catalogue watcher stopped", zap.Error(err))
			}
		}()
	}

	result, err := anon.Run(ctx, *inputPath, *outputPath)
	if err != nil {
		log.Fatal("Anonymization failed", zap.Error(err))
	}

	fmt.Printf("Anonymized %s -> %s\n", result.InputPath, result.OutputPath)
	fmt.Printf("  blocks: %d, detections: %d, applied: %d, skipped: %d, sweep: %d\n",
		result.Blocks, result.Detections, result.Applied, result.Skipped, result.Swept)
	for category, count := range result.Categories {
		fmt.Printf("  %s: %d\n", category, count)
	}
	if result.ReportPath != "" {
		fmt.Printf("  summary: %s\n", result.ReportPath)
	}
	if result.LedgerPath != "" {
		fmt.Printf("  ledger:  %s\n", result.LedgerPath)
	}
	if len(result.Warnings) > 0 {
		fmt.Printf("  warnings: %d (see ledger)\n", len(result.Warnings))
	}
}

func defaultOutputPath(input string) string {
	const ext = ".docx"
	if len(input) > len(ext) && input[len(input)-len(ext):] == ext {
		return input[:len(input)-len(ext)] + ".anonymized" + ext
	}
	return input + ".anonymized" + ext
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}
	return logger.New(loggerConfig)
}

func usage() {
	fmt.Fprintf(os.Stderr, `docmask - document anonymization pipeline

Usage:
  docmask -input <in.docx> [-output <out.docx>] [options]

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  docmask -input contract.docx
  docmask -input contract.docx -output clean.docx -patterns configs/patterns.csv
  docmask -input contract.docx -nlp-endpoint http://localhost:8081 -report-dir out/
`)
}
