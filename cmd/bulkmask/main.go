package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/bulk"
	"github.com/docmask/docmask/internal/config"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/logger"
	"github.com/docmask/docmask/internal/nlp"
	"github.com/docmask/docmask/internal/patterns"
	"github.com/docmask/docmask/internal/surrogate"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		inputPath   = flag.String("input", "", "Dataset to anonymize (.csv, .parquet, .json, .jsonl)")
		outputPath  = flag.String("output", "", "Path for the anonymized dataset")
		textColumn  = flag.String("text-column", "text", "Name of the text column to anonymize")
		batchSize   = flag.Int("batch-size", 1000, "Records per batch")
		dryRun      = flag.Bool("dry-run", false, "Detect without writing output")
		showStats   = flag.Bool("stats", false, "Print run statistics as JSON")
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("bulkmask %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		usage()
		os.Exit(2)
	}
	if *outputPath == "" && !*dryRun {
		fmt.Fprintln(os.Stderr, "Error: -output is required unless -dry-run is set")
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := patterns.NewStore(cfg.Patterns.Path, log.WithComponent("patterns").Logger)
	if err != nil {
		log.Fatal("Failed to load pattern catalogue", zap.Error(err))
	}

	mapper := surrogate.NewMapper()
	rules := detect.NewRuleDetector(store, log.WithComponent("rules").Logger)
	merger := detect.NewMerger(log.WithComponent("merge").Logger)

	var runner *nlp.Runner
	if cfg.NLP.Enabled() {
		nlpLog := log.WithComponent("nlp").Logger
		clientCfg := nlp.Config{
			Endpoint:    cfg.NLP.Endpoint,
			Timeout:     cfg.NLP.Timeout(),
			Concurrency: cfg.NLP.Concurrency,
			RateLimit:   cfg.NLP.RateLimit,
		}
		runner = nlp.NewRunner(nlp.NewClient(clientCfg, nil, nlpLog), clientCfg, nlpLog)
	}

	pipe := bulk.NewPipeline(rules, merger, mapper, runner, &bulk.Config{
		TextColumn: *textColumn,
		BatchSize:  *batchSize,
		DryRun:     *dryRun,
	}, log.WithComponent("bulk").Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := pipe.ProcessFile(ctx, *inputPath, *outputPath)
	if err != nil {
		log.Fatal("Bulk anonymization failed", zap.Error(err))
	}

	if *showStats {
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("Processed %d records (%d replacements, %d failed) in %s\n",
		stats.Processed, stats.Replaced, stats.Failed, stats.Duration)
}

func usage() {
	fmt.Fprintf(os.Stderr, `bulkmask - dataset anonymization

Usage:
  bulkmask -input <data.csv> -output <out.csv> [options]

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  bulkmask -input leads.csv -output leads.anon.csv -text-column comment
  bulkmask -input events.jsonl -output events.anon.jsonl
  bulkmask -input corpus.parquet -output corpus.anon.csv -stats
  bulkmask -input leads.csv -dry-run -stats
`)
}
