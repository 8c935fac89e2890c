package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/config"
	"github.com/docmask/docmask/internal/deanon"
	"github.com/docmask/docmask/internal/docx"
	"github.com/docmask/docmask/internal/logger"
	"github.com/docmask/docmask/internal/registry"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		inputPath    = flag.String("input", "", "Path to the anonymized .docx document")
		outputPath   = flag.String("output", "", "Path for the restored document")
		mappingPath  = flag.String("mapping", "", "Mapping file (.xlsx or .csv) with uuid and original columns")
		ledgerPath   = flag.String("ledger", "", "ledger.json written by docmask")
		fromRegistry = flag.Bool("from-registry", false, "Load bindings from the configured registry database")
		configPath   = flag.String("config", "", "Path to configuration file")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("docunmask %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *inputPath == "" || *outputPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -input and -output are required")
		usage()
		os.Exit(2)
	}

	sources := 0
	for _, set := range []bool{*mappingPath != "", *ledgerPath != "", *fromRegistry} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -mapping, -ledger or -from-registry must be given")
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

	bindings, err := loadBindings(cfg, log, *mappingPath, *ledgerPath, *fromRegistry)
	if err != nil {
		log.Fatal("Failed to load bindings", zap.Error(err))
	}
	log.Info("Bindings loaded", zap.Int("count", len(bindings)))

	doc, err := docx.Open(*inputPath)
	if err != nil {
		log.Fatal("Failed to open document", zap.Error(err))
	}

	stats := deanon.New(bindings, log.WithComponent("deanon").Logger).Restore(doc)

	if err := doc.Save(*outputPath); err != nil {
		log.Fatal("Failed to save restored document", zap.Error(err))
	}

	fmt.Printf("Restored %s -> %s\n", *inputPath, *outputPath)
	fmt.Printf("  surrogates found: %d, restored: %d, unknown: %d\n",
		stats.Found, stats.Restored, stats.Unknown)
}

func loadBindings(cfg *config.Config, log *logger.Logger, mappingPath, ledgerPath string, fromRegistry bool) (map[string]string, error) {
	switch {
	case mappingPath != "":
		return deanon.LoadMappingFile(mappingPath, log.Logger)
	case ledgerPath != "":
		return deanon.LoadLedger(ledgerPath)
	default:
		if cfg.Registry.DatabaseURL == "" {
			return nil, fmt.Errorf("-from-registry requires registry.database_url in the configuration")
		}
		store, err := registry.NewStore(&registry.Config{
			DatabaseURL:     cfg.Registry.DatabaseURL,
			MaxOpenConns:    cfg.Registry.MaxOpenConns,
			MaxIdleConns:    cfg.Registry.MaxIdleConns,
			ConnMaxLifetime: cfg.Registry.ConnMaxLifetime,
		}, log.WithComponent("registry").Logger)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return store.LoadAll(ctx)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `docunmask - restore originals in an anonymized document

Usage:
  docunmask -input <anon.docx> -output <restored.docx> (-mapping <file> | -ledger <file> | -from-registry)

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  docunmask -input clean.docx -output restored.docx -ledger ledger.json
  docunmask -input clean.docx -output restored.docx -mapping bindings.xlsx
  docunmask -input clean.docx -output restored.docx -from-registry -config configs/default.yaml
`)
}
