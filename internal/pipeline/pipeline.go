// Package pipeline wires the anonymization stages end to end: parse,
// flatten, detect, merge, apply, save, report. One Anonymizer serves many
// documents; the surrogate cache it owns is the only state shared between
// runs.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/applier"
	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/config"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/docx"
	"github.com/docmask/docmask/internal/logger"
	"github.com/docmask/docmask/internal/nlp"
	"github.com/docmask/docmask/internal/patterns"
	"github.com/docmask/docmask/internal/registry"
	"github.com/docmask/docmask/internal/report"
	"github.com/docmask/docmask/internal/surrogate"
)

// Result summarises one document run.
type Result struct {
	InputPath  string
	OutputPath string
	ReportPath string
	LedgerPath string

	Blocks     int
	Detections int
	Plans      int
	Applied    int
	Skipped    int
	Swept      int

	Categories map[string]int
	Warnings   []report.Warning
	Elapsed    time.Duration
}

// Anonymizer is the assembled pipeline.
type Anonymizer struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *patterns.Store
	mapper *surrogate.Mapper
	rules  *detect.RuleDetector
	merger *detect.Merger

	nlpRunner *nlp.Runner
	nlpCache  *nlp.DetectionCache
	registry  *registry.Store
}

// New constructs the pipeline from configuration. Optional collaborators
// (recogniser, detection cache, registry) are wired only when configured.
func New(cfg *config.Config, log *logger.Logger) (*Anonymizer, error) {
	store, err := patterns.NewStore(cfg.Patterns.Path, log.WithComponent("patterns").Logger)
	if err != nil {
		return nil, err
	}

	a := &Anonymizer{
		cfg:    cfg,
		log:    log,
		store:  store,
		mapper: surrogate.NewMapper(),
		rules:  detect.NewRuleDetector(store, log.WithComponent("rules").Logger),
		merger: detect.NewMerger(log.WithComponent("merge").Logger),
	}

	if cfg.NLP.Enabled() {
		nlpLog := log.WithComponent("nlp").Logger

		var cache *nlp.DetectionCache
		if cfg.NLP.Cache.Enabled {
			cache, err = nlp.NewDetectionCache(&nlp.CacheConfig{
				RedisURL: cfg.NLP.Cache.RedisURL,
				TTL:      cfg.NLP.Cache.TTL,
			}, nlpLog)
			if err != nil {
				// The cache is an accelerator, not a dependency.
				nlpLog.Warn("detection cache unavailable, continuing without it", zap.Error(err))
				cache = nil
			}
		}

		clientCfg := nlp.Config{
			Endpoint:    cfg.NLP.Endpoint,
			Timeout:     cfg.NLP.Timeout(),
			Concurrency: cfg.NLP.Concurrency,
			RateLimit:   cfg.NLP.RateLimit,
		}
		client := nlp.NewClient(clientCfg, cache, nlpLog)
		a.nlpRunner = nlp.NewRunner(client, clientCfg, nlpLog)
		a.nlpCache = cache
	}

	if cfg.Registry.DatabaseURL != "" {
		reg, err := registry.NewStore(&registry.Config{
			DatabaseURL:     cfg.Registry.DatabaseURL,
			MaxOpenConns:    cfg.Registry.MaxOpenConns,
			MaxIdleConns:    cfg.Registry.MaxIdleConns,
			ConnMaxLifetime: cfg.Registry.ConnMaxLifetime,
		}, log.WithComponent("registry").Logger)
		if err != nil {
			return nil, err
		}
		a.registry = reg
	}

	return a, nil
}

// Mapper exposes the surrogate cache, mainly for the reverse pass and tests.
func (a *Anonymizer) Mapper() *surrogate.Mapper {
	return a.mapper
}

// Patterns exposes the rule store for catalogue watching.
func (a *Anonymizer) Patterns() *patterns.Store {
	return a.store
}

// Close releases optional collaborators.
func (a *Anonymizer) Close() error {
	if a.nlpCache != nil {
		if err := a.nlpCache.Close(); err != nil {
			return err
		}
	}
	if a.registry != nil {
		return a.registry.Close()
	}
	return nil
}

// Run anonymizes one document. The source file is never modified; output
// goes to outputPath and reports next to it (or to the configured report
// directory).
func (a *Anonymizer) Run(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	start := time.Now()
	log := a.log.WithComponent("pipeline").WithDocument(inputPath)

	result := &Result{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Categories: make(map[string]int),
	}

	doc, err := docx.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blks := blocks.NewBuilder(log.Logger).Build(doc)
	result.Blocks = len(blks)
	log.Info("document flattened", zap.Int("blocks", len(blks)))

	detections := a.rules.DetectAll(blks)

	if a.nlpRunner != nil {
		nlpDetections, failures := a.nlpRunner.DetectAll(ctx, blks)
		detections = append(detections, nlpDetections...)
		for _, f := range failures {
			result.Warnings = append(result.Warnings, report.Warning{
				Stage:   "nlp",
				BlockID: f.BlockID,
				Reason:  "recogniser call failed",
				Detail:  fmt.Sprintf("endpoint %s: %v", a.cfg.NLP.Endpoint, f.Err),
			})
		}
		if n := len(failures); n > 0 {
			result.Warnings = append(result.Warnings, report.Warning{
				Stage:  "nlp",
				Reason: "blocks analysed without the recogniser",
				Detail: fmt.Sprintf("endpoint %s unavailable for %d block(s)", a.cfg.NLP.Endpoint, n),
			})
		}
	}
	result.Detections = len(detections)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := a.merger.Merge(blks, detections)
	plans := detect.BuildPlans(blks, merged, a.mapper)
	result.Plans = len(plans)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	app := applier.New(doc, applier.Config{Highlight: a.cfg.Apply.HighlightReplacements}, log.Logger)
	app.Apply(plans)
	app.SweepHeadersFooters(plans)

	applied := app.Applied()
	result.Applied = len(applied)
	result.Skipped = len(app.Skips())
	result.Swept = app.SweepCount()
	for _, p := range applied {
		result.Categories[p.Category]++
	}
	for _, s := range app.Skips() {
		result.Warnings = append(result.Warnings, report.Warning{
			Stage:   "apply",
			BlockID: s.BlockID,
			Reason:  s.Reason,
			Detail:  fmt.Sprintf("value %q", s.Value),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := doc.Save(outputPath); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	if err := a.writeReports(applied, result); err != nil {
		return nil, err
	}

	if a.registry != nil {
		if _, err := a.registry.SaveBindings(ctx, a.mapper.Bindings()); err != nil {
			log.Warn("could not persist surrogate bindings", zap.Error(err))
			result.Warnings = append(result.Warnings, report.Warning{
				Stage:  "registry",
				Reason: "bindings not persisted",
				Detail: err.Error(),
			})
		}
	}

	result.Elapsed = time.Since(start)
	log.Info("run complete",
		zap.Int("blocks", result.Blocks),
		zap.Int("plans", result.Plans),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Int("swept", result.Swept),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (a *Anonymizer) writeReports(applied []detect.Plan, result *Result) error {
	dir := a.cfg.Report.Dir
	if dir == "" {
		dir = filepath.Dir(result.OutputPath)
	}

	if a.cfg.Report.GenerateExcelReport {
		path := filepath.Join(dir, "report.xlsx")
		if err := report.WriteExcel(path, report.BuildRows(applied)); err != nil {
			return fmt.Errorf("write summary report: %w", err)
		}
		result.ReportPath = path
	}

	if a.cfg.Report.GenerateJSONLedger {
		path := filepath.Join(dir, "ledger.json")
		ledger := report.BuildLedger(applied, result.Warnings, time.Now())
		if err := report.WriteJSON(path, ledger); err != nil {
			return fmt.Errorf("write change ledger: %w", err)
		}
		result.LedgerPath = path
	}
	return nil
}
