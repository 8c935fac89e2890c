// Package bulk applies the detection and surrogate stack to flat datasets:
// one text column of a CSV, JSON-lines or Parquet file is anonymized record
// by record, without a document model. Replacements happen at string level
// in descending span order, mirroring the document applier.
package bulk

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/nlp"
	"github.com/docmask/docmask/internal/surrogate"
)

// Pipeline anonymizes datasets with the same rule set and surrogate cache
// as the document pipeline.
type Pipeline struct {
	rules  *detect.RuleDetector
	merger *detect.Merger
	mapper *surrogate.Mapper
	runner *nlp.Runner // optional
	config *Config
	logger *zap.Logger
}

// NewPipeline creates a bulk pipeline. runner may be nil for rule-only
// anonymization.
func NewPipeline(rules *detect.RuleDetector, merger *detect.Merger, mapper *surrogate.Mapper, runner *nlp.Runner, config *Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	if config.TextColumn == "" {
		config.TextColumn = "text"
	}
	return &Pipeline{
		rules:  rules,
		merger: merger,
		mapper: mapper,
		runner: runner,
		config: config,
		logger: logger,
	}
}

// ProcessFile anonymizes a dataset file into outputPath. The output format
// follows the input, except parquet input which is written out as CSV.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	format := DetectFileFormat(inputPath)
	p.logger.Info("starting bulk anonymization",
		zap.String("file", inputPath),
		zap.String("format", string(format)),
		zap.String("text_column", p.config.TextColumn),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Bool("dry_run", p.config.DryRun))

	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, inputPath, outputPath, stats)
	case FormatParquet:
		err = p.processParquet(ctx, inputPath, outputPath, stats)
	case FormatJSON:
		err = p.processJSON(ctx, inputPath, outputPath, stats)
	default:
		err = fmt.Errorf("unsupported dataset format: %s", format)
	}
	if err != nil {
		os.Remove(outputPath)
		return stats, err
	}

	stats.Duration = time.Since(start)
	p.logger.Info("bulk anonymization completed",
		zap.Int64("processed", stats.Processed),
		zap.Int64("replaced", stats.Replaced),
		zap.Int64("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// anonymize runs detection and string-level substitution over one record's
// text, returning the rewritten text and the number of replacements.
func (p *Pipeline) anonymize(ctx context.Context, recordID, text string) (string, int) {
	normalized := blocks.Normalize(text)
	if normalized == "" {
		return text, 0
	}

	block := &blocks.Block{ID: recordID, Text: normalized, Kind: blocks.KindParagraph}
	detections := p.rules.Detect(block)
	if p.runner != nil {
		nlpDetections, _ := p.runner.DetectAll(ctx, []*blocks.Block{block})
		detections = append(detections, nlpDetections...)
	}
	if len(detections) == 0 {
		return text, 0
	}

	merged := p.merger.Merge([]*blocks.Block{block}, detections)

	// Right-to-left keeps pending spans valid, same as the document applier.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Span.Start > merged[j].Span.Start
	})

	// Replacement happens over the original text, so spans measured over
	// the normalised form are located by value.
	out := text
	replaced := 0
	for _, d := range merged {
		id := p.mapper.UUIDFor(d.Value, d.Category)
		if idx := strings.Index(out, d.Value); idx >= 0 {
			out = out[:idx] + id + out[idx+len(d.Value):]
			replaced++
		}
	}
	return out, replaced
}

func (p *Pipeline) processCSV(ctx context.Context, inputPath, outputPath string, stats *Stats) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}

	textCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), p.config.TextColumn) {
			textCol = i
			break
		}
	}
	if textCol == -1 {
		return fmt.Errorf("text column %q not found in csv header", p.config.TextColumn)
	}

	out, writer, err := p.openCSVWriter(outputPath, header)
	if err != nil {
		return err
	}
	if out != nil {
		defer out.Close()
	}

	err = processBatches(ctx, p, stats, func() ([][]string, error) {
		var batch [][]string
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("skipping unreadable csv record", zap.Error(err))
				stats.Failed++
				continue
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, func(record []string) error {
		if textCol < len(record) {
			rewritten, n := p.anonymize(ctx, fmt.Sprintf("record_%d", stats.Processed), record[textCol])
			record[textCol] = rewritten
			stats.Replaced += int64(n)
		}
		if writer != nil {
			return writer.Write(record)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if writer != nil {
		writer.Flush()
		return writer.Error()
	}
	return nil
}

// openCSVWriter creates the output file and writes the header. In dry-run
// mode both results are nil and nothing is written.
func (p *Pipeline) openCSVWriter(outputPath string, header []string) (*os.File, *csv.Writer, error) {
	if p.config.DryRun {
		return nil, nil, nil
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create output dataset: %w", err)
	}
	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		out.Close()
		return nil, nil, fmt.Errorf("write csv header: %w", err)
	}
	return out, writer, nil
}

func (p *Pipeline) processJSON(ctx context.Context, inputPath, outputPath string, stats *Stats) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer in.Close()

	decoder := json.NewDecoder(in)

	// The dataset is either a stream of objects (json-lines) or one
	// top-level array; peek the first token to tell them apart. Array
	// input is unwrapped and written back as json-lines.
	array := false
	tok, err := decoder.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read json dataset: %w", err)
	}
	if d, ok := tok.(json.Delim); ok && d == '[' {
		array = true
	} else {
		if _, err := in.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind json dataset: %w", err)
		}
		decoder = json.NewDecoder(in)
	}

	var encoder *json.Encoder
	if !p.config.DryRun {
		out, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output dataset: %w", err)
		}
		defer out.Close()
		encoder = json.NewEncoder(out)
		encoder.SetEscapeHTML(false)
	}

	return processBatches(ctx, p, stats, func() ([]map[string]interface{}, error) {
		var batch []map[string]interface{}
		for len(batch) < p.config.BatchSize {
			if array && !decoder.More() {
				break
			}
			var record map[string]interface{}
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("read json record: %w", err)
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, func(record map[string]interface{}) error {
		if text, ok := record[p.config.TextColumn].(string); ok {
			rewritten, n := p.anonymize(ctx, fmt.Sprintf("record_%d", stats.Processed), text)
			record[p.config.TextColumn] = rewritten
			stats.Replaced += int64(n)
		}
		if encoder != nil {
			return encoder.Encode(record)
		}
		return nil
	})
}

// processParquet reads the dataset's "text" column; parquet schemas bind
// the column name at compile time, so the configured column is ignored
// there. Output is written as CSV.
func (p *Pipeline) processParquet(ctx context.Context, inputPath, outputPath string, stats *Stats) error {
	if p.config.TextColumn != "text" {
		p.logger.Warn("parquet input always reads the \"text\" column",
			zap.String("configured", p.config.TextColumn))
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer in.Close()

	reader := parquet.NewReader(in)
	defer reader.Close()

	out, writer, err := p.openCSVWriter(outputPath, []string{"text"})
	if err != nil {
		return err
	}
	if out != nil {
		defer out.Close()
	}

	err = processBatches(ctx, p, stats, func() ([]parquetRecord, error) {
		var batch []parquetRecord
		for len(batch) < p.config.BatchSize {
			var record parquetRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("skipping unreadable parquet record", zap.Error(err))
				stats.Failed++
				continue
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, func(record parquetRecord) error {
		rewritten, n := p.anonymize(ctx, fmt.Sprintf("record_%d", stats.Processed), record.Text)
		stats.Replaced += int64(n)
		if writer != nil {
			return writer.Write([]string{rewritten})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if writer != nil {
		writer.Flush()
		return writer.Error()
	}
	return nil
}

// processBatches drives the read-process loop with cancellation checks
// between batches and periodic progress reports.
func processBatches[T any](ctx context.Context, p *Pipeline, stats *Stats, readBatch func() ([]T, error), handle func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, record := range batch {
			if err := handle(record); err != nil {
				p.logger.Warn("record failed", zap.Error(err))
				stats.Failed++
				continue
			}
			stats.Processed++
			if stats.Processed%int64(p.config.ProgressReport) == 0 {
				p.logger.Info("progress",
					zap.Int64("processed", stats.Processed),
					zap.Int64("replaced", stats.Replaced))
			}
		}
	}
}
