// Package patterns loads the regular-expression rule catalogue used for
// deterministic detection. The catalogue is a tabular file (xlsx or csv)
// with category, pattern, confidence and description columns.
package patterns

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DefaultConfidence is assigned to rows without a parseable confidence.
const DefaultConfidence = 0.5

// Rule is one compiled catalogue entry.
type Rule struct {
	Category    string
	Pattern     *regexp.Regexp
	Confidence  float64
	Description string
}

// Store holds the compiled rule set. Rules are loaded once and read-only;
// Watch swaps the whole slice atomically on catalogue edits.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewStore loads the catalogue at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rules returns the current rule set. The returned slice must not be
// modified.
func (s *Store) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Len returns the number of loaded rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Reload re-reads the catalogue file and swaps the rule set. On failure the
// previous rules stay in place.
func (s *Store) Reload() error {
	rows, err := s.readRows()
	if err != nil {
		return fmt.Errorf("load pattern catalogue %s: %w", s.path, err)
	}

	rules := s.compile(rows)

	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()

	s.logger.Info("pattern catalogue loaded",
		zap.String("path", s.path),
		zap.Int("rules", len(rules)))
	return nil
}

// readRows reads the raw table. Extension picks the reader; files with an
// xlsx extension that fail to open are retried as csv, mirroring catalogues
// that were renamed without conversion.
func (s *Store) readRows() ([][]string, error) {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".csv":
		return readCSVRows(s.path)
	default:
		rows, err := readExcelRows(s.path)
		if err == nil {
			return rows, nil
		}
		s.logger.Warn("catalogue is not valid xlsx, retrying as csv",
			zap.String("path", s.path), zap.Error(err))
		return readCSVRows(s.path)
	}
}

func readExcelRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheet)
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// compile turns raw rows into rules. The first row is the header; matching
// is case-insensitive and unknown columns are ignored. Rows with an empty
// pattern are skipped silently, rows that fail to compile are skipped with
// a warning naming the row.
func (s *Store) compile(rows [][]string) []Rule {
	if len(rows) == 0 {
		return nil
	}

	cols := map[string]int{}
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rules []Rule
	for n, row := range rows[1:] {
		pattern := field(row, "pattern")
		if pattern == "" {
			continue
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			s.logger.Warn("skipping rule with invalid pattern",
				zap.Int("row", n+2),
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}

		category := strings.ToLower(field(row, "category"))
		if category == "" {
			category = "unknown"
		}

		confidence := DefaultConfidence
		if raw := field(row, "confidence"); raw != "" {
			if v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil {
				confidence = v
			} else {
				s.logger.Warn("rule has invalid confidence, using default",
					zap.Int("row", n+2),
					zap.String("confidence", raw))
			}
		}

		rules = append(rules, Rule{
			Category:    category,
			Pattern:     re,
			Confidence:  confidence,
			Description: field(row, "description"),
		})
	}
	return rules
}

// Watch reloads the catalogue whenever the file is rewritten. It blocks
// until the context is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalogue watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename, which drops
	// a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch catalogue directory: %w", err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("catalogue reload failed, keeping previous rules", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("catalogue watcher error", zap.Error(err))
		}
	}
}
