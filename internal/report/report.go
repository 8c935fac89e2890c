// Package report renders the run's artefacts: a tabular replacement
// summary (xlsx) and a structured change ledger (JSON). The summary lists
// every applied occurrence; the ledger deduplicates by value and category.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docmask/docmask/internal/detect"
)

// LedgerVersion identifies the ledger schema.
const LedgerVersion = "1.0"

// SummarySheet is the name of the summary worksheet.
const SummarySheet = "Замены"

// Row is one line of the tabular summary. The same value may appear in
// several rows when it was detected more than once.
type Row struct {
	Index      int
	Value      string
	UUID       string
	Category   string
	Method     string
	Confidence float64
}

// Warning is one soft failure surfaced to the ledger.
type Warning struct {
	Stage   string `json:"stage"`
	BlockID string `json:"block_id,omitempty"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// Entry is one deduplicated ledger replacement.
type Entry struct {
	Value      string  `json:"original_value"`
	UUID       string  `json:"uuid"`
	Category   string  `json:"category"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Ledger is the change ledger written as ledger.json.
type Ledger struct {
	Version           string         `json:"version"`
	Timestamp         string         `json:"timestamp"`
	TotalReplacements int            `json:"total_replacements"`
	Counts            map[string]int `json:"counts_by_category"`
	Replacements      []Entry        `json:"replacements"`
	Warnings          []Warning      `json:"warnings,omitempty"`
}

// BuildRows turns applied plans into summary rows, keeping their order
// (block traversal, then span within a block).
func BuildRows(applied []detect.Plan) []Row {
	rows := make([]Row, 0, len(applied))
	for i, p := range applied {
		rows = append(rows, Row{
			Index:      i + 1,
			Value:      p.Value,
			UUID:       p.UUID,
			Category:   p.Category,
			Method:     p.Method,
			Confidence: p.Confidence,
		})
	}
	return rows
}

// BuildLedger aggregates applied plans into the deduplicated ledger. The
// first occurrence of a (value, category) pair decides the recorded method
// and source; the total still counts every occurrence.
func BuildLedger(applied []detect.Plan, warnings []Warning, now time.Time) Ledger {
	type key struct{ value, category string }

	counts := make(map[string]int)
	seen := make(map[key]bool)
	var entries []Entry

	for _, p := range applied {
		counts[p.Category]++
		k := key{value: p.Value, category: p.Category}
		if seen[k] {
			continue
		}
		seen[k] = true
		entries = append(entries, Entry{
			Value:      p.Value,
			UUID:       p.UUID,
			Category:   p.Category,
			Method:     p.Method,
			Confidence: p.Confidence,
			Source:     string(p.Source),
		})
	}

	return Ledger{
		Version:           LedgerVersion,
		Timestamp:         now.UTC().Format(time.RFC3339),
		TotalReplacements: len(applied),
		Counts:            counts,
		Replacements:      entries,
		Warnings:          warnings,
	}
}

// WriteExcel writes the summary workbook. A failed write leaves no partial
// file behind.
func WriteExcel(path string, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet, err := f.NewSheet(SummarySheet)
	if err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	// The workbook is created with a default sheet; the summary replaces it.
	if name := f.GetSheetName(0); name != SummarySheet {
		_ = f.DeleteSheet(name)
	}

	header := []interface{}{"index", "original_value", "uuid", "category", "method", "confidence"}
	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("address summary row %d: %w", i+2, err)
		}
		row := []interface{}{r.Index, r.Value, r.UUID, r.Category, r.Method, r.Confidence}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		os.Remove(path)
		return fmt.Errorf("write summary workbook: %w", err)
	}
	return nil
}

// WriteJSON writes the ledger with stable ordering and readable encoding.
func WriteJSON(path string, ledger Ledger) error {
	// Deterministic entry order for diffable ledgers.
	sort.SliceStable(ledger.Replacements, func(i, j int) bool {
		if ledger.Replacements[i].Category != ledger.Replacements[j].Category {
			return ledger.Replacements[i].Category < ledger.Replacements[j].Category
		}
		return ledger.Replacements[i].Value < ledger.Replacements[j].Value
	})

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ledger file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ledger); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close ledger file: %w", err)
	}
	return nil
}
