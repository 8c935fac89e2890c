package deanon

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Header spellings accepted in mapping files. Catalogues produced by hand
// come in both languages.
var (
	uuidHeaders     = []string{"uuid", "surrogate", "ууид", "идентификатор"}
	originalHeaders = []string{"original", "original_value", "value", "text", "оригинал", "текст", "значение"}
)

// LoadMappingFile reads a surrogate → original map from a two-column table
// (.xlsx or .csv). Column positions are found by header; extra columns are
// ignored.
func LoadMappingFile(path string, logger *zap.Logger) (map[string]string, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	default:
		rows, err = readExcel(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("load mapping file %s: empty table", path)
	}

	uuidCol, origCol := -1, -1
	for i, name := range rows[0] {
		n := strings.ToLower(strings.TrimSpace(name))
		if uuidCol == -1 && contains(uuidHeaders, n) {
			uuidCol = i
		}
		if origCol == -1 && contains(originalHeaders, n) {
			origCol = i
		}
	}
	if uuidCol == -1 || origCol == -1 {
		return nil, fmt.Errorf("load mapping file %s: uuid/original columns not found in header", path)
	}

	out := make(map[string]string)
	for n, row := range rows[1:] {
		if uuidCol >= len(row) || origCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[uuidCol])
		original := row[origCol]
		if id == "" || !uuidPattern.MatchString(id) {
			logger.Warn("skipping mapping row without a valid uuid", zap.Int("row", n+2))
			continue
		}
		out[id] = original
	}
	return out, nil
}

// LoadLedger reads the surrogate → original map out of a ledger.json
// written by the report builder.
func LoadLedger(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var ledger struct {
		Replacements []struct {
			Value string `json:"original_value"`
			UUID  string `json:"uuid"`
		} `json:"replacements"`
	}
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}

	out := make(map[string]string, len(ledger.Replacements))
	for _, r := range ledger.Replacements {
		if r.UUID != "" {
			out[r.UUID] = r.Value
		}
	}
	return out, nil
}

func readExcel(path string) ([][]string, error) {
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

func readCSV(path string) ([][]string, error) {
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

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
