package bulk

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/patterns"
	"github.com/docmask/docmask/internal/surrogate"
)

var uuidShape = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-5[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}`)

func newTestPipeline(t *testing.T, cfg *Config) *Pipeline {
	t.Helper()

	catalogue := filepath.Join(t.TempDir(), "patterns.csv")
	content := "category,pattern,confidence,description\n" +
		"inn,\\d{10},0.8,ИНН\n" +
		"information_system,ЕИСУФХД,0.9,система\n"
	if err := os.WriteFile(catalogue, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := patterns.NewStore(catalogue, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return NewPipeline(
		detect.NewRuleDetector(store, zap.NewNop()),
		detect.NewMerger(zap.NewNop()),
		surrogate.NewMapper(),
		nil,
		cfg,
		zap.NewNop(),
	)
}

func TestProcessCSV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")

	content := "id,text\n" +
		"1,ИНН 7701234567 зарегистрирован\n" +
		"2,без сущностей\n" +
		"3,выгрузка из ЕИСУФХД\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{})
	stats, err := p.ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if stats.Processed != 3 || stats.Replaced != 2 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("output rows = %d, want header + 3", len(rows))
	}
	if rows[0][1] != "text" {
		t.Errorf("header = %v", rows[0])
	}
	if strings.Contains(rows[1][1], "7701234567") || !uuidShape.MatchString(rows[1][1]) {
		t.Errorf("row 1 text = %q", rows[1][1])
	}
	// Untouched records pass through verbatim, other columns always do.
	if rows[2][1] != "без сущностей" || rows[2][0] != "2" {
		t.Errorf("row 2 = %v", rows[2])
	}
	if strings.Contains(rows[3][1], "ЕИСУФХД") {
		t.Errorf("row 3 text = %q", rows[3][1])
	}
}

func TestProcessCSVCustomColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")

	content := "text,comment\nне трогать,ИНН 7701234567\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{TextColumn: "comment"})
	stats, err := p.ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if stats.Replaced != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	f, _ := os.Open(out)
	defer f.Close()
	rows, _ := csv.NewReader(f).ReadAll()
	if rows[1][0] != "не трогать" {
		t.Errorf("wrong column rewritten: %v", rows[1])
	}
	if strings.Contains(rows[1][1], "7701234567") {
		t.Errorf("comment column not rewritten: %v", rows[1])
	}
}

func TestProcessCSVMissingColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(in, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{})
	if _, err := p.ProcessFile(context.Background(), in, filepath.Join(dir, "out.csv")); err == nil {
		t.Fatal("expected error for missing text column")
	}
}

func TestProcessJSONLines(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl")
	out := filepath.Join(dir, "out.jsonl")

	content := `{"id": 1, "text": "ИНН 7701234567"}` + "\n" +
		`{"id": 2, "text": "чистая запись"}` + "\n" +
		`{"id": 3, "note": "нет текстового поля"}` + "\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{})
	stats, err := p.ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if stats.Processed != 3 || stats.Replaced != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var records []map[string]interface{}
	for dec.More() {
		var r map[string]interface{}
		if err := dec.Decode(&r); err != nil {
			t.Fatal(err)
		}
		records = append(records, r)
	}
	if len(records) != 3 {
		t.Fatalf("output records = %d", len(records))
	}
	if text := records[0]["text"].(string); strings.Contains(text, "7701234567") || !uuidShape.MatchString(text) {
		t.Errorf("record 1 text = %q", text)
	}
	if records[1]["text"] != "чистая запись" {
		t.Errorf("record 2 = %v", records[1])
	}
	if _, ok := records[2]["note"]; !ok {
		t.Errorf("record 3 lost fields: %v", records[2])
	}
}

func TestProcessJSONArray(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	out := filepath.Join(dir, "out.json")

	content := `[
  {"id": 1, "text": "ИНН 7701234567"},
  {"id": 2, "text": "чистая запись"}
]`
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{})
	stats, err := p.ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if stats.Processed != 2 || stats.Replaced != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var records []map[string]interface{}
	for dec.More() {
		var r map[string]interface{}
		if err := dec.Decode(&r); err != nil {
			t.Fatal(err)
		}
		records = append(records, r)
	}
	if len(records) != 2 {
		t.Fatalf("output records = %d", len(records))
	}
	if text := records[0]["text"].(string); strings.Contains(text, "7701234567") {
		t.Errorf("record 1 text = %q", text)
	}
	if records[1]["text"] != "чистая запись" {
		t.Errorf("record 2 = %v", records[1])
	}
}

func TestProcessDryRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(in, []byte("text\nИНН 7701234567\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{DryRun: true})
	stats, err := p.ProcessFile(context.Background(), in, out)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if stats.Processed != 1 || stats.Replaced != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("dry run wrote an output file")
	}
}

func TestProcessSharedSurrogates(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(in, []byte("text\nИНН 7701234567\nснова 7701234567\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, &Config{})
	if _, err := p.ProcessFile(context.Background(), in, out); err != nil {
		t.Fatal(err)
	}

	f, _ := os.Open(out)
	defer f.Close()
	rows, _ := csv.NewReader(f).ReadAll()
	id1 := uuidShape.FindString(rows[1][0])
	id2 := uuidShape.FindString(rows[2][0])
	if id1 == "" || id1 != id2 {
		t.Errorf("same value got different surrogates: %q vs %q", id1, id2)
	}
}

func TestDetectFileFormat(t *testing.T) {
	cases := map[string]FileFormat{
		"data.csv":     FormatCSV,
		"data.parquet": FormatParquet,
		"data.json":    FormatJSON,
		"data.jsonl":   FormatJSON,
		"data.txt":     FormatCSV,
	}
	for name, want := range cases {
		if got := DetectFileFormat(name); got != want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", name, got, want)
		}
	}
}
