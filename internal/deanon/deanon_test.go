package deanon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/docx/docxtest"
)

const (
	idName = "1f1e94f0-8a52-5c7e-9d25-8b1a0b6c42aa"
	idINN  = "7c0f61d2-33ab-5b01-8e44-5d2f9a77c3be"
)

func TestRestoreRoundTrip(t *testing.T) {
	doc := docxtest.New().
		Paragraph("Договор подписал ", idName, " лично").
		Table([][]string{{"ИНН", idINN}}).
		HeaderParagraph("Шапка: " + idName).
		FooterSDT(idINN).
		Open(t)

	bindings := map[string]string{
		idName: "Иванов И. И.",
		idINN:  "7701234567",
	}

	stats := New(bindings, zap.NewNop()).Restore(doc)
	if stats.Found != 4 || stats.Restored != 4 || stats.Unknown != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	p, _ := doc.Paragraph(doc.BodyParagraphRefs()[0])
	if got := p.Text(); got != "Договор подписал Иванов И. И. лично" {
		t.Errorf("paragraph = %q", got)
	}

	tbl, _ := doc.Table(doc.BodyTableRefs()[0])
	cellText := tbl.Rows()[0].Cells()[1].Paragraphs()[0].Text()
	if cellText != "7701234567" {
		t.Errorf("cell = %q", cellText)
	}

	sec := doc.Sections()[0]
	hp, _ := doc.Paragraph(sec.Header.Paragraphs[0])
	if got := hp.Text(); got != "Шапка: Иванов И. И." {
		t.Errorf("header = %q", got)
	}
	sdt, _ := doc.SDT(sec.Footer.SDTs[0])
	if got := sdt.Text(); got != "7701234567" {
		t.Errorf("footer sdt = %q", got)
	}
}

func TestRestoreUnknownSurrogateStays(t *testing.T) {
	doc := docxtest.New().Paragraph("значение " + idName).Open(t)

	stats := New(map[string]string{idINN: "7701234567"}, zap.NewNop()).Restore(doc)
	if stats.Found != 1 || stats.Restored != 0 || stats.Unknown != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	p, _ := doc.Paragraph(doc.BodyParagraphRefs()[0])
	if !strings.Contains(p.Text(), idName) {
		t.Errorf("unknown surrogate removed: %q", p.Text())
	}
}

func TestRestoreCaseInsensitive(t *testing.T) {
	doc := docxtest.New().Paragraph(strings.ToUpper(idName)).Open(t)

	stats := New(map[string]string{idName: "Иванов"}, zap.NewNop()).Restore(doc)
	if stats.Restored != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLoadMappingFileCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	content := "uuid,original_value,category\n" +
		idName + ",Иванов И. И.,person_name\n" +
		idINN + ",7701234567,inn\n" +
		"not-a-uuid,мусор,x\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMappingFile(path, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadMappingFile: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("got %d bindings, want 2 (invalid uuid skipped)", len(m))
	}
	if m[idName] != "Иванов И. И." {
		t.Errorf("binding = %q", m[idName])
	}
}

func TestLoadMappingFileRussianHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	content := "идентификатор,оригинал\n" + idName + ",Иванов\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMappingFile(path, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadMappingFile: %v", err)
	}
	if m[idName] != "Иванов" {
		t.Errorf("bindings = %v", m)
	}
}

func TestLoadMappingFileMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMappingFile(path, zap.NewNop()); err == nil {
		t.Fatal("expected error for unrecognised header")
	}
}

func TestLoadLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	content := `{
  "version": "1.0",
  "replacements": [
    {"original_value": "Иванов И. И.", "uuid": "` + idName + `", "category": "person_name"},
    {"original_value": "7701234567", "uuid": "` + idINN + `", "category": "inn"}
  ]
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadLedger(path)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if len(m) != 2 || m[idINN] != "7701234567" {
		t.Errorf("bindings = %v", m)
	}
}
