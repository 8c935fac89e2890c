package docx_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/docmask/docmask/internal/docx"
	"github.com/docmask/docmask/internal/docx/docxtest"
)

func TestOpenParsesStructure(t *testing.T) {
	doc := docxtest.New().
		Paragraph("Первый", " абзац").
		Table([][]string{{"a", "b"}}).
		HeaderParagraph("Шапка").
		HeaderSDT("ЕИСУФХД").
		FooterParagraph("Подвал").
		Open(t)

	if got := len(doc.BodyParagraphRefs()); got != 1 {
		t.Errorf("body paragraphs = %d, want 1", got)
	}
	if got := len(doc.BodyTableRefs()); got != 1 {
		t.Errorf("body tables = %d, want 1", got)
	}

	sections := doc.Sections()
	if len(sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(sections))
	}
	sec := sections[0]
	if sec.Header == nil || len(sec.Header.Paragraphs) != 1 || len(sec.Header.SDTs) != 1 {
		t.Fatalf("header part = %+v", sec.Header)
	}
	if sec.Footer == nil || len(sec.Footer.Paragraphs) != 1 {
		t.Fatalf("footer part = %+v", sec.Footer)
	}

	p, ok := doc.Paragraph(doc.BodyParagraphRefs()[0])
	if !ok {
		t.Fatal("paragraph ref does not resolve")
	}
	if p.Text() != "Первый абзац" {
		t.Errorf("paragraph text = %q", p.Text())
	}
	if len(p.Runs()) != 2 {
		t.Errorf("runs = %d, want 2", len(p.Runs()))
	}

	s, ok := doc.SDT(sec.Header.SDTs[0])
	if !ok {
		t.Fatal("sdt ref does not resolve")
	}
	if s.Text() != "ЕИСУФХД" {
		t.Errorf("sdt text = %q", s.Text())
	}
}

func TestOpenCorruptArchive(t *testing.T) {
	if _, err := docx.OpenReader(bytes.NewReader([]byte("not a zip")), 9); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}

func TestOpenMissingDocumentPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, _ := zw.Create("word/other.xml")
	fw.Write([]byte("<x/>"))
	zw.Close()

	_, err := docx.OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err == nil {
		t.Fatal("expected error for missing document part")
	}
	var pe *docx.PartError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a PartError", err)
	}
	if pe.Part != "word/document.xml" {
		t.Errorf("failing part = %s", pe.Part)
	}
}

func TestSavePreservesParts(t *testing.T) {
	fixture := docxtest.New().
		Paragraph("текст").
		AddPart("word/styles.xml", `<?xml version="1.0"?><w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"/>`).
		AddPart("word/media/image1.png", "\x89PNG fake")

	doc := fixture.Open(t)
	outPath := filepath.Join(t.TempDir(), "out.docx")
	if err := doc.Save(outPath); err != nil {
		t.Fatalf("save: %v", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("reopen output: %v", err)
	}
	defer zr.Close()

	var got []string
	for _, f := range zr.File {
		got = append(got, f.Name)
	}
	want := doc.PartNames()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("part sets differ: got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("part sets differ: got %v, want %v", got, want)
		}
	}

	// Unparsed parts survive byte for byte.
	for _, f := range zr.File {
		if f.Name != "word/media/image1.png" {
			continue
		}
		rc, _ := f.Open()
		data := make([]byte, f.UncompressedSize64)
		rc.Read(data)
		rc.Close()
		if string(data) != "\x89PNG fake" {
			t.Error("binary part changed on save")
		}
	}
}

func TestSaveFailureLeavesNoFile(t *testing.T) {
	doc := docxtest.New().Paragraph("текст").Open(t)

	dir := t.TempDir()
	missing := filepath.Join(dir, "absent", "out.docx")
	if err := doc.Save(missing); err == nil {
		t.Fatal("expected save failure")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestRunSetTextRoundTrip(t *testing.T) {
	doc := docxtest.New().Paragraph("было").Open(t)
	p, _ := doc.Paragraph(doc.BodyParagraphRefs()[0])
	run := p.Runs()[0]

	run.SetText("стало\tи ещё\nстрока")
	if got := run.Text(); got != "стало\tи ещё\nстрока" {
		t.Errorf("round trip = %q", got)
	}

	run.SetText(" с пробелами ")
	if got := run.Text(); got != " с пробелами " {
		t.Errorf("whitespace round trip = %q", got)
	}
}

func TestRunHighlight(t *testing.T) {
	doc := docxtest.New().Paragraph("текст").Open(t)
	p, _ := doc.Paragraph(doc.BodyParagraphRefs()[0])
	run := p.Runs()[0]

	if run.Highlight() != "" {
		t.Fatalf("unexpected initial highlight %q", run.Highlight())
	}
	run.SetHighlight(docx.HighlightYellow)
	if run.Highlight() != docx.HighlightYellow {
		t.Errorf("highlight = %q", run.Highlight())
	}

	// Setting twice keeps a single w:highlight element.
	run.SetHighlight(docx.HighlightYellow)
	if n := len(run.Element().SelectElement("w:rPr").SelectElements("w:highlight")); n != 1 {
		t.Errorf("highlight elements = %d, want 1", n)
	}
}
