package applier_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/applier"
	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/docx"
	"github.com/docmask/docmask/internal/docx/docxtest"
	"github.com/docmask/docmask/internal/surrogate"
)

var mapper = surrogate.NewMapper()

// planFor builds the plan the detection layer would produce for a literal
// found in a block's text.
func planFor(t *testing.T, b *blocks.Block, value, category string) detect.Plan {
	t.Helper()
	start := strings.Index(b.Text, value)
	if start < 0 {
		t.Fatalf("%q not in block text %q", value, b.Text)
	}
	runeStart := utf8.RuneCountInString(b.Text[:start])
	return detect.Plan{
		Detection: detect.Detection{
			BlockID:    b.ID,
			Category:   category,
			Value:      value,
			Span:       detect.Span{Start: runeStart, End: runeStart + utf8.RuneCountInString(value)},
			Confidence: 0.9,
			Source:     detect.SourceRule,
			Method:     detect.MethodRegex,
		},
		UUID: mapper.UUIDFor(value, category),
		Ref:  b.Ref,
		Kind: b.Kind,
	}
}

func buildBlocks(t *testing.T, doc *docx.Document) []*blocks.Block {
	t.Helper()
	return blocks.NewBuilder(zap.NewNop()).Build(doc)
}

func TestSingleRunParagraph(t *testing.T) {
	doc := docxtest.New().Paragraph("Иванов И. И. подписал").Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "Иванов И. И.", "person_name")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	if len(a.Applied()) != 1 || len(a.Skips()) != 0 {
		t.Fatalf("applied %d, skipped %d", len(a.Applied()), len(a.Skips()))
	}

	p, _ := doc.Paragraph(blks[0].Ref)
	want := plan.UUID + " подписал"
	if got := p.Text(); got != want {
		t.Errorf("paragraph text = %q, want %q", got, want)
	}

	runs := p.Runs()
	if runs[0].Highlight() != docx.HighlightYellow {
		t.Error("rewritten run is not highlighted")
	}
}

func TestMultiRunSplice(t *testing.T) {
	doc := docxtest.New().Paragraph("Мини", "стерство ", "связи").Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "Министерство связи", "organization")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	if len(a.Skips()) != 0 {
		t.Fatalf("skips: %+v", a.Skips())
	}

	p, _ := doc.Paragraph(blks[0].Ref)
	if got := p.Text(); got != plan.UUID {
		t.Errorf("paragraph text = %q, want the surrogate only", got)
	}

	runs := p.Runs()
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3 (no runs removed)", len(runs))
	}
	if runs[0].Text() != plan.UUID {
		t.Errorf("first run = %q, want the surrogate", runs[0].Text())
	}
	if runs[1].Text() != "" || runs[2].Text() != "" {
		t.Errorf("later runs keep text: %q / %q", runs[1].Text(), runs[2].Text())
	}
	if runs[0].Highlight() != docx.HighlightYellow {
		t.Error("first run not highlighted")
	}
	if runs[1].Highlight() != "" {
		t.Error("emptied run gained a highlight")
	}
}

func TestMultiRunPartialOverlap(t *testing.T) {
	doc := docxtest.New().Paragraph("До Мини", "стерство после").Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "Министерство", "organization")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	p, _ := doc.Paragraph(blks[0].Ref)
	want := "До " + plan.UUID + " после"
	if got := p.Text(); got != want {
		t.Errorf("paragraph text = %q, want %q", got, want)
	}
}

func TestTableCellReplacement(t *testing.T) {
	doc := docxtest.New().
		Table([][]string{{"ИНН", "7701234567"}, {"КПП", "770101001"}}).
		Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "7701234567", "inn")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	if len(a.Skips()) != 0 {
		t.Fatalf("skips: %+v", a.Skips())
	}

	tbl, _ := doc.Table(blks[0].Ref)
	rows := tbl.Rows()
	cellText := func(r, c int) string {
		return blocks.CellText(rows[r].Cells()[c])
	}

	if got := cellText(0, 1); got != plan.UUID {
		t.Errorf("cell (0,1) = %q, want the surrogate", got)
	}
	if got := cellText(1, 1); got != "770101001" {
		t.Errorf("cell (1,1) changed: %q", got)
	}
	// Projection separators never end up inside the document.
	for r := range rows {
		for c := range rows[r].Cells() {
			if strings.Contains(cellText(r, c), " | ") {
				t.Errorf("separator written into cell (%d,%d)", r, c)
			}
		}
	}
}

func TestTableSpanStraddleSkipped(t *testing.T) {
	doc := docxtest.New().
		Table([][]string{{"ИНН", "7701234567"}}).
		Open(t)
	blks := buildBlocks(t, doc)

	// A span covering "ИНН | 77" crosses the cell separator.
	plan := planFor(t, blks[0], "ИНН | 77", "inn")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	if len(a.Applied()) != 0 {
		t.Fatal("straddling plan was applied")
	}
	skips := a.Skips()
	if len(skips) != 1 || skips[0].Reason != applier.ErrSpanStraddle.Error() {
		t.Fatalf("skips = %+v", skips)
	}
}

func TestTableSeparatorStartStraddle(t *testing.T) {
	doc := docxtest.New().
		Table([][]string{{"ИНН", "7701234567"}}).
		Open(t)
	blks := buildBlocks(t, doc)

	// A span starting inside the " | " separator belongs to no cell; that
	// is still a straddle, not a missing value.
	plan := planFor(t, blks[0], "| 770", "inn")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	if len(a.Applied()) != 0 {
		t.Fatal("separator-start plan was applied")
	}
	skips := a.Skips()
	if len(skips) != 1 || skips[0].Reason != applier.ErrSpanStraddle.Error() {
		t.Fatalf("skips = %+v", skips)
	}
}

func TestSDTReplacement(t *testing.T) {
	doc := docxtest.New().
		Paragraph("тело документа").
		HeaderSDT("ЕИСУФХД.13/ОК-2023").
		Open(t)
	blks := buildBlocks(t, doc)

	var sdtBlock *blocks.Block
	for _, b := range blks {
		if b.Kind == blocks.KindHeaderSDT {
			sdtBlock = b
		}
	}
	if sdtBlock == nil {
		t.Fatal("no header_sdt block")
	}
	plan := planFor(t, sdtBlock, "ЕИСУФХД", "information_system")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	if len(a.Skips()) != 0 {
		t.Fatalf("skips: %+v", a.Skips())
	}

	sdt, _ := doc.SDT(sdtBlock.Ref)
	want := plan.UUID + ".13/ОК-2023"
	if got := sdt.Text(); got != want {
		t.Errorf("sdt text = %q, want %q", got, want)
	}

	// Body untouched.
	p, _ := doc.Paragraph(doc.BodyParagraphRefs()[0])
	if p.Text() != "тело документа" {
		t.Errorf("body changed: %q", p.Text())
	}
}

func TestSDTSplitAcrossNodes(t *testing.T) {
	doc := docxtest.New().
		HeaderSDT("ЕИСУ", "ФХД.13").
		Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "ЕИСУФХД", "information_system")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	sdt, _ := doc.SDT(blks[0].Ref)
	want := plan.UUID + ".13"
	if got := sdt.Text(); got != want {
		t.Errorf("sdt text = %q, want %q", got, want)
	}
}

func TestRightToLeftOrderAndLengthEquation(t *testing.T) {
	doc := docxtest.New().Paragraph("Иванов И. И. и Петров П. П. подписали").Open(t)
	blks := buildBlocks(t, doc)
	original := blks[0].Text

	plans := []detect.Plan{
		planFor(t, blks[0], "Иванов И. И.", "person_name"),
		planFor(t, blks[0], "Петров П. П.", "person_name"),
	}

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply(plans)

	if len(a.Applied()) != 2 {
		t.Fatalf("applied %d of 2, skips: %+v", len(a.Applied()), a.Skips())
	}

	p, _ := doc.Paragraph(blks[0].Ref)
	got := p.Text()
	for _, plan := range plans {
		if !strings.Contains(got, plan.UUID) {
			t.Errorf("surrogate for %q missing from %q", plan.Value, got)
		}
		if strings.Contains(got, plan.Value) {
			t.Errorf("original %q still present in %q", plan.Value, got)
		}
	}

	wantLen := utf8.RuneCountInString(original)
	for _, plan := range plans {
		wantLen += utf8.RuneCountInString(plan.UUID) - utf8.RuneCountInString(plan.Value)
	}
	if gotLen := utf8.RuneCountInString(got); gotLen != wantLen {
		t.Errorf("length = %d, want %d", gotLen, wantLen)
	}

	// Applied order follows span order for reporting.
	if a.Applied()[0].Span.Start > a.Applied()[1].Span.Start {
		t.Error("applied plans out of reporting order")
	}
}

func TestStaleValueSkipped(t *testing.T) {
	doc := docxtest.New().Paragraph("Иванов И. И.").Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "Иванов И. И.", "person_name")
	stale := planFor(t, blks[0], "Иванов", "person_name")
	// The wide plan runs first (rightmost is applied first; give the
	// narrow one a later span so it is applied after the text changed).
	stale.Span = detect.Span{Start: 0, End: 6}

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{stale, plan})

	// One of the two succeeded, the other is recorded as a skip.
	if len(a.Applied())+len(a.Skips()) != 2 {
		t.Fatalf("applied %d, skipped %d", len(a.Applied()), len(a.Skips()))
	}
}

func TestNoHighlightFlag(t *testing.T) {
	doc := docxtest.New().Paragraph("Иванов И. И. подписал").Open(t)
	blks := buildBlocks(t, doc)
	plan := planFor(t, blks[0], "Иванов И. И.", "person_name")

	a := applier.New(doc, applier.Config{Highlight: false}, zap.NewNop())
	a.Apply([]detect.Plan{plan})

	p, _ := doc.Paragraph(blks[0].Ref)
	if p.Runs()[0].Highlight() != "" {
		t.Error("highlight written despite disabled flag")
	}
}

func TestSweepHeadersFooters(t *testing.T) {
	doc := docxtest.New().
		Paragraph("Договор с ООО Ромашка").
		HeaderParagraph("ООО Ромашка (копия)").
		FooterParagraph("стр. 1, ООО Ромашка").
		Open(t)
	blks := buildBlocks(t, doc)

	plan := planFor(t, blks[0], "ООО Ромашка", "organization")

	a := applier.New(doc, applier.Config{Highlight: true}, zap.NewNop())
	a.Apply([]detect.Plan{plan})
	a.SweepHeadersFooters([]detect.Plan{plan})

	if a.SweepCount() != 2 {
		t.Fatalf("sweep count = %d, want 2", a.SweepCount())
	}

	for _, sec := range doc.Sections() {
		for _, part := range []*docx.HeaderFooterPart{sec.Header, sec.Footer} {
			for _, ref := range part.Paragraphs {
				p, _ := doc.Paragraph(ref)
				if strings.Contains(p.Text(), "ООО Ромашка") {
					t.Errorf("literal survived sweep in %s: %q", part.PartName, p.Text())
				}
				if !strings.Contains(p.Text(), plan.UUID) {
					t.Errorf("surrogate missing after sweep in %s: %q", part.PartName, p.Text())
				}
			}
		}
	}
}
