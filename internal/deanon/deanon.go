// Package deanon restores a document anonymized earlier: canonical
// surrogate UUIDs found in the text are replaced with the originals from a
// bindings source (registry, ledger, or a mapping file). Unknown surrogates
// are counted and left in place.
package deanon

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/docx"
)

// uuidPattern matches canonical hyphenated UUIDs, the only shape the
// applier ever writes.
var uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

// Stats summarises one restoration pass.
type Stats struct {
	Found    int
	Restored int
	Unknown  int
}

// Deanonymizer holds the surrogate → original map for one pass.
type Deanonymizer struct {
	bindings map[string]string
	logger   *zap.Logger
}

// New creates a deanonymizer over a bindings map. Keys are compared
// case-insensitively; UUID casing varies between producers.
func New(bindings map[string]string, logger *zap.Logger) *Deanonymizer {
	lowered := make(map[string]string, len(bindings))
	for k, v := range bindings {
		lowered[strings.ToLower(k)] = v
	}
	return &Deanonymizer{bindings: lowered, logger: logger}
}

// Restore rewrites every text run and SDT text node of the document,
// replacing known surrogates with their originals.
func (d *Deanonymizer) Restore(doc *docx.Document) Stats {
	var stats Stats

	for _, ref := range doc.BodyParagraphRefs() {
		if p, ok := doc.Paragraph(ref); ok {
			d.restoreParagraph(p, &stats)
		}
	}
	for _, ref := range doc.BodyTableRefs() {
		t, ok := doc.Table(ref)
		if !ok {
			continue
		}
		for _, row := range t.Rows() {
			for _, cell := range row.Cells() {
				for _, p := range cell.Paragraphs() {
					d.restoreParagraph(p, &stats)
				}
			}
		}
	}
	for _, sec := range doc.Sections() {
		for _, part := range []*docx.HeaderFooterPart{sec.Header, sec.Footer} {
			if part == nil {
				continue
			}
			for _, ref := range part.Paragraphs {
				if p, ok := doc.Paragraph(ref); ok {
					d.restoreParagraph(p, &stats)
				}
			}
			for _, ref := range part.SDTs {
				if s, ok := doc.SDT(ref); ok {
					d.restoreSDT(s, &stats)
				}
			}
		}
	}

	d.logger.Info("restoration pass complete",
		zap.Int("found", stats.Found),
		zap.Int("restored", stats.Restored),
		zap.Int("unknown", stats.Unknown))
	return stats
}

// restoreParagraph rewrites each run independently. The applier writes a
// surrogate into a single run, so no cross-run matching is needed here.
func (d *Deanonymizer) restoreParagraph(p *docx.Paragraph, stats *Stats) {
	for _, r := range p.Runs() {
		text := r.Text()
		restored := d.restoreText(text, stats)
		if restored != text {
			r.SetText(restored)
		}
	}
}

func (d *Deanonymizer) restoreSDT(s *docx.SDT, stats *Stats) {
	for _, n := range s.TextNodes() {
		text := n.Text()
		restored := d.restoreText(text, stats)
		if restored != text {
			docx.SetTextNode(n, restored)
		}
	}
}

func (d *Deanonymizer) restoreText(text string, stats *Stats) string {
	return uuidPattern.ReplaceAllStringFunc(text, func(id string) string {
		stats.Found++
		original, ok := d.bindings[strings.ToLower(id)]
		if !ok {
			stats.Unknown++
			return id
		}
		stats.Restored++
		return original
	})
}
