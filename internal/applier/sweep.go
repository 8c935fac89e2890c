package applier

import (
	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/docx"
)

// sweepRounds bounds repeated replacement of one value in one paragraph.
// The surrogate never contains the original, so the loop terminates on its
// own; the cap guards against a pathological catalogue where it does not.
const sweepRounds = 16

type sweepPair struct {
	value     string
	surrogate string
}

// SweepHeadersFooters runs the fallback pass: every header and footer
// paragraph in every section is checked against every planned value that
// may still be present there. The same literal can surface in surrounding
// elements the block traversal never addressed, repeated page fields being
// the usual case. Already-replaced occurrences are naturally skipped
// because the surrogate differs from the original.
func (a *Applier) SweepHeadersFooters(plans []detect.Plan) {
	var pairs []sweepPair
	seen := make(map[string]bool)
	for _, p := range plans {
		if p.Value == "" || seen[p.Value] {
			continue
		}
		seen[p.Value] = true
		pairs = append(pairs, sweepPair{value: p.Value, surrogate: p.UUID})
	}
	if len(pairs) == 0 {
		return
	}

	for _, sec := range a.doc.Sections() {
		for _, part := range []*docx.HeaderFooterPart{sec.Header, sec.Footer} {
			if part == nil {
				continue
			}
			for _, ref := range part.Paragraphs {
				para, ok := a.doc.Paragraph(ref)
				if !ok {
					continue
				}
				a.sweepParagraph(para, part.PartName, pairs)
			}
		}
	}

	if a.swept > 0 {
		a.logger.Debug("fallback sweep made extra replacements",
			zap.Int("replacements", a.swept))
	}
}

func (a *Applier) sweepParagraph(para *docx.Paragraph, partName string, pairs []sweepPair) {
	for _, pr := range pairs {
		for round := 0; round < sweepRounds; round++ {
			if runeIndexStr(blocks.Normalize(para.Text()), pr.value) < 0 {
				break
			}
			if err := a.replaceInParagraph(para, pr.value, pr.surrogate, detect.Span{}, false); err != nil {
				break
			}
			a.swept++
			a.logger.Debug("sweep replacement",
				zap.String("part", partName),
				zap.String("value", pr.value))
		}
	}
}
