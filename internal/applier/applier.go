// Package applier writes planned replacements back into the document,
// preserving run-level formatting. Replacements inside a block run in
// descending span order so pending spans to the left stay valid; failures
// are per-plan soft skips and never abort the run.
package applier

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/docx"
)

// Skip reasons recorded for soft apply failures.
var (
	ErrTextNotFound = errors.New("text not found")
	ErrSpanStraddle = errors.New("span straddles cells")
	ErrBadRef       = errors.New("element not found")
)

// Config controls observable side effects of the applier.
type Config struct {
	Highlight bool
}

// Skip records one plan that could not be applied.
type Skip struct {
	BlockID string
	Value   string
	UUID    string
	Reason  string
}

// Applier mutates the document it was given; it is the model's only writer.
type Applier struct {
	doc    *docx.Document
	cfg    Config
	logger *zap.Logger

	applied []detect.Plan
	skips   []Skip
	swept   int
}

// New creates an applier over an opened document.
func New(doc *docx.Document, cfg Config, logger *zap.Logger) *Applier {
	return &Applier{doc: doc, cfg: cfg, logger: logger}
}

// Apply executes every plan, grouped by block and ordered right-to-left
// within each block. Plans are expected in block-traversal order with
// ascending spans, which is what the merger emits; the applied list keeps
// that order for reporting.
func (a *Applier) Apply(plans []detect.Plan) {
	byBlock := make(map[string][]int)
	var blockOrder []string
	for i, p := range plans {
		if _, seen := byBlock[p.BlockID]; !seen {
			blockOrder = append(blockOrder, p.BlockID)
		}
		byBlock[p.BlockID] = append(byBlock[p.BlockID], i)
	}

	ok := make([]bool, len(plans))
	for _, id := range blockOrder {
		idxs := byBlock[id]
		// Right-to-left within the block.
		for k := len(idxs) - 1; k >= 0; k-- {
			i := idxs[k]
			if err := a.applyPlan(plans[i]); err != nil {
				a.skip(plans[i], err)
				continue
			}
			ok[i] = true
		}
	}

	for i, p := range plans {
		if ok[i] {
			a.applied = append(a.applied, p)
		}
	}

	a.logger.Debug("plans applied",
		zap.Int("applied", len(a.applied)),
		zap.Int("skipped", len(a.skips)))
}

func (a *Applier) applyPlan(p detect.Plan) error {
	switch p.Ref.Kind {
	case docx.ElemParagraph:
		para, ok := a.doc.Paragraph(p.Ref)
		if !ok {
			return ErrBadRef
		}
		return a.replaceInParagraph(para, p.Value, p.UUID, p.Span, true)
	case docx.ElemTable:
		tbl, ok := a.doc.Table(p.Ref)
		if !ok {
			return ErrBadRef
		}
		return a.replaceInTable(tbl, p)
	case docx.ElemSDT:
		sdt, ok := a.doc.SDT(p.Ref)
		if !ok {
			return ErrBadRef
		}
		return a.replaceInSDT(sdt, p.Value, p.UUID)
	default:
		return fmt.Errorf("%w: unknown element kind %d", ErrBadRef, p.Ref.Kind)
	}
}

// replaceInTable maps the plan's span back to a cell through the shared
// projection, then replaces inside that cell's paragraphs. Spans that
// straddle the " | " or row separators are rejected: detections are
// produced per block text and should never cross a cell after
// normalisation.
func (a *Applier) replaceInTable(tbl *docx.Table, p detect.Plan) error {
	proj := blocks.ProjectTable(tbl)
	cell, ok := proj.CellAt(p.Span.Start)
	if !ok {
		// A start inside the projection but outside every cell sits on a
		// separator, which is a straddle, not a lookup miss.
		if p.Span.Start >= 0 && p.Span.Start < len([]rune(proj.Text)) {
			return ErrSpanStraddle
		}
		return ErrTextNotFound
	}
	if p.Span.End > cell.End {
		return ErrSpanStraddle
	}

	for _, para := range cell.Cell.Paragraphs() {
		if runeIndexStr(blocks.Normalize(para.Text()), p.Value) < 0 {
			continue
		}
		return a.replaceInParagraph(para, p.Value, p.UUID, detect.Span{}, false)
	}
	return ErrTextNotFound
}

// Applied returns the successfully applied plans in reporting order.
func (a *Applier) Applied() []detect.Plan {
	return a.applied
}

// Skips returns the soft failures recorded so far.
func (a *Applier) Skips() []Skip {
	return a.skips
}

// SweepCount returns the number of replacements made by the fallback sweep.
func (a *Applier) SweepCount() int {
	return a.swept
}

func (a *Applier) skip(p detect.Plan, err error) {
	a.skips = append(a.skips, Skip{
		BlockID: p.BlockID,
		Value:   p.Value,
		UUID:    p.UUID,
		Reason:  err.Error(),
	})
	a.logger.Warn("replacement skipped",
		zap.String("block_id", p.BlockID),
		zap.String("category", p.Category),
		zap.String("reason", err.Error()))
}
