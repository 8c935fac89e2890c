// Package blocks flattens a parsed document into addressable text blocks.
// Every block carries a plain-text projection of one structural element and
// an arena ref pointing back at it; detection runs over the text, the
// applier resolves the ref.
package blocks

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/docx"
)

// Kind names the structural origin of a block.
type Kind string

const (
	KindParagraph Kind = "paragraph"
	KindTable     Kind = "table"
	KindHeader    Kind = "header"
	KindFooter    Kind = "footer"
	KindHeaderSDT Kind = "header_sdt"
	KindFooterSDT Kind = "footer_sdt"
)

// Block is one unit of detectable text.
type Block struct {
	ID   string
	Text string
	Ref  docx.ElementRef
	Kind Kind
}

// Builder walks a document in reading order and emits blocks.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a block builder.
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build traverses the document once: body paragraphs, body tables, then per
// section its header and footer (paragraphs first, SDT subtrees after).
// Indices in block IDs count every element of that kind, including the ones
// skipped for being empty, so IDs stay stable across edits that only blank
// an element.
func (b *Builder) Build(doc *docx.Document) []*Block {
	var out []*Block

	for i, ref := range doc.BodyParagraphRefs() {
		p, ok := doc.Paragraph(ref)
		if !ok {
			continue
		}
		text := Normalize(p.Text())
		if text == "" {
			continue
		}
		out = append(out, &Block{
			ID:   fmt.Sprintf("paragraph_%d", i),
			Text: text,
			Ref:  ref,
			Kind: KindParagraph,
		})
	}

	for i, ref := range doc.BodyTableRefs() {
		t, ok := doc.Table(ref)
		if !ok {
			continue
		}
		proj := ProjectTable(t)
		if proj.Text == "" {
			continue
		}
		out = append(out, &Block{
			ID:   fmt.Sprintf("table_%d", i),
			Text: proj.Text,
			Ref:  ref,
			Kind: KindTable,
		})
	}

	for _, sec := range doc.Sections() {
		out = append(out, b.partBlocks(doc, sec.Header, sec.Index, KindHeader, KindHeaderSDT)...)
		out = append(out, b.partBlocks(doc, sec.Footer, sec.Index, KindFooter, KindFooterSDT)...)
	}

	b.logger.Debug("document flattened into blocks", zap.Int("blocks", len(out)))
	return out
}

// partBlocks emits the blocks of one header or footer part. Every paragraph
// is emitted, empty text included: header and footer content is the usual
// home of repeated sensitive fields, and an empty projection simply yields
// no detections.
func (b *Builder) partBlocks(doc *docx.Document, part *docx.HeaderFooterPart, section int, paraKind, sdtKind Kind) []*Block {
	if part == nil {
		return nil
	}

	var out []*Block
	for i, ref := range part.Paragraphs {
		p, ok := doc.Paragraph(ref)
		if !ok {
			continue
		}
		out = append(out, &Block{
			ID:   fmt.Sprintf("%s_%d_%d", paraKind, section, i),
			Text: Normalize(p.Text()),
			Ref:  ref,
			Kind: paraKind,
		})
	}
	for i, ref := range part.SDTs {
		s, ok := doc.SDT(ref)
		if !ok {
			continue
		}
		text := Normalize(s.Text())
		if text == "" {
			continue
		}
		out = append(out, &Block{
			ID:   fmt.Sprintf("%s_%d_%d", sdtKind, section, i),
			Text: text,
			Ref:  ref,
			Kind: sdtKind,
		})
	}
	return out
}
