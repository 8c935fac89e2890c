// Package detect locates sensitive spans in block text and merges the
// findings of the deterministic rules and the external entity recogniser
// into a disjoint replacement plan.
package detect

import (
	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/docx"
)

// Source tells which detector produced a detection.
type Source string

const (
	SourceRule Source = "rule"
	SourceNLP  Source = "nlp"
)

// Span is a half-open [Start, End) interval in code points over a block's
// normalised text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two spans intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}

// Width returns the span's length in code points.
func (s Span) Width() int {
	return s.End - s.Start
}

// Detection is one located sensitive span.
type Detection struct {
	BlockID    string  `json:"block_id"`
	Category   string  `json:"category"`
	Value      string  `json:"original_value"`
	Span       Span    `json:"position"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	Method     string  `json:"method"`
}

// Plan is a merged detection enriched with its surrogate and the handle of
// the element it will be applied to.
type Plan struct {
	Detection
	UUID string
	Ref  docx.ElementRef
	Kind blocks.Kind
}
