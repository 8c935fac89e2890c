package detect

import (
	"sort"

	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/surrogate"
)

// Merger unions rule and NLP detections and resolves overlaps. Two
// detections overlap when they share a block and their spans intersect.
// An NLP detection always beats an overlapping rule detection. Between
// detections of the same source the winner is picked by higher confidence,
// then wider span, then lexicographically smaller method; the policy only
// matters when both sides tie, which is rare in practice but must stay
// deterministic.
type Merger struct {
	logger *zap.Logger
}

// NewMerger creates a merger.
func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge resolves overlaps per block and returns the surviving detections in
// block traversal order, sorted by span start within a block. The result is
// pairwise disjoint within every block.
func (m *Merger) Merge(blks []*blocks.Block, detections []Detection) []Detection {
	byBlock := make(map[string][]Detection)
	for _, d := range detections {
		byBlock[d.BlockID] = append(byBlock[d.BlockID], d)
	}

	var merged []Detection
	for _, b := range blks {
		merged = append(merged, m.mergeBlock(byBlock[b.ID])...)
	}

	m.logger.Debug("detections merged",
		zap.Int("input", len(detections)),
		zap.Int("kept", len(merged)))
	return merged
}

// mergeBlock greedily accepts detections in precedence order, dropping any
// candidate that overlaps an already accepted span.
func (m *Merger) mergeBlock(candidates []Detection) []Detection {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]Detection, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return precedes(ordered[i], ordered[j])
	})

	var accepted []Detection
	for _, d := range ordered {
		conflict := false
		for _, a := range accepted {
			if d.Span.Overlaps(a.Span) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, d)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Span.Start < accepted[j].Span.Start
	})
	return accepted
}

// precedes orders detections by merge precedence.
func precedes(a, b Detection) bool {
	if (a.Source == SourceNLP) != (b.Source == SourceNLP) {
		return a.Source == SourceNLP
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Span.Width() != b.Span.Width() {
		return a.Span.Width() > b.Span.Width()
	}
	if a.Method != b.Method {
		return a.Method < b.Method
	}
	return a.Span.Start < b.Span.Start
}

// BuildPlans enriches merged detections with their surrogates and the
// owning block's element handle.
func BuildPlans(blks []*blocks.Block, merged []Detection, mapper *surrogate.Mapper) []Plan {
	index := make(map[string]*blocks.Block, len(blks))
	for _, b := range blks {
		index[b.ID] = b
	}

	plans := make([]Plan, 0, len(merged))
	for _, d := range merged {
		b, ok := index[d.BlockID]
		if !ok {
			continue
		}
		plans = append(plans, Plan{
			Detection: d,
			UUID:      mapper.UUIDFor(d.Value, d.Category),
			Ref:       b.Ref,
			Kind:      b.Kind,
		})
	}
	return plans
}
