package detect

import (
	"go.uber.org/zap"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/patterns"
)

// MethodRegex tags detections produced by the rule detector.
const MethodRegex = "regex"

// RuleDetector scans block text with every catalogue rule. Rules run
// independently; overlapping matches survive until the merge.
type RuleDetector struct {
	store  *patterns.Store
	logger *zap.Logger
}

// NewRuleDetector creates a detector over the given catalogue.
func NewRuleDetector(store *patterns.Store, logger *zap.Logger) *RuleDetector {
	return &RuleDetector{store: store, logger: logger}
}

// Detect returns every rule match in the block, with spans converted to
// code-point offsets over the block text.
func (d *RuleDetector) Detect(block *blocks.Block) []Detection {
	if block.Text == "" {
		return nil
	}

	// Regexp match offsets are in bytes; spans are in runes.
	byteToRune := make(map[int]int, len(block.Text)+1)
	runes := 0
	for i := range block.Text {
		byteToRune[i] = runes
		runes++
	}
	byteToRune[len(block.Text)] = runes

	var out []Detection
	for _, rule := range d.store.Rules() {
		for _, m := range rule.Pattern.FindAllStringIndex(block.Text, -1) {
			out = append(out, Detection{
				BlockID:    block.ID,
				Category:   rule.Category,
				Value:      block.Text[m[0]:m[1]],
				Span:       Span{Start: byteToRune[m[0]], End: byteToRune[m[1]]},
				Confidence: rule.Confidence,
				Source:     SourceRule,
				Method:     MethodRegex,
			})
		}
	}

	if len(out) > 0 {
		d.logger.Debug("rule matches in block",
			zap.String("block_id", block.ID),
			zap.Int("matches", len(out)))
	}
	return out
}

// DetectAll runs Detect over every block.
func (d *RuleDetector) DetectAll(blks []*blocks.Block) []Detection {
	var out []Detection
	for _, b := range blks {
		out = append(out, d.Detect(b)...)
	}
	return out
}
