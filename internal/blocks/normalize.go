package blocks

import "unicode"

// Normalize collapses every run of Unicode whitespace (non-breaking spaces
// included) to a single ordinary space and trims the ends. Detection spans
// are measured over this form, and the applier re-normalises element text
// with the same function, so the two sides always agree.
func Normalize(s string) string {
	norm, _ := NormalizeRunes([]rune(s))
	return norm
}

// NormalizeRunes normalises raw and returns, for every rune of the
// normalised text, the index of the raw rune that produced it. A collapsed
// whitespace run maps to its first raw whitespace rune.
func NormalizeRunes(raw []rune) (string, []int) {
	out := make([]rune, 0, len(raw))
	idx := make([]int, 0, len(raw))

	i := 0
	for i < len(raw) {
		if unicode.IsSpace(raw[i]) {
			start := i
			for i < len(raw) && unicode.IsSpace(raw[i]) {
				i++
			}
			// Leading and trailing whitespace is stripped, interior
			// whitespace collapses to one space.
			if len(out) > 0 && i < len(raw) {
				out = append(out, ' ')
				idx = append(idx, start)
			}
			continue
		}
		out = append(out, raw[i])
		idx = append(idx, i)
		i++
	}
	return string(out), idx
}
