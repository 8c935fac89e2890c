package applier

import (
	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
	"github.com/docmask/docmask/internal/docx"
)

// replaceInParagraph splices the surrogate into the paragraph's runs. The
// paragraph text is re-extracted and re-normalised with the block builder's
// own routine, so span positions measured over block text line up exactly.
//
// When the whole interval falls inside one run, that run's text is spliced
// in place and its formatting kept. When the interval crosses runs, the
// first intersecting run receives its prefix plus the surrogate and every
// later intersecting run loses only its in-interval portion. No runs are
// removed; emptied runs keep their properties.
func (a *Applier) replaceInParagraph(p *docx.Paragraph, value, surrogate string, span detect.Span, useSpan bool) error {
	runs := p.Runs()

	var raw []rune
	starts := make([]int, len(runs))
	ends := make([]int, len(runs))
	for i, r := range runs {
		rt := []rune(r.Text())
		starts[i] = len(raw)
		raw = append(raw, rt...)
		ends[i] = len(raw)
	}

	norm, normToRaw := blocks.NormalizeRunes(raw)
	normRunes := []rune(norm)
	valRunes := []rune(value)
	if len(valRunes) == 0 {
		return ErrTextNotFound
	}

	// Prior replacements in the same block may have shifted the text; the
	// recorded span is trusted only while it still selects the value.
	ns := -1
	if useSpan && span.Start >= 0 && span.End <= len(normRunes) &&
		string(normRunes[span.Start:span.End]) == value {
		ns = span.Start
	} else {
		ns = runeIndex(normRunes, valRunes)
	}
	if ns < 0 {
		return ErrTextNotFound
	}
	ne := ns + len(valRunes)

	// Map the normalised interval back onto raw rune positions. The end
	// maps through the interval's last rune so collapsed whitespace before
	// the following text is left alone.
	rawStart := normToRaw[ns]
	rawEnd := normToRaw[ne-1] + 1

	replaced := false
	for i, r := range runs {
		if ends[i] <= rawStart || starts[i] >= rawEnd {
			continue
		}
		lt := []rune(r.Text())
		lo := maxInt(rawStart, starts[i]) - starts[i]
		hi := minInt(rawEnd, ends[i]) - starts[i]

		if !replaced {
			r.SetText(string(lt[:lo]) + surrogate + string(lt[hi:]))
			if a.cfg.Highlight {
				r.SetHighlight(docx.HighlightYellow)
			}
			replaced = true
			continue
		}
		r.SetText(string(lt[:lo]) + string(lt[hi:]))
	}

	if !replaced {
		return ErrTextNotFound
	}
	return nil
}

// runeIndex returns the rune offset of the first occurrence of needle in
// haystack, or -1.
func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func runeIndexStr(haystack, needle string) int {
	return runeIndex([]rune(haystack), []rune(needle))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
