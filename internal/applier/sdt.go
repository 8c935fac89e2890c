package applier

import (
	"github.com/beevik/etree"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/docx"
)

// replaceInSDT splices the surrogate into an SDT subtree's text nodes. The
// subtree's visible text is the in-order concatenation of its descendant
// text nodes; the value usually sits inside a single node, but structured
// tags are free to split a literal across several, so the same
// interval-splice discipline as for paragraph runs applies.
func (a *Applier) replaceInSDT(sdt *docx.SDT, value, surrogate string) error {
	nodes := sdt.TextNodes()

	var raw []rune
	starts := make([]int, len(nodes))
	ends := make([]int, len(nodes))
	for i, n := range nodes {
		nt := []rune(n.Text())
		starts[i] = len(raw)
		raw = append(raw, nt...)
		ends[i] = len(raw)
	}

	norm, normToRaw := blocks.NormalizeRunes(raw)
	normRunes := []rune(norm)
	valRunes := []rune(value)
	if len(valRunes) == 0 {
		return ErrTextNotFound
	}

	ns := runeIndex(normRunes, valRunes)
	if ns < 0 {
		return ErrTextNotFound
	}
	ne := ns + len(valRunes)
	rawStart := normToRaw[ns]
	rawEnd := normToRaw[ne-1] + 1

	replaced := false
	for i, n := range nodes {
		if ends[i] <= rawStart || starts[i] >= rawEnd {
			continue
		}
		nt := []rune(n.Text())
		lo := maxInt(rawStart, starts[i]) - starts[i]
		hi := minInt(rawEnd, ends[i]) - starts[i]

		if !replaced {
			a.setNodeText(n, string(nt[:lo])+surrogate+string(nt[hi:]))
			replaced = true
			continue
		}
		a.setNodeText(n, string(nt[:lo])+string(nt[hi:]))
	}

	if !replaced {
		return ErrTextNotFound
	}
	return nil
}

// setNodeText rewrites one text node and highlights its owning run when the
// node sits directly inside one.
func (a *Applier) setNodeText(node *etree.Element, text string) {
	docx.SetTextNode(node, text)
	if !a.cfg.Highlight {
		return
	}
	if run, ok := docx.RunOf(node); ok {
		run.SetHighlight(docx.HighlightYellow)
	}
}
