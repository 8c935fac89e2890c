package docx

import (
	"strings"

	"github.com/beevik/etree"
)

// XML namespaces used by WordprocessingML parts.
const (
	MainNamespace    = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	DrawingNamespace = "http://schemas.openxmlformats.org/drawingml/2006/main"
)

// HighlightYellow is the highlight colour applied to rewritten runs.
const HighlightYellow = "yellow"

// isWordEl reports whether el is a WordprocessingML element with the given local tag.
func isWordEl(el *etree.Element, tag string) bool {
	return el.Tag == tag && el.NamespaceURI() == MainNamespace
}

// isDrawingEl reports whether el is a DrawingML element with the given local tag.
func isDrawingEl(el *etree.Element, tag string) bool {
	return el.Tag == tag && el.NamespaceURI() == DrawingNamespace
}

// Paragraph wraps a w:p element.
type Paragraph struct {
	el *etree.Element
}

// Element returns the underlying w:p element.
func (p *Paragraph) Element() *etree.Element {
	return p.el
}

// Runs returns the paragraph's runs in document order. Runs nested in
// hyperlinks and similar wrappers are included; runs belonging to nested
// paragraphs (text boxes) are not.
func (p *Paragraph) Runs() []*Run {
	var runs []*Run
	collectRuns(p.el, &runs)
	return runs
}

func collectRuns(el *etree.Element, runs *[]*Run) {
	for _, child := range el.ChildElements() {
		switch {
		case isWordEl(child, "r"):
			*runs = append(*runs, &Run{el: child})
		case isWordEl(child, "p"):
			// nested paragraph owns its runs
		default:
			collectRuns(child, runs)
		}
	}
}

// Text returns the raw (non-normalised) concatenation of the paragraph's run texts.
func (p *Paragraph) Text() string {
	var sb strings.Builder
	for _, r := range p.Runs() {
		sb.WriteString(r.Text())
	}
	return sb.String()
}

// Run wraps a w:r element.
type Run struct {
	el *etree.Element
}

// Element returns the underlying w:r element.
func (r *Run) Element() *etree.Element {
	return r.el
}

// Text returns the run's visible text. Tabs map to "\t", line and page
// breaks to "\n", matching how the text is re-assembled on write.
func (r *Run) Text() string {
	var sb strings.Builder
	for _, child := range r.el.ChildElements() {
		switch {
		case isWordEl(child, "t") || isWordEl(child, "instrText"):
			sb.WriteString(child.Text())
		case isWordEl(child, "tab"):
			sb.WriteString("\t")
		case isWordEl(child, "br") || isWordEl(child, "cr"):
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// SetText replaces the run's textual content, preserving run properties.
// "\t" is written back as w:tab and "\n" as w:br so the layout elements
// round-trip.
func (r *Run) SetText(text string) {
	// Drop existing content children, keep w:rPr and non-text children.
	for _, child := range r.el.ChildElements() {
		if isWordEl(child, "t") || isWordEl(child, "instrText") ||
			isWordEl(child, "tab") || isWordEl(child, "br") || isWordEl(child, "cr") {
			r.el.RemoveChild(child)
		}
	}

	for len(text) > 0 {
		i := strings.IndexAny(text, "\t\n")
		if i == -1 {
			appendTextEl(r.el, text)
			break
		}
		if i > 0 {
			appendTextEl(r.el, text[:i])
		}
		switch text[i] {
		case '\t':
			r.el.CreateElement("w:tab")
		case '\n':
			r.el.CreateElement("w:br")
		}
		text = text[i+1:]
	}
}

func appendTextEl(run *etree.Element, text string) {
	t := run.CreateElement("w:t")
	t.SetText(text)
	if strings.TrimSpace(text) != text || text == "" {
		t.CreateAttr("xml:space", "preserve")
	}
}

// RunOf returns the run owning a text node, when the node sits directly
// inside a w:r element.
func RunOf(el *etree.Element) (*Run, bool) {
	parent := el.Parent()
	if parent != nil && isWordEl(parent, "r") {
		return &Run{el: parent}, true
	}
	return nil, false
}

// SetTextNode rewrites a text-bearing element in place, marking significant
// edge whitespace so it survives re-parsing.
func SetTextNode(el *etree.Element, text string) {
	el.SetText(text)
	// DrawingML text preserves whitespace by default; only WordprocessingML
	// nodes need the marker.
	if el.NamespaceURI() == MainNamespace && (strings.TrimSpace(text) != text || text == "") {
		el.CreateAttr("xml:space", "preserve")
	}
}

// SetHighlight sets the run's highlight colour (w:highlight in w:rPr).
func (r *Run) SetHighlight(color string) {
	rPr := r.el.SelectElement("w:rPr")
	if rPr == nil {
		rPr = etree.NewElement("w:rPr")
		r.el.InsertChildAt(0, rPr)
	}
	h := rPr.SelectElement("w:highlight")
	if h == nil {
		h = rPr.CreateElement("w:highlight")
	}
	h.CreateAttr("w:val", color)
}

// Highlight returns the run's highlight colour, or "" when unset.
func (r *Run) Highlight() string {
	rPr := r.el.SelectElement("w:rPr")
	if rPr == nil {
		return ""
	}
	h := rPr.SelectElement("w:highlight")
	if h == nil {
		return ""
	}
	return h.SelectAttrValue("w:val", "")
}

// Table wraps a w:tbl element.
type Table struct {
	el *etree.Element
}

// Element returns the underlying w:tbl element.
func (t *Table) Element() *etree.Element {
	return t.el
}

// Rows returns the table's direct rows in document order.
func (t *Table) Rows() []*TableRow {
	var rows []*TableRow
	for _, child := range t.el.ChildElements() {
		if isWordEl(child, "tr") {
			rows = append(rows, &TableRow{el: child})
		}
	}
	return rows
}

// TableRow wraps a w:tr element.
type TableRow struct {
	el *etree.Element
}

// Cells returns the row's cells in document order.
func (r *TableRow) Cells() []*TableCell {
	var cells []*TableCell
	for _, child := range r.el.ChildElements() {
		if isWordEl(child, "tc") {
			cells = append(cells, &TableCell{el: child})
		}
	}
	return cells
}

// TableCell wraps a w:tc element.
type TableCell struct {
	el *etree.Element
}

// Paragraphs returns the cell's direct paragraphs in document order.
func (c *TableCell) Paragraphs() []*Paragraph {
	var paras []*Paragraph
	for _, child := range c.el.ChildElements() {
		if isWordEl(child, "p") {
			paras = append(paras, &Paragraph{el: child})
		}
	}
	return paras
}

// SDT wraps a w:sdt subtree found in a header or footer part.
type SDT struct {
	el *etree.Element
}

// Element returns the underlying w:sdt element.
func (s *SDT) Element() *etree.Element {
	return s.el
}

// TextNodes returns the subtree's text-bearing elements (w:t, w:instrText
// and DrawingML a:t) in document order.
func (s *SDT) TextNodes() []*etree.Element {
	var nodes []*etree.Element
	collectTextNodes(s.el, &nodes)
	return nodes
}

func collectTextNodes(el *etree.Element, nodes *[]*etree.Element) {
	for _, child := range el.ChildElements() {
		if isWordEl(child, "t") || isWordEl(child, "instrText") || isDrawingEl(child, "t") {
			*nodes = append(*nodes, child)
			continue
		}
		collectTextNodes(child, nodes)
	}
}

// Text returns the raw concatenation of the subtree's text nodes.
func (s *SDT) Text() string {
	var sb strings.Builder
	for _, n := range s.TextNodes() {
		sb.WriteString(n.Text())
	}
	return sb.String()
}
