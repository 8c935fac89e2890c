package blocks

import (
	"strings"
	"unicode/utf8"

	"github.com/docmask/docmask/internal/docx"
)

// CellRange records where one table cell's text landed in the flattened
// projection, as a rune interval.
type CellRange struct {
	Row   int
	Col   int
	Start int
	End   int
	Cell  *docx.TableCell
}

// TableProjection is the flattened text of a table plus the per-cell
// offsets the applier needs to map block positions back to cells.
type TableProjection struct {
	Text  string
	Cells []CellRange
}

// CellAt returns the range containing the given rune position.
func (p TableProjection) CellAt(pos int) (CellRange, bool) {
	for _, c := range p.Cells {
		if pos >= c.Start && pos < c.End {
			return c, true
		}
	}
	return CellRange{}, false
}

// ProjectTable flattens a table: normalised non-empty cell texts joined
// with " | " within a row, a "\n" closing every non-empty row, empty rows
// skipped. The encoding is a contract between the block builder and the
// applier; both sides call this one routine.
func ProjectTable(t *docx.Table) TableProjection {
	var sb strings.Builder
	var cells []CellRange
	pos := 0

	for ri, row := range t.Rows() {
		rowHasContent := false
		for ci, cell := range row.Cells() {
			text := CellText(cell)
			if text == "" {
				continue
			}
			if rowHasContent {
				sb.WriteString(" | ")
				pos += 3
			}
			start := pos
			sb.WriteString(text)
			pos += utf8.RuneCountInString(text)
			cells = append(cells, CellRange{Row: ri, Col: ci, Start: start, End: pos, Cell: cell})
			rowHasContent = true
		}
		if rowHasContent {
			sb.WriteString("\n")
			pos++
		}
	}

	return TableProjection{Text: sb.String(), Cells: cells}
}

// CellText returns a cell's normalised text: its paragraphs joined and
// whitespace-collapsed.
func CellText(c *docx.TableCell) string {
	paras := c.Paragraphs()
	parts := make([]string, 0, len(paras))
	for _, p := range paras {
		parts = append(parts, p.Text())
	}
	return Normalize(strings.Join(parts, "\n"))
}
