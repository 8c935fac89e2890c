package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

const (
	documentPart      = "word/document.xml"
	documentRelsPart  = "word/_rels/document.xml.rels"
	relTypeHeader     = "header"
	relTypeFooter     = "footer"
	refTypeDefault    = "default"
	wordPartDirectory = "word"
)

// PartError describes a failure tied to one part of the document archive.
type PartError struct {
	Part string
	Err  error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("document part %s: %v", e.Part, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

// ElementKind discriminates the structural element a block points back to.
type ElementKind int

const (
	ElemParagraph ElementKind = iota
	ElemTable
	ElemSDT
)

// String returns the kind's name for logs and skip reasons.
func (k ElementKind) String() string {
	switch k {
	case ElemParagraph:
		return "paragraph"
	case ElemTable:
		return "table"
	case ElemSDT:
		return "sdt"
	default:
		return "unknown"
	}
}

// ElementRef is an opaque handle into the document's element arena. Blocks
// carry refs instead of XML nodes; the applier resolves them against the
// owning Document.
type ElementRef struct {
	Kind  ElementKind
	Index int
}

// HeaderFooterPart is one parsed header or footer part with the refs of its
// direct paragraphs and SDT subtrees, in document order.
type HeaderFooterPart struct {
	PartName   string
	Paragraphs []ElementRef
	SDTs       []ElementRef
}

// Section pairs a section index with its resolved default header and footer
// parts. Either part may be nil (absent or owned by an earlier section).
type Section struct {
	Index  int
	Header *HeaderFooterPart
	Footer *HeaderFooterPart
}

// Document is an opened .docx container. The main document part and every
// referenced header/footer part are parsed into a DOM; all other parts are
// carried through verbatim on save.
type Document struct {
	names  []string
	raw    map[string][]byte
	parsed map[string]*etree.Document

	bodyParagraphs []ElementRef
	bodyTables     []ElementRef
	sections       []Section

	paragraphs []*Paragraph
	tables     []*Table
	sdts       []*SDT
}

// Open reads and parses the document at path.
func Open(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return OpenReader(bytes.NewReader(data), int64(len(data)))
}

// OpenReader reads and parses a document from an in-memory archive.
func OpenReader(r io.ReaderAt, size int64) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	d := &Document{
		raw:    make(map[string][]byte),
		parsed: make(map[string]*etree.Document),
	}

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, &PartError{Part: f.Name, Err: err}
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &PartError{Part: f.Name, Err: err}
		}
		d.names = append(d.names, f.Name)
		d.raw[f.Name] = data
	}

	if err := d.parseBody(); err != nil {
		return nil, err
	}
	return d, nil
}

// parsePart parses a stored XML part and remembers it for re-serialisation.
func (d *Document) parsePart(name string) (*etree.Document, error) {
	data, ok := d.raw[name]
	if !ok {
		return nil, &PartError{Part: name, Err: errors.New("part missing from archive")}
	}
	xdoc := etree.NewDocument()
	if err := xdoc.ReadFromBytes(data); err != nil {
		return nil, &PartError{Part: name, Err: err}
	}
	if xdoc.Root() == nil {
		return nil, &PartError{Part: name, Err: errors.New("empty XML part")}
	}
	d.parsed[name] = xdoc
	return xdoc, nil
}

func (d *Document) parseBody() error {
	xdoc, err := d.parsePart(documentPart)
	if err != nil {
		return err
	}

	root := xdoc.Root()
	if !isWordEl(root, "document") {
		return &PartError{Part: documentPart, Err: fmt.Errorf("unexpected root element <%s>", root.FullTag())}
	}
	body := selectWordChild(root, "body")
	if body == nil {
		return &PartError{Part: documentPart, Err: errors.New("missing w:body")}
	}

	// Collect body elements and section properties in document order.
	var sectPrs []*etree.Element
	for _, el := range body.ChildElements() {
		switch {
		case isWordEl(el, "p"):
			d.bodyParagraphs = append(d.bodyParagraphs, d.addParagraph(&Paragraph{el: el}))
			if pPr := selectWordChild(el, "pPr"); pPr != nil {
				if sp := selectWordChild(pPr, "sectPr"); sp != nil {
					sectPrs = append(sectPrs, sp)
				}
			}
		case isWordEl(el, "tbl"):
			d.bodyTables = append(d.bodyTables, d.addTable(&Table{el: el}))
		case isWordEl(el, "sectPr"):
			sectPrs = append(sectPrs, el)
		}
	}

	return d.resolveSections(sectPrs)
}

// resolveSections maps each sectPr's default header/footer references to
// their parts and parses every referenced part exactly once. A part
// referenced by several sections is owned by the first.
func (d *Document) resolveSections(sectPrs []*etree.Element) error {
	if len(sectPrs) == 0 {
		return nil
	}

	rels, err := d.loadRelationships()
	if err != nil {
		return err
	}

	claimed := make(map[string]bool)
	for i, sp := range sectPrs {
		sec := Section{Index: i}

		header, err := d.resolveReference(sp, "headerReference", rels, claimed)
		if err != nil {
			return err
		}
		sec.Header = header

		footer, err := d.resolveReference(sp, "footerReference", rels, claimed)
		if err != nil {
			return err
		}
		sec.Footer = footer

		d.sections = append(d.sections, sec)
	}
	return nil
}

// resolveReference picks the sectPr's default-typed reference of the given
// kind and parses the part it points at.
func (d *Document) resolveReference(sectPr *etree.Element, refTag string, rels map[string]string, claimed map[string]bool) (*HeaderFooterPart, error) {
	var chosen *etree.Element
	for _, el := range sectPr.ChildElements() {
		if !isWordEl(el, refTag) {
			continue
		}
		if el.SelectAttrValue("w:type", "") == refTypeDefault {
			chosen = el
			break
		}
		if chosen == nil {
			chosen = el
		}
	}
	if chosen == nil {
		return nil, nil
	}

	rID := chosen.SelectAttrValue("r:id", "")
	target, ok := rels[rID]
	if !ok {
		return nil, &PartError{Part: documentRelsPart, Err: fmt.Errorf("unresolved relationship %q", rID)}
	}

	partName := resolvePartName(target)
	if claimed[partName] {
		return nil, nil
	}
	claimed[partName] = true

	return d.parseHeaderFooterPart(partName)
}

func (d *Document) parseHeaderFooterPart(name string) (*HeaderFooterPart, error) {
	xdoc, err := d.parsePart(name)
	if err != nil {
		return nil, err
	}

	part := &HeaderFooterPart{PartName: name}
	for _, el := range xdoc.Root().ChildElements() {
		switch {
		case isWordEl(el, "p"):
			part.Paragraphs = append(part.Paragraphs, d.addParagraph(&Paragraph{el: el}))
		case isWordEl(el, "sdt"):
			part.SDTs = append(part.SDTs, d.addSDT(&SDT{el: el}))
		}
	}
	return part, nil
}

// loadRelationships parses the main part's relationships file into an
// id → target map for header/footer references.
func (d *Document) loadRelationships() (map[string]string, error) {
	rels := make(map[string]string)
	data, ok := d.raw[documentRelsPart]
	if !ok {
		return rels, nil
	}

	xdoc := etree.NewDocument()
	if err := xdoc.ReadFromBytes(data); err != nil {
		return nil, &PartError{Part: documentRelsPart, Err: err}
	}
	root := xdoc.Root()
	if root == nil {
		return rels, nil
	}
	for _, el := range root.ChildElements() {
		if el.Tag != "Relationship" {
			continue
		}
		relType := el.SelectAttrValue("Type", "")
		if !strings.HasSuffix(relType, "/"+relTypeHeader) && !strings.HasSuffix(relType, "/"+relTypeFooter) {
			continue
		}
		id := el.SelectAttrValue("Id", "")
		target := el.SelectAttrValue("Target", "")
		if id != "" && target != "" {
			rels[id] = target
		}
	}
	return rels, nil
}

// resolvePartName turns a relationship target into an archive part name.
func resolvePartName(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join(wordPartDirectory, target))
}

func (d *Document) addParagraph(p *Paragraph) ElementRef {
	d.paragraphs = append(d.paragraphs, p)
	return ElementRef{Kind: ElemParagraph, Index: len(d.paragraphs) - 1}
}

func (d *Document) addTable(t *Table) ElementRef {
	d.tables = append(d.tables, t)
	return ElementRef{Kind: ElemTable, Index: len(d.tables) - 1}
}

func (d *Document) addSDT(s *SDT) ElementRef {
	d.sdts = append(d.sdts, s)
	return ElementRef{Kind: ElemSDT, Index: len(d.sdts) - 1}
}

// BodyParagraphRefs returns refs of the body's direct paragraphs in document order.
func (d *Document) BodyParagraphRefs() []ElementRef {
	return d.bodyParagraphs
}

// BodyTableRefs returns refs of the body's direct tables in document order.
func (d *Document) BodyTableRefs() []ElementRef {
	return d.bodyTables
}

// Sections returns the document's sections in order.
func (d *Document) Sections() []Section {
	return d.sections
}

// Paragraph resolves a paragraph ref against the arena.
func (d *Document) Paragraph(ref ElementRef) (*Paragraph, bool) {
	if ref.Kind != ElemParagraph || ref.Index < 0 || ref.Index >= len(d.paragraphs) {
		return nil, false
	}
	return d.paragraphs[ref.Index], true
}

// Table resolves a table ref against the arena.
func (d *Document) Table(ref ElementRef) (*Table, bool) {
	if ref.Kind != ElemTable || ref.Index < 0 || ref.Index >= len(d.tables) {
		return nil, false
	}
	return d.tables[ref.Index], true
}

// SDT resolves an SDT ref against the arena.
func (d *Document) SDT(ref ElementRef) (*SDT, bool) {
	if ref.Kind != ElemSDT || ref.Index < 0 || ref.Index >= len(d.sdts) {
		return nil, false
	}
	return d.sdts[ref.Index], true
}

// PartNames returns the archive's part names in original order.
func (d *Document) PartNames() []string {
	names := make([]string, len(d.names))
	copy(names, d.names)
	return names
}

// Save serialises the document to outPath. Parsed parts are re-encoded;
// every other part is copied verbatim. The write goes through a temp file
// in the target directory so a failed save leaves nothing behind.
func (d *Document) Save(outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".docmask-*.tmp")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	tmpName := tmp.Name()

	if err := d.writeArchive(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

func (d *Document) writeArchive(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, name := range d.names {
		data := d.raw[name]
		if xdoc, ok := d.parsed[name]; ok {
			serialised, err := xdoc.WriteToBytes()
			if err != nil {
				return &PartError{Part: name, Err: err}
			}
			data = serialised
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return &PartError{Part: name, Err: err}
		}
		if _, err := fw.Write(data); err != nil {
			return &PartError{Part: name, Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalise archive: %w", err)
	}
	return nil
}

// selectWordChild returns the first direct child with the given
// WordprocessingML tag.
func selectWordChild(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if isWordEl(child, tag) {
			return child
		}
	}
	return nil
}
