// Package docxtest builds small in-memory .docx fixtures for tests. The
// builder assembles WordprocessingML parts directly, so tests can shape
// runs, tables, headers and SDT subtrees without binary fixture files.
package docxtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/docmask/docmask/internal/docx"
)

const (
	contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

	nsW = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsR = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

// Doc accumulates fixture content.
type Doc struct {
	body        []string
	headerParas []string
	headerSDTs  []string
	footerParas []string
	footerSDTs  []string
	extraParts  map[string]string
}

// New creates an empty fixture.
func New() *Doc {
	return &Doc{extraParts: map[string]string{}}
}

// Paragraph appends a body paragraph with one run per argument.
func (d *Doc) Paragraph(runs ...string) *Doc {
	d.body = append(d.body, paragraphXML(runs))
	return d
}

// RawBody appends a raw XML fragment to the body, for shapes the helpers
// do not cover.
func (d *Doc) RawBody(xml string) *Doc {
	d.body = append(d.body, xml)
	return d
}

// Table appends a body table; each cell holds a single-run paragraph.
func (d *Doc) Table(rows [][]string) *Doc {
	var sb strings.Builder
	sb.WriteString("<w:tbl>")
	for _, row := range rows {
		sb.WriteString("<w:tr>")
		for _, cell := range row {
			sb.WriteString("<w:tc>")
			sb.WriteString(paragraphXML([]string{cell}))
			sb.WriteString("</w:tc>")
		}
		sb.WriteString("</w:tr>")
	}
	sb.WriteString("</w:tbl>")
	d.body = append(d.body, sb.String())
	return d
}

// HeaderParagraph appends a paragraph to the default header.
func (d *Doc) HeaderParagraph(runs ...string) *Doc {
	d.headerParas = append(d.headerParas, paragraphXML(runs))
	return d
}

// HeaderSDT appends an SDT subtree to the default header, one w:t node per
// argument.
func (d *Doc) HeaderSDT(texts ...string) *Doc {
	d.headerSDTs = append(d.headerSDTs, sdtXML(texts))
	return d
}

// FooterParagraph appends a paragraph to the default footer.
func (d *Doc) FooterParagraph(runs ...string) *Doc {
	d.footerParas = append(d.footerParas, paragraphXML(runs))
	return d
}

// FooterSDT appends an SDT subtree to the default footer.
func (d *Doc) FooterSDT(texts ...string) *Doc {
	d.footerSDTs = append(d.footerSDTs, sdtXML(texts))
	return d
}

// AddPart stores an extra archive part verbatim.
func (d *Doc) AddPart(name, content string) *Doc {
	d.extraParts[name] = content
	return d
}

// Bytes assembles the fixture archive.
func (d *Doc) Bytes(t *testing.T) []byte {
	t.Helper()

	hasHeader := len(d.headerParas) > 0 || len(d.headerSDTs) > 0
	hasFooter := len(d.footerParas) > 0 || len(d.footerSDTs) > 0

	var sectPr string
	var rels []string
	if hasHeader {
		sectPr += `<w:headerReference w:type="default" r:id="rId1"/>`
		rels = append(rels, `<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/header" Target="header1.xml"/>`)
	}
	if hasFooter {
		sectPr += `<w:footerReference w:type="default" r:id="rId2"/>`
		rels = append(rels, `<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/footer" Target="footer1.xml"/>`)
	}

	var body strings.Builder
	for _, frag := range d.body {
		body.WriteString(frag)
	}
	if hasHeader || hasFooter {
		body.WriteString("<w:sectPr>" + sectPr + "</w:sectPr>")
	}

	parts := map[string]string{
		"[Content_Types].xml": contentTypes,
		"word/document.xml": fmt.Sprintf(
			`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
				`<w:document xmlns:w=%q xmlns:r=%q><w:body>%s</w:body></w:document>`,
			nsW, nsR, body.String()),
	}

	if hasHeader || hasFooter {
		parts["word/_rels/document.xml.rels"] = fmt.Sprintf(
			`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
				`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">%s</Relationships>`,
			strings.Join(rels, ""))
	}
	if hasHeader {
		parts["word/header1.xml"] = fmt.Sprintf(
			`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><w:hdr xmlns:w=%q>%s%s</w:hdr>`,
			nsW, strings.Join(d.headerParas, ""), strings.Join(d.headerSDTs, ""))
	}
	if hasFooter {
		parts["word/footer1.xml"] = fmt.Sprintf(
			`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><w:ftr xmlns:w=%q>%s%s</w:ftr>`,
			nsW, strings.Join(d.footerParas, ""), strings.Join(d.footerSDTs, ""))
	}
	for name, content := range d.extraParts {
		parts[name] = content
	}

	// Stable part order keeps fixtures reproducible.
	order := []string{"[Content_Types].xml", "word/_rels/document.xml.rels", "word/document.xml", "word/header1.xml", "word/footer1.xml"}
	var names []string
	for _, n := range order {
		if _, ok := parts[n]; ok {
			names = append(names, n)
		}
	}
	for name := range d.extraParts {
		names = append(names, name)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		fw, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create fixture part %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(parts[name])); err != nil {
			t.Fatalf("write fixture part %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("finalize fixture archive: %v", err)
	}
	return buf.Bytes()
}

// Open parses the fixture through the production reader.
func (d *Doc) Open(t *testing.T) *docx.Document {
	t.Helper()
	data := d.Bytes(t)
	doc, err := docx.OpenReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	return doc
}

// Write stores the fixture archive at path.
func (d *Doc) Write(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, d.Bytes(t), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func paragraphXML(runs []string) string {
	var sb strings.Builder
	sb.WriteString("<w:p>")
	for _, text := range runs {
		sb.WriteString(`<w:r><w:t xml:space="preserve">`)
		sb.WriteString(escape(text))
		sb.WriteString("</w:t></w:r>")
	}
	sb.WriteString("</w:p>")
	return sb.String()
}

func sdtXML(texts []string) string {
	var sb strings.Builder
	sb.WriteString("<w:sdt><w:sdtContent><w:p>")
	for _, text := range texts {
		sb.WriteString(`<w:r><w:t xml:space="preserve">`)
		sb.WriteString(escape(text))
		sb.WriteString("</w:t></w:r>")
	}
	sb.WriteString("</w:p></w:sdtContent></w:sdt>")
	return sb.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
