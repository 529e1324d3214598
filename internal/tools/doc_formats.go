package tools

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// docContent is the normalized output of a format handler.
type docContent struct {
	Text   string
	Pages  []string            // pdf pages / pptx slides, 1-based order
	Sheets map[string][]string // xlsx: sheet name to rows
	Tables [][]string          // csv rows
	Meta   map[string]interface{}
}

func extractPDF(data []byte) (*docContent, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	n := r.NumPage()
	pages := make([]string, 0, n)
	var all strings.Builder
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		pages = append(pages, text)
		all.WriteString(text)
		all.WriteString("\n")
	}
	return &docContent{
		Text:  strings.TrimSpace(all.String()),
		Pages: pages,
		Meta:  map[string]interface{}{"format": "pdf", "page_count": n},
	}, nil
}

func extractDOCX(data []byte) (*docContent, error) {
	doc, err := zipFile(data, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}
	text := wordprocessingText(doc)
	return &docContent{
		Text: text,
		Meta: map[string]interface{}{"format": "docx", "paragraph_count": strings.Count(text, "\n") + 1},
	}, nil
}

// wordprocessingText pulls text runs out of WordprocessingML, one line per
// paragraph.
func wordprocessingText(doc []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func extractCSV(data []byte) (*docContent, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = strings.Join(row, ", ")
	}
	return &docContent{
		Text:   strings.Join(lines, "\n"),
		Tables: rows,
		Meta:   map[string]interface{}{"format": "csv", "row_count": len(rows)},
	}, nil
}

func extractXLSX(data []byte) (*docContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}

	shared := sharedStrings(zr)
	sheets := make(map[string][]string)
	var names []string
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "xl/worksheets/sheet") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f.Name, "xl/worksheets/"), ".xml")
		sheets[name] = sheetRows(data, shared)
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString("== " + name + " ==\n")
		sb.WriteString(strings.Join(sheets[name], "\n"))
		sb.WriteString("\n")
	}
	return &docContent{
		Text:   strings.TrimSpace(sb.String()),
		Sheets: sheets,
		Meta:   map[string]interface{}{"format": "xlsx", "sheet_count": len(sheets)},
	}, nil
}

func sharedStrings(zr *zip.Reader) []string {
	var strs []string
	for _, f := range zr.File {
		if f.Name != "xl/sharedStrings.xml" {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return nil
		}
		dec := xml.NewDecoder(bytes.NewReader(data))
		var current strings.Builder
		inT, inSI := false, false
		for {
			tok, err := dec.Token()
			if err != nil {
				break
			}
			switch el := tok.(type) {
			case xml.StartElement:
				switch el.Name.Local {
				case "si":
					inSI = true
					current.Reset()
				case "t":
					inT = true
				}
			case xml.EndElement:
				switch el.Name.Local {
				case "si":
					inSI = false
					strs = append(strs, current.String())
				case "t":
					inT = false
				}
			case xml.CharData:
				if inSI && inT {
					current.Write(el)
				}
			}
		}
	}
	return strs
}

// sheetRows flattens SpreadsheetML rows to comma-joined cell values.
func sheetRows(data []byte, shared []string) []string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var rows []string
	var cells []string
	var cellType string
	inV := false
	var value strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "row":
				cells = nil
			case "c":
				cellType = ""
				for _, attr := range el.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v":
				inV = true
				value.Reset()
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "v":
				inV = false
				v := value.String()
				if cellType == "s" {
					if idx, err := strconv.Atoi(v); err == nil && idx >= 0 && idx < len(shared) {
						v = shared[idx]
					}
				}
				cells = append(cells, v)
			case "row":
				rows = append(rows, strings.Join(cells, ", "))
			}
		case xml.CharData:
			if inV {
				value.Write(el)
			}
		}
	}
	return rows
}

func extractPPTX(data []byte) (*docContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pptx: %w", err)
	}
	type slide struct {
		index int
		text  string
	}
	var slides []slide
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(f.Name, "ppt/slides/slide"), ".xml")
		idx, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			continue
		}
		slides = append(slides, slide{index: idx, text: drawingText(data)})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].index < slides[j].index })

	pages := make([]string, len(slides))
	var sb strings.Builder
	for i, s := range slides {
		pages[i] = s.text
		sb.WriteString(fmt.Sprintf("== Slide %d ==\n%s\n", s.index, s.text))
	}
	return &docContent{
		Text:  strings.TrimSpace(sb.String()),
		Pages: pages,
		Meta:  map[string]interface{}{"format": "pptx", "slide_count": len(slides)},
	}, nil
}

// drawingText collects DrawingML a:t runs, one line per paragraph.
func drawingText(data []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var sb strings.Builder
	inT := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inT = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inT = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inT {
				sb.Write(el)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func zipFile(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name == name {
			return readZipEntry(f)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
