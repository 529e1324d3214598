package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// WriteDocTool writes a document through a format handler. Plain text,
// markdown, csv and docx are supported; binary read-only formats (pdf,
// xlsx, pptx) are rejected.
type WriteDocTool struct {
	router *execctx.Router
}

func NewWriteDocTool(router *execctx.Router) *WriteDocTool {
	return &WriteDocTool{router: router}
}

func (t *WriteDocTool) Name() string { return "write_doc" }

func (t *WriteDocTool) Description() string {
	return "Write content to a document (txt, md, csv, docx)."
}

func (t *WriteDocTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath": map[string]interface{}{"type": "string"},
			"content":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"filePath", "content"},
	}
}

func (t *WriteDocTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	filePath, _ := args["filePath"].(string)
	content, _ := args["content"].(string)
	fs, p, fail := resolveFS(t.router, filePath)
	if fail != nil {
		return fail
	}

	data, err := encodeDoc(filepath.Ext(p), content)
	if err != nil {
		return FailErr(protocol.ErrInvalidArgument, "write_doc", err)
	}
	if err := fs.Write(ctx, p, data); err != nil {
		return fsFail("write_doc", err)
	}
	return Ok(map[string]interface{}{"file_path": filePath, "bytes_written": len(data)})
}

func encodeDoc(ext, content string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".txt", ".md", "":
		return []byte(content), nil
	case ".csv":
		return encodeCSV(content)
	case ".docx":
		return encodeDOCX(content)
	case ".pdf", ".xlsx", ".pptx":
		return nil, fmt.Errorf("writing %s documents is not supported", ext)
	}
	return nil, fmt.Errorf("unsupported document extension %q", ext)
}

// encodeCSV normalizes line-based "a, b, c" content into proper CSV quoting.
func encodeCSV(content string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if err := w.Write(fields); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// encodeDOCX builds a minimal WordprocessingML package, one paragraph per
// input line.
func encodeDOCX(content string) ([]byte, error) {
	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	doc.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, line := range strings.Split(content, "\n") {
		var escaped bytes.Buffer
		if err := xml.EscapeText(&escaped, []byte(line)); err != nil {
			return nil, err
		}
		doc.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		doc.Write(escaped.Bytes())
		doc.WriteString(`</w:t></w:r></w:p>`)
	}
	doc.WriteString(`</w:body></w:document>`)

	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
			`<Default Extension="xml" ContentType="application/xml"/>` +
			`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
			`</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
			`</Relationships>`,
		"word/document.xml": doc.String(),
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
