package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

const (
	docDefaultMaxChars = 8000
	docDefaultMaxLines = 500
	docPreviewLines    = 20
)

// ReadDocTool reads office documents, dispatching by extension. Output is
// capped to protect downstream context windows; callers paginate with
// startPage/endPage or startLine/endLine, or ask for a summary.
type ReadDocTool struct {
	router *execctx.Router
}

func NewReadDocTool(router *execctx.Router) *ReadDocTool {
	return &ReadDocTool{router: router}
}

func (t *ReadDocTool) Name() string { return "read_doc" }

func (t *ReadDocTool) Description() string {
	return "Read a document (pdf, docx, xlsx, pptx, csv) as text with pagination and summary support."
}

func (t *ReadDocTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filePath":  map[string]interface{}{"type": "string"},
			"summary":   map[string]interface{}{"type": "boolean", "description": "Return metadata plus head/tail previews only."},
			"startPage": map[string]interface{}{"type": "integer", "minimum": 1.0},
			"endPage":   map[string]interface{}{"type": "integer", "minimum": 1.0},
			"startLine": map[string]interface{}{"type": "integer", "minimum": 1.0},
			"endLine":   map[string]interface{}{"type": "integer", "minimum": 1.0},
			"maxChars":  map[string]interface{}{"type": "integer", "minimum": 100.0},
			"maxLines":  map[string]interface{}{"type": "integer", "minimum": 1.0},
		},
		"required": []string{"filePath"},
	}
}

func (t *ReadDocTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	filePath, _ := args["filePath"].(string)
	fs, p, fail := resolveFS(t.router, filePath)
	if fail != nil {
		return fail
	}
	data, err := fs.ReadBinary(ctx, p)
	if err != nil {
		return fsFail("read_doc", err)
	}

	doc, err := extractDoc(filepath.Ext(p), data)
	if err != nil {
		return FailErr(protocol.ErrInvalidArgument, "read_doc", err)
	}

	out := map[string]interface{}{"metadata": doc.Meta}
	if doc.Tables != nil {
		out["tables"] = doc.Tables
	}
	if doc.Sheets != nil {
		sheetNames := make([]string, 0, len(doc.Sheets))
		for name := range doc.Sheets {
			sheetNames = append(sheetNames, name)
		}
		out["sheets"] = sheetNames
	}
	if len(doc.Pages) > 0 {
		out["pages"] = len(doc.Pages)
	}

	if summary, _ := args["summary"].(bool); summary {
		out["content"] = summarize(doc.Text)
		out["summary"] = true
		return Ok(out)
	}

	text := doc.Text
	if startPage, ok := intArg(args, "startPage"); ok && len(doc.Pages) > 0 {
		endPage, hasEnd := intArg(args, "endPage")
		if !hasEnd || endPage > len(doc.Pages) {
			endPage = len(doc.Pages)
		}
		if startPage > len(doc.Pages) || startPage > endPage {
			return Fail(protocol.ErrInvalidArgument, "page range %d-%d out of bounds (%d pages)", startPage, endPage, len(doc.Pages))
		}
		text = strings.Join(doc.Pages[startPage-1:endPage], "\n")
	}
	if startLine, ok := intArg(args, "startLine"); ok {
		lines := strings.Split(text, "\n")
		endLine, hasEnd := intArg(args, "endLine")
		if !hasEnd || endLine > len(lines) {
			endLine = len(lines)
		}
		if startLine > len(lines) || startLine > endLine {
			return Fail(protocol.ErrInvalidArgument, "line range %d-%d out of bounds (%d lines)", startLine, endLine, len(lines))
		}
		text = strings.Join(lines[startLine-1:endLine], "\n")
	}

	maxChars, ok := intArg(args, "maxChars")
	if !ok || maxChars <= 0 {
		maxChars = docDefaultMaxChars
	}
	maxLines, ok := intArg(args, "maxLines")
	if !ok || maxLines <= 0 {
		maxLines = docDefaultMaxLines
	}

	totalChars := len(text)
	totalLines := strings.Count(text, "\n") + 1
	truncated := false
	if lines := strings.SplitAfterN(text, "\n", maxLines+1); len(lines) > maxLines {
		text = strings.Join(lines[:maxLines], "")
		truncated = true
	}
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	out["content"] = text
	out["truncated"] = truncated
	if truncated {
		out["truncation_info"] = map[string]interface{}{
			"total_chars":    totalChars,
			"total_lines":    totalLines,
			"returned_chars": len(text),
			"hint":           "use startLine/endLine or startPage/endPage to paginate",
		}
	}
	return Ok(out)
}

func extractDoc(ext string, data []byte) (*docContent, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".xlsx":
		return extractXLSX(data)
	case ".pptx":
		return extractPPTX(data)
	case ".csv":
		return extractCSV(data)
	case ".txt", ".md", "":
		return &docContent{Text: string(data), Meta: map[string]interface{}{"format": "text"}}, nil
	}
	return nil, fmt.Errorf("unsupported document extension %q", ext)
}

// summarize returns head and tail previews joined by an ellipsis marker.
func summarize(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= 2*docPreviewLines {
		return text
	}
	head := strings.Join(lines[:docPreviewLines], "\n")
	tail := strings.Join(lines[len(lines)-docPreviewLines:], "\n")
	return fmt.Sprintf("%s\n\n[... %d lines omitted ...]\n\n%s", head, len(lines)-2*docPreviewLines, tail)
}
