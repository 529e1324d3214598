package providers

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// ImageResolver turns image attachments into URLs usable in multimodal
// prompt parts. Resolution order per attachment:
//
//  1. bytes under the media base directory, embedded as a data URL
//  2. an absolute path, sandboxed under the workspace root, embedded
//  3. the gateway media endpoint, referencing the attachment by id
//
// Attachments with an "explorer-" id prefix are workspace files rather than
// media-store entries, so step 1 is skipped for them.
type ImageResolver struct {
	MediaDir      string
	WorkspaceRoot string
}

func (r *ImageResolver) Resolve(att protocol.Attachment) string {
	if !strings.HasPrefix(att.ID, "explorer-") {
		if url := r.fromMediaDir(att); url != "" {
			return url
		}
	}
	if url := r.fromWorkspace(att); url != "" {
		return url
	}
	return "/api/media/file/" + att.ID
}

func (r *ImageResolver) fromMediaDir(att protocol.Attachment) string {
	if r.MediaDir == "" || att.RelativePath == "" {
		return ""
	}
	full := filepath.Join(r.MediaDir, filepath.FromSlash(att.RelativePath))
	clean := filepath.Clean(full)
	base := filepath.Clean(r.MediaDir)
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		slog.Warn("image attachment escapes media dir", "id", att.ID, "path", att.RelativePath)
		return ""
	}
	return r.embed(clean, att.MimeType)
}

func (r *ImageResolver) fromWorkspace(att protocol.Attachment) string {
	if r.WorkspaceRoot == "" {
		return ""
	}
	p := att.AbsolutePath
	if p == "" && strings.HasPrefix(att.ID, "explorer-") {
		p = att.RelativePath
	}
	if p == "" {
		return ""
	}
	resolved, err := execctx.ResolveWithinWorkspace(p, r.WorkspaceRoot)
	if err != nil {
		slog.Warn("image attachment escapes workspace", "id", att.ID, "path", p)
		return ""
	}
	return r.embed(resolved, att.MimeType)
}

func (r *ImageResolver) embed(path, mimeType string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
