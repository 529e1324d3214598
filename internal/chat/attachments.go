package chat

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/icotes/agenthub/pkg/protocol"
)

// MediaSubdir is the workspace-relative attachment root, shared with the
// image resolver wiring.
const MediaSubdir = ".icotes/media"

const downscaleMaxPixels = 2048

// MediaStore writes uploaded attachments under the workspace media
// directory and normalizes attachment records for persistence.
type MediaStore struct {
	root       string // <workspace>/.icotes/media
	maxImages  int
	maxImageMB int
}

func NewMediaStore(workspaceRoot string, maxImages, maxImageMB int) *MediaStore {
	if maxImages <= 0 {
		maxImages = 5
	}
	if maxImageMB <= 0 {
		maxImageMB = 10
	}
	return &MediaStore{
		root:       filepath.Join(workspaceRoot, MediaSubdir),
		maxImages:  maxImages,
		maxImageMB: maxImageMB,
	}
}

// Dir returns the media root, used by adapters resolving attachment paths.
func (m *MediaStore) Dir() string { return m.root }

func kindForMime(mime string) protocol.AttachmentKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return protocol.AttachImages
	case strings.HasPrefix(mime, "audio/"):
		return protocol.AttachAudio
	default:
		return protocol.AttachFiles
	}
}

// sanitizeFilename keeps a filesystem-safe basename.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// Save stores one uploaded attachment, downscaling oversized images, and
// returns the normalized record.
func (m *MediaStore) Save(filename, mime string, data []byte) (protocol.Attachment, error) {
	kind := kindForMime(mime)
	if kind == protocol.AttachImages && len(data) > m.maxImageMB*1024*1024 {
		scaled, err := downscaleImage(data)
		if err != nil {
			return protocol.Attachment{}, fmt.Errorf("downscale %s: %w", filename, err)
		}
		data = scaled
		mime = "image/jpeg"
	}

	id := uuid.NewString()
	rel := filepath.Join(MediaSubdir, string(kind), id+"_"+sanitizeFilename(filename))
	abs := filepath.Join(m.root, string(kind), id+"_"+sanitizeFilename(filename))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return protocol.Attachment{}, fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return protocol.Attachment{}, fmt.Errorf("write attachment: %w", err)
	}

	return protocol.Attachment{
		ID:           id,
		Filename:     filename,
		MimeType:     mime,
		SizeBytes:    int64(len(data)),
		RelativePath: rel,
		AbsolutePath: abs,
		Kind:         kind,
		URL:          "/api/media/file/" + id,
	}, nil
}

// downscaleImage re-encodes an image bounded to downscaleMaxPixels on its
// longest side.
func downscaleImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	fitted := imaging.Fit(img, downscaleMaxPixels, downscaleMaxPixels, imaging.Lanczos)
	var out bytes.Buffer
	if err := imaging.Encode(&out, fitted, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Normalize fills derived attachment fields and enforces the image count
// cap, keeping the first maxImages images.
func (m *MediaStore) Normalize(atts []protocol.Attachment) []protocol.Attachment {
	out := make([]protocol.Attachment, 0, len(atts))
	images := 0
	for _, a := range atts {
		if a.Kind == "" {
			a.Kind = kindForMime(a.MimeType)
		}
		if a.Kind == protocol.AttachImages {
			if images >= m.maxImages {
				continue
			}
			images++
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.URL == "" {
			a.URL = "/api/media/file/" + a.ID
		}
		out = append(out, a)
	}
	return out
}
