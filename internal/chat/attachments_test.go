package chat

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/icotes/agenthub/pkg/protocol"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"my file (1).png", "my_file__1_.png"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKindForMime(t *testing.T) {
	if kindForMime("image/png") != protocol.AttachImages {
		t.Error("png not an image")
	}
	if kindForMime("audio/mpeg") != protocol.AttachAudio {
		t.Error("mpeg not audio")
	}
	if kindForMime("application/pdf") != protocol.AttachFiles {
		t.Error("pdf not a file")
	}
}

func TestSaveWritesUnderMediaDir(t *testing.T) {
	ws := t.TempDir()
	store := NewMediaStore(ws, 5, 10)

	att, err := store.Save("notes.txt", "text/plain", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if att.Kind != protocol.AttachFiles {
		t.Errorf("kind = %s", att.Kind)
	}
	if !strings.Contains(att.RelativePath, ".icotes/media/files/") {
		t.Errorf("relative path = %q", att.RelativePath)
	}
	if !strings.HasSuffix(att.RelativePath, "_notes.txt") {
		t.Errorf("filename not preserved: %q", att.RelativePath)
	}
	data, err := os.ReadFile(att.AbsolutePath)
	if err != nil || string(data) != "hello" {
		t.Errorf("stored content = %q, err %v", data, err)
	}
	if att.URL != "/api/media/file/"+att.ID {
		t.Errorf("url = %q", att.URL)
	}
}

func TestSaveDownscalesOversizedImage(t *testing.T) {
	ws := t.TempDir()
	// 0 MB cap forces the downscale path for any image.
	store := NewMediaStore(ws, 5, 10)
	store.maxImageMB = 0
	store.maxImages = 5

	img := image.NewRGBA(image.Rect(0, 0, 4000, 3000))
	for x := 0; x < 4000; x += 100 {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}

	att, err := store.Save("big.png", "image/png", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if att.MimeType != "image/jpeg" {
		t.Errorf("mime after downscale = %q", att.MimeType)
	}
	stored, err := os.Open(att.AbsolutePath)
	if err != nil {
		t.Fatal(err)
	}
	defer stored.Close()
	decoded, err := imaging.Decode(stored)
	if err != nil {
		t.Fatal(err)
	}
	b := decoded.Bounds()
	if b.Dx() > downscaleMaxPixels || b.Dy() > downscaleMaxPixels {
		t.Errorf("downscaled image is %dx%d", b.Dx(), b.Dy())
	}
}

func TestNormalizeCapsImages(t *testing.T) {
	store := NewMediaStore(t.TempDir(), 2, 10)
	atts := []protocol.Attachment{
		{ID: "1", MimeType: "image/png"},
		{ID: "2", MimeType: "image/png"},
		{ID: "3", MimeType: "image/png"},
		{ID: "4", MimeType: "application/pdf"},
	}
	got := store.Normalize(atts)
	if len(got) != 3 {
		t.Fatalf("normalized = %+v", got)
	}
	images := 0
	for _, a := range got {
		if a.Kind == protocol.AttachImages {
			images++
		}
		if a.URL == "" {
			t.Errorf("attachment %s missing url", a.ID)
		}
	}
	if images != 2 {
		t.Errorf("kept %d images, want 2", images)
	}
}
