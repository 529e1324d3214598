package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/icotes/agenthub/internal/execctx"
	"github.com/icotes/agenthub/pkg/protocol"
)

// mediaToolSpec describes one generation tool. The family shares the
// submit / long-poll / download / write pipeline and differs only in
// endpoint, inputs and output placement.
type mediaToolSpec struct {
	toolName    string
	description string
	endpoint    string
	outputDir   string // workspace-relative ("sounds", "videos", "images")
	ext         string
	deadline    time.Duration
	inputs      map[string]interface{}
	required    []string
	verifyImage bool
}

var mediaToolSpecs = []mediaToolSpec{
	{
		toolName:    "text_to_speech",
		description: "Generate spoken audio from text.",
		endpoint:    "/text-to-speech",
		outputDir:   "sounds",
		ext:         "mp3",
		deadline:    5 * time.Minute,
		inputs: map[string]interface{}{
			"text":  map[string]interface{}{"type": "string"},
			"voice": map[string]interface{}{"type": "string"},
		},
		required: []string{"text"},
	},
	{
		toolName:    "text_to_sound_effects",
		description: "Generate a sound effect from a description.",
		endpoint:    "/sound-effects",
		outputDir:   "sounds",
		ext:         "mp3",
		deadline:    5 * time.Minute,
		inputs: map[string]interface{}{
			"text":             map[string]interface{}{"type": "string"},
			"duration_seconds": map[string]interface{}{"type": "number", "minimum": 0.5, "maximum": 30.0},
		},
		required: []string{"text"},
	},
	{
		toolName:    "text_to_music",
		description: "Generate music from a description.",
		endpoint:    "/music",
		outputDir:   "sounds",
		ext:         "mp3",
		deadline:    10 * time.Minute,
		inputs: map[string]interface{}{
			"text":             map[string]interface{}{"type": "string"},
			"duration_seconds": map[string]interface{}{"type": "number", "minimum": 5.0, "maximum": 300.0},
		},
		required: []string{"text"},
	},
	{
		toolName:    "generate_image",
		description: "Generate an image from a prompt.",
		endpoint:    "/images",
		outputDir:   "images",
		ext:         "png",
		deadline:    5 * time.Minute,
		inputs: map[string]interface{}{
			"prompt": map[string]interface{}{"type": "string"},
			"size":   map[string]interface{}{"type": "string"},
		},
		required:    []string{"prompt"},
		verifyImage: true,
	},
	{
		toolName:    "text_to_video",
		description: "Generate a video clip from a prompt.",
		endpoint:    "/videos/text",
		outputDir:   "videos",
		ext:         "mp4",
		deadline:    10 * time.Minute,
		inputs: map[string]interface{}{
			"prompt": map[string]interface{}{"type": "string"},
		},
		required: []string{"prompt"},
	},
	{
		toolName:    "image_to_video",
		description: "Animate an existing image into a video clip.",
		endpoint:    "/videos/image",
		outputDir:   "videos",
		ext:         "mp4",
		deadline:    10 * time.Minute,
		inputs: map[string]interface{}{
			"imagePath": map[string]interface{}{"type": "string"},
			"prompt":    map[string]interface{}{"type": "string"},
		},
		required: []string{"imagePath"},
	},
	{
		toolName:    "video_to_video_with_sound",
		description: "Add a generated soundtrack to an existing video.",
		endpoint:    "/videos/sound",
		outputDir:   "videos",
		ext:         "mp4",
		deadline:    10 * time.Minute,
		inputs: map[string]interface{}{
			"videoPath": map[string]interface{}{"type": "string"},
			"prompt":    map[string]interface{}{"type": "string"},
		},
		required: []string{"videoPath"},
	},
}

// MediaTool runs one generation pipeline against the media provider.
type MediaTool struct {
	spec   mediaToolSpec
	client *mediaClient
	router *execctx.Router
}

// NewMediaTools builds the generation family plus speech_to_text.
func NewMediaTools(baseURL, apiKey string, router *execctx.Router) []Tool {
	client := newMediaClient(baseURL, apiKey)
	tools := make([]Tool, 0, len(mediaToolSpecs)+1)
	for _, spec := range mediaToolSpecs {
		tools = append(tools, &MediaTool{spec: spec, client: client, router: router})
	}
	tools = append(tools, &SpeechToTextTool{client: client, router: router})
	return tools
}

func (t *MediaTool) Name() string        { return t.spec.toolName }
func (t *MediaTool) Description() string { return t.spec.description }

func (t *MediaTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": t.spec.inputs,
		"required":   t.spec.required,
	}
}

func (t *MediaTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if !t.client.configured() {
		return Fail(protocol.ErrUnauthorized, "media provider is not configured")
	}

	payload := make(map[string]interface{}, len(args))
	for key := range t.spec.inputs {
		if v, ok := args[key]; ok {
			payload[key] = v
		}
	}
	// File inputs are read through the router and inlined.
	for _, key := range []string{"imagePath", "videoPath"} {
		raw, ok := payload[key].(string)
		if !ok {
			continue
		}
		fs, p, fail := resolveFS(t.router, raw)
		if fail != nil {
			return fail
		}
		data, err := fs.ReadBinary(ctx, p)
		if err != nil {
			return fsFail(t.spec.toolName, err)
		}
		delete(payload, key)
		payload[key[:len(key)-4]] = base64.StdEncoding.EncodeToString(data)
	}

	job, err := t.client.submit(ctx, t.spec.endpoint, payload)
	if err != nil {
		return mediaFail(t.spec.toolName, err)
	}
	done, err := t.client.await(ctx, job, t.spec.deadline)
	if err != nil {
		if ctx.Err() != nil {
			return Fail(protocol.ErrTimeout, "%s timed out", t.spec.toolName)
		}
		return mediaFail(t.spec.toolName, err)
	}
	data, err := t.client.download(ctx, done.URL)
	if err != nil {
		return mediaFail(t.spec.toolName, err)
	}

	if t.spec.verifyImage {
		if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
			return Fail(protocol.ErrExternal, "%s returned an unreadable image", t.spec.toolName)
		}
	}

	relPath := path.Join(t.spec.outputDir, fmt.Sprintf("%s.%s", uuid.NewString(), t.spec.ext))
	fs := t.router.GetFilesystem()
	if err := fs.CreateDirectory(ctx, t.spec.outputDir); err != nil {
		return fsFail(t.spec.toolName, err)
	}
	if err := fs.Write(ctx, relPath, data); err != nil {
		return fsFail(t.spec.toolName, err)
	}

	return Ok(map[string]interface{}{
		"file_path":     relPath,
		"absolute_path": path.Join(t.router.WorkspaceRoot(), relPath),
		"metadata": map[string]interface{}{
			"tool":       t.spec.toolName,
			"size_bytes": len(data),
			"job_id":     job.ID,
		},
	})
}

// SpeechToTextTool transcribes an audio file; it writes nothing.
type SpeechToTextTool struct {
	client *mediaClient
	router *execctx.Router
}

func (t *SpeechToTextTool) Name() string        { return "speech_to_text" }
func (t *SpeechToTextTool) Description() string { return "Transcribe an audio file to text." }

func (t *SpeechToTextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"audioPath": map[string]interface{}{"type": "string"},
		},
		"required": []string{"audioPath"},
	}
}

func (t *SpeechToTextTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if !t.client.configured() {
		return Fail(protocol.ErrUnauthorized, "media provider is not configured")
	}
	audioPath, _ := args["audioPath"].(string)
	fs, p, fail := resolveFS(t.router, audioPath)
	if fail != nil {
		return fail
	}
	data, err := fs.ReadBinary(ctx, p)
	if err != nil {
		return fsFail("speech_to_text", err)
	}
	text, err := t.client.transcribe(ctx, data, path.Ext(p))
	if err != nil {
		return mediaFail("speech_to_text", err)
	}
	return Ok(map[string]interface{}{"text": text, "audio_path": audioPath})
}

// mediaFail maps provider failures onto the error taxonomy without leaking
// response bodies.
func mediaFail(tool string, err error) *Result {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == 401 || statusErr.Status == 403:
			return Fail(protocol.ErrUnauthorized, "%s: media provider rejected credentials", tool)
		case statusErr.Status == 429:
			return Fail(protocol.ErrRateLimited, "%s: media provider rate limit", tool)
		}
		return Fail(protocol.ErrExternal, "%s: media provider returned HTTP %d", tool, statusErr.Status)
	}
	return FailErr(protocol.ErrExternal, tool, err)
}
