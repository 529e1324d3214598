package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/icotes/agenthub/pkg/protocol"
)

const (
	fetchDefaultMaxLength = 50000
	fetchHardMaxLength    = 200000
	fetchDefaultTimeout   = 30
	fetchHardMaxTimeout   = 60
	fetchMaxRedirects     = 3
	fetchUserAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// WebFetchTool fetches a URL and renders it as markdown, text or a
// structured heading outline. YouTube URLs short-circuit to transcript
// extraction.
type WebFetchTool struct {
	cache    *fetchCache
	limiter  *hostLimiter
	maxChars int
}

func NewWebFetchTool(maxLength int) *WebFetchTool {
	if maxLength <= 0 || maxLength > fetchHardMaxLength {
		maxLength = fetchDefaultMaxLength
	}
	return &WebFetchTool{
		cache:    newFetchCache(),
		limiter:  newHostLimiter(),
		maxChars: maxLength,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page and extract its content as markdown, plain text or a structured outline. Handles YouTube transcripts."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string"},
			"format": map[string]interface{}{
				"type": "string",
				"enum": []string{"markdown", "text", "structured"},
			},
			"section": map[string]interface{}{
				"type":        "string",
				"description": "Return only the section under the heading matching this name.",
			},
			"extract_links":  map[string]interface{}{"type": "boolean"},
			"extract_images": map[string]interface{}{"type": "boolean"},
			"max_length": map[string]interface{}{
				"type":    "integer",
				"minimum": 100.0,
				"maximum": float64(fetchHardMaxLength),
			},
			"timeout": map[string]interface{}{
				"type":    "integer",
				"minimum": 1.0,
				"maximum": float64(fetchHardMaxTimeout),
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return FailErr(protocol.ErrInvalidArgument, "invalid url", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Fail(protocol.ErrInvalidArgument, "only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return Fail(protocol.ErrInvalidArgument, "missing hostname in url")
	}

	format, _ := args["format"].(string)
	if format == "" {
		format = "markdown"
	}
	section, _ := args["section"].(string)
	maxLength, ok := intArg(args, "max_length")
	if !ok || maxLength <= 0 {
		maxLength = t.maxChars
	}
	if maxLength > fetchHardMaxLength {
		maxLength = fetchHardMaxLength
	}
	timeout, ok := intArg(args, "timeout")
	if !ok || timeout <= 0 {
		timeout = fetchDefaultTimeout
	}
	if timeout > fetchHardMaxTimeout {
		timeout = fetchHardMaxTimeout
	}

	key := cacheKey(rawURL, format, section)
	if data, hit := t.cache.get(key); hit {
		slog.Debug("web_fetch cache hit", "url", rawURL)
		return Ok(withCacheFlag(data, true))
	}

	if err := checkSSRF(parsed.Host); err != nil {
		return FailErr(protocol.ErrInvalidArgument, "blocked url", err)
	}
	if !t.limiter.allow(parsed.Hostname()) {
		return Fail(protocol.ErrRateLimited, "rate limit exceeded for host %s", parsed.Hostname())
	}

	client := t.client(time.Duration(timeout) * time.Second)

	// YouTube passthrough: no HTML parsing.
	if videoID := youtubeVideoID(parsed); videoID != "" {
		transcript, err := fetchYouTubeTranscript(ctx, client, videoID)
		if err != nil {
			return FailErr(protocol.ErrExternal, "youtube transcript", err)
		}
		transcript, truncated := truncateAtWord(transcript, maxLength)
		data := map[string]interface{}{
			"content": transcript,
			"metadata": map[string]interface{}{
				"type":      "youtube_transcript",
				"video_id":  videoID,
				"url":       rawURL,
				"truncated": truncated,
			},
		}
		t.cache.set(key, data)
		return Ok(withCacheFlag(data, false))
	}

	body, contentType, finalURL, fetchErr := t.fetchWithRetry(ctx, client, rawURL)
	if fetchErr != nil {
		var httpErr *fetchHTTPError
		if errors.As(fetchErr, &httpErr) {
			return Fail(protocol.ErrExternal, "fetch failed: HTTP %d", httpErr.status)
		}
		if ctx.Err() != nil {
			return Fail(protocol.ErrTimeout, "fetch timed out")
		}
		return FailErr(protocol.ErrExternal, "fetch failed", fetchErr)
	}

	data, renderErr := t.render(body, contentType, format, section, maxLength, finalURL)
	if renderErr != nil {
		return FailErr(protocol.ErrInternal, "render failed", renderErr)
	}
	if extractLinks, _ := args["extract_links"].(bool); !extractLinks {
		delete(data, "links")
	}
	if extractImages, _ := args["extract_images"].(bool); !extractImages {
		delete(data, "images")
	}
	t.cache.set(key, data)
	return Ok(withCacheFlag(data, false))
}

func (t *WebFetchTool) client(timeout time.Duration) *http.Client {
	redirects := 0
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			return checkSSRF(req.URL.Host)
		},
	}
}

type fetchHTTPError struct {
	status int
}

func (e *fetchHTTPError) Error() string { return fmt.Sprintf("HTTP %d", e.status) }

// fetchWithRetry attempts the GET up to fetchMaxAttempts times with
// exponential backoff. 4xx responses are terminal; transport errors and 5xx
// are retried.
func (t *WebFetchTool) fetchWithRetry(ctx context.Context, client *http.Client, rawURL string) (body []byte, contentType, finalURL string, err error) {
	for attempt := 1; attempt <= fetchMaxAttempts; attempt++ {
		body, contentType, finalURL, err = t.fetchOnce(ctx, client, rawURL)
		if err == nil {
			return body, contentType, finalURL, nil
		}
		var httpErr *fetchHTTPError
		if errors.As(err, &httpErr) && httpErr.status >= 400 && httpErr.status < 500 {
			return nil, "", "", err
		}
		if attempt < fetchMaxAttempts {
			slog.Debug("web_fetch retrying", "url", rawURL, "attempt", attempt, "error", err)
			if sleepErr := sleepCtx(ctx, retryDelay(attempt)); sleepErr != nil {
				return nil, "", "", sleepErr
			}
		}
	}
	return nil, "", "", err
}

func (t *WebFetchTool) fetchOnce(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, "", "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", "", &fetchHTTPError{status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(fetchHardMaxLength*4)))
	if err != nil {
		return nil, "", "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), resp.Request.URL.String(), nil
}

func (t *WebFetchTool) render(body []byte, contentType, format, section string, maxLength int, finalURL string) (map[string]interface{}, error) {
	meta := map[string]interface{}{"url": finalURL, "format": format}

	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		content, truncated := truncateAtWord(string(body), maxLength)
		meta["type"] = "raw"
		meta["truncated"] = truncated
		return map[string]interface{}{"content": content, "metadata": meta}, nil
	}

	page, err := renderHTML(string(body))
	if err != nil {
		return nil, err
	}
	meta["type"] = "web_page"
	meta["title"] = page.Title

	content := page.Markdown
	if format == "text" {
		content = page.Text
	}
	if section != "" {
		if extracted := extractSection(page.Markdown, section); extracted != "" {
			content = extracted
			meta["section"] = section
		} else {
			meta["section_not_found"] = section
		}
	}
	content, truncated := truncateAtWord(content, maxLength)
	meta["truncated"] = truncated

	data := map[string]interface{}{
		"content":  content,
		"metadata": meta,
		"links":    page.Links,
		"images":   page.Images,
	}
	if format == "structured" {
		data["structure"] = page.Headings
	}
	return data, nil
}

// withCacheFlag copies data and stamps metadata.cache_hit so cached and
// fresh results stay byte-identical otherwise.
func withCacheFlag(data map[string]interface{}, hit bool) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	meta := make(map[string]interface{})
	if m, ok := data["metadata"].(map[string]interface{}); ok {
		for k, v := range m {
			meta[k] = v
		}
	}
	meta["cache_hit"] = hit
	out["metadata"] = meta
	return out
}
