package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const mediaPollInterval = 2 * time.Second

// mediaClient talks to the external media-generation provider. Generation
// is asynchronous: submit returns a job id which is long-polled until the
// job finishes, then the artifact is downloaded.
type mediaClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newMediaClient(baseURL, apiKey string) *mediaClient {
	return &mediaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *mediaClient) configured() bool { return c.baseURL != "" && c.apiKey != "" }

type mediaJob struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "pending", "running", "done", "failed"
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c *mediaClient) submit(ctx context.Context, endpoint string, payload map[string]interface{}) (*mediaJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &HTTPStatusError{Status: resp.StatusCode, Snippet: string(body)}
	}
	var job mediaJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("media submit: decode: %w", err)
	}
	return &job, nil
}

// await long-polls the job until it completes or deadline passes.
func (c *mediaClient) await(ctx context.Context, job *mediaJob, deadline time.Duration) (*mediaJob, error) {
	if job.Status == "done" {
		return job, nil
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		if err := sleepCtx(ctx, mediaPollInterval); err != nil {
			return nil, fmt.Errorf("media generation timed out: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/jobs/"+job.ID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("media poll: %w", err)
		}
		var polled mediaJob
		decodeErr := json.NewDecoder(resp.Body).Decode(&polled)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("media poll: decode: %w", decodeErr)
		}
		switch polled.Status {
		case "done":
			return &polled, nil
		case "failed":
			return nil, fmt.Errorf("media generation failed: %s", polled.Error)
		}
	}
}

func (c *mediaClient) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// transcribe posts base64 audio and returns the recognized text.
func (c *mediaClient) transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	job, err := c.submit(ctx, "/speech-to-text", map[string]interface{}{
		"audio":  base64.StdEncoding.EncodeToString(audio),
		"format": format,
	})
	if err != nil {
		return "", err
	}
	done, err := c.await(ctx, job, 5*time.Minute)
	if err != nil {
		return "", err
	}
	if done.URL == "" {
		return "", fmt.Errorf("transcription produced no result")
	}
	text, err := c.download(ctx, done.URL)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// HTTPStatusError is a non-2xx response from the media provider.
type HTTPStatusError struct {
	Status  int
	Snippet string
}

func (e *HTTPStatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Snippet)
}
