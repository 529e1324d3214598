package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// youtubeVideoID extracts a video id from the common YouTube URL shapes, or
// returns "".
func youtubeVideoID(u *url.URL) string {
	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch host {
	case "youtu.be":
		return strings.Trim(strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0], "/")
	case "youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				rest := strings.TrimPrefix(u.Path, prefix)
				return strings.SplitN(rest, "/", 2)[0]
			}
		}
	}
	return ""
}

type timedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Body  string `xml:",chardata"`
	} `xml:"text"`
}

// fetchYouTubeTranscript pulls the English timedtext track for a video.
func fetchYouTubeTranscript(ctx context.Context, client *http.Client, videoID string) (string, error) {
	endpoint := "https://video.google.com/timedtext?lang=en&v=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript fetch returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil || len(tt.Texts) == 0 {
		return "", fmt.Errorf("no transcript available for video %s", videoID)
	}
	parts := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		if text := strings.TrimSpace(html.UnescapeString(t.Body)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
