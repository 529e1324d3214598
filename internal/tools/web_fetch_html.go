package tools

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Selectors stripped before conversion: non-content chrome plus ad-shaped
// containers.
var strippedSelectors = []string{
	"script", "style", "nav", "footer", "header", "aside", "noscript", "iframe",
	"[class*=advert]", "[id*=advert]", "[class*=banner]", "[class*=cookie]",
	"[class*=popup]", "[class*=sidebar]", "[class*=social-share]",
}

type headingEntry struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

type pageContent struct {
	Markdown string
	Text     string
	Headings []headingEntry
	Links    []string
	Images   []string
	Title    string
}

// renderHTML cleans a fetched document and extracts every representation
// the tool can be asked for.
func renderHTML(rawHTML string) (*pageContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	for _, sel := range strippedSelectors {
		doc.Find(sel).Remove()
	}

	var headings []headingEntry
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		headings = append(headings, headingEntry{Level: int(s.Nodes[0].Data[1] - '0'), Text: text})
	})

	var links, images []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "http") {
			links = append(links, href)
		}
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			images = append(images, src)
		}
	})

	cleaned, err := doc.Html()
	if err != nil {
		return nil, err
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(cleaned)
	if err != nil {
		return nil, err
	}

	return &pageContent{
		Markdown: strings.TrimSpace(markdown),
		Text:     normalizeWhitespace(doc.Text()),
		Headings: headings,
		Links:    links,
		Images:   images,
		Title:    title,
	}, nil
}

// extractSection returns the markdown between the heading matching name
// (case-insensitive substring) and the next heading of the same or higher
// level. Empty string when no heading matches.
func extractSection(markdown, name string) string {
	lines := strings.Split(markdown, "\n")
	target := strings.ToLower(name)
	start, level := -1, 0
	for i, line := range lines {
		l := headingLevel(line)
		if l == 0 {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "# ")))
		if start == -1 && strings.Contains(text, target) {
			start, level = i, l
			continue
		}
		if start != -1 && l <= level {
			return strings.TrimSpace(strings.Join(lines[start:i], "\n"))
		}
	}
	if start == -1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

func normalizeWhitespace(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// truncateAtWord cuts s to at most max bytes, backing up to the previous
// word boundary when one exists nearby.
func truncateAtWord(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := s[:max]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t"), true
}
