package openrouter

import (
	"encoding/json"
	"regexp"
	"strings"
)

type chatResponse struct {
	Choices []struct {
		Message responseMessage `json:"message"`
	} `json:"choices"`
}

type responseMessage struct {
	Content json.RawMessage `json:"content"`
	Images  []contentPart   `json:"images"`
}

// parts returns the message content as parts. A plain string content is
// returned as a single text part.
func (m *responseMessage) parts() []contentPart {
	if len(m.Content) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []contentPart{{Type: "text", Text: s}}
	}
	var ps []contentPart
	if err := json.Unmarshal(m.Content, &ps); err == nil {
		return ps
	}
	return nil
}

func (m *responseMessage) text() string {
	var b strings.Builder
	for _, p := range m.parts() {
		if p.Type == "text" || p.Text != "" {
			b.WriteString(p.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// An extractor finds an image reference (URL or data URI) in a reply.
type extractor func(*chatResponse) (string, bool)

// Tried in order; the first hit wins.
var defaultExtractors = []extractor{
	structuredImage,
	markdownImage,
	bareURL,
}

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\(\s*(\S+?)\s*\)`)
	bareURLRe       = regexp.MustCompile(`data:image/[A-Za-z0-9.+-]+;base64,[A-Za-z0-9+/=]+|https?://[^\s"'<>()\[\]]+`)
)

func structuredImage(r *chatResponse) (string, bool) {
	for _, ch := range r.Choices {
		for _, img := range ch.Message.Images {
			if img.ImageURL != nil && img.ImageURL.URL != "" {
				return img.ImageURL.URL, true
			}
		}
		for _, p := range ch.Message.parts() {
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				return p.ImageURL.URL, true
			}
		}
	}
	return "", false
}

func markdownImage(r *chatResponse) (string, bool) {
	for _, ch := range r.Choices {
		if m := markdownImageRe.FindStringSubmatch(ch.Message.text()); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func bareURL(r *chatResponse) (string, bool) {
	for _, ch := range r.Choices {
		if m := bareURLRe.FindString(ch.Message.text()); m != "" {
			return strings.TrimRight(m, ".,;:!?"), true
		}
	}
	return "", false
}
