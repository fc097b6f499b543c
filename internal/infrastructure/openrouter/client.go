// Package openrouter calls an OpenRouter-compatible chat completions API
// to turn a reference photo and a style prompt into a generated image.
package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/portrait-api/internal/domain"
)

const (
	maxErrorBody = 8 << 10
	maxImageSize = 25 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Referer string
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	http       *http.Client
	extractors []extractor
}

func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		http:       &http.Client{},
		extractors: defaultExtractors,
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// Generate sends prompt and the JPEG reference and returns the bytes of the
// first image found in the reply. The whole call, including fetching a
// remote result, is bounded by the configured timeout.
func (c *Client) Generate(ctx context.Context, prompt string, jpeg []byte) ([]byte, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageRef{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)}},
			},
		}},
		Modalities: []string{"image"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if ctx.Err() != nil {
			return nil, transportError(ctx, err)
		}
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: "undecodable response"}
	}

	ref, ok := c.extract(&parsed)
	if !ok {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Err: domain.ErrNoImageReturned}
	}
	return c.materialize(ctx, ref)
}

func (c *Client) extract(r *chatResponse) (string, bool) {
	for _, ex := range c.extractors {
		if ref, ok := ex(r); ok {
			return ref, true
		}
	}
	return "", false
}

// materialize turns an image reference into bytes: data URIs are decoded in
// place, http(s) URLs are fetched.
func (c *Client) materialize(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, &domain.UpstreamError{Body: "invalid image url", Err: domain.ErrNoImageReturned}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: "image fetch failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if len(data) == 0 {
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Err: domain.ErrNoImageReturned}
	}
	return data, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, &domain.UpstreamError{Body: "unsupported data uri", Err: domain.ErrNoImageReturned}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil || len(data) == 0 {
		return nil, &domain.UpstreamError{Body: "invalid base64 image", Err: domain.ErrNoImageReturned}
	}
	return data, nil
}

// transportError classifies a failed round trip. Deadline overruns become
// ErrUpstreamTimeout; everything else is reported as an upstream failure.
func transportError(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &domain.UpstreamError{Err: domain.ErrUpstreamTimeout}
	}
	return &domain.UpstreamError{Body: err.Error()}
}
