package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/portrait-api/internal/pkg/phone"
)

const maxErrorBody = 4 << 10

// ImageSender delivers an image link over WhatsApp.
type ImageSender interface {
	SendImage(ctx context.Context, to, imageURL string) error
}

type sender struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// NewSender returns nil when apiURL or apiKey is empty.
func NewSender(apiURL, apiKey string, timeout time.Duration) ImageSender {
	if apiURL == "" || apiKey == "" {
		return nil
	}
	return &sender{apiURL: apiURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
	ImageURL    string `json:"image_url"`
}

// SendImage posts the image URL to the gateway. The number is sent as bare
// digits including the country code.
func (s *sender) SendImage(ctx context.Context, to, imageURL string) error {
	body, err := json.Marshal(sendRequest{PhoneNumber: phone.Digits(to), ImageURL: imageURL})
	if err != nil {
		return fmt.Errorf("marshal whatsapp request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
