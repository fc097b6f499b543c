package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/portrait-api/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// Generation is the public view of a record; object keys stay server side.
type Generation struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	Organization  string    `json:"organization,omitempty"`
	District      string    `json:"district,omitempty"`
	Category      string    `json:"category,omitempty"`
	PromptVariant string    `json:"prompt_variant,omitempty"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

func toGeneration(rec *domain.GenerationRecord) *Generation {
	if rec == nil {
		return nil
	}
	return &Generation{
		ID:            rec.RecordID,
		Name:          rec.Name,
		Phone:         rec.Phone,
		Email:         rec.Email,
		Organization:  rec.Organization,
		District:      rec.District,
		Category:      rec.Category,
		PromptVariant: rec.PromptVariant,
		Created:       rec.CreatedAt,
		Updated:       rec.UpdatedAt,
	}
}

// GenerationEnvelope wraps pipeline and status responses.
type GenerationEnvelope struct {
	Status        string      `json:"status"`
	Generation    *Generation `json:"generation,omitempty"`
	FinalImageURL string      `json:"final_image_url,omitempty"`
	DownloadURL   string      `json:"download_url,omitempty"`
	RawImageURL   string      `json:"raw_ai_image_url,omitempty"`
	Composited    *bool       `json:"composited,omitempty"`
	Message       string      `json:"message,omitempty"`
}

const (
	statusReady   = "ready"
	statusPending = "pending"
)

// GrantEnvelope wraps a successful code verification.
type GrantEnvelope struct {
	Grant    string `json:"grant"`
	RecordID string `json:"user_id"`
	Message  string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// noStore marks a response as uncacheable; status reads change as the
// pipeline progresses.
func noStore(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Surrogate-Control", "no-store")
}
