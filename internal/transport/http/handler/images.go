package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/portrait-api/internal/domain"
)

type imageSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// ImageHandler streams stored artifacts through the API so clients that
// cannot follow signed storage URLs can still show or save them.
type ImageHandler struct {
	images imageSource
}

func NewImageHandler(images imageSource) *ImageHandler {
	return &ImageHandler{images: images}
}

// Proxy serves GET /v1/images?key=<object key>[&download=true].
func (h *ImageHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httpError(w, domain.ErrBadRequest)
		return
	}
	body, contentType, err := h.images.Open(r.Context(), key)
	if err != nil {
		httpError(w, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	// Keys are never reused, so the bytes behind one never change.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if r.URL.Query().Get("download") == "true" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("image proxy copy interrupted", "key", key, "err", err)
	}
}
