package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/portrait-api/internal/application/generation"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/transport/http/middleware"
)

// multipart overhead allowed on top of the photo itself.
const formOverhead = 64 << 10

// GenerationHandler serves the portrait pipeline and its read endpoints.
type GenerationHandler struct {
	svc           generation.Service
	maxPhotoBytes int64
}

func NewGenerationHandler(svc generation.Service, maxPhotoBytes int64) *GenerationHandler {
	return &GenerationHandler{svc: svc, maxPhotoBytes: maxPhotoBytes}
}

func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPhotoBytes+formOverhead)
	if err := r.ParseMultipartForm(h.maxPhotoBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "photo too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile("photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "photo is required")
		return
	}
	defer f.Close()
	photo, err := io.ReadAll(io.LimitReader(f, h.maxPhotoBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable photo")
		return
	}
	if int64(len(photo)) > h.maxPhotoBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "photo too large")
		return
	}

	req := domain.GenerateRequest{
		Photo:         photo,
		PhotoType:     mimetype.Detect(photo).String(),
		Name:          formValue(r, "name"),
		Phone:         formValue(r, "phone", "phone_no"),
		Email:         formValue(r, "email"),
		Organization:  formValue(r, "organization", "designation"),
		District:      formValue(r, "district"),
		Category:      formValue(r, "category"),
		PromptVariant: formValue(r, "prompt_type", "prompt_variant"),
		RecordID:      formValue(r, "id"),
		DialCode:      formValue(r, "dial_code"),
	}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		switch claims.Scope {
		case domain.ScopeRegenerate:
			req.RegenerateAllowed = true
			req.RecordID = claims.RecordID
		case domain.ScopeAdmin:
			req.RegenerateAllowed = true
		}
	}

	res, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	composited := res.Composited
	writeJSON(w, http.StatusOK, GenerationEnvelope{
		Status:        statusReady,
		Generation:    toGeneration(res.Record),
		FinalImageURL: res.PreviewURL,
		DownloadURL:   res.DownloadURL,
		RawImageURL:   res.RawPreviewURL,
		Composited:    &composited,
	})
}

func (h *GenerationHandler) Status(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	rec, links, err := h.svc.Status(r.Context(), chi.URLParam(r, "identifier"), r.URL.Query().Get("dial_code"))
	h.writeLinks(w, rec, links, err)
}

func (h *GenerationHandler) ByEmail(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	rec, links, err := h.svc.ByEmail(r.Context(), r.URL.Query().Get("email"))
	h.writeLinks(w, rec, links, err)
}

func (h *GenerationHandler) writeLinks(w http.ResponseWriter, rec *domain.GenerationRecord, links *domain.ArtifactLinks, err error) {
	if errors.Is(err, domain.ErrPending) {
		writeJSON(w, http.StatusAccepted, GenerationEnvelope{
			Status:     statusPending,
			Generation: toGeneration(rec),
			Message:    "image is being generated; retry shortly",
		})
		return
	}
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerationEnvelope{
		Status:        statusReady,
		Generation:    toGeneration(rec),
		FinalImageURL: links.FinalURL,
		DownloadURL:   links.DownloadURL,
		RawImageURL:   links.RawURL,
	})
}

func (h *GenerationHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DialCode == "" {
		req.DialCode = r.URL.Query().Get("dial_code")
	}
	rec, err := h.svc.UpdateDetails(r.Context(), chi.URLParam(r, "identifier"), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerationEnvelope{
		Status:     statusReady,
		Generation: toGeneration(rec),
		Message:    "details updated",
	})
}

// Flush clears the stored result for the email in the body.
func (h *GenerationHandler) Flush(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Flush(r.Context(), body.Email); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "generation flushed"})
}

// formValue returns the first non-empty value among the field and its aliases.
func formValue(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.FormValue(n)); v != "" {
			return v
		}
	}
	return ""
}
