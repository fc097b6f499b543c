package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/portrait-api/internal/domain"
	jwtinfra "github.com/portrait-api/internal/infrastructure/jwt"
	"github.com/portrait-api/internal/transport/http/middleware"
)

// --- mock ---

type mockGenerationSvc struct{ mock.Mock }

func (m *mockGenerationSvc) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*domain.GenerateResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGenerationSvc) Status(ctx context.Context, identifier, dialCode string) (*domain.GenerationRecord, *domain.ArtifactLinks, error) {
	args := m.Called(ctx, identifier, dialCode)
	rec, _ := args.Get(0).(*domain.GenerationRecord)
	links, _ := args.Get(1).(*domain.ArtifactLinks)
	return rec, links, args.Error(2)
}

func (m *mockGenerationSvc) ByEmail(ctx context.Context, email string) (*domain.GenerationRecord, *domain.ArtifactLinks, error) {
	args := m.Called(ctx, email)
	rec, _ := args.Get(0).(*domain.GenerationRecord)
	links, _ := args.Get(1).(*domain.ArtifactLinks)
	return rec, links, args.Error(2)
}

func (m *mockGenerationSvc) UpdateDetails(ctx context.Context, identifier string, req domain.UpdateDetailsRequest) (*domain.GenerationRecord, error) {
	args := m.Called(ctx, identifier, req)
	if r, _ := args.Get(0).(*domain.GenerationRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGenerationSvc) Flush(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

// --- helpers ---

func pngPhoto(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

// multipartReq builds a generation form with the photo and fields.
func multipartReq(t *testing.T, photo []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "me.png")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, "/v1/generations", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

// withParam injects a chi URL param into the request context.
func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func sampleResult() *domain.GenerateResult {
	return &domain.GenerateResult{
		Record:        &domain.GenerationRecord{RecordID: "r1", Name: "Asha Rao", Phone: "+919999999999", FinalArtifactKey: "final/k.png"},
		Composited:    true,
		PreviewURL:    "https://signed/final",
		DownloadURL:   "https://signed/final?dl",
		RawPreviewURL: "https://signed/raw",
	}
}

// --- Generate ---

func TestGenerate_HappyPathWithAliases(t *testing.T) {
	svc := &mockGenerationSvc{}
	photo := pngPhoto(t)
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerateRequest) bool {
		return req.PhotoType == "image/png" &&
			req.Phone == "9999999999" &&
			req.PromptVariant == "prompt2" &&
			req.Name == "Asha Rao" &&
			bytes.Equal(req.Photo, photo) &&
			!req.RegenerateAllowed
	})).Return(sampleResult(), nil)
	h := NewGenerationHandler(svc, 1<<20)

	r := multipartReq(t, photo, map[string]string{"name": " Asha Rao ", "phone_no": "9999999999", "prompt_variant": "prompt2"})
	rr := httptest.NewRecorder()
	h.Generate(rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp GenerationEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "r1", resp.Generation.ID)
	assert.Equal(t, "https://signed/final", resp.FinalImageURL)
	require.NotNil(t, resp.Composited)
	assert.True(t, *resp.Composited)
	assert.NotContains(t, rr.Body.String(), "final/k.png")
	svc.AssertExpectations(t)
}

func TestGenerate_GrantAllowsRegenerate(t *testing.T) {
	svc := &mockGenerationSvc{}
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req domain.GenerateRequest) bool {
		return req.RegenerateAllowed && req.RecordID == "r1"
	})).Return(sampleResult(), nil)
	h := NewGenerationHandler(svc, 1<<20)

	r := multipartReq(t, pngPhoto(t), map[string]string{"name": "Asha", "phone": "9999999999", "prompt_type": "prompt1", "id": "other"})
	r = r.WithContext(middleware.WithClaims(r.Context(), &jwtinfra.Claims{Scope: domain.ScopeRegenerate, RecordID: "r1"}))
	rr := httptest.NewRecorder()
	h.Generate(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestGenerate_MissingPhoto(t *testing.T) {
	svc := &mockGenerationSvc{}
	h := NewGenerationHandler(svc, 1<<20)
	rr := httptest.NewRecorder()
	h.Generate(rr, multipartReq(t, nil, map[string]string{"name": "Asha"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_PhotoTooLarge(t *testing.T) {
	svc := &mockGenerationSvc{}
	h := NewGenerationHandler(svc, 100)
	rr := httptest.NewRecorder()
	h.Generate(rr, multipartReq(t, bytes.Repeat([]byte{0xff}, 500), map[string]string{"name": "Asha"}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", domain.ErrBadRequest, http.StatusBadRequest},
		{"gate", domain.ErrConflict, http.StatusConflict},
		{"upstream status", &domain.UpstreamError{Status: 500, Body: "boom"}, http.StatusBadGateway},
		{"upstream no image", &domain.UpstreamError{Err: domain.ErrNoImageReturned}, http.StatusBadGateway},
		{"upstream timeout", &domain.UpstreamError{Err: domain.ErrUpstreamTimeout}, http.StatusGatewayTimeout},
		{"storage", domain.ErrStorage, http.StatusInternalServerError},
		{"persistence", domain.ErrPersistence, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockGenerationSvc{}
			svc.On("Generate", mock.Anything, mock.Anything).Return(nil, tc.err)
			h := NewGenerationHandler(svc, 1<<20)
			rr := httptest.NewRecorder()
			h.Generate(rr, multipartReq(t, pngPhoto(t), map[string]string{"name": "Asha"}))
			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

// --- Status ---

func TestStatus_Pending(t *testing.T) {
	svc := &mockGenerationSvc{}
	svc.On("Status", mock.Anything, "9999999999", "+91").Return(&domain.GenerationRecord{RecordID: "r1"}, nil, domain.ErrPending)
	h := NewGenerationHandler(svc, 1<<20)

	r := withParam(httptest.NewRequest(http.MethodGet, "/v1/generations/9999999999?dial_code=%2B91", nil), "identifier", "9999999999")
	rr := httptest.NewRecorder()
	h.Status(rr, r)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
	assert.Contains(t, rr.Body.String(), `"status":"pending"`)
}

func TestStatus_Ready(t *testing.T) {
	svc := &mockGenerationSvc{}
	links := &domain.ArtifactLinks{FinalURL: "https://signed/f", DownloadURL: "https://signed/d"}
	svc.On("Status", mock.Anything, "r1", "").Return(&domain.GenerationRecord{RecordID: "r1"}, links, nil)
	h := NewGenerationHandler(svc, 1<<20)

	rr := httptest.NewRecorder()
	h.Status(rr, withParam(httptest.NewRequest(http.MethodGet, "/v1/generations/r1", nil), "identifier", "r1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp GenerationEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "https://signed/f", resp.FinalImageURL)
	assert.Equal(t, "https://signed/d", resp.DownloadURL)
	assert.Equal(t, "no-cache", rr.Header().Get("Pragma"))
}

func TestStatus_NotFound(t *testing.T) {
	svc := &mockGenerationSvc{}
	svc.On("Status", mock.Anything, "x", "").Return(nil, nil, domain.ErrNotFound)
	h := NewGenerationHandler(svc, 1<<20)
	rr := httptest.NewRecorder()
	h.Status(rr, withParam(httptest.NewRequest(http.MethodGet, "/v1/generations/x", nil), "identifier", "x"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestByEmail(t *testing.T) {
	svc := &mockGenerationSvc{}
	links := &domain.ArtifactLinks{FinalURL: "https://signed/raw", RawURL: "https://signed/raw"}
	svc.On("ByEmail", mock.Anything, "asha@example.com").Return(&domain.GenerationRecord{RecordID: "r1"}, links, nil)
	h := NewGenerationHandler(svc, 1<<20)

	rr := httptest.NewRecorder()
	h.ByEmail(rr, httptest.NewRequest(http.MethodGet, "/v1/generations/by-email?email=asha@example.com", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "https://signed/raw")
}

// --- UpdateDetails / Flush ---

func TestUpdateDetails(t *testing.T) {
	svc := &mockGenerationSvc{}
	svc.On("UpdateDetails", mock.Anything, "r1", mock.MatchedBy(func(req domain.UpdateDetailsRequest) bool {
		return req.Name != nil && *req.Name == "New Name" && req.Organization == nil
	})).Return(&domain.GenerationRecord{RecordID: "r1", Name: "New Name"}, nil)
	h := NewGenerationHandler(svc, 1<<20)

	r := withParam(httptest.NewRequest(http.MethodPatch, "/v1/generations/r1", strings.NewReader(`{"name":"New Name"}`)), "identifier", "r1")
	rr := httptest.NewRecorder()
	h.UpdateDetails(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "New Name")
	svc.AssertExpectations(t)
}

func TestUpdateDetails_InvalidBody(t *testing.T) {
	h := NewGenerationHandler(&mockGenerationSvc{}, 1<<20)
	rr := httptest.NewRecorder()
	h.UpdateDetails(rr, withParam(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader("nope")), "identifier", "r1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFlush(t *testing.T) {
	svc := &mockGenerationSvc{}
	svc.On("Flush", mock.Anything, "asha@example.com").Return(nil)
	h := NewGenerationHandler(svc, 1<<20)

	rr := httptest.NewRecorder()
	h.Flush(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/flush", strings.NewReader(`{"email":"asha@example.com"}`)))
	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}
