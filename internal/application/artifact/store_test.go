package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/portrait-api/internal/domain"
)

type mockObjects struct{ mock.Mock }

func (m *mockObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}
func (m *mockObjects) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}
func (m *mockObjects) PresignedDownloadURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, filename, ttl)
	return args.String(0), args.Error(1)
}

func TestKey_Format(t *testing.T) {
	now := time.UnixMilli(1760000000123)
	k := Key(domain.ArtifactFinal, "My Photo (1).PNG", now)
	assert.Regexp(t, regexp.MustCompile(`^final/1760000000123-[0-9a-z]{26}-my-photo-1-.png$`), k)
	assert.NotEqual(t, k, Key(domain.ArtifactFinal, "My Photo (1).PNG", now))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "selfie.jpg", Sanitize("selfie.jpg"))
	assert.Equal(t, "etc-passwd", Sanitize("../../etc/passwd"))
	assert.Equal(t, "image", Sanitize("   "))
	assert.Equal(t, "image", Sanitize("✨✨"))
	assert.LessOrEqual(t, len(Sanitize(strings.Repeat("a", 200)+".png")), maxFilenameLen)
	assert.True(t, strings.HasSuffix(Sanitize(strings.Repeat("a", 200)+".png"), ".png"))
}

func TestPut_WrapsStorageError(t *testing.T) {
	objects := &mockObjects{}
	objects.On("Put", mock.Anything, mock.Anything, mock.Anything, "image/png").Return(errors.New("denied"))

	_, err := NewStore(objects).Put(context.Background(), []byte{1}, domain.ArtifactFinal, "a.png", "image/png")
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestPut_ReturnsKey(t *testing.T) {
	objects := &mockObjects{}
	objects.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasPrefix(k, "generated/") }), []byte{1}, "image/png").Return(nil)

	key, err := NewStore(objects).Put(context.Background(), []byte{1}, domain.ArtifactGenerated, "raw.png", "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, "-raw.png"))
	objects.AssertExpectations(t)
}

func TestDownloadURL(t *testing.T) {
	objects := &mockObjects{}
	objects.On("PresignedDownloadURL", mock.Anything, "final/k", "scaleup-ticket-1.png", time.Hour).Return("https://signed", nil)

	u, err := NewStore(objects).DownloadURL(context.Background(), "final/k", "scaleup-ticket-1.png", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://signed", u)
}

func (m *mockObjects) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, key)
	body, _ := args.Get(0).(io.ReadCloser)
	return body, args.String(1), args.Error(2)
}

func TestServable(t *testing.T) {
	assert.True(t, Servable("final/1-abc-portrait.png"))
	assert.True(t, Servable("generated/1-abc-generated.png"))
	assert.False(t, Servable("uploads/1-abc-photo.jpg"))
	assert.False(t, Servable("final/../uploads/x.jpg"))
	assert.False(t, Servable("final/a/b.png"))
	assert.False(t, Servable("final/"))
	assert.False(t, Servable("portrait.png"))
}

func TestOpen(t *testing.T) {
	objects := &mockObjects{}
	objects.On("Download", mock.Anything, "final/k.png").Return(io.NopCloser(strings.NewReader("png")), "image/png", nil)
	objects.On("Download", mock.Anything, "final/gone.png").Return(nil, "", fmt.Errorf("object: %w", domain.ErrNotFound))
	objects.On("Download", mock.Anything, "generated/k.png").Return(nil, "", errors.New("throttled"))
	store := NewStore(objects)

	body, contentType, err := store.Open(context.Background(), "final/k.png")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "image/png", contentType)

	_, _, err = store.Open(context.Background(), "final/gone.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = store.Open(context.Background(), "generated/k.png")
	assert.ErrorIs(t, err, domain.ErrStorage)

	_, _, err = store.Open(context.Background(), "uploads/k.jpg")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	objects.AssertNotCalled(t, "Download", mock.Anything, "uploads/k.jpg")
}
