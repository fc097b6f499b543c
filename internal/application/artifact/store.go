package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/id"
)

const maxFilenameLen = 64

var unsafeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignedDownloadURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Store names, uploads and signs artifact objects. Only keys leave it;
// URLs are minted on demand and never persisted.
type Store struct {
	objects objectStore
	now     func() time.Time
}

func NewStore(objects objectStore) *Store {
	return &Store{objects: objects, now: time.Now}
}

// Put uploads data under a fresh key in category and returns the key.
func (s *Store) Put(ctx context.Context, data []byte, category, filename, contentType string) (string, error) {
	key := Key(category, filename, s.now())
	if err := s.objects.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("put %s: %v: %w", key, err, domain.ErrStorage)
	}
	return key, nil
}

func (s *Store) PreviewURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.objects.PresignedURL(ctx, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %v: %w", key, err, domain.ErrStorage)
	}
	return u, nil
}

// DownloadURL signs key so browsers save it as filename.
func (s *Store) DownloadURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	u, err := s.objects.PresignedDownloadURL(ctx, key, filename, ttl)
	if err != nil {
		return "", fmt.Errorf("presign download %s: %v: %w", key, err, domain.ErrStorage)
	}
	return u, nil
}

// Open streams a final or generated artifact. Uploaded photos and keys
// outside the artifact layout are not served.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !Servable(key) {
		return nil, "", fmt.Errorf("key %q is not a served artifact: %w", key, domain.ErrBadRequest)
	}
	body, contentType, err := s.objects.Download(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("open %s: %v: %w", key, err, domain.ErrStorage)
	}
	return body, contentType, nil
}

// Servable reports whether key names a final or generated artifact.
func Servable(key string) bool {
	category, name, ok := strings.Cut(key, "/")
	if !ok || name == "" || strings.Contains(key, "..") || strings.ContainsRune(name, '/') {
		return false
	}
	return category == domain.ArtifactFinal || category == domain.ArtifactGenerated
}

// Key builds <category>/<unix-ms>-<ulid>-<filename>. The ULID keeps keys
// unique when two uploads share a millisecond and a filename.
func Key(category, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s-%s", category, now.UnixMilli(), strings.ToLower(id.New()), Sanitize(filename))
}

// Sanitize reduces filename to a safe lowercase object-key segment.
func Sanitize(filename string) string {
	s := unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(filename)), "-")
	s = strings.Trim(s, "-.")
	if len(s) > maxFilenameLen {
		s = strings.Trim(s[len(s)-maxFilenameLen:], "-.")
	}
	if s == "" {
		return "image"
	}
	return s
}
