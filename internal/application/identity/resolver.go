package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/id"
	"github.com/portrait-api/internal/pkg/phone"
)

type recordStore interface {
	Get(ctx context.Context, recordID string) (*domain.GenerationRecord, error)
	GetByPhone(ctx context.Context, phone string) (*domain.GenerationRecord, error)
	GetByEmail(ctx context.Context, email string) (*domain.GenerationRecord, error)
	ClearArtifacts(ctx context.Context, recordID string) error
}

// Candidates are the normalized identifiers of one request, in lookup order.
type Candidates struct {
	ID    string
	Phone string
	Email string
}

// NewCandidates normalizes raw request identifiers. An id that is not a
// canonical UUID is dropped.
func NewCandidates(rawID, rawPhone, rawEmail, dialCode string) Candidates {
	c := Candidates{
		Phone: phone.Normalize(rawPhone, dialCode),
		Email: NormalizeEmail(rawEmail),
	}
	if rawID = strings.TrimSpace(rawID); id.IsRecordID(rawID) {
		c.ID = strings.ToLower(rawID)
	}
	return c
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Empty reports whether no identifier is present.
func (c Candidates) Empty() bool {
	return c.ID == "" && c.Phone == "" && c.Email == ""
}

// Resolver maps request identifiers to the existing record, if any.
type Resolver struct {
	store recordStore
}

func NewResolver(store recordStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve tries id, then phone, then email, and stops at the first match.
// It returns nil, nil when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, c Candidates) (*domain.GenerationRecord, error) {
	lookups := []struct {
		value string
		get   func(context.Context, string) (*domain.GenerationRecord, error)
	}{
		{c.ID, r.store.Get},
		{c.Phone, r.store.GetByPhone},
		{c.Email, r.store.GetByEmail},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		rec, err := l.get(ctx, l.value)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolve identity: %v: %w", err, domain.ErrPersistence)
		}
	}
	return nil, nil
}

// ClearArtifacts removes the artifact keys from the stored record and,
// once that write succeeded, from rec.
func (r *Resolver) ClearArtifacts(ctx context.Context, rec *domain.GenerationRecord) error {
	if err := r.store.ClearArtifacts(ctx, rec.RecordID); err != nil {
		return fmt.Errorf("clear artifacts: %v: %w", err, domain.ErrPersistence)
	}
	rec.UploadedPhotoKey = ""
	rec.AIArtifactKey = ""
	rec.FinalArtifactKey = ""
	return nil
}
