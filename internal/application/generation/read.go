package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/portrait-api/internal/application/identity"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/id"
	"github.com/portrait-api/internal/pkg/validate"
)

// lookup resolves a path identifier, either a record id or a phone number.
func (s *service) lookup(ctx context.Context, identifier, dialCode string) (*domain.GenerationRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if dialCode == "" {
		dialCode = s.dialCode
	}
	var cands identity.Candidates
	if id.IsRecordID(identifier) {
		cands = identity.NewCandidates(identifier, "", "", dialCode)
	} else {
		cands = identity.NewCandidates("", identifier, "", dialCode)
	}
	if cands.Empty() {
		return nil, fmt.Errorf("identifier required: %w", domain.ErrBadRequest)
	}
	rec, err := s.resolver.Resolve(ctx, cands)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("generation %s: %w", identifier, domain.ErrNotFound)
	}
	return rec, nil
}

func (s *service) Status(ctx context.Context, identifier, dialCode string) (*domain.GenerationRecord, *domain.ArtifactLinks, error) {
	rec, err := s.lookup(ctx, identifier, dialCode)
	if err != nil {
		return nil, nil, err
	}
	if rec.FinalArtifactKey == "" {
		return rec, nil, domain.ErrPending
	}
	links, err := s.links(ctx, rec, rec.FinalArtifactKey)
	if err != nil {
		return nil, nil, err
	}
	return rec, links, nil
}

// ByEmail returns the record registered for email. A record whose final
// image is missing falls back to the raw result.
func (s *service) ByEmail(ctx context.Context, email string) (*domain.GenerationRecord, *domain.ArtifactLinks, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return nil, nil, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	rec, err := s.resolver.Resolve(ctx, identity.Candidates{Email: email})
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, fmt.Errorf("generation for %s: %w", email, domain.ErrNotFound)
	}
	key := rec.FinalArtifactKey
	if key == "" {
		key = rec.AIArtifactKey
	}
	if key == "" {
		return rec, nil, domain.ErrPending
	}
	links, err := s.links(ctx, rec, key)
	if err != nil {
		return nil, nil, err
	}
	return rec, links, nil
}

func (s *service) links(ctx context.Context, rec *domain.GenerationRecord, finalKey string) (*domain.ArtifactLinks, error) {
	var links domain.ArtifactLinks
	var err error
	if links.FinalURL, err = s.artifacts.PreviewURL(ctx, finalKey, s.previewTTL); err != nil {
		return nil, err
	}
	if links.DownloadURL, err = s.artifacts.DownloadURL(ctx, finalKey, domain.DownloadFilename(rec.RecordID), s.downloadTTL); err != nil {
		slog.Warn("download url unavailable", "record_id", rec.RecordID, "err", err)
	}
	if rec.AIArtifactKey != "" {
		if links.RawURL, err = s.artifacts.PreviewURL(ctx, rec.AIArtifactKey, s.previewTTL); err != nil {
			slog.Warn("raw preview url unavailable", "record_id", rec.RecordID, "err", err)
		}
	}
	return &links, nil
}

func (s *service) UpdateDetails(ctx context.Context, identifier string, req domain.UpdateDetailsRequest) (*domain.GenerationRecord, error) {
	req.Name = trimmed(req.Name)
	req.Organization = trimmed(req.Organization)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, fmt.Errorf("name must not be blank: %w", domain.ErrBadRequest)
		}
		updates["name"] = *req.Name
	}
	if req.Organization != nil {
		updates["organization"] = *req.Organization
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("no fields to update: %w", domain.ErrBadRequest)
	}

	rec, err := s.lookup(ctx, identifier, req.DialCode)
	if err != nil {
		return nil, err
	}
	if err := s.records.Update(ctx, rec.RecordID, updates); err != nil {
		return nil, fmt.Errorf("update details: %w", err)
	}
	if v, ok := updates["name"].(string); ok {
		rec.Name = v
	}
	if v, ok := updates["organization"].(string); ok {
		rec.Organization = v
	}
	rec.UpdatedAt = s.now().UTC()
	return rec, nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// Flush clears the stored result for email and forgets any pending code, so
// the identity can generate again without verification.
func (s *service) Flush(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	rec, err := s.resolver.Resolve(ctx, identity.Candidates{Email: email})
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("generation for %s: %w", email, domain.ErrNotFound)
	}
	if err := s.resolver.ClearArtifacts(ctx, rec); err != nil {
		return err
	}
	if s.verifications == nil {
		return nil
	}
	keys := []string{domain.EmailKey(email)}
	if rec.Phone != "" {
		keys = append(keys, domain.PhoneKey(rec.Phone))
	}
	for _, k := range keys {
		if err := s.verifications.Delete(ctx, k); err != nil {
			slog.Warn("failed to delete verification", "identity_key", k, "err", err)
		}
	}
	slog.Info("generation flushed", "record_id", rec.RecordID)
	return nil
}
