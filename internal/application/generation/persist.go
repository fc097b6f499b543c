package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/portrait-api/internal/application/identity"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/id"
)

// upsert writes the run's outcome. A resolved record is updated in place;
// otherwise a new record is created. When a concurrent request created the
// identity first, the run is folded into that record instead.
func (s *service) upsert(ctx context.Context, existing *domain.GenerationRecord, cands identity.Candidates, req domain.GenerateRequest, keys artifactKeys) (*domain.GenerationRecord, error) {
	if existing == nil {
		rec := s.newRecord(cands, req, keys)
		err := s.records.Create(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("create record: %v: %w", err, domain.ErrPersistence)
		}
		existing, err = s.claimHolder(ctx, rec)
		if err != nil {
			return nil, err
		}
		slog.Info("concurrent create for identity; updating existing record", "record_id", existing.RecordID)
	}
	return s.update(ctx, existing, cands, req, keys)
}

// claimHolder finds the record that won the identity claims of rec.
func (s *service) claimHolder(ctx context.Context, rec *domain.GenerationRecord) (*domain.GenerationRecord, error) {
	var keys []string
	if rec.Phone != "" {
		keys = append(keys, domain.PhoneKey(rec.Phone))
	}
	if rec.Email != "" {
		keys = append(keys, domain.EmailKey(rec.Email))
	}
	for _, k := range keys {
		holder, err := s.records.ClaimedRecord(ctx, k)
		if err == nil {
			return holder, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("read claim: %v: %w", err, domain.ErrPersistence)
		}
	}
	return nil, fmt.Errorf("identity claimed but record missing: %w", domain.ErrPersistence)
}

func (s *service) newRecord(cands identity.Candidates, req domain.GenerateRequest, keys artifactKeys) *domain.GenerationRecord {
	now := s.now().UTC()
	return &domain.GenerationRecord{
		RecordID:         id.NewRecordID(),
		Phone:            cands.Phone,
		Email:            cands.Email,
		Name:             req.Name,
		Organization:     req.Organization,
		District:         req.District,
		Category:         req.Category,
		PromptVariant:    req.PromptVariant,
		UploadedPhotoKey: keys.upload,
		AIArtifactKey:    keys.ai,
		FinalArtifactKey: keys.final,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *service) update(ctx context.Context, rec *domain.GenerationRecord, cands identity.Candidates, req domain.GenerateRequest, keys artifactKeys) (*domain.GenerationRecord, error) {
	updates := map[string]interface{}{
		"name":               req.Name,
		"prompt_variant":     req.PromptVariant,
		"final_artifact_key": keys.final,
	}
	setIf(updates, "uploaded_photo_key", keys.upload)
	setIf(updates, "ai_artifact_key", keys.ai)
	setIf(updates, "organization", req.Organization)
	setIf(updates, "district", req.District)
	setIf(updates, "category", req.Category)

	var moves []domain.IdentityMove
	if cands.Phone != "" && cands.Phone != rec.Phone {
		updates["phone"] = cands.Phone
		moves = append(moves, domain.IdentityMove{From: keyIf(domain.PhoneKey, rec.Phone), To: domain.PhoneKey(cands.Phone)})
	}
	if cands.Email != "" && cands.Email != rec.Email {
		updates["email"] = cands.Email
		moves = append(moves, domain.IdentityMove{From: keyIf(domain.EmailKey, rec.Email), To: domain.EmailKey(cands.Email)})
	}

	err := s.records.Update(ctx, rec.RecordID, maps.Clone(updates), moves...)
	if errors.Is(err, domain.ErrConflict) {
		// A new identifier belongs to another record; keep the result on
		// this one without moving the identifier.
		slog.Warn("identifier held by another record; not reassigned", "record_id", rec.RecordID)
		delete(updates, "phone")
		delete(updates, "email")
		err = s.records.Update(ctx, rec.RecordID, maps.Clone(updates))
	}
	if err != nil {
		return nil, fmt.Errorf("update record: %v: %w", err, domain.ErrPersistence)
	}

	out := *rec
	out.Name = req.Name
	out.PromptVariant = req.PromptVariant
	out.UploadedPhotoKey = keys.upload
	out.AIArtifactKey = keys.ai
	out.FinalArtifactKey = keys.final
	if req.Organization != "" {
		out.Organization = req.Organization
	}
	if req.District != "" {
		out.District = req.District
	}
	if req.Category != "" {
		out.Category = req.Category
	}
	if v, ok := updates["phone"].(string); ok {
		out.Phone = v
	}
	if v, ok := updates["email"].(string); ok {
		out.Email = v
	}
	out.UpdatedAt = s.now().UTC()
	return &out, nil
}

func keyIf(key func(string) string, value string) string {
	if value == "" {
		return ""
	}
	return key(value)
}

func setIf(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}
