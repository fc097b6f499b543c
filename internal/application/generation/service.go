// Package generation runs the portrait pipeline: resolve the identity,
// clear stale results, generate, compose, store and record the outcome.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/portrait-api/internal/application/identity"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/metrics"
	"github.com/portrait-api/internal/pkg/validate"
)

type Service interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error)
	Status(ctx context.Context, identifier, dialCode string) (*domain.GenerationRecord, *domain.ArtifactLinks, error)
	ByEmail(ctx context.Context, email string) (*domain.GenerationRecord, *domain.ArtifactLinks, error)
	UpdateDetails(ctx context.Context, identifier string, req domain.UpdateDetailsRequest) (*domain.GenerationRecord, error)
	Flush(ctx context.Context, email string) error
}

type identityResolver interface {
	Resolve(ctx context.Context, c identity.Candidates) (*domain.GenerationRecord, error)
	ClearArtifacts(ctx context.Context, rec *domain.GenerationRecord) error
}

type recordWriter interface {
	Create(ctx context.Context, rec *domain.GenerationRecord) error
	Update(ctx context.Context, recordID string, updates map[string]interface{}, moves ...domain.IdentityMove) error
	ClaimedRecord(ctx context.Context, claimKey string) (*domain.GenerationRecord, error)
}

type imageGenerator interface {
	Generate(ctx context.Context, prompt string, jpeg []byte) ([]byte, error)
}

type composer interface {
	Compose(ctx context.Context, aiImage []byte, name, secondary string) ([]byte, error)
}

type artifactStore interface {
	Put(ctx context.Context, data []byte, category, filename, contentType string) (string, error)
	PreviewURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DownloadURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

type notifier interface {
	Dispatch(rec domain.GenerationRecord)
}

type leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

type verificationStore interface {
	Delete(ctx context.Context, identityKey string) error
}

type service struct {
	resolver      identityResolver
	records       recordWriter
	ai            imageGenerator
	prepare       func([]byte) ([]byte, error)
	composer      composer
	artifacts     artifactStore
	notifier      notifier
	leases        leaser
	verifications verificationStore
	metrics       *metrics.Metrics

	dialCode    string
	previewTTL  time.Duration
	downloadTTL time.Duration
	leaseTTL    time.Duration
	now         func() time.Time
}

// ServiceDeps wires the pipeline. Leases, Notifier, Verifications and
// Metrics are optional.
type ServiceDeps struct {
	Resolver      identityResolver
	Records       recordWriter
	AI            imageGenerator
	PrepareInput  func([]byte) ([]byte, error)
	Composer      composer
	Artifacts     artifactStore
	Notifier      notifier
	Leases        leaser
	Verifications verificationStore
	Metrics       *metrics.Metrics

	DefaultDialCode string
	PreviewTTL      time.Duration
	DownloadTTL     time.Duration
	LeaseTTL        time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		resolver:      deps.Resolver,
		records:       deps.Records,
		ai:            deps.AI,
		prepare:       deps.PrepareInput,
		composer:      deps.Composer,
		artifacts:     deps.Artifacts,
		notifier:      deps.Notifier,
		leases:        deps.Leases,
		verifications: deps.Verifications,
		metrics:       deps.Metrics,
		dialCode:      deps.DefaultDialCode,
		previewTTL:    deps.PreviewTTL,
		downloadTTL:   deps.DownloadTTL,
		leaseTTL:      deps.LeaseTTL,
		now:           time.Now,
	}
}

func (s *service) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	if err := validate.Struct(req); err != nil {
		s.metrics.IncGeneration(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	dial := req.DialCode
	if dial == "" {
		dial = s.dialCode
	}
	cands := identity.NewCandidates(req.RecordID, req.Phone, req.Email, dial)

	if s.leases != nil {
		release, err := s.leases.Acquire(ctx, leaseKey(cands), s.leaseTTL)
		if err != nil {
			s.metrics.IncGeneration(metrics.OutcomeRejected)
			return nil, err
		}
		defer release(context.WithoutCancel(ctx))
	}

	existing, err := s.resolver.Resolve(ctx, cands)
	if err != nil {
		s.metrics.IncGeneration(metrics.OutcomePersist)
		return nil, err
	}
	if existing != nil && existing.HasArtifacts() && !req.RegenerateAllowed {
		s.metrics.IncGeneration(metrics.OutcomeRejected)
		return nil, fmt.Errorf("portrait already generated for this identity; verify to regenerate: %w", domain.ErrConflict)
	}

	input, err := s.prepare(req.Photo)
	if err != nil {
		s.metrics.IncGeneration(metrics.OutcomeRejected)
		return nil, err
	}

	if existing != nil {
		if err := s.resolver.ClearArtifacts(ctx, existing); err != nil {
			s.metrics.IncGeneration(metrics.OutcomePersist)
			return nil, err
		}
	}

	start := time.Now()
	raw, err := s.ai.Generate(ctx, domain.Prompts[req.PromptVariant], input)
	s.metrics.ObserveAI(start)
	if err != nil {
		s.metrics.IncGeneration(metrics.OutcomeUpstream)
		slog.Error("image generation failed", "prompt_variant", req.PromptVariant, "err", err)
		return nil, err
	}

	final, composited := s.compose(ctx, raw, req.Name, req.Organization)

	keys, err := s.upload(ctx, req, raw, final, composited)
	if err != nil {
		s.metrics.IncGeneration(metrics.OutcomeStorage)
		return nil, err
	}

	rec, err := s.upsert(ctx, existing, cands, req, keys)
	if err != nil {
		s.metrics.IncGeneration(metrics.OutcomePersist)
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Dispatch(*rec)
	}
	s.metrics.IncGeneration(metrics.OutcomeSuccess)

	return s.result(ctx, rec, composited)
}

// compose falls back to the raw image when composition fails.
func (s *service) compose(ctx context.Context, raw []byte, name, secondary string) ([]byte, bool) {
	final, err := s.composer.Compose(ctx, raw, name, secondary)
	if err != nil {
		slog.Error("composition failed; storing raw image as final", "err", err)
		s.metrics.IncCompositionFallback()
		return raw, false
	}
	return final, true
}

type artifactKeys struct {
	upload string
	ai     string
	final  string
}

// upload stores the final image, which must succeed, alongside the raw
// result and the input photo, which are kept when possible.
func (s *service) upload(ctx context.Context, req domain.GenerateRequest, raw, final []byte, composited bool) (artifactKeys, error) {
	var keys artifactKeys
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		contentType := "image/png"
		if !composited {
			contentType = mimetype.Detect(final).String()
		}
		k, err := s.artifacts.Put(gctx, final, domain.ArtifactFinal, "portrait"+extension(contentType), contentType)
		if err != nil {
			return err
		}
		keys.final = k
		return nil
	})
	g.Go(func() error {
		contentType := mimetype.Detect(raw).String()
		k, err := s.artifacts.Put(gctx, raw, domain.ArtifactGenerated, "generated"+extension(contentType), contentType)
		if err != nil {
			s.secondaryFailed(domain.ArtifactGenerated, err)
			return nil
		}
		keys.ai = k
		return nil
	})
	g.Go(func() error {
		k, err := s.artifacts.Put(gctx, req.Photo, domain.ArtifactUpload, "photo"+extension(req.PhotoType), req.PhotoType)
		if err != nil {
			s.secondaryFailed(domain.ArtifactUpload, err)
			return nil
		}
		keys.upload = k
		return nil
	})

	if err := g.Wait(); err != nil {
		return artifactKeys{}, err
	}
	return keys, nil
}

func (s *service) secondaryFailed(category string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.Warn("secondary artifact upload failed", "category", category, "err", err)
	s.metrics.IncSecondaryUploadFailure(category)
}

// result mints fresh URLs for the stored record. Only the preview URL is
// required; download and raw links are best effort.
func (s *service) result(ctx context.Context, rec *domain.GenerationRecord, composited bool) (*domain.GenerateResult, error) {
	res := &domain.GenerateResult{Record: rec, Composited: composited}
	var err error
	res.PreviewURL, err = s.artifacts.PreviewURL(ctx, rec.FinalArtifactKey, s.previewTTL)
	if err != nil {
		return nil, err
	}
	if res.DownloadURL, err = s.artifacts.DownloadURL(ctx, rec.FinalArtifactKey, domain.DownloadFilename(rec.RecordID), s.downloadTTL); err != nil {
		slog.Warn("download url unavailable", "record_id", rec.RecordID, "err", err)
	}
	if rec.AIArtifactKey != "" {
		if res.RawPreviewURL, err = s.artifacts.PreviewURL(ctx, rec.AIArtifactKey, s.previewTTL); err != nil {
			slog.Warn("raw preview url unavailable", "record_id", rec.RecordID, "err", err)
		}
	}
	return res, nil
}

// leaseKey picks the most stable identifier of the request.
func leaseKey(c identity.Candidates) string {
	switch {
	case c.Phone != "":
		return domain.PhoneKey(c.Phone)
	case c.Email != "":
		return domain.EmailKey(c.Email)
	default:
		return "id:" + c.ID
	}
}

func extension(contentType string) string {
	if m := mimetype.Lookup(contentType); m != nil {
		return m.Extension()
	}
	return ""
}
