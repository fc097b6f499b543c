package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portrait-api/internal/application/identity"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/infrastructure/openrouter"
)

// memStore is an in-memory generation table with identity claims. Phone and
// email lookups scan record attributes the way the secondary indexes do, and
// records listed in unindexed are not yet visible to them.
type memStore struct {
	mu        sync.Mutex
	records   map[string]domain.GenerationRecord
	claims    map[string]string
	unindexed map[string]bool
	creates   int
	updates   int

	beforeCreate func(s *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		records:   map[string]domain.GenerationRecord{},
		claims:    map[string]string{},
		unindexed: map[string]bool{},
	}
}

func (s *memStore) Get(_ context.Context, id string) (*domain.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) scan(match func(domain.GenerationRecord) bool) (*domain.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if !s.unindexed[id] && match(rec) {
			return &rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) GetByPhone(_ context.Context, phone string) (*domain.GenerationRecord, error) {
	return s.scan(func(r domain.GenerationRecord) bool { return r.Phone == phone })
}

func (s *memStore) GetByEmail(_ context.Context, email string) (*domain.GenerationRecord, error) {
	return s.scan(func(r domain.GenerationRecord) bool { return r.Email == email })
}

func (s *memStore) ClaimedRecord(_ context.Context, key string) (*domain.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.claims[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) ClearArtifacts(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.UploadedPhotoKey, rec.AIArtifactKey, rec.FinalArtifactKey = "", "", ""
	s.records[id] = rec
	return nil
}

// insert stores rec and its claims without conflict checks.
func (s *memStore) insert(rec domain.GenerationRecord) {
	s.records[rec.RecordID] = rec
	if rec.Phone != "" {
		s.claims[domain.PhoneKey(rec.Phone)] = rec.RecordID
	}
	if rec.Email != "" {
		s.claims[domain.EmailKey(rec.Email)] = rec.RecordID
	}
}

func (s *memStore) Create(_ context.Context, rec *domain.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeCreate != nil {
		s.beforeCreate(s)
		s.beforeCreate = nil
	}
	s.creates++
	for _, k := range []string{domain.PhoneKey(rec.Phone), domain.EmailKey(rec.Email)} {
		if owner, ok := s.claims[k]; ok && owner != rec.RecordID {
			return domain.ErrConflict
		}
	}
	s.insert(*rec)
	return nil
}

func (s *memStore) Update(_ context.Context, id string, updates map[string]interface{}, moves ...domain.IdentityMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, m := range moves {
		if owner, ok := s.claims[m.To]; ok && owner != id {
			return domain.ErrConflict
		}
	}
	s.updates++
	for k, v := range updates {
		str, _ := v.(string)
		switch k {
		case "name":
			rec.Name = str
		case "organization":
			rec.Organization = str
		case "district":
			rec.District = str
		case "category":
			rec.Category = str
		case "prompt_variant":
			rec.PromptVariant = str
		case "phone":
			rec.Phone = str
		case "email":
			rec.Email = str
		case "uploaded_photo_key":
			rec.UploadedPhotoKey = str
		case "ai_artifact_key":
			rec.AIArtifactKey = str
		case "final_artifact_key":
			rec.FinalArtifactKey = str
		}
	}
	for _, m := range moves {
		if m.From != "" && s.claims[m.From] == id {
			delete(s.claims, m.From)
		}
		s.claims[m.To] = id
	}
	s.records[id] = rec
	return nil
}

type fakeAI struct {
	mu      sync.Mutex
	out     []byte
	err     error
	prompts []string
	inputs  [][]byte
}

func (f *fakeAI) Generate(_ context.Context, prompt string, input []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.inputs = append(f.inputs, input)
	return f.out, f.err
}

type fakeComposer struct {
	err      error
	name     string
	subtitle string
}

func (f *fakeComposer) Compose(_ context.Context, ai []byte, name, secondary string) ([]byte, error) {
	f.name, f.subtitle = name, secondary
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("composed:"), ai...), nil
}

type memObjects struct {
	mu      sync.Mutex
	n       int
	objects map[string][]byte
	types   map[string]string
	fail    map[string]error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}, fail: map[string]error{}}
}

func (o *memObjects) Put(_ context.Context, data []byte, category, filename, contentType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[category]; err != nil {
		return "", err
	}
	o.n++
	key := fmt.Sprintf("%s/%d-%s", category, o.n, filename)
	o.objects[key] = data
	o.types[key] = contentType
	return key, nil
}

func (o *memObjects) PreviewURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed/" + key, nil
}

func (o *memObjects) DownloadURL(_ context.Context, key, filename string, _ time.Duration) (string, error) {
	return "https://signed/" + key + "?attachment=" + filename, nil
}

type fakeVerifications struct{ deleted []string }

func (f *fakeVerifications) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.GenerationRecord
}

func (n *recordingNotifier) Dispatch(rec domain.GenerationRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, rec)
}

type fixture struct {
	svc      Service
	store    *memStore
	ai       *fakeAI
	composer *fakeComposer
	objects  *memObjects
	notifier *recordingNotifier
	verifs   *fakeVerifications
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		ai:       &fakeAI{out: pngBytes(t)},
		composer: &fakeComposer{},
		objects:  newMemObjects(),
		notifier: &recordingNotifier{},
		verifs:   &fakeVerifications{},
	}
	f.svc = NewService(ServiceDeps{
		Resolver:        identity.NewResolver(f.store),
		Records:         f.store,
		AI:              f.ai,
		PrepareInput:    func(b []byte) ([]byte, error) { return b, nil },
		Composer:        f.composer,
		Artifacts:       f.objects,
		Notifier:        f.notifier,
		Verifications:   f.verifs,
		DefaultDialCode: "+91",
		PreviewTTL:      time.Hour,
		DownloadTTL:     24 * time.Hour,
	})
	return f
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func request() domain.GenerateRequest {
	return domain.GenerateRequest{
		Photo:         []byte("jpeg-bytes"),
		PhotoType:     "image/jpeg",
		Name:          "Asha Rao",
		Phone:         "+919999999999",
		Organization:  "Acme Labs",
		PromptVariant: domain.PromptSuperhero,
	}
}

// captureLogs routes the default logger into a buffer for the test's duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestGenerate_CreatesComposedRecord(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Generate(context.Background(), request())
	require.NoError(t, err)

	rec := res.Record
	assert.True(t, res.Composited)
	assert.Equal(t, "+919999999999", rec.Phone)
	assert.Equal(t, "Asha Rao", rec.Name)
	assert.Equal(t, domain.PromptSuperhero, rec.PromptVariant)
	assert.NotEmpty(t, rec.FinalArtifactKey)
	assert.NotEmpty(t, rec.AIArtifactKey)
	assert.NotEmpty(t, rec.UploadedPhotoKey)
	assert.NotEqual(t, rec.AIArtifactKey, rec.FinalArtifactKey)
	assert.Equal(t, "image/png", f.objects.types[rec.FinalArtifactKey])
	assert.Equal(t, "https://signed/"+rec.FinalArtifactKey, res.PreviewURL)
	assert.Contains(t, res.DownloadURL, domain.DownloadFilename(rec.RecordID))
	assert.Equal(t, "https://signed/"+rec.AIArtifactKey, res.RawPreviewURL)

	assert.Equal(t, []string{domain.Prompts[domain.PromptSuperhero]}, f.ai.prompts)
	assert.Equal(t, "Asha Rao", f.composer.name)
	assert.Equal(t, "Acme Labs", f.composer.subtitle)

	stored, err := f.store.GetByPhone(context.Background(), "+919999999999")
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, stored.RecordID)
	assert.Equal(t, rec.FinalArtifactKey, stored.FinalArtifactKey)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, rec.RecordID, f.notifier.sent[0].RecordID)
}

func TestGenerate_RegenerateUpdatesSameRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, request())
	require.NoError(t, err)

	req := request()
	req.Phone = "99999 99999"
	req.PromptVariant = domain.PromptWarrior
	req.RegenerateAllowed = true
	second, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Record.RecordID, second.Record.RecordID)
	assert.NotEqual(t, first.Record.FinalArtifactKey, second.Record.FinalArtifactKey)
	assert.Len(t, f.store.records, 1)
	assert.Equal(t, 1, f.store.creates)

	stored, err := f.store.Get(ctx, first.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.PromptWarrior, stored.PromptVariant)
	assert.Equal(t, second.Record.FinalArtifactKey, stored.FinalArtifactKey)
}

func TestGenerate_ExistingResultRequiresGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, request())
	require.NoError(t, err)

	_, err = f.svc.Generate(ctx, request())
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, f.ai.prompts, 1)
}

func TestGenerate_ResolvesByIDFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.insert(domain.GenerationRecord{RecordID: "0b7a54d2-5f43-4a0e-9a55-9f4f14c2b0a1", Email: "asha@example.com", Name: "Old"})

	req := request()
	req.RecordID = "0B7A54D2-5F43-4A0E-9A55-9F4F14C2B0A1"
	res, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "0b7a54d2-5f43-4a0e-9a55-9f4f14c2b0a1", res.Record.RecordID)
	assert.Equal(t, "+919999999999", res.Record.Phone)
	assert.Equal(t, 0, f.store.creates)
	owner := f.store.claims[domain.PhoneKey("+919999999999")]
	assert.Equal(t, res.Record.RecordID, owner)
}

func TestGenerate_CompositionFallbackStoresRaw(t *testing.T) {
	logs := captureLogs(t)
	f := newFixture(t)
	f.composer.err = fmt.Errorf("%w: template missing", domain.ErrComposition)

	res, err := f.svc.Generate(context.Background(), request())
	require.NoError(t, err)

	assert.False(t, res.Composited)
	assert.NotEmpty(t, res.Record.FinalArtifactKey)
	assert.Equal(t, f.ai.out, f.objects.objects[res.Record.FinalArtifactKey])
	assert.Contains(t, logs.String(), "composition failed")
}

func TestGenerate_UpstreamErrorPassesThrough(t *testing.T) {
	f := newFixture(t)
	f.ai.err = &domain.UpstreamError{Status: http.StatusTooManyRequests, Body: "rate limited"}

	_, err := f.svc.Generate(context.Background(), request())

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Empty(t, f.store.records)
	assert.Empty(t, f.objects.objects)
	assert.Empty(t, f.notifier.sent)
}

func TestGenerate_FailureAfterClearLeavesNoStaleResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Generate(ctx, request())
	require.NoError(t, err)

	f.ai.err = &domain.UpstreamError{Err: domain.ErrUpstreamTimeout}
	req := request()
	req.RegenerateAllowed = true
	_, err = f.svc.Generate(ctx, req)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)

	stored, err := f.store.Get(ctx, first.Record.RecordID)
	require.NoError(t, err)
	assert.False(t, stored.HasArtifacts())
	assert.Empty(t, stored.UploadedPhotoKey)
}

func TestGenerate_FinalUploadFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.objects.fail[domain.ArtifactFinal] = fmt.Errorf("put: %w", domain.ErrStorage)

	_, err := f.svc.Generate(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Empty(t, f.store.records)
}

func TestGenerate_SecondaryUploadFailureTolerated(t *testing.T) {
	f := newFixture(t)
	f.objects.fail[domain.ArtifactUpload] = errors.New("bucket unavailable")

	res, err := f.svc.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Empty(t, res.Record.UploadedPhotoKey)
	assert.NotEmpty(t, res.Record.FinalArtifactKey)
}

func TestGenerate_RejectsInvalidInput(t *testing.T) {
	cases := map[string]func(*domain.GenerateRequest){
		"unknown prompt": func(r *domain.GenerateRequest) { r.PromptVariant = "prompt9" },
		"no contact":     func(r *domain.GenerateRequest) { r.Phone = "" },
		"no name":        func(r *domain.GenerateRequest) { r.Name = "" },
		"bad phone":      func(r *domain.GenerateRequest) { r.Phone = "12ab" },
		"bad category":   func(r *domain.GenerateRequest) { r.Category = "Pirates" },
		"bad photo type": func(r *domain.GenerateRequest) { r.PhotoType = "image/gif" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := request()
			mutate(&req)
			_, err := f.svc.Generate(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrBadRequest)
			assert.Empty(t, f.ai.prompts)
		})
	}
}

func TestGenerate_ConcurrentCreateFoldsIntoWinner(t *testing.T) {
	f := newFixture(t)
	winner := domain.GenerationRecord{RecordID: "winner", Phone: "+919999999999", Name: "Asha"}
	f.store.beforeCreate = func(s *memStore) {
		s.insert(winner)
		s.unindexed["winner"] = true
	}

	res, err := f.svc.Generate(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "winner", res.Record.RecordID)
	assert.Len(t, f.store.records, 1)
	stored, err := f.store.Get(context.Background(), "winner")
	require.NoError(t, err)
	assert.Equal(t, res.Record.FinalArtifactKey, stored.FinalArtifactKey)
}

func TestGenerate_MovedPhoneIsFreedForNewIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, request())
	require.NoError(t, err)

	req := request()
	req.RecordID = first.Record.RecordID
	req.Phone = "+918888888888"
	req.RegenerateAllowed = true
	moved, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Record.RecordID, moved.Record.RecordID)
	assert.Equal(t, "+918888888888", moved.Record.Phone)

	req = request()
	req.Name = "Ravi Kumar"
	fresh, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Record.RecordID, fresh.Record.RecordID)
	assert.Equal(t, map[string]string{
		domain.PhoneKey("+918888888888"): first.Record.RecordID,
		domain.PhoneKey("+919999999999"): fresh.Record.RecordID,
	}, f.store.claims)
}

func TestGenerate_EndToEndWithRealInputPreparation(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(ServiceDeps{
		Resolver:        identity.NewResolver(f.store),
		Records:         f.store,
		AI:              f.ai,
		PrepareInput:    openrouter.PrepareInput,
		Composer:        f.composer,
		Artifacts:       f.objects,
		Notifier:        f.notifier,
		DefaultDialCode: "+91",
		PreviewTTL:      time.Hour,
		DownloadTTL:     24 * time.Hour,
	})
	photo := noisyJPEG(t, 1600, 1200)
	require.Greater(t, len(photo), 100<<10)

	req := request()
	req.Photo = photo
	req.Phone = "98765 43210"
	res, err := f.svc.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, f.ai.inputs, 1)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.ai.inputs[0]))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 768, cfg.Height)

	assert.True(t, res.Composited)
	assert.Equal(t, "+919876543210", res.Record.Phone)
	assert.Equal(t, photo, f.objects.objects[res.Record.UploadedPhotoKey])
	assert.NotEmpty(t, res.PreviewURL)
	assert.NotEmpty(t, res.DownloadURL)
	stored, err := f.store.Get(context.Background(), res.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.FinalArtifactKey, stored.FinalArtifactKey)
}

// noisyJPEG encodes w x h random pixels, which keeps the file large.
func noisyJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.insert(domain.GenerationRecord{RecordID: "pending", Phone: "+918888888888"})

	_, _, err := f.svc.Status(ctx, "8888888888", "")
	assert.ErrorIs(t, err, domain.ErrPending)

	_, _, err = f.svc.Status(ctx, "7777777777", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = f.svc.Status(ctx, "  ", "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	res, err := f.svc.Generate(ctx, request())
	require.NoError(t, err)

	rec, links, err := f.svc.Status(ctx, res.Record.RecordID, "")
	require.NoError(t, err)
	assert.Equal(t, res.Record.RecordID, rec.RecordID)
	assert.Equal(t, "https://signed/"+rec.FinalArtifactKey, links.FinalURL)
	assert.Equal(t, "https://signed/"+rec.AIArtifactKey, links.RawURL)
	assert.Contains(t, links.DownloadURL, domain.DownloadFilename(rec.RecordID))

	byPhone, _, err := f.svc.Status(ctx, "9999999999", "+91")
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, byPhone.RecordID)
}

func TestByEmail_FallsBackToRaw(t *testing.T) {
	f := newFixture(t)
	f.store.insert(domain.GenerationRecord{RecordID: "r1", Email: "asha@example.com", AIArtifactKey: "generated/raw.png"})

	_, links, err := f.svc.ByEmail(context.Background(), " Asha@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "https://signed/generated/raw.png", links.FinalURL)

	_, _, err = f.svc.ByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	f.store.insert(domain.GenerationRecord{RecordID: "r1", Phone: "+919999999999", Name: "Old"})
	name := " Asha Rao "

	rec, err := f.svc.UpdateDetails(context.Background(), "+919999999999", domain.UpdateDetailsRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", rec.Name)
	assert.Equal(t, "Asha Rao", f.store.records["r1"].Name)

	_, err = f.svc.UpdateDetails(context.Background(), "+919999999999", domain.UpdateDetailsRequest{})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	blank := "   "
	_, err = f.svc.UpdateDetails(context.Background(), "+919999999999", domain.UpdateDetailsRequest{Name: &blank})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, "Asha Rao", f.store.records["r1"].Name)
}

func TestFlush(t *testing.T) {
	f := newFixture(t)
	f.store.insert(domain.GenerationRecord{
		RecordID: "r1", Email: "asha@example.com", Phone: "+919999999999",
		AIArtifactKey: "generated/a.png", FinalArtifactKey: "final/a.png",
	})

	require.NoError(t, f.svc.Flush(context.Background(), "asha@example.com"))

	rec := f.store.records["r1"]
	assert.False(t, rec.HasArtifacts())
	assert.ElementsMatch(t, []string{"email:asha@example.com", "phone:+919999999999"}, f.verifs.deleted)

	assert.ErrorIs(t, f.svc.Flush(context.Background(), "x@example.com"), domain.ErrNotFound)
}
