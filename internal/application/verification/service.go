package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/portrait-api/internal/application/identity"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/metrics"
	pkgtoken "github.com/portrait-api/internal/pkg/token"
	"github.com/portrait-api/internal/pkg/validate"
)

const codeLength = 6

type Service interface {
	RequestCode(ctx context.Context, req domain.CodeRequest) error
	VerifyCode(ctx context.Context, req domain.VerifyCodeRequest) (*domain.VerifyCodeResult, error)
}

type codeStore interface {
	Put(ctx context.Context, v *domain.VerificationRecord) error
	Get(ctx context.Context, identityKey string) (*domain.VerificationRecord, error)
	IncrementAttempts(ctx context.Context, identityKey string, max int) (int, error)
	MarkVerified(ctx context.Context, identityKey string) error
}

type recordResolver interface {
	Resolve(ctx context.Context, c identity.Candidates) (*domain.GenerationRecord, error)
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type grantSigner interface {
	Sign(scope, recordID, phone, email string) (string, error)
}

type service struct {
	codes       codeStore
	records     recordResolver
	sms         smsSender
	mailer      mailer
	signer      grantSigner
	metrics     *metrics.Metrics
	dialCode    string
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

type ServiceDeps struct {
	Codes           codeStore
	Records         recordResolver
	SMS             smsSender
	Mailer          mailer
	Signer          grantSigner
	Metrics         *metrics.Metrics
	DefaultDialCode string
	TTL             time.Duration
	MaxAttempts     int
}

func NewService(deps ServiceDeps) Service {
	return &service{
		codes:       deps.Codes,
		records:     deps.Records,
		sms:         deps.SMS,
		mailer:      deps.Mailer,
		signer:      deps.Signer,
		metrics:     deps.Metrics,
		dialCode:    deps.DefaultDialCode,
		ttl:         deps.TTL,
		maxAttempts: deps.MaxAttempts,
		now:         time.Now,
	}
}

// target is the normalized identity a code is issued for.
type target struct {
	key   string
	phone string
	email string
}

func (s *service) target(phoneRaw, emailRaw, dialCode string) (target, error) {
	if dialCode == "" {
		dialCode = s.dialCode
	}
	c := identity.NewCandidates("", phoneRaw, emailRaw, dialCode)
	switch {
	case c.Phone != "":
		return target{key: domain.PhoneKey(c.Phone), phone: c.Phone}, nil
	case c.Email != "":
		return target{key: domain.EmailKey(c.Email), email: c.Email}, nil
	default:
		return target{}, fmt.Errorf("phone or email required: %w", domain.ErrBadRequest)
	}
}

// RequestCode issues a fresh code for an identity that already has a
// generation. A new request replaces any previous code.
func (s *service) RequestCode(ctx context.Context, req domain.CodeRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	t, err := s.target(req.Phone, req.Email, req.DialCode)
	if err != nil {
		return err
	}
	rec, err := s.records.Resolve(ctx, identity.Candidates{Phone: t.phone, Email: t.email})
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no generation registered for this identity; generate a portrait first: %w", domain.ErrNotFound)
	}

	code, err := pkgtoken.NewCode(codeLength)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	v := &domain.VerificationRecord{
		IdentityKey: t.key,
		CodeHash:    string(hash),
		ExpiresAt:   s.now().Add(s.ttl).Unix(),
		RecordID:    rec.RecordID,
	}
	if err := s.codes.Put(ctx, v); err != nil {
		return err
	}

	msg := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	switch {
	case t.phone != "" && s.sms != nil:
		err = s.sms.SendSMS(ctx, t.phone, msg)
	case t.phone != "":
		err = errors.New("sms delivery not configured")
	default:
		err = s.mailer.SendEmail(t.email, "Your verification code", msg)
	}
	if err != nil {
		slog.Error("failed to deliver verification code", "identity_key", t.key, "err", err)
		return fmt.Errorf("deliver code: %w", err)
	}
	slog.Info("verification code issued", "record_id", rec.RecordID)
	return nil
}

// VerifyCode checks a submitted code and, on success, issues a grant that
// allows the identity to regenerate its portrait.
func (s *service) VerifyCode(ctx context.Context, req domain.VerifyCodeRequest) (*domain.VerifyCodeResult, error) {
	res, err := s.verify(ctx, req)
	s.metrics.IncVerification(outcome(err))
	return res, err
}

func (s *service) verify(ctx context.Context, req domain.VerifyCodeRequest) (*domain.VerifyCodeResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	t, err := s.target(req.Phone, req.Email, req.DialCode)
	if err != nil {
		return nil, err
	}
	v, err := s.codes.Get(ctx, t.key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no code requested for this identity: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	if v.Verified {
		return nil, fmt.Errorf("code already used; request a new one: %w", domain.ErrUnauthorized)
	}
	if v.ExpiresAt < s.now().Unix() {
		return nil, fmt.Errorf("code expired; request a new one: %w", domain.ErrUnauthorized)
	}
	if _, err := s.codes.IncrementAttempts(ctx, t.key, s.maxAttempts); err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(req.Code)) != nil {
		return nil, fmt.Errorf("invalid code: %w", domain.ErrUnauthorized)
	}
	if err := s.codes.MarkVerified(ctx, t.key); err != nil {
		return nil, err
	}

	grant, err := s.signer.Sign(domain.ScopeRegenerate, v.RecordID, t.phone, t.email)
	if err != nil {
		return nil, err
	}
	return &domain.VerifyCodeResult{Grant: grant, RecordID: v.RecordID}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, domain.ErrTooManyAttempts):
		return "locked"
	case errors.Is(err, domain.ErrUnauthorized):
		return "rejected"
	default:
		return "error"
	}
}
