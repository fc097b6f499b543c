package domain

// VerificationRecord stores the active one-time code for an identity key.
// PK: identity_key ("phone:+91..." | "email:a@b.c").
// ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type VerificationRecord struct {
	IdentityKey string `json:"identity_key" dynamodbav:"identity_key"`
	CodeHash    string `json:"-" dynamodbav:"code_hash"`
	ExpiresAt   int64  `json:"expires_at" dynamodbav:"expires_at"`
	Verified    bool   `json:"verified" dynamodbav:"verified"`
	Attempts    int    `json:"attempts" dynamodbav:"attempts"`
	RecordID    string `json:"record_id" dynamodbav:"record_id"`
}

// Grant scopes carried in signed tokens.
const (
	ScopeRegenerate = "regenerate"
	ScopeAdmin      = "admin"
)

// IdentityKey values are shared by verification records and identity claims.
func PhoneKey(phone string) string { return "phone:" + phone }
func EmailKey(email string) string { return "email:" + email }

// CodeRequest asks for a one-time code; exactly one field is expected.
type CodeRequest struct {
	Phone    string `json:"phone" validate:"required_without=Email,omitempty,phone"`
	Email    string `json:"email" validate:"required_without=Phone,omitempty,email"`
	DialCode string `json:"dial_code"`
}

// VerifyCodeRequest submits a code for the identity.
type VerifyCodeRequest struct {
	Phone    string `json:"phone" validate:"required_without=Email,omitempty,phone"`
	Email    string `json:"email" validate:"required_without=Phone,omitempty,email"`
	DialCode string `json:"dial_code"`
	Code     string `json:"otp" validate:"required,len=6,numeric"`
}

// VerifyCodeResult is returned after a successful verification.
type VerifyCodeResult struct {
	Grant    string `json:"grant"`
	RecordID string `json:"user_id"`
}
