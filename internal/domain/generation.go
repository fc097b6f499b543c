package domain

import "time"

// GenerationRecord is one identity's current avatar generation.
// Only object keys are stored; signed URLs are minted per read.
type GenerationRecord struct {
	RecordID         string    `json:"id" dynamodbav:"record_id"`
	Phone            string    `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Email            string    `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Name             string    `json:"name" dynamodbav:"name"`
	Organization     string    `json:"organization,omitempty" dynamodbav:"organization,omitempty"`
	District         string    `json:"district,omitempty" dynamodbav:"district,omitempty"`
	Category         string    `json:"category,omitempty" dynamodbav:"category,omitempty"`
	PromptVariant    string    `json:"prompt_variant" dynamodbav:"prompt_variant"`
	UploadedPhotoKey string    `json:"uploaded_photo_key,omitempty" dynamodbav:"uploaded_photo_key,omitempty"`
	AIArtifactKey    string    `json:"ai_artifact_key,omitempty" dynamodbav:"ai_artifact_key,omitempty"`
	FinalArtifactKey string    `json:"final_artifact_key,omitempty" dynamodbav:"final_artifact_key,omitempty"`
	CreatedAt        time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt        time.Time `json:"updated" dynamodbav:"updated_at"`
}

// HasArtifacts reports whether a previous run left a result on the record.
func (r *GenerationRecord) HasArtifacts() bool {
	return r.AIArtifactKey != "" || r.FinalArtifactKey != ""
}

// Artifact categories double as object-key prefixes.
const (
	ArtifactUpload    = "uploads"
	ArtifactGenerated = "generated"
	ArtifactFinal     = "final"
)

// Categories accepted on the generation form.
var Categories = []string{
	"Startups",
	"Working Professionals",
	"Students",
	"Business Owners",
	"NRI / Gulf Returnees",
	"Government Officials",
}

// GenerateRequest is the validated input of one pipeline run.
type GenerateRequest struct {
	Photo         []byte `validate:"required"`
	PhotoType     string `validate:"required,oneof=image/jpeg image/png image/webp"`
	Name          string `validate:"required,max=80"`
	Phone         string `validate:"required_without=Email,omitempty,phone"`
	Email         string `validate:"required_without=Phone,omitempty,email,max=254"`
	Organization  string `validate:"max=120"`
	District      string `validate:"max=80"`
	Category      string `validate:"omitempty,category"`
	PromptVariant string `validate:"required,prompt_variant"`
	RecordID      string
	DialCode      string

	// RegenerateAllowed is set from a verified grant; it lets a request
	// overwrite an identity that already has a result.
	RegenerateAllowed bool `validate:"-"`
}

// GenerateResult is what the pipeline hands back to the transport layer.
type GenerateResult struct {
	Record     *GenerationRecord
	Composited bool
	PreviewURL string
	// DownloadURL and RawPreviewURL are best-effort; empty on presign failure.
	DownloadURL   string
	RawPreviewURL string
}

// ArtifactLinks are freshly signed URLs for a stored record.
type ArtifactLinks struct {
	FinalURL    string `json:"final_image_url"`
	DownloadURL string `json:"download_url"`
	RawURL      string `json:"raw_ai_image_url,omitempty"`
}

// UpdateDetailsRequest patches display fields on an existing record.
type UpdateDetailsRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=80"`
	Organization *string `json:"organization" validate:"omitempty,max=120"`
	DialCode     string  `json:"dial_code"`
}

// DownloadFilename is the attachment name offered for a record's final image.
func DownloadFilename(recordID string) string {
	return "scaleup-ticket-" + recordID + ".png"
}

// IdentityMove reassigns one identity key to a record. From is the key the
// record held before and is empty when it held none of that kind.
type IdentityMove struct {
	From string
	To   string
}
