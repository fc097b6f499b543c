package dynamo

// DynamoDB attribute names used in keys and update expressions.
const (
	fieldRecordID         = "record_id"
	fieldClaimKey         = "claim_key"
	fieldIdentityKey      = "identity_key"
	fieldPhone            = "phone"
	fieldEmail            = "email"
	fieldUpdatedAt        = "updated_at"
	fieldUploadedPhotoKey = "uploaded_photo_key"
	fieldAIArtifactKey    = "ai_artifact_key"
	fieldFinalArtifactKey = "final_artifact_key"
	fieldAttempts         = "attempts"
	fieldVerified         = "verified"
	fieldExpiresAt        = "expires_at"
)
