package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort   string
	AppEnv    string
	LogFormat string // "json" | "text"

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	OpenRouterReferer string
	AITimeout         time.Duration

	TemplateBackgroundPath string
	TemplateLayerPath      string
	DefaultDialCode        string
	MaxPhotoBytes          int64
	PreviewURLTTL          time.Duration
	DownloadURLTTL         time.Duration

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	OTPTTL         time.Duration
	OTPMaxAttempts int

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	WhatsAppAPIURL string
	WhatsAppAPIKey string
	NotifyTimeout  time.Duration

	RedisURL        string
	RegenerateLease time.Duration

	AllowedOrigins []string // CORS allowed origins
	TrustProxy     bool     // take the client address from forwarding headers
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Generations    string
	IdentityClaims string
	Verifications  string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:   getEnv("APP_PORT", "3000"),
		AppEnv:    getEnv("APP_ENV", "development"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AWSRegion:      getEnv("AWS_REGION", "ap-south-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Generations:    getEnv("DYNAMO_TABLE_GENERATIONS", "generations"),
			IdentityClaims: getEnv("DYNAMO_TABLE_IDENTITY_CLAIMS", "identity_claims"),
			Verifications:  getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "portrait-artifacts"),

		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "sourceful/riverflow-v2-fast-preview"),
		OpenRouterReferer: getEnv("OPENROUTER_REFERER", ""),
		AITimeout:         getEnvSeconds("AI_TIMEOUT_SECONDS", 90),

		TemplateBackgroundPath: getEnv("TEMPLATE_BACKGROUND_PATH", "./assets/background.png"),
		TemplateLayerPath:      getEnv("TEMPLATE_LAYER_PATH", "./assets/layer.png"),
		DefaultDialCode:        getEnv("DEFAULT_DIAL_CODE", "+91"),
		MaxPhotoBytes:          int64(getEnvInt("MAX_PHOTO_BYTES", 2<<20)),
		PreviewURLTTL:          getEnvSeconds("PREVIEW_URL_TTL_SECONDS", 3600),
		DownloadURLTTL:         getEnvSeconds("DOWNLOAD_URL_TTL_SECONDS", 604800),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_MINUTES", 30)) * time.Minute,

		OTPTTL:         time.Duration(getEnvInt("OTP_TTL_MINUTES", 10)) * time.Minute,
		OTPMaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "ap-south-1"),

		WhatsAppAPIURL: getEnv("WHATSAPP_API_URL", ""),
		WhatsAppAPIKey: getEnv("WHATSAPP_API_KEY", ""),
		NotifyTimeout:  getEnvSeconds("NOTIFY_TIMEOUT_SECONDS", 30),

		RedisURL:        getEnv("REDIS_URL", ""),
		RegenerateLease: getEnvSeconds("REGEN_LEASE_SECONDS", 180),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxy:     getEnvBool("TRUST_PROXY", false),
	}
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
