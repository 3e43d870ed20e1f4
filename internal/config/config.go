package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration required by the API process.
// All values come from env (optionally seeded from a .env file by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Twilio        TwilioConfig
	Storage       StorageConfig
	Transcription TranscriptionConfig
	Analysis      AnalysisConfig
	Pipeline      PipelineConfig
	Kafka         KafkaConfig
	Upload        UploadConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV"`
	Port int    `env:"APP_PORT"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`

	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Host string `env:"REDIS_HOST"`
	Port int    `env:"REDIS_PORT" envDefault:"6379"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL"`
}

type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`

	// Voice SDK access tokens.
	APIKeySID    string        `env:"TWILIO_API_KEY_SID"`
	APIKeySecret string        `env:"TWILIO_API_KEY_SECRET"`
	TwiMLAppSID  string        `env:"TWILIO_TWIML_APP_SID"`
	TokenTTL     time.Duration `env:"TWILIO_TOKEN_TTL" envDefault:"1h"`

	CallerID string `env:"TWILIO_PHONE_NUMBER"`

	// PublicBaseURL is how Twilio reaches this service; used for callbacks and signature checks.
	PublicBaseURL     string        `env:"PUBLIC_BASE_URL"`
	ValidateSignature bool          `env:"TWILIO_VALIDATE_SIGNATURE" envDefault:"true"`
	SessionTTL        time.Duration `env:"TWILIO_SESSION_TTL" envDefault:"24h"`
}

type StorageConfig struct {
	Bucket          string        `env:"STORAGE_BUCKET"`
	CredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	PresignTTL      time.Duration `env:"STORAGE_PRESIGN_TTL" envDefault:"1h"`
	TempDir         string        `env:"STORAGE_TEMP_DIR"`
}

type TranscriptionConfig struct {
	// Engine is "http" (whisper-compatible service) or "google" (Cloud Speech v2).
	Engine   string `env:"TRANSCRIPTION_ENGINE" envDefault:"http"`
	URL      string `env:"TRANSCRIPTION_URL"`
	APIKey   string `env:"TRANSCRIPTION_API_KEY"`
	Model    string `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	Language string `env:"TRANSCRIPTION_LANGUAGE" envDefault:"en-US"`

	GoogleProjectID string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`

	MaxAttempts    int           `env:"TRANSCRIPTION_MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff time.Duration `env:"TRANSCRIPTION_INITIAL_BACKOFF" envDefault:"2s"`
	MaxBackoff     time.Duration `env:"TRANSCRIPTION_MAX_BACKOFF" envDefault:"10s"`

	// RequestTimeout caps one engine HTTP request, URLTimeout the direct-URL attempt,
	// and Timeout the whole phase: URL attempt, download and every retry.
	RequestTimeout time.Duration `env:"TRANSCRIPTION_REQUEST_TIMEOUT" envDefault:"3m"`
	URLTimeout     time.Duration `env:"TRANSCRIPTION_URL_TIMEOUT" envDefault:"2m"`
	Timeout        time.Duration `env:"TRANSCRIPTION_TIMEOUT" envDefault:"15m"`
}

type AnalysisConfig struct {
	// Engine is "http" (OpenAI-compatible chat completions) or "vertex" (Gemini on Vertex AI).
	Engine string `env:"ANALYSIS_ENGINE" envDefault:"http"`
	URL    string `env:"ANALYSIS_URL"`
	APIKey string `env:"ANALYSIS_API_KEY"`
	Model  string `env:"ANALYSIS_MODEL" envDefault:"gpt-4"`

	VertexProjectID string `env:"VERTEX_PROJECT_ID"`
	VertexRegion    string `env:"VERTEX_REGION" envDefault:"us-central1"`

	MaxInputChars int           `env:"ANALYSIS_MAX_INPUT_CHARS" envDefault:"8000"`
	Timeout       time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"60s"`
}

type PipelineConfig struct {
	AutoProcess bool `env:"PIPELINE_AUTO_PROCESS" envDefault:"true"`
	// MaxConcurrency caps running attempts across instances. 0 means unlimited.
	MaxConcurrency int           `env:"PIPELINE_MAX_CONCURRENCY" envDefault:"0"`
	SlotTTL        time.Duration `env:"PIPELINE_SLOT_TTL" envDefault:"15m"`
	DrainTimeout   time.Duration `env:"PIPELINE_DRAIN_TIMEOUT" envDefault:"30s"`
}

type KafkaConfig struct {
	Enabled       bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicAnalyzed string   `env:"KAFKA_TOPIC_ANALYZED" envDefault:"call.analyzed"`
	TopicFailed   string   `env:"KAFKA_TOPIC_FAILED" envDefault:"call.failed"`
	Principal     string   `env:"KAFKA_PRINCIPAL" envDefault:"call-insights"`
}

type UploadConfig struct {
	MaxBytes int64 `env:"UPLOAD_MAX_BYTES" envDefault:"52428800"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" && c.IsProduction() {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is on"))
	}

	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("STORAGE_BUCKET is required"))
	}
	if c.Storage.PresignTTL <= 0 {
		errs = append(errs, errors.New("STORAGE_PRESIGN_TTL must be positive"))
	}

	switch c.Transcription.Engine {
	case "http":
		if c.Transcription.URL == "" {
			errs = append(errs, errors.New("TRANSCRIPTION_URL is required for the http engine"))
		}
	case "google":
		if c.Transcription.GoogleProjectID == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT_ID is required for the google engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_ENGINE must be one of http, google, got %q", c.Transcription.Engine))
	}
	if c.Transcription.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_MAX_ATTEMPTS must be at least 1, got %d", c.Transcription.MaxAttempts))
	}
	if c.Transcription.MaxBackoff < c.Transcription.InitialBackoff {
		errs = append(errs, errors.New("TRANSCRIPTION_MAX_BACKOFF must not be below TRANSCRIPTION_INITIAL_BACKOFF"))
	}
	if c.Transcription.RequestTimeout <= 0 || c.Transcription.URLTimeout <= 0 {
		errs = append(errs, errors.New("TRANSCRIPTION_REQUEST_TIMEOUT and TRANSCRIPTION_URL_TIMEOUT must be positive"))
	}
	if c.Transcription.Timeout <= c.Transcription.URLTimeout {
		errs = append(errs, errors.New("TRANSCRIPTION_TIMEOUT must exceed TRANSCRIPTION_URL_TIMEOUT so the download fallback has time to run"))
	}

	switch c.Analysis.Engine {
	case "http":
		if c.Analysis.URL == "" {
			errs = append(errs, errors.New("ANALYSIS_URL is required for the http engine"))
		}
	case "vertex":
		if c.Analysis.VertexProjectID == "" {
			errs = append(errs, errors.New("VERTEX_PROJECT_ID is required for the vertex engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("ANALYSIS_ENGINE must be one of http, vertex, got %q", c.Analysis.Engine))
	}
	if c.Analysis.MaxInputChars <= 0 {
		errs = append(errs, fmt.Errorf("ANALYSIS_MAX_INPUT_CHARS must be positive, got %d", c.Analysis.MaxInputChars))
	}

	if c.Pipeline.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_MAX_CONCURRENCY must not be negative, got %d", c.Pipeline.MaxConcurrency))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true"))
	}

	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Upload.MaxBytes))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RecordingCallbackURL is where Twilio posts recording-status events.
func (c Config) RecordingCallbackURL() string {
	return strings.TrimRight(c.Twilio.PublicBaseURL, "/") + "/webhooks/twilio/recording"
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
