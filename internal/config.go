package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (for checkout redirect URLs)
	BaseURL string

	// Free quota. This is the single canonical source for the free-credit
	// default; every code path that seeds or checks the free allotment reads
	// this value.
	FreeCredits int

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL

	// Inference Provider Configuration
	InferenceProvider     string // "replicate" or "mock"
	ReplicateAPIToken     string
	ReplicateModelVersion string
	InferencePollInterval time.Duration
	InferenceMaxPolls     int
	InferenceTimeout      time.Duration

	// Guest sessions
	GuestTokenSecret string        // HMAC key for guest usage tokens
	StageTTL         time.Duration // how long a staged enhancement survives the quota wall

	// Retention sweep
	RetentionKey          string // shared secret for the sweep endpoint
	StorageAlertBytes     int64  // usage threshold that triggers an alert email
	StorageAlertRecipient string

	// SMTP Configuration (storage alerts)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Stripe Billing Configuration
	// These are required when billing is enabled in production.
	// In development, billing handlers function as stubs if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe price IDs, one per paid tier plus the two AI credit packs
	StripeWeeklyPriceID         string
	StripeMonthlyPriceID        string
	StripeYearlyPriceID         string
	StripePremierWeeklyPriceID  string
	StripePremierMonthlyPriceID string
	StripePremierYearlyPriceID  string
	StripePackSmallPriceID      string
	StripePackLargePriceID      string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		FreeCredits: getEnvInt("FREE_CREDITS", 5),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		// Inference provider defaults
		InferenceProvider:     getEnv("INFERENCE_PROVIDER", "mock"),
		ReplicateAPIToken:     getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateModelVersion: getEnv("REPLICATE_MODEL_VERSION", ""),
		InferencePollInterval: getEnvDuration("INFERENCE_POLL_INTERVAL", 2*time.Second),
		InferenceMaxPolls:     getEnvInt("INFERENCE_MAX_POLLS", 90),
		InferenceTimeout:      getEnvDuration("INFERENCE_TIMEOUT", 3*time.Minute),

		GuestTokenSecret: getEnv("GUEST_TOKEN_SECRET", ""),
		StageTTL:         getEnvDuration("STAGE_TTL", 10*time.Minute),

		RetentionKey:          getEnv("RETENTION_KEY", ""),
		StorageAlertBytes:     int64(getEnvInt("STORAGE_ALERT_BYTES", 0)),
		StorageAlertRecipient: getEnv("STORAGE_ALERT_RECIPIENT", ""),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@pixelift.app"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Pixelift"),

		// Stripe billing (optional; the server runs without these)
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeWeeklyPriceID:         getEnv("STRIPE_WEEKLY_PRICE_ID", ""),
		StripeMonthlyPriceID:        getEnv("STRIPE_MONTHLY_PRICE_ID", ""),
		StripeYearlyPriceID:         getEnv("STRIPE_YEARLY_PRICE_ID", ""),
		StripePremierWeeklyPriceID:  getEnv("STRIPE_PREMIER_WEEKLY_PRICE_ID", ""),
		StripePremierMonthlyPriceID: getEnv("STRIPE_PREMIER_MONTHLY_PRICE_ID", ""),
		StripePremierYearlyPriceID:  getEnv("STRIPE_PREMIER_YEARLY_PRICE_ID", ""),
		StripePackSmallPriceID:      getEnv("STRIPE_PACK_SMALL_PRICE_ID", ""),
		StripePackLargePriceID:      getEnv("STRIPE_PACK_LARGE_PRICE_ID", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.FreeCredits < 0 {
		return nil, fmt.Errorf("FREE_CREDITS must not be negative")
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate inference provider configuration
	if cfg.InferenceProvider == "replicate" {
		if cfg.ReplicateAPIToken == "" {
			return nil, fmt.Errorf("REPLICATE_API_TOKEN is required when INFERENCE_PROVIDER is 'replicate'")
		}
		if cfg.ReplicateModelVersion == "" {
			return nil, fmt.Errorf("REPLICATE_MODEL_VERSION is required when INFERENCE_PROVIDER is 'replicate'")
		}
	} else if cfg.InferenceProvider != "mock" {
		return nil, fmt.Errorf("INFERENCE_PROVIDER must be either 'replicate' or 'mock', got: %s", cfg.InferenceProvider)
	}

	if cfg.GuestTokenSecret == "" && cfg.Env != "development" {
		return nil, fmt.Errorf("GUEST_TOKEN_SECRET is required outside development")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
