package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	UseMemoryQueue bool
	WorkerCount    int

	// Moderation thresholds. All tunable without code changes.
	RedactThreshold    float64
	BlockThreshold     float64
	ScopeMinConfidence float64
	ContextWindow      int
	AnalysisTimeout    time.Duration

	// Language-analysis provider: "bedrock", "openai", or "none" (patterns only).
	AnalysisProvider string
	BedrockModelID   string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string

	// Bid-record service (external collaborator).
	BidRecordBaseURL string
	BidRecordAPIKey  string
	BidRecordTimeout time.Duration

	// Outbox delivery.
	OutboxBatchSize   int
	OutboxInterval    time.Duration
	OutboxMaxAttempts int
	OutboxBackoffBase time.Duration

	// Attachment storage / extraction.
	AttachmentBucket   string
	ExtractionMaxBytes int64

	// Queue wiring for the pipeline worker.
	PipelineQueueURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		RedactThreshold:    getEnvAsFloat("REDACT_THRESHOLD", 0.4),
		BlockThreshold:     getEnvAsFloat("BLOCK_THRESHOLD", 0.85),
		ScopeMinConfidence: getEnvAsFloat("SCOPE_MIN_CONFIDENCE", 0.5),
		ContextWindow:      getEnvAsInt("CONTEXT_WINDOW", 10),
		AnalysisTimeout:    getEnvAsDuration("ANALYSIS_TIMEOUT", 30*time.Second),

		AnalysisProvider: strings.ToLower(strings.TrimSpace(getEnv("ANALYSIS_PROVIDER", "none"))),
		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		BidRecordBaseURL: getEnv("BID_RECORD_BASE_URL", ""),
		BidRecordAPIKey:  getEnv("BID_RECORD_API_KEY", ""),
		BidRecordTimeout: getEnvAsDuration("BID_RECORD_TIMEOUT", 15*time.Second),

		OutboxBatchSize:   getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxMaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxBackoffBase: getEnvAsDuration("OUTBOX_BACKOFF_BASE", 30*time.Second),

		AttachmentBucket:   getEnv("ATTACHMENT_BUCKET", ""),
		ExtractionMaxBytes: int64(getEnvAsInt("EXTRACTION_MAX_BYTES", 20*1024*1024)),

		PipelineQueueURL: getEnv("PIPELINE_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
