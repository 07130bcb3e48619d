package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// ErrConfiguration is returned when the final configuration cannot run the service.
var ErrConfiguration = errors.New("invalid configuration")

// Push provider names.
const (
	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"
	ProviderWeb  = "web"
)

// CredentialsEnvVar holds the base64-encoded service-account JSON.
const CredentialsEnvVar = "GOOGLE_APPLICATION_CREDENTIALS_BASE64"

const (
	defaultBroadcastSentinel = "everyone"
	defaultUsersCollection   = "users"
	defaultChunkSize         = 10
	defaultCacheTTL          = 30 * time.Second
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	P8Key    string
	Sandbox  bool
}

// RateLimitConfig bounds inbound HTTP requests. Zero RequestsPerSecond disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	BroadcastSentinel  string
	UsersCollection    string
	ReconcileChunkSize int
	Provider           string

	// CredentialsJSON is the decoded service-account key.
	CredentialsJSON []byte

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	RateLimit  RateLimitConfig

	IngestionEnabled       bool
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	overrideString(logger, "PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString(logger, "BROADCAST_SENTINEL", &cfg.BroadcastSentinel)
	overrideString(logger, "USERS_COLLECTION", &cfg.UsersCollection)
	overrideString(logger, "PUSH_PROVIDER", &cfg.Provider)
	overrideInt(logger, "RECONCILE_CHUNK_SIZE", &cfg.ReconcileChunkSize)

	// Ingestion Overrides
	overrideBool(logger, "INGESTION_ENABLED", &cfg.IngestionEnabled)
	overrideString(logger, "TOPIC_ID", &cfg.TopicID)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	overrideString(logger, "SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	overrideInt(logger, "NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	overrideString(logger, "REDIS_PASSWORD", &cfg.Redis.Password)
	overrideInt(logger, "REDIS_DB", &cfg.Redis.DB)
	overrideBool(logger, "REDIS_ENABLED", &cfg.Redis.Enabled)
	if val := os.Getenv("REDIS_TTL"); val != "" {
		if ttl, err := time.ParseDuration(val); err == nil {
			logger.Debug("Overriding config value", "key", "REDIS_TTL", "source", "env")
			cfg.Redis.TTL = ttl
		}
	}

	// VAPID Overrides
	overrideString(logger, "VAPID_PUBLIC_KEY", &cfg.Vapid.PublicKey)
	overrideString(logger, "VAPID_PRIVATE_KEY", &cfg.Vapid.PrivateKey)
	overrideString(logger, "VAPID_SUB_EMAIL", &cfg.Vapid.SubscriberEmail)

	// APNs Overrides
	overrideString(logger, "APNS_KEY_ID", &cfg.APNS.KeyID)
	overrideString(logger, "APNS_TEAM_ID", &cfg.APNS.TeamID)
	overrideString(logger, "APNS_BUNDLE_ID", &cfg.APNS.BundleID)
	overrideString(logger, "APNS_P8_KEY", &cfg.APNS.P8Key)
	overrideBool(logger, "APNS_SANDBOX", &cfg.APNS.Sandbox)

	// Rate limit Overrides
	if val := os.Getenv("RATE_LIMIT_RPS"); val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil && rps >= 0 {
			logger.Debug("Overriding config value", "key", "RATE_LIMIT_RPS", "source", "env")
			cfg.RateLimit.RequestsPerSecond = rps
		}
	}
	overrideInt(logger, "RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Credentials are only ever supplied by the environment.
	creds, err := decodeCredentials(os.Getenv(CredentialsEnvVar))
	if err != nil {
		return nil, err
	}
	cfg.CredentialsJSON = creds

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.BroadcastSentinel == "" {
		cfg.BroadcastSentinel = defaultBroadcastSentinel
	}
	if cfg.UsersCollection == "" {
		cfg.UsersCollection = defaultUsersCollection
	}
	if cfg.ReconcileChunkSize <= 0 {
		cfg.ReconcileChunkSize = defaultChunkSize
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderFCM
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = defaultCacheTTL
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	// 3. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required (set via YAML or PROJECT_ID env var)", ErrConfiguration)
	}
	if err := validateProvider(cfg); err != nil {
		return nil, err
	}
	if cfg.IngestionEnabled {
		if cfg.SubscriptionID == "" {
			return nil, fmt.Errorf("%w: subscription_id is required when ingestion is enabled", ErrConfiguration)
		}
		if cfg.PubsubConsumerConfig == nil {
			cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
		}
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validateProvider(cfg *Config) error {
	switch cfg.Provider {
	case ProviderFCM:
		return nil
	case ProviderAPNS:
		a := cfg.APNS
		if a.KeyID == "" || a.TeamID == "" || a.BundleID == "" || a.P8Key == "" {
			return fmt.Errorf("%w: apns provider requires key_id, team_id, bundle_id and p8_key", ErrConfiguration)
		}
		return nil
	case ProviderWeb:
		if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
			return fmt.Errorf("%w: web provider requires vapid public_key and private_key", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown push provider %q", ErrConfiguration, cfg.Provider)
	}
}

func decodeCredentials(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfiguration, CredentialsEnvVar)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64: %w", ErrConfiguration, CredentialsEnvVar, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s decodes to an empty document", ErrConfiguration, CredentialsEnvVar)
	}
	return raw, nil
}

func overrideString(logger *slog.Logger, key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}

func overrideInt(logger *slog.Logger, key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = n
		}
	}
}

func overrideBool(logger *slog.Logger, key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = b
		}
	}
}
