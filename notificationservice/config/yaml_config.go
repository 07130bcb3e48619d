package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlRateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type YamlIngestionConfig struct {
	Enabled                bool   `yaml:"enabled"`
	TopicID                string `yaml:"topic_id"`
	SubscriptionID         string `yaml:"subscription_id"`
	SubscriptionDLQTopicID string `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int    `yaml:"num_pipeline_workers"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID          string              `yaml:"project_id"`
	ListenAddr         string              `yaml:"listen_addr"`
	BroadcastSentinel  string              `yaml:"broadcast_sentinel"`
	UsersCollection    string              `yaml:"users_collection"`
	ReconcileChunkSize int                 `yaml:"reconcile_chunk_size"`
	Provider           string              `yaml:"provider"`
	CorsConfig         YamlCorsConfig      `yaml:"cors"`
	RedisConfig        YamlRedisConfig     `yaml:"redis"`
	VapidConfig        YamlVapidConfig     `yaml:"vapid"`
	APNSConfig         YamlAPNSConfig      `yaml:"apns"`
	RateLimit          YamlRateLimitConfig `yaml:"rate_limit"`
	Ingestion          YamlIngestionConfig `yaml:"ingestion"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Secrets (P8 key, VAPID private key, credentials) are expected from the environment.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var ttl time.Duration
	if baseCfg.RedisConfig.TTL != "" {
		parsed, err := time.ParseDuration(baseCfg.RedisConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("%w: redis.ttl %q: %w", ErrConfiguration, baseCfg.RedisConfig.TTL, err)
		}
		ttl = parsed
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		BroadcastSentinel:  baseCfg.BroadcastSentinel,
		UsersCollection:    baseCfg.UsersCollection,
		ReconcileChunkSize: baseCfg.ReconcileChunkSize,
		Provider:           baseCfg.Provider,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      ttl,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: baseCfg.RateLimit.RequestsPerSecond,
			Burst:             baseCfg.RateLimit.Burst,
		},
		IngestionEnabled:       baseCfg.Ingestion.Enabled,
		TopicID:                baseCfg.Ingestion.TopicID,
		SubscriptionID:         baseCfg.Ingestion.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.Ingestion.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.Ingestion.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"provider", cfg.Provider,
		"ingestion", cfg.IngestionEnabled,
	)

	return cfg, nil
}
