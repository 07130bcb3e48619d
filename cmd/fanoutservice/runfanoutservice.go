package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/apns"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/web"

	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-fanout-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"

	"github.com/tinywideclouds/go-fanout-service/notificationservice"
	"github.com/tinywideclouds/go-fanout-service/notificationservice/config"

	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// A local .env is optional; deployed environments set variables directly.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-fanout-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return err
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return err
	}
	creds := option.WithCredentialsJSON(cfg.CredentialsJSON)

	// --- Device Registry (Decorated) ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, creds)
	if err != nil {
		return fmt.Errorf("firestore client failed: %w", err)
	}
	defer fsClient.Close()

	var registry dispatch.Registry = fsStore.NewRegistry(fsClient, cfg.UsersCollection, logger)
	logger.Info("Registry initialized", "type", "firestore", "collection", cfg.UsersCollection)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		registry = cache.NewCachedRegistry(registry, redisClient, cfg.Redis.TTL, logger)
		logger.Info("Registry upgraded", "type", "redis_cached_firestore", "ttl", cfg.Redis.TTL)
	}

	// --- Push Provider ---
	provider, err := newProvider(ctx, cfg, creds, logger)
	if err != nil {
		return err
	}
	logger.Info("Push provider initialized", "provider", cfg.Provider)

	// --- Pipeline ---
	orchestrator := fanout.NewOrchestrator(
		fanout.NewResolver(registry, cfg.BroadcastSentinel, logger),
		fanout.NewDispatcher(provider, logger),
		fanout.NewReconciler(registry, cfg.ReconcileChunkSize, logger),
		logger,
	)

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.IngestionEnabled {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, creds)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
	}

	service, err := notificationservice.New(cfg, orchestrator, consumer, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errChan <- service.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newProvider(ctx context.Context, cfg *config.Config, creds option.ClientOption, logger *slog.Logger) (dispatch.Provider, error) {
	switch cfg.Provider {
	case config.ProviderAPNS:
		return apns.NewProvider(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
	case config.ProviderWeb:
		return web.NewProvider(cfg.Vapid, logger), nil
	default:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		return fcm.NewProvider(fcmMessaging, logger), nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
