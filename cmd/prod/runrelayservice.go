package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/amaclean2/Couloirs/cmd"
	"github.com/amaclean2/Couloirs/internal/app"
	"github.com/amaclean2/Couloirs/internal/platform/identity"
	"github.com/amaclean2/Couloirs/internal/platform/messaging"
	"github.com/amaclean2/Couloirs/internal/platform/presence"
	psub "github.com/amaclean2/Couloirs/internal/platform/pubsub"
	"github.com/amaclean2/Couloirs/internal/platform/push"
	"github.com/amaclean2/Couloirs/pkg/relay"
	"github.com/amaclean2/Couloirs/relayservice"
	"github.com/amaclean2/Couloirs/relayservice/config"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "couloirs-relay").Logger()

	// 2. Load config.yaml and apply env overrides
	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 3. Create dependencies
	ctx := context.Background()
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// 4. Create and run the service
	service, err := relayservice.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relay service")
	}
	app.Run(ctx, logger, service)
}

// newDependencies builds the collaborator container.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*relayservice.Dependencies, error) {
	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
		return cmd.NewFakeDependencies(logger), nil
	}
	return newProdDependencies(ctx, cfg, logger)
}

// newProdDependencies creates real, production-ready collaborator clients.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*relayservice.Dependencies, error) {
	verifier, err := identity.NewJWKSVerifier(ctx, cfg.IdentityServiceURL+"/.well-known/jwks.json", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity verifier: %w", err)
	}

	messagingClient := messaging.NewClient(cfg.MessagingServiceURL, nil, logger)

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
	}
	notifier, err := push.NewPubSubNotifier(psub.NewProducer(psClient.Publisher(cfg.PushTopicID)), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create push notifier: %w", err)
	}

	tokens, err := newTokenCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &relayservice.Dependencies{
		Verifier:  verifier,
		Messaging: messagingClient,
		Notifier:  notifier,
		Tokens:    tokens,
	}, nil
}

// newTokenCache selects the device-token cache backend from config.
func newTokenCache(cfg *config.AppConfig, logger zerolog.Logger) (relay.DeviceTokenCache, error) {
	switch cfg.TokenCache.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.TokenCache.Redis.Addr})
		return presence.NewRedisTokenCache(client, logger)
	case "", "memory":
		return presence.NewMemoryTokenCache(), nil
	default:
		return nil, fmt.Errorf("unknown token cache type %q", cfg.TokenCache.Type)
	}
}
