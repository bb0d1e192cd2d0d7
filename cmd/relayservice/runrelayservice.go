// Local runner: starts the relay with faked collaborators so a client can
// be pointed at ws://localhost:8080/ws without any backing services.
package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/amaclean2/Couloirs/cmd"
	"github.com/amaclean2/Couloirs/internal/app"
	"github.com/amaclean2/Couloirs/relayservice"
	"github.com/amaclean2/Couloirs/relayservice/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "couloirs-relay").Logger()

	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.RunMode = "local"
	cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration validation failed")
	}

	logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
	deps := cmd.NewFakeDependencies(logger)

	service, err := relayservice.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relay service")
	}
	app.Run(context.Background(), logger, service)
}
