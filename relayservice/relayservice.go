// Package relayservice wires the relay's components into a runnable
// service: one HTTP server exposing the websocket endpoint and a liveness
// probe.
package relayservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/internal/pipeline"
	"github.com/amaclean2/Couloirs/internal/realtime"
	"github.com/amaclean2/Couloirs/pkg/relay"
	"github.com/amaclean2/Couloirs/relayservice/config"
)

// Dependencies is the collaborator container the service is built from.
// Entrypoints decide whether these are production clients or fakes.
type Dependencies struct {
	Verifier  relay.IdentityVerifier
	Messaging relay.MessagingService
	Notifier  relay.PushNotifier
	Tokens    relay.DeviceTokenCache
}

// Service owns the HTTP server and the relay component graph.
type Service struct {
	server      *http.Server
	registry    *realtime.Registry
	connManager *realtime.ConnectionManager
	tokens      relay.DeviceTokenCache
	logger      zerolog.Logger
}

// New wires up the entire relay service.
func New(cfg *config.AppConfig, deps *Dependencies, logger zerolog.Logger) (*Service, error) {
	if deps.Verifier == nil || deps.Messaging == nil || deps.Notifier == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("all service dependencies must be provided")
	}

	registry := realtime.NewRegistry()
	index := realtime.NewMembershipIndex()

	dispatcher := pipeline.NewDispatcher(deps.Messaging, index, deps.Tokens, logger)
	broadcaster := pipeline.NewBroadcaster(registry, index, deps.Tokens, deps.Notifier, logger)

	connManager := realtime.NewConnectionManager(
		deps.Verifier,
		dispatcher,
		broadcaster,
		registry,
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", connManager)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		connections := registry.Connections()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": len(connections),
			"users":       connections,
		})
	})

	return &Service{
		server: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: mux,
		},
		registry:    registry,
		connManager: connManager,
		tokens:      deps.Tokens,
		logger:      logger.With().Str("component", "RelayService").Logger(),
	}, nil
}

// Handler exposes the service mux, used by tests to run the service behind
// an httptest server.
func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server until it is shut down.
func (s *Service) Start(_ context.Context) error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Relay server starting...")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and closes the token cache.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down relay service...")
	var finalErr error
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Relay server shutdown failed.")
		finalErr = err
	}
	if err := s.tokens.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Token cache close failed.")
		if finalErr == nil {
			finalErr = err
		}
	}
	s.logger.Info().Msg("Relay service shut down.")
	return finalErr
}
