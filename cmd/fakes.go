package cmd

import (
	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/internal/platform/presence"
	"github.com/amaclean2/Couloirs/internal/test/fakes"
	"github.com/amaclean2/Couloirs/relayservice"
)

// Local-mode tokens: any of these verify without an identity service.
var localUsers = map[string]string{
	"local-token-1": "local-user-1",
	"local-token-2": "local-user-2",
}

// NewFakeDependencies creates in-memory fakes for local development.
func NewFakeDependencies(logger zerolog.Logger) *relayservice.Dependencies {
	verifier := fakes.NewVerifier()
	for token, userID := range localUsers {
		verifier.Allow(token, userID)
	}
	return &relayservice.Dependencies{
		Verifier:  verifier,
		Messaging: fakes.NewMessagingService(logger),
		Notifier:  fakes.NewPushNotifier(logger),
		Tokens:    presence.NewMemoryTokenCache(),
	}
}
