package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// Broadcaster pushes a serialized response to every currently-registered
// connection for every member of the target conversation, and falls back to
// the push notifier for members who left a device token but hold no live
// connection. Push delivery is best-effort; failures are logged only.
type Broadcaster struct {
	registry relay.Registry
	index    relay.MembershipIndex
	tokens   relay.DeviceTokenCache
	notifier relay.PushNotifier
	logger   zerolog.Logger
}

// NewBroadcaster creates the fan-out engine.
func NewBroadcaster(
	registry relay.Registry,
	index relay.MembershipIndex,
	tokens relay.DeviceTokenCache,
	notifier relay.PushNotifier,
	logger zerolog.Logger,
) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		index:    index,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.With().Str("component", "Broadcaster").Logger(),
	}
}

// Broadcast resolves the conversation's member set, applies the delivery's
// membership updates, and fans the envelope out. An empty member set means
// this is the first message the relay has seen for the conversation; the
// triggering user becomes the sole initial member.
func (b *Broadcaster) Broadcast(ctx context.Context, envelope relay.Envelope, delivery *Delivery, triggerUserID string) {
	log := b.logger.With().Str("conversation", delivery.ConversationID).Logger()

	if delivery.InitialMembers != nil {
		b.index.Replace(delivery.ConversationID, delivery.InitialMembers)
	}
	if delivery.AddedUserID != "" {
		b.index.Subscribe(delivery.ConversationID, delivery.AddedUserID)
	}

	members := b.index.MembersOf(delivery.ConversationID)
	if len(members) == 0 {
		b.index.Subscribe(delivery.ConversationID, triggerUserID)
		members = []string{triggerUserID}
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize envelope for broadcast")
		return
	}

	var offlineTokens []string
	for _, userID := range members {
		if conn, ok := b.registry.Lookup(userID); ok {
			if err := conn.Send(payload); err != nil {
				log.Warn().Err(err).Str("user", userID).Msg("Failed to deliver envelope to live connection")
			}
			continue
		}
		if delivery.SenderName == "" && delivery.MessageBody == "" {
			continue
		}
		token, err := b.tokens.Fetch(ctx, userID)
		if err != nil {
			if !errors.Is(err, relay.ErrTokenNotFound) {
				log.Warn().Err(err).Str("user", userID).Msg("Device token lookup failed")
			}
			continue
		}
		offlineTokens = append(offlineTokens, token)
	}

	if len(offlineTokens) > 0 {
		log.Info().Int("tokens", len(offlineTokens)).Msg("Sending notifications to offline device tokens")
		if err := b.notifier.Notify(ctx, delivery.SenderName, delivery.MessageBody, offlineTokens); err != nil {
			log.Warn().Err(err).Msg("Push notification failed")
		}
	}
}
