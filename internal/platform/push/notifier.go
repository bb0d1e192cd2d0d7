// Package push implements the push-notifier collaborator contract by
// publishing notification requests to a message bus. A downstream
// notification service consumes the topic and owns the APNs mechanics.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventProducer is the interface for publishing one payload to the bus.
// It keeps the notifier mockable and bus-agnostic.
type EventProducer interface {
	Publish(ctx context.Context, id string, payload []byte) (string, error)
}

// NotificationRequest is the wire shape consumed by the notification
// service. Title carries the sender's display name, Body the message text.
type NotificationRequest struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Sound        string   `json:"sound"`
	DeviceTokens []string `json:"deviceTokens"`
}

// PubSubNotifier implements relay.PushNotifier.
type PubSubNotifier struct {
	producer EventProducer
	logger   zerolog.Logger
}

// NewPubSubNotifier is the constructor for the bus-backed notifier.
func NewPubSubNotifier(producer EventProducer, logger zerolog.Logger) (*PubSubNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	return &PubSubNotifier{
		producer: producer,
		logger:   logger.With().Str("component", "PubSubNotifier").Logger(),
	}, nil
}

// Notify publishes one notification request covering all the given device
// tokens. The result is informational only; callers treat failures as
// best-effort.
func (n *PubSubNotifier) Notify(ctx context.Context, senderName, messageBody string, deviceTokens []string) error {
	if len(deviceTokens) == 0 {
		return nil
	}
	request := NotificationRequest{
		Title:        senderName,
		Body:         messageBody,
		Sound:        "default",
		DeviceTokens: deviceTokens,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal notification request: %w", err)
	}

	id := uuid.NewString()
	n.logger.Debug().Str("msg_id", id).Int("tokens", len(deviceTokens)).Msg("Publishing notification request")

	if _, err := n.producer.Publish(ctx, id, payload); err != nil {
		return fmt.Errorf("failed to publish notification request: %w", err)
	}
	return nil
}
