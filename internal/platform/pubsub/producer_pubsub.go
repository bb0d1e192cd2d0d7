// Package pubsub contains concrete adapters for Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
)

// pubsubTopicClient is the slice of pubsub.Publisher the producer needs.
// It allows a mock in tests.
type pubsubTopicClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Producer publishes raw payloads to one Pub/Sub topic. It satisfies the
// push.EventProducer interface.
type Producer struct {
	topic pubsubTopicClient
}

// NewProducer is the constructor for the Pub/Sub producer.
func NewProducer(topic pubsubTopicClient) *Producer {
	return &Producer{topic: topic}
}

// Publish sends the payload and waits for the server-assigned message id.
func (p *Producer) Publish(ctx context.Context, id string, payload []byte) (string, error) {
	message := &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"msg_id": id},
	}
	result := p.topic.Publish(ctx, message)
	serverID, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return serverID, nil
}
