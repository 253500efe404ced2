// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// EventAttribute carries the event name on every message.
const EventAttribute = "event"

// Publisher sends JSON events to one Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for topicName on client.
func New(client *pubsub.Client, topicName string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicName == "" {
		return nil, fmt.Errorf("topic name is required")
	}
	return &Publisher{topic: client.Topic(topicName)}, nil
}

// Publish marshals the payload to JSON and publishes it. The event name is
// sent as a message attribute so subscribers can filter.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{EventAttribute: event},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and stops the topic's background goroutines.
func (p *Publisher) Close() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
