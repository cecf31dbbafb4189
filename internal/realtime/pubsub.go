package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smartmarket/internal/core"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSub publishes payment events to a Google Cloud Pub/Sub topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to projectID. credentialsJSON empty falls back to
// Application Default Credentials.
func NewPubSub(ctx context.Context, projectID, credentialsJSON, topic string) (*PubSub, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if topic == "" {
		return nil, errors.New("pubsub topic is required")
	}

	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	c, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSub{client: c, topic: c.Topic(topic)}, nil
}

// Publish blocks until the server acknowledges the message or ctx ends.
func (p *PubSub) Publish(ctx context.Context, ev core.PaymentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":       string(ev.Type),
			"payment_id": fmt.Sprint(ev.PaymentID),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
