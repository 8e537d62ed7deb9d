// Package pubsub publishes one Pub/Sub message per record.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

// AttrCollection is the message attribute naming the record's collection.
const AttrCollection = "collection"

// Sink publishes records as JSON messages to a topic. Write waits for the
// server acknowledgement so a failed publish stops the collection run.
type Sink struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	collection string
}

var _ crawler.RecordSink = (*Sink)(nil)

// New wraps an existing topic. The caller keeps ownership of its client.
func New(topic *pubsub.Topic, collection string) *Sink {
	return &Sink{topic: topic, collection: collection}
}

// Open dials Pub/Sub, verifies the topic exists and returns a sink that owns
// the client.
func Open(ctx context.Context, projectID, topicID, collection string, opts ...option.ClientOption) (*Sink, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("sink.pubsub.project_id and sink.pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("topic %s does not exist", topicID)
	}
	return &Sink{client: client, topic: topic, collection: collection}, nil
}

// Write marshals record to JSON and publishes it.
func (s *Sink) Write(ctx context.Context, record crawler.EntityRecord) error {
	if s == nil || s.topic == nil {
		return errors.New("pubsub sink is not configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{AttrCollection: s.collection},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client when owned.
func (s *Sink) Close(context.Context) error {
	if s == nil || s.topic == nil {
		return nil
	}
	s.topic.Stop()
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
