// Package pubsub publishes one Pub/Sub message per accepted record.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

// Message attribute keys.
const (
	AttrRunID      = "run_id"
	AttrTopic      = "topic"
	AttrSourceMode = "source_mode"
)

const fallbackOrderingKey = "quotes"

// Config identifies the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	ResumePublish(orderingKey string)
	Stop()
}

// Sink publishes records as JSON messages ordered by run ID.
type Sink struct {
	topic  topicPublisher
	client *pubsub.Client
}

var _ crawler.Sink = (*Sink)(nil)

// New connects to Pub/Sub and binds the configured topic.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("sink.pubsub.project_id is required")
	}
	if strings.TrimSpace(cfg.TopicID) == "" {
		return nil, fmt.Errorf("sink.pubsub.topic_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	s := NewWithTopic(client.Topic(cfg.TopicID))
	s.client = client
	return s, nil
}

// NewWithTopic wraps an existing topic handle. The caller keeps ownership of
// the client that created it.
func NewWithTopic(topic *pubsub.Topic) *Sink {
	topic.EnableMessageOrdering = true
	return &Sink{topic: topic}
}

// Push publishes every record of batch and waits for the server to ack them.
func (s *Sink) Push(ctx context.Context, batch []crawler.Record) error {
	if len(batch) == 0 {
		return nil
	}
	runID := crawler.RunIDFrom(ctx)
	key := runID
	if key == "" {
		key = fallbackOrderingKey
	}
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for i := range batch {
		data, err := json.Marshal(batch[i])
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msg := &pubsub.Message{
			Data:        data,
			OrderingKey: key,
			Attributes: map[string]string{
				AttrRunID:      runID,
				AttrTopic:      batch[i].Topic,
				AttrSourceMode: string(batch[i].SourceMode),
			},
		}
		results = append(results, s.topic.Publish(ctx, msg))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			s.topic.ResumePublish(key)
			return fmt.Errorf("publish record: %w", err)
		}
	}
	return nil
}

// Close flushes pending messages and closes the client when the sink owns it.
func (s *Sink) Close() error {
	s.topic.Stop()
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
