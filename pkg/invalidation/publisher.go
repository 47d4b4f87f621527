package invalidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/rs/zerolog"
)

// Publisher sends locally originated invalidations to a Pub/Sub topic. It is
// the query engine's Notifier.
type Publisher struct {
	topic  *pubsub.Topic
	origin string
	logger zerolog.Logger
}

var _ querycache.Notifier = (*Publisher)(nil)

// NewPublisher creates a Publisher, verifying that the topic exists.
func NewPublisher(ctx context.Context, client *pubsub.Client, topicID, origin string, logger zerolog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if origin == "" {
		return nil, errors.New("origin cannot be empty")
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}
	return &Publisher{
		topic:  topic,
		origin: origin,
		logger: logger.With().Str("component", "InvalidationPublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Notify publishes tags. It returns once the message is queued; the publish
// result is logged asynchronously.
func (p *Publisher) Notify(ctx context.Context, tags []querycache.Tag) error {
	payload, err := encode(p.origin, tags)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{OriginAttribute: p.origin},
	})

	go func() {
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Int("tags", len(tags)).Msg("Failed to publish invalidation.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Int("tags", len(tags)).Msg("Invalidation published.")
	}()
	return nil
}

// Stop flushes pending messages, respecting the context's timeout.
func (p *Publisher) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
