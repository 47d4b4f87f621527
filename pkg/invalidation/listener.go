package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/rs/zerolog"
)

// Applier applies invalidations received from other instances.
type Applier interface {
	ApplyRemoteInvalidation(ctx context.Context, tags []querycache.Tag)
}

// ListenerConfig holds configuration for a Listener.
type ListenerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// NewListenerDefaults returns a config for subID with sensible defaults.
func NewListenerDefaults(subID string) ListenerConfig {
	return ListenerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          2,
	}
}

// Listener receives invalidations from a subscription and applies those
// published by other instances.
type Listener struct {
	sub     *pubsub.Subscription
	origin  string
	applier Applier
	logger  zerolog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewListener creates a Listener, verifying that the subscription exists.
func NewListener(ctx context.Context, cfg ListenerConfig, client *pubsub.Client, origin string, applier Applier, logger zerolog.Logger) (*Listener, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if applier == nil {
		return nil, errors.New("applier cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}
	return &Listener{
		sub:     sub,
		origin:  origin,
		applier: applier,
		logger:  logger.With().Str("component", "InvalidationListener").Str("subscription_id", cfg.SubscriptionID).Logger(),
		done:    make(chan struct{}),
	}, nil
}

// Start begins receiving in the background until ctx is done or Stop is called.
func (l *Listener) Start(ctx context.Context) {
	receiveCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go func() {
		defer close(l.done)
		l.logger.Info().Msg("Listening for invalidations.")
		err := l.sub.Receive(receiveCtx, l.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error.")
		}
		l.logger.Info().Msg("Invalidation listener stopped.")
	}()
}

func (l *Listener) handle(ctx context.Context, msg *pubsub.Message) {
	// Every message is acked: a malformed one would never decode on redelivery.
	defer msg.Ack()
	if msg.Attributes[OriginAttribute] == l.origin {
		return
	}
	m, err := decode(msg.Data)
	if err != nil {
		l.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Dropping malformed invalidation.")
		return
	}
	if m.Origin == l.origin || len(m.Tags) == 0 {
		return
	}
	l.applier.ApplyRemoteInvalidation(ctx, m.Tags)
	l.logger.Debug().Str("msg_id", msg.ID).Str("origin", m.Origin).Int("tags", len(m.Tags)).Msg("Remote invalidation applied.")
}

// Stop cancels receiving and waits for the receive loop to return.
func (l *Listener) Stop(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		if l.cancel == nil {
			return
		}
		l.cancel()
		select {
		case <-l.done:
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(30 * time.Second):
			err = errors.New("timeout waiting for invalidation listener to stop")
		}
	})
	return err
}
