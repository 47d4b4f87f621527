package invalidation_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-catalogadmin/pkg/cache"
	"github.com/illmade-knight/go-catalogadmin/pkg/invalidation"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	projectID = "test-project"
	topicID   = "catalog-invalidations"
)

type recordingApplier struct {
	mu   sync.Mutex
	tags [][]querycache.Tag
}

func (r *recordingApplier) ApplyRemoteInvalidation(_ context.Context, tags []querycache.Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tags)
}

func (r *recordingApplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tags)
}

func newPubsub(t *testing.T, ctx context.Context, subs ...string) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	for _, id := range subs {
		_, err := client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{Topic: topic})
		require.NoError(t, err)
	}
	return client
}

func startListener(t *testing.T, ctx context.Context, client *pubsub.Client, subID, origin string, applier invalidation.Applier) {
	t.Helper()
	l, err := invalidation.NewListener(ctx, invalidation.NewListenerDefaults(subID), client, origin, applier, zerolog.Nop())
	require.NoError(t, err)
	l.Start(ctx)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, l.Stop(stopCtx))
	})
}

func TestPublisherAndListener(t *testing.T) {
	// --- Arrange ---
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	client := newPubsub(t, ctx, "sub-a", "sub-b")

	originA, originB := invalidation.NewOrigin(), invalidation.NewOrigin()
	require.NotEqual(t, originA, originB)

	publisher, err := invalidation.NewPublisher(ctx, client, topicID, originA, zerolog.Nop())
	require.NoError(t, err)

	self := &recordingApplier{}
	peer := &recordingApplier{}
	startListener(t, ctx, client, "sub-a", originA, self)
	startListener(t, ctx, client, "sub-b", originB, peer)

	// --- Act ---
	tags := []querycache.Tag{querycache.EntityTag("Product", "p1"), querycache.ListTag("Product")}
	require.NoError(t, publisher.Notify(ctx, tags))

	// --- Assert ---
	require.Eventually(t, func() bool { return peer.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	peer.mu.Lock()
	assert.Equal(t, tags, peer.tags[0])
	peer.mu.Unlock()

	// The publishing instance already invalidated locally and must ignore its own echo.
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, self.count())

	stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
	defer stopCancel()
	require.NoError(t, publisher.Stop(stopCtx))
}

func TestListener_DropsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	client := newPubsub(t, ctx, "sub-b")

	peer := &recordingApplier{}
	startListener(t, ctx, client, "sub-b", invalidation.NewOrigin(), peer)

	topic := client.Topic(topicID)
	t.Cleanup(topic.Stop)
	_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte("not json")}).Get(ctx)
	require.NoError(t, err)
	good, err := json.Marshal(invalidation.Message{Origin: "other", Tags: []querycache.Tag{querycache.ListTag("Product")}})
	require.NoError(t, err)
	_, err = topic.Publish(ctx, &pubsub.Message{Data: good}).Get(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return peer.count() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestRemoteInvalidationRefreshesPeerEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	client := newPubsub(t, ctx, "sub-a", "sub-b")

	newEngine := func(n querycache.Notifier) *querycache.Engine {
		e, err := querycache.NewEngine(querycache.Config{}, cache.NewInMemoryCache[string, json.RawMessage](), n, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close() })
		return e
	}

	originA, originB := invalidation.NewOrigin(), invalidation.NewOrigin()
	pubA, err := invalidation.NewPublisher(ctx, client, topicID, originA, zerolog.Nop())
	require.NoError(t, err)
	pubB, err := invalidation.NewPublisher(ctx, client, topicID, originB, zerolog.Nop())
	require.NoError(t, err)
	engineA := newEngine(pubA)
	engineB := newEngine(pubB)
	startListener(t, ctx, client, "sub-a", originA, engineA)
	startListener(t, ctx, client, "sub-b", originB, engineB)

	var fetches atomic.Int64
	def := querycache.QueryDef{
		Key: querycache.Key("getProducts", nil),
		Fetch: func(context.Context) (json.RawMessage, error) {
			fetches.Add(1)
			return json.RawMessage(`{"products":[]}`), nil
		},
		Provides: func(json.RawMessage, error) []querycache.Tag {
			return []querycache.Tag{querycache.ListTag("Product")}
		},
	}
	sub, err := engineB.Subscribe(def)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	_, err = sub.Wait(ctx)
	require.NoError(t, err)

	engineA.InvalidateTags(ctx, querycache.ListTag("Product"))

	require.Eventually(t, func() bool { return fetches.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
	// engineB applied the remote invalidation without publishing it again.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, uint64(1), engineA.Stats().Invalidations)
	assert.Equal(t, uint64(1), engineB.Stats().Invalidations)
}

func TestNewPublisher_TopicDoesNotExist(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client := newPubsub(t, ctx)

	_, err := invalidation.NewPublisher(ctx, client, "missing", invalidation.NewOrigin(), zerolog.Nop())
	assert.Error(t, err)
	_, err = invalidation.NewListener(ctx, invalidation.NewListenerDefaults("missing"), client, "o", &recordingApplier{}, zerolog.Nop())
	assert.Error(t, err)
}
