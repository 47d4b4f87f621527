package cache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreEntry wraps a value so that non-struct values (such as raw JSON) can
// be stored as a document field.
type firestoreEntry[V any] struct {
	Value     V         `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreCache is a generic Store backed by a Firestore collection.
// ALLOW FIRESTORE TO BE USED IN LOW VOLUME DEPLOYMENTS
// don't use it like this in high volume deployments - that's what redis is for.
type FirestoreCache[K comparable, V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreCache creates a new generic FirestoreCache.
func NewFirestoreCache[K comparable, V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreCache[K, V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreCache initialized.")

	return &FirestoreCache[K, V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreCache").Logger(),
	}, nil
}

// docID escapes the key: query keys contain '/' which Firestore treats as a path separator.
func docID[K comparable](key K) string {
	return url.PathEscape(fmt.Sprintf("%v", key))
}

// Fetch retrieves a single document from Firestore by its key.
func (s *FirestoreCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	id := docID(key)
	docSnap, err := s.client.Collection(s.collectionName).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", id, err)
	}

	var entry firestoreEntry[V]
	if err := docSnap.DataTo(&entry); err != nil {
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", id, err)
	}

	s.logger.Debug().Str("key", id).Msg("Successfully fetched data from Firestore.")
	return entry.Value, nil
}

// Write stores the value as a document.
func (s *FirestoreCache[K, V]) Write(ctx context.Context, key K, value V) error {
	id := docID(key)
	entry := firestoreEntry[V]{Value: value, UpdatedAt: time.Now().UTC()}
	if _, err := s.client.Collection(s.collectionName).Doc(id).Set(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("key", id).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", id, err)
	}
	s.logger.Debug().Str("key", id).Msg("Successfully wrote data to Firestore.")
	return nil
}

// Invalidate deletes the document. A missing document is not an error.
func (s *FirestoreCache[K, V]) Invalidate(ctx context.Context, key K) error {
	id := docID(key)
	_, err := s.client.Collection(s.collectionName).Doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore delete for %s: %w", id, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreCache[K, V]) Close() error {
	s.logger.Info().Msg("FirestoreCache does not close the injected Firestore client.")
	return nil
}

var _ Store[string, []byte] = (*FirestoreCache[string, []byte])(nil)
