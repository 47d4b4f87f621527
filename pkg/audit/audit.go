// Package audit records successful catalog mutations.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one recorded mutation.
type Entry struct {
	ID        string    `bigquery:"id" json:"id"`
	Operation string    `bigquery:"operation" json:"operation"`
	ProductID string    `bigquery:"product_id" json:"productId,omitempty"`
	Tags      []string  `bigquery:"tags" json:"tags"`
	At        time.Time `bigquery:"at" json:"at"`
}

// NewEntry stamps a new Entry with a random id and the current time.
func NewEntry(operation, productID string, tags []string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Operation: operation,
		ProductID: productID,
		Tags:      tags,
		At:        time.Now().UTC(),
	}
}

// Recorder receives mutation entries. Callers log Record errors and carry on;
// a failing recorder never fails a mutation.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// LogRecorder writes entries to a zerolog logger.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With().Str("component", "AuditLog").Logger()}
}

// Record logs e at info level.
func (r *LogRecorder) Record(_ context.Context, e Entry) error {
	r.logger.Info().
		Str("audit_id", e.ID).
		Str("operation", e.Operation).
		Str("product_id", e.ProductID).
		Strs("tags", e.Tags).
		Time("at", e.At).
		Msg("Catalog mutation recorded.")
	return nil
}

// Multi fans an entry out to several recorders and returns the first error.
type Multi []Recorder

// Record forwards e to every recorder.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
