// Package invalidation broadcasts cache tag invalidations between console
// instances over Google Cloud Pub/Sub, so that a write made through one
// instance refreshes the caches of all of them.
package invalidation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
)

// OriginAttribute is the message attribute carrying the publishing instance id.
const OriginAttribute = "origin"

// Message is the payload of one broadcast invalidation.
type Message struct {
	Origin string           `json:"origin"`
	Tags   []querycache.Tag `json:"tags"`
	At     time.Time        `json:"at"`
}

// NewOrigin returns a fresh instance id.
func NewOrigin() string {
	return uuid.NewString()
}

func encode(origin string, tags []querycache.Tag) ([]byte, error) {
	return json.Marshal(Message{Origin: origin, Tags: tags, At: time.Now().UTC()})
}

func decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode invalidation message: %w", err)
	}
	return m, nil
}
