package querycache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Snapshot is the observable state of a subscribed query.
type Snapshot struct {
	Status      Status
	Data        json.RawMessage
	Err         error
	Stale       bool
	Fetching    bool
	FulfilledAt time.Time
	Attempt     uint64
}

// Subscription keeps a query entry alive and receives a signal on Updates
// whenever a fetch for it completes.
type Subscription struct {
	engine  *Engine
	ent     *entry
	updates chan struct{}
	once    sync.Once
}

// Key is the query key subscribed to.
func (s *Subscription) Key() string {
	return s.ent.key
}

// Updates signals completed fetches. Signals coalesce: one pending signal may
// stand for several completions.
func (s *Subscription) Updates() <-chan struct{} {
	return s.updates
}

func (s *Subscription) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Snapshot returns the current state. Data is the last successfully fetched
// result, kept across failed refetches and invalidations. A result the store
// has since dropped is reported stale and refetched.
func (s *Subscription) Snapshot(ctx context.Context) Snapshot {
	e := s.engine
	e.mu.Lock()
	snap := Snapshot{
		Status:      s.ent.status,
		Err:         s.ent.err,
		Stale:       s.ent.stale,
		Fetching:    s.ent.inflight != nil,
		FulfilledAt: s.ent.fulfilledAt,
		Attempt:     s.ent.attempt,
	}
	hasData := !s.ent.fulfilledAt.IsZero()
	e.mu.Unlock()

	if !hasData {
		return snap
	}
	if data, ok := e.loadStored(ctx, s.ent, snap.Attempt); ok {
		snap.Data = data
		return snap
	}
	// The result left the store; loadStored has queued a refetch.
	e.mu.Lock()
	snap.Status = s.ent.status
	snap.Stale = s.ent.stale
	snap.Fetching = s.ent.inflight != nil
	snap.Attempt = s.ent.attempt
	e.mu.Unlock()
	return snap
}

// Wait blocks until the subscribed query has a settled result and returns it.
// A rejected result is returned as its error without refetching.
func (s *Subscription) Wait(ctx context.Context) (json.RawMessage, error) {
	return s.engine.resolve(ctx, s.ent, false)
}

// Refetch forces a new fetch, superseding any in flight, and waits for it.
func (s *Subscription) Refetch(ctx context.Context) (json.RawMessage, error) {
	e := s.engine
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	fl := e.startFetchLocked(s.ent)
	e.mu.Unlock()
	return e.await(ctx, fl)
}

// Unsubscribe releases the entry. Once nothing uses it the result is retained
// for the engine's KeepUnusedFor and then disposed. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		e := s.engine
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(s.ent.subscribers, s)
		e.scheduleDisposeLocked(s.ent)
		e.logger.Debug().Str("key", s.ent.key).Int("subscribers", len(s.ent.subscribers)).Msg("Unsubscribed.")
	})
}
