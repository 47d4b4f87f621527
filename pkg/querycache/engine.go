// Package querycache is a tag-invalidated query cache. Read operations are cached
// per query key and declare the tags their result provides; write operations
// declare the tags they invalidate. After a successful write every cached result
// providing one of those tags is marked stale, and refetched at once when
// someone is subscribed to it.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-catalogadmin/pkg/cache"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a cached query.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusPending       Status = "pending"
	StatusFulfilled     Status = "fulfilled"
	StatusRejected      Status = "rejected"
)

// DefaultKeepUnusedFor is how long a result outlives its last subscriber.
const DefaultKeepUnusedFor = 60 * time.Second

// invalidationLogSize bounds how many past invalidations are kept to detect
// responses that raced a write.
const invalidationLogSize = 256

// FetchFunc performs the network read of a query.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// ProvidesFunc computes the tags a query result provides. It is also called for
// failed fetches with a nil result.
type ProvidesFunc func(result json.RawMessage, err error) []Tag

// InvalidatesFunc computes the tags a successful mutation invalidates.
type InvalidatesFunc func(result json.RawMessage) []Tag

// QueryDef describes one cached read.
type QueryDef struct {
	Key      string
	Fetch    FetchFunc
	Provides ProvidesFunc
}

// MutationDef describes one write.
type MutationDef struct {
	Name        string
	Run         FetchFunc
	Invalidates InvalidatesFunc
}

// Notifier is told about locally originated invalidations, e.g. to broadcast
// them to other processes.
type Notifier interface {
	Notify(ctx context.Context, tags []Tag) error
}

// Config holds configuration for the Engine.
type Config struct {
	KeepUnusedFor time.Duration
}

// Stats is a point-in-time view of engine activity.
type Stats struct {
	Entries       int
	Subscribers   int
	InFlight      int
	Fetches       uint64
	Discarded     uint64
	Invalidations uint64
	Mutations     uint64
}

type flight struct {
	attempt    uint64
	startSeq   uint64
	done       chan struct{}
	data       json.RawMessage
	err        error
	superseded bool
	next       *flight
}

type entry struct {
	key         string
	def         QueryDef
	status      Status
	stale       bool
	err         error
	tags        []Tag
	fulfilledAt time.Time
	attempt     uint64
	inflight    *flight
	subscribers map[*Subscription]struct{}
	waiters     int
	dispose     *time.Timer

	// lock orders result-store writes and removals for the key. It is shared
	// with any later entry for the same key.
	lock *keyLock
}

// keyLock serializes store access for one key across the entries that hold it
// in turn, so a disposal never removes a successor's result.
type keyLock struct {
	sync.Mutex
	refs int
}

func (e *entry) active() bool {
	return len(e.subscribers) > 0 || e.waiters > 0
}

type invalidation struct {
	seq  uint64
	tags map[Tag]struct{}
}

// Engine is the cache consistency engine. It is safe for concurrent use.
type Engine struct {
	keepUnusedFor time.Duration
	store         cache.Store[string, json.RawMessage]
	notifier      Notifier
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entries  map[string]*entry
	tagIndex map[Tag]map[string]struct{}
	keyLocks map[string]*keyLock
	seq      uint64
	log      []invalidation
	closed   bool

	fetches       atomic.Uint64
	discarded     atomic.Uint64
	invalidations atomic.Uint64
	mutations     atomic.Uint64
}

// NewEngine creates an Engine whose results are kept in store. notifier may be nil.
func NewEngine(cfg Config, store cache.Store[string, json.RawMessage], notifier Notifier, logger zerolog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("result store cannot be nil")
	}
	if cfg.KeepUnusedFor <= 0 {
		cfg.KeepUnusedFor = DefaultKeepUnusedFor
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		keepUnusedFor: cfg.KeepUnusedFor,
		store:         store,
		notifier:      notifier,
		logger:        logger.With().Str("component", "QueryEngine").Logger(),
		ctx:           ctx,
		cancel:        cancel,
		entries:       make(map[string]*entry),
		tagIndex:      make(map[Tag]map[string]struct{}),
		keyLocks:      make(map[string]*keyLock),
	}, nil
}

// SetNotifier installs the notifier after construction, for buses that need the
// engine to exist first.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("query engine is closed")

// Query returns the result for def.Key: fresh cached data when present,
// otherwise the result of the in-flight fetch for the key, otherwise a new fetch.
func (e *Engine) Query(ctx context.Context, def QueryDef) (json.RawMessage, error) {
	if def.Fetch == nil {
		return nil, fmt.Errorf("query %s has no fetch function", def.Key)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	ent := e.entryLocked(def)
	ent.waiters++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		ent.waiters--
		e.scheduleDisposeLocked(ent)
		e.mu.Unlock()
	}()

	return e.resolve(ctx, ent, true)
}

// Subscribe keeps the entry for def.Key alive and refreshed until Unsubscribe.
// A fetch is started when there is no usable result yet.
func (e *Engine) Subscribe(def QueryDef) (*Subscription, error) {
	if def.Fetch == nil {
		return nil, fmt.Errorf("query %s has no fetch function", def.Key)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	ent := e.entryLocked(def)
	sub := &Subscription{engine: e, ent: ent, updates: make(chan struct{}, 1)}
	ent.subscribers[sub] = struct{}{}
	fresh := ent.inflight == nil && ent.status == StatusFulfilled && !ent.stale
	if ent.inflight == nil && !fresh {
		e.startFetchLocked(ent)
	}
	attempt := ent.attempt
	e.logger.Debug().Str("key", ent.key).Int("subscribers", len(ent.subscribers)).Msg("Subscribed.")
	e.mu.Unlock()

	if fresh {
		// The store may have evicted or expired the result since it was fetched.
		e.loadStored(e.ctx, ent, attempt)
	}
	return sub, nil
}

// Mutate runs a write. Writes are never coalesced. Only a successful write
// invalidates; a failed one is returned untouched and the cache is left as is.
func (e *Engine) Mutate(ctx context.Context, def MutationDef) (json.RawMessage, error) {
	if def.Run == nil {
		return nil, fmt.Errorf("mutation %s has no run function", def.Name)
	}
	e.mutations.Add(1)
	result, err := def.Run(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Str("mutation", def.Name).Msg("Mutation failed, cache left unchanged.")
		return nil, err
	}
	if def.Invalidates != nil {
		if tags := def.Invalidates(result); len(tags) > 0 {
			e.InvalidateTags(ctx, tags...)
		}
	}
	e.logger.Debug().Str("mutation", def.Name).Msg("Mutation succeeded.")
	return result, nil
}

// InvalidateTags marks every result providing one of tags stale. Results with
// subscribers or waiting callers are refetched now, the rest on next use. The
// configured Notifier is told about the tags.
func (e *Engine) InvalidateTags(ctx context.Context, tags ...Tag) {
	notifier := e.invalidate(tags)
	if notifier != nil && len(tags) > 0 {
		if err := notifier.Notify(ctx, tags); err != nil {
			e.logger.Error().Err(err).Strs("tags", tagStrings(tags)).Msg("Failed to notify invalidation.")
		}
	}
}

// ApplyRemoteInvalidation invalidates like InvalidateTags without notifying,
// for invalidations that arrived from another process.
func (e *Engine) ApplyRemoteInvalidation(_ context.Context, tags []Tag) {
	e.invalidate(tags)
}

func (e *Engine) invalidate(tags []Tag) Notifier {
	if len(tags) == 0 {
		return nil
	}
	set := tagSet(tags)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.seq++
	e.log = append(e.log, invalidation{seq: e.seq, tags: set})
	if len(e.log) > invalidationLogSize {
		e.log = e.log[len(e.log)-invalidationLogSize:]
	}
	e.invalidations.Add(1)

	keys := make(map[string]struct{})
	for t := range set {
		for key := range e.tagIndex[t] {
			keys[key] = struct{}{}
		}
	}

	refetched := 0
	for key := range keys {
		ent, ok := e.entries[key]
		if !ok {
			continue
		}
		ent.stale = true
		switch {
		case ent.active():
			e.startFetchLocked(ent)
			refetched++
		case ent.inflight != nil:
			// Nobody is waiting: drop the in-flight response, refetch lazily.
			e.supersedeLocked(ent.inflight, nil)
			ent.inflight = nil
		}
	}

	e.logger.Debug().
		Strs("tags", tagStrings(tags)).
		Int("matched", len(keys)).
		Int("refetched", refetched).
		Msg("Tags invalidated.")
	return e.notifier
}

// resolve returns the entry's current result, fetching when needed.
func (e *Engine) resolve(ctx context.Context, ent *entry, refetchRejected bool) (json.RawMessage, error) {
	e.mu.Lock()
	if ent.inflight == nil {
		switch {
		case ent.status == StatusFulfilled && !ent.stale:
			attempt := ent.attempt
			e.mu.Unlock()
			if data, ok := e.loadStored(ctx, ent, attempt); ok {
				return data, nil
			}
			e.mu.Lock()
			if ent.inflight == nil {
				ent.stale = true
				e.startFetchLocked(ent)
			}
		case ent.status == StatusRejected && !ent.stale && !refetchRejected:
			err := ent.err
			e.mu.Unlock()
			return nil, err
		default:
			e.startFetchLocked(ent)
		}
	}
	fl := ent.inflight
	e.mu.Unlock()
	return e.await(ctx, fl)
}

// loadStored reads ent's result from the store. A fulfilled result the store
// no longer holds is marked stale and, when the entry is in use, refetched.
// attempt is the entry's attempt when the caller found it fresh; a newer
// attempt means the miss is already being dealt with.
func (e *Engine) loadStored(ctx context.Context, ent *entry, attempt uint64) (json.RawMessage, bool) {
	data, err := e.store.Fetch(ctx, ent.key)
	if err == nil {
		return data, true
	}
	if !cache.IsNotFound(err) {
		e.logger.Warn().Err(err).Str("key", ent.key).Msg("Result store read failed, refetching.")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.entries[ent.key] != ent || ent.attempt != attempt || ent.inflight != nil {
		return nil, false
	}
	if ent.status == StatusFulfilled && !ent.stale {
		ent.stale = true
		if ent.active() {
			e.logger.Debug().Str("key", ent.key).Msg("Result missing from store, refetching.")
			e.startFetchLocked(ent)
		}
	}
	return nil, false
}

// await waits for fl, following any flight that superseded it.
func (e *Engine) await(ctx context.Context, fl *flight) (json.RawMessage, error) {
	for {
		select {
		case <-fl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		e.mu.Lock()
		if fl.superseded && fl.next != nil {
			fl = fl.next
			e.mu.Unlock()
			continue
		}
		data, err := fl.data, fl.err
		superseded := fl.superseded
		e.mu.Unlock()
		if superseded {
			return nil, fmt.Errorf("query was dropped before completing: %w", ErrClosed)
		}
		return data, err
	}
}

// entryLocked returns the entry for def.Key, creating it if needed. The latest
// definition replaces the stored one so refetches use current closures.
func (e *Engine) entryLocked(def QueryDef) *entry {
	ent, ok := e.entries[def.Key]
	if !ok {
		lk, ok := e.keyLocks[def.Key]
		if !ok {
			lk = &keyLock{}
			e.keyLocks[def.Key] = lk
		}
		lk.refs++
		ent = &entry{
			key:         def.Key,
			status:      StatusUninitialized,
			subscribers: make(map[*Subscription]struct{}),
			lock:        lk,
		}
		e.entries[def.Key] = ent
	}
	ent.def = def
	if ent.dispose != nil {
		ent.dispose.Stop()
		ent.dispose = nil
	}
	return ent
}

// startFetchLocked issues a new fetch for ent, superseding any in-flight one.
func (e *Engine) startFetchLocked(ent *entry) *flight {
	ent.attempt++
	fl := &flight{attempt: ent.attempt, startSeq: e.seq, done: make(chan struct{})}
	if ent.inflight != nil {
		e.supersedeLocked(ent.inflight, fl)
	}
	ent.inflight = fl
	if ent.status == StatusUninitialized {
		ent.status = StatusPending
	}
	e.fetches.Add(1)

	fetch, provides := ent.def.Fetch, ent.def.Provides
	e.wg.Add(1)
	go e.runFetch(ent, fl, fetch, provides)
	return fl
}

func (e *Engine) supersedeLocked(old, next *flight) {
	if old.superseded {
		return
	}
	old.superseded = true
	old.next = next
	close(old.done)
}

func (e *Engine) runFetch(ent *entry, fl *flight, fetch FetchFunc, provides ProvidesFunc) {
	defer e.wg.Done()

	data, err := fetch(e.ctx)
	var tags []Tag
	if provides != nil {
		tags = provides(data, err)
	}

	ent.lock.Lock()
	defer ent.lock.Unlock()

	e.mu.Lock()
	if e.discardLocked(ent, fl) {
		e.mu.Unlock()
		return
	}
	if e.racedLocked(fl.startSeq, tags) {
		// A write that this response may predate invalidated its tags.
		if ent.active() {
			e.discarded.Add(1)
			e.logger.Debug().Str("key", ent.key).Uint64("attempt", fl.attempt).Msg("Response raced an invalidation, reissuing.")
			e.startFetchLocked(ent)
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()

	var prev json.RawMessage
	var hadPrev, written bool
	storeErr := error(nil)
	if err == nil {
		if p, perr := e.store.Fetch(e.ctx, ent.key); perr == nil {
			prev, hadPrev = p, true
		}
		storeErr = e.store.Write(e.ctx, ent.key, data)
		if storeErr != nil {
			e.logger.Warn().Err(storeErr).Str("key", ent.key).Msg("Failed to write result store, result served uncached.")
		}
		written = storeErr == nil
	}

	e.mu.Lock()
	if e.discardLocked(ent, fl) {
		e.mu.Unlock()
		if written {
			// Superseded while writing: put back the result it overwrote.
			e.restoreStored(ent.key, prev, hadPrev)
		}
		return
	}
	defer e.mu.Unlock()
	ent.inflight = nil
	e.reindexLocked(ent, tags)
	if err != nil {
		ent.status = StatusRejected
		ent.err = err
		e.logger.Debug().Err(err).Str("key", ent.key).Uint64("attempt", fl.attempt).Msg("Query fetch failed.")
	} else {
		ent.status = StatusFulfilled
		ent.err = nil
		ent.stale = storeErr != nil || e.racedLocked(fl.startSeq, tags)
		ent.fulfilledAt = time.Now()
		e.logger.Debug().Str("key", ent.key).Uint64("attempt", fl.attempt).Int("tags", len(tags)).Msg("Query fulfilled.")
	}
	fl.data, fl.err = data, err
	close(fl.done)

	for sub := range ent.subscribers {
		sub.signal()
	}
	e.scheduleDisposeLocked(ent)
}

// restoreStored puts back a store value overwritten by a discarded response.
// The caller holds the key lock.
func (e *Engine) restoreStored(key string, prev json.RawMessage, hadPrev bool) {
	var err error
	if hadPrev {
		err = e.store.Write(e.ctx, key, prev)
	} else {
		err = e.store.Invalidate(e.ctx, key)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to restore result store after a discarded response.")
	}
}

// discardLocked reports whether fl's response must be dropped: it was
// superseded by a newer attempt or its entry was disposed meanwhile.
func (e *Engine) discardLocked(ent *entry, fl *flight) bool {
	if fl.superseded || e.entries[ent.key] != ent {
		e.discarded.Add(1)
		e.logger.Debug().Str("key", ent.key).Uint64("attempt", fl.attempt).Msg("Discarding stale response.")
		if !fl.superseded {
			e.supersedeLocked(fl, nil)
		}
		return true
	}
	return false
}

// racedLocked reports whether an invalidation after startSeq hit any of tags.
// When the log no longer reaches back to startSeq the answer is conservatively yes.
func (e *Engine) racedLocked(startSeq uint64, tags []Tag) bool {
	if startSeq == e.seq {
		return false
	}
	if len(e.log) == 0 || e.log[0].seq > startSeq+1 {
		return true
	}
	for i := len(e.log) - 1; i >= 0 && e.log[i].seq > startSeq; i-- {
		if intersects(tags, e.log[i].tags) {
			return true
		}
	}
	return false
}

func (e *Engine) reindexLocked(ent *entry, tags []Tag) {
	for _, t := range ent.tags {
		if keys, ok := e.tagIndex[t]; ok {
			delete(keys, ent.key)
			if len(keys) == 0 {
				delete(e.tagIndex, t)
			}
		}
	}
	ent.tags = tags
	for _, t := range tags {
		keys, ok := e.tagIndex[t]
		if !ok {
			keys = make(map[string]struct{})
			e.tagIndex[t] = keys
		}
		keys[ent.key] = struct{}{}
	}
}

func (e *Engine) scheduleDisposeLocked(ent *entry) {
	if ent.active() || ent.dispose != nil || e.closed || e.entries[ent.key] != ent {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(e.keepUnusedFor, func() { e.disposeEntry(ent, t) })
	ent.dispose = t
}

func (e *Engine) disposeEntry(ent *entry, t *time.Timer) {
	// The key lock is held across removal from the index and from the store:
	// a successor entry cannot write its result until the old one is gone.
	ent.lock.Lock()
	defer ent.lock.Unlock()

	e.mu.Lock()
	if ent.dispose != t || ent.active() || e.entries[ent.key] != ent {
		e.mu.Unlock()
		return
	}
	ent.dispose = nil
	delete(e.entries, ent.key)
	e.reindexLocked(ent, nil)
	if ent.inflight != nil {
		e.supersedeLocked(ent.inflight, nil)
		ent.inflight = nil
	}
	e.mu.Unlock()

	if err := e.store.Invalidate(e.ctx, ent.key); err != nil {
		e.logger.Warn().Err(err).Str("key", ent.key).Msg("Failed to remove disposed result from store.")
	}

	e.mu.Lock()
	ent.lock.refs--
	if ent.lock.refs == 0 {
		delete(e.keyLocks, ent.key)
	}
	e.mu.Unlock()
	e.logger.Debug().Str("key", ent.key).Msg("Unused query result disposed.")
}

// Stats returns a snapshot of engine activity.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Entries:       len(e.entries),
		Fetches:       e.fetches.Load(),
		Discarded:     e.discarded.Load(),
		Invalidations: e.invalidations.Load(),
		Mutations:     e.mutations.Load(),
	}
	for _, ent := range e.entries {
		s.Subscribers += len(ent.subscribers)
		if ent.inflight != nil {
			s.InFlight++
		}
	}
	return s
}

// Close stops timers, cancels in-flight fetches and waits for them to return.
// The result store is owned by the caller and is not closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, ent := range e.entries {
		if ent.dispose != nil {
			ent.dispose.Stop()
			ent.dispose = nil
		}
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.logger.Info().Msg("Query engine closed.")
	return nil
}
