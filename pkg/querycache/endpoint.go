package querycache

import (
	"context"
	"encoding/json"
	"fmt"
)

// QueryEndpoint is a typed read operation. A fetched body that does not decode
// into R fails the fetch, so only well-formed results are cached.
type QueryEndpoint[A, R any] struct {
	Name     string
	Fetch    func(ctx context.Context, arg A) (json.RawMessage, error)
	Provides func(result *R, err error, arg A) []Tag
}

func (q QueryEndpoint[A, R]) def(arg A) QueryDef {
	return QueryDef{
		Key: Key(q.Name, argParams(arg)),
		Fetch: func(ctx context.Context) (json.RawMessage, error) {
			raw, err := q.Fetch(ctx, arg)
			if err != nil {
				return nil, err
			}
			if _, err := decode[R](raw); err != nil {
				return nil, fmt.Errorf("%s: %w", q.Name, err)
			}
			return raw, nil
		},
		Provides: func(raw json.RawMessage, err error) []Tag {
			if q.Provides == nil {
				return nil
			}
			if err != nil {
				return q.Provides(nil, err, arg)
			}
			result, derr := decode[R](raw)
			if derr != nil {
				return q.Provides(nil, derr, arg)
			}
			return q.Provides(result, nil, arg)
		},
	}
}

// Key returns the cache key for arg.
func (q QueryEndpoint[A, R]) Key(arg A) string {
	return Key(q.Name, argParams(arg))
}

// Query runs the endpoint through the engine.
func (q QueryEndpoint[A, R]) Query(ctx context.Context, e *Engine, arg A) (*R, error) {
	raw, err := e.Query(ctx, q.def(arg))
	if err != nil {
		return nil, err
	}
	return decode[R](raw)
}

// Subscribe subscribes to the endpoint's result for arg.
func (q QueryEndpoint[A, R]) Subscribe(e *Engine, arg A) (*TypedSubscription[R], error) {
	sub, err := e.Subscribe(q.def(arg))
	if err != nil {
		return nil, err
	}
	return &TypedSubscription[R]{Subscription: sub}, nil
}

// MutationEndpoint is a typed write operation.
type MutationEndpoint[A, R any] struct {
	Name        string
	Run         func(ctx context.Context, arg A) (json.RawMessage, error)
	Invalidates func(result *R, arg A) []Tag
}

// Mutate runs the write and, on success, invalidates the declared tags.
func (m MutationEndpoint[A, R]) Mutate(ctx context.Context, e *Engine, arg A) (*R, error) {
	var result *R
	_, err := e.Mutate(ctx, MutationDef{
		Name: m.Name,
		Run: func(ctx context.Context) (json.RawMessage, error) {
			return m.Run(ctx, arg)
		},
		Invalidates: func(raw json.RawMessage) []Tag {
			// An undecodable success body still invalidates: the write happened.
			result, _ = decode[R](raw)
			if m.Invalidates == nil {
				return nil
			}
			return m.Invalidates(result, arg)
		},
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		// The write succeeded; an unexpected body is not a failure.
		result = new(R)
	}
	return result, nil
}

// TypedSubscription decodes subscription results into R.
type TypedSubscription[R any] struct {
	*Subscription
}

// Current returns the last good result, or nil when there is none yet, with the
// snapshot it came from.
func (s *TypedSubscription[R]) Current(ctx context.Context) (*R, Snapshot) {
	snap := s.Snapshot(ctx)
	if snap.Data == nil {
		return nil, snap
	}
	result, err := decode[R](snap.Data)
	if err != nil {
		return nil, snap
	}
	return result, snap
}

// Wait blocks until a settled result is available.
func (s *TypedSubscription[R]) Wait(ctx context.Context) (*R, error) {
	raw, err := s.Subscription.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return decode[R](raw)
}

func decode[R any](raw json.RawMessage) (*R, error) {
	out := new(R)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}

// argParams drops empty arguments so argument-free calls get the "op()" key.
func argParams(arg any) any {
	switch a := arg.(type) {
	case struct{}:
		return nil
	case interface{ IsZero() bool }:
		if a.IsZero() {
			return nil
		}
	}
	return arg
}
