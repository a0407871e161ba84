package audit

import (
	"context"
	"time"
)

// Store is the persistence boundary for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is what services depend on; tests swap in a recorder.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	return p.store.Append(ctx, event)
}

// Nop discards events. Useful for wiring paths that do not audit.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// FanOut appends each event to every store, returning the first error after
// attempting all of them.
type FanOut []Store

func (f FanOut) Append(ctx context.Context, event Event) error {
	var firstErr error
	for _, s := range f {
		if err := s.Append(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
