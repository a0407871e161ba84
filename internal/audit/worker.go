package audit

import (
	"context"
	"log/slog"
)

// Inbox is a buffered hand-off between request-path emitters and the
// background worker, so audit persistence never sits on the request path.
type Inbox struct {
	ch     chan Event
	logger *slog.Logger
}

func NewInbox(buffer int, logger *slog.Logger) *Inbox {
	return &Inbox{ch: make(chan Event, buffer), logger: logger}
}

// Append queues the event without blocking. When the buffer is full the
// event is dropped with a log line; audit of the certificate trail is
// best-effort in-process, the store of record is the certificate table itself.
func (i *Inbox) Append(ctx context.Context, event Event) error {
	select {
	case i.ch <- event:
	default:
		i.logger.WarnContext(ctx, "audit inbox full, dropping event",
			"action", event.Action,
			"subject", event.Subject,
		)
	}
	return nil
}

// Worker consumes audit events from the inbox and persists them.
type Worker struct {
	store  Store
	inbox  *Inbox
	logger *slog.Logger
}

func NewWorker(store Store, inbox *Inbox, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until the context is cancelled. Store failures are
// logged, not fatal: a broken audit sink must not take the server down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox.ch:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to persist audit event",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}
