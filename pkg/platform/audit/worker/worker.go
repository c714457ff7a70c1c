package worker

import (
	"context"
	"errors"
	"log/slog"

	audit "trustmint/pkg/platform/audit"
)

// ErrQueueFull is returned by Queue.Append when the buffer has no room.
var ErrQueueFull = errors.New("audit queue full")

// Queue is an audit.Store that hands events to a Worker over a buffered
// channel so request paths never wait on a broker round-trip.
type Queue struct {
	ch chan audit.Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan audit.Event, size)}
}

// Append enqueues without blocking.
func (q *Queue) Append(_ context.Context, event audit.Event) error {
	select {
	case q.ch <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Inbox exposes the receiving side for a Worker.
func (q *Queue) Inbox() <-chan audit.Event {
	return q.ch
}

// Worker consumes audit events from a channel and persists them.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the inbox until ctx is cancelled. A failed append is logged and
// the worker moves on; the broker outage must not stall the inbox.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.persist(ctx, event)
		}
	}
}

// drain flushes what is already buffered using a context that outlives the
// cancelled one.
func (w *Worker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.persist(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) persist(ctx context.Context, event audit.Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", event.Action,
			"subject", event.Subject,
			"reference", event.Reference,
			"error", err,
		)
	}
}
