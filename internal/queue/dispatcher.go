// Package queue serializes inbound processing per contact. One contact's
// messages are handled strictly in arrival order, one at a time; different
// contacts proceed in parallel. There is no global lock and no per-contact
// goroutine parked while idle: a drain goroutine exists only while a contact
// has pending items, and its bookkeeping is dropped when the queue empties.
package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/vendaflow/vendaflow/internal/bus"
)

// Handler processes one dequeued envelope. Errors are logged at the queue
// boundary and never halt subsequent items for the contact.
type Handler func(ctx context.Context, env bus.InboundEnvelope) error

type contactQueue struct {
	items    []bus.InboundEnvelope
	draining bool
}

// Dispatcher owns the per-contact queues.
type Dispatcher struct {
	mu      sync.Mutex
	queues  map[string]*contactQueue
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewDispatcher creates a dispatcher. Handlers run under a context that
// carries ctx's values but not its cancellation: shutdown starts with the run
// context being canceled, and the drain must still finish the items it
// already accepted. The handler context is canceled only once Shutdown
// returns, so its deadline bounds the drain.
func NewDispatcher(ctx context.Context, handler Handler) *Dispatcher {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Dispatcher{
		queues:  make(map[string]*contactQueue),
		handler: handler,
		ctx:     hctx,
		cancel:  cancel,
	}
}

// Enqueue appends an envelope to the contact's queue, starting a drain
// goroutine if none is running for that contact. Returns false after Shutdown.
func (d *Dispatcher) Enqueue(contact string, env bus.InboundEnvelope) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	q, ok := d.queues[contact]
	if !ok {
		q = &contactQueue{}
		d.queues[contact] = q
	}
	q.items = append(q.items, env)
	start := !q.draining
	if start {
		q.draining = true
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if start {
		go d.drain(contact)
	}
	return true
}

// Len returns the number of pending items for a contact (excluding the one
// currently being handled).
func (d *Dispatcher) Len(contact string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[contact]; ok {
		return len(q.items)
	}
	return 0
}

// Shutdown stops accepting new work and waits for in-flight items to finish,
// or for ctx to expire. Unstarted items in per-contact queues still run; items
// enqueued after Shutdown are rejected.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		// Deadline hit: cancel in-flight handlers so drain goroutines exit.
		d.cancel()
		return ctx.Err()
	}
}

// drain handles one contact's queue until it is empty, then releases the
// contact's bookkeeping so idle contacts cost nothing.
func (d *Dispatcher) drain(contact string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		q := d.queues[contact]
		if q == nil || len(q.items) == 0 {
			delete(d.queues, contact)
			d.mu.Unlock()
			return
		}
		env := q.items[0]
		q.items = q.items[1:]
		d.mu.Unlock()

		d.handle(env)
	}
}

// handle runs one envelope through the handler, isolating failures.
func (d *Dispatcher) handle(env bus.InboundEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queue: handler panic",
				"contact", env.Contact,
				"message_id", env.ProviderMessageID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := d.handler(d.ctx, env); err != nil {
		slog.Warn("queue: handler failed",
			"contact", env.Contact,
			"message_id", env.ProviderMessageID,
			"error", err)
	}
}
