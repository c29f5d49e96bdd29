package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vendaflow/vendaflow/internal/bus"
)

func env(contact, id string) bus.InboundEnvelope {
	return bus.InboundEnvelope{Contact: contact, ProviderMessageID: id, ArrivedAt: time.Now()}
}

// TestDispatcher_PerContactOrder verifies items for one contact are handled
// strictly in enqueue order even though handling is asynchronous.
func TestDispatcher_PerContactOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string

	d := NewDispatcher(context.Background(), func(_ context.Context, e bus.InboundEnvelope) error {
		mu.Lock()
		got = append(got, e.ProviderMessageID)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 50; i++ {
		d.Enqueue("5584996250203", env("5584996250203", fmt.Sprintf("M%02d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(got) != 50 {
		t.Fatalf("handled %d items, want 50", len(got))
	}
	for i, id := range got {
		if id != fmt.Sprintf("M%02d", i) {
			t.Fatalf("position %d: got %s, order violated (%v)", i, id, got[:i+1])
		}
	}
}

// TestDispatcher_ContactsDoNotBlockEachOther verifies a slow contact never
// stalls another contact's queue.
func TestDispatcher_ContactsDoNotBlockEachOther(t *testing.T) {
	slowRelease := make(chan struct{})
	fastDone := make(chan struct{})

	d := NewDispatcher(context.Background(), func(_ context.Context, e bus.InboundEnvelope) error {
		switch e.Contact {
		case "slow":
			<-slowRelease
		case "fast":
			close(fastDone)
		}
		return nil
	})

	d.Enqueue("slow", env("slow", "S1"))
	d.Enqueue("fast", env("fast", "F1"))

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast contact blocked behind slow contact")
	}
	close(slowRelease)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

// TestDispatcher_ErrorDoesNotHaltQueue verifies a failing handler does not
// stop subsequent items for the same contact.
func TestDispatcher_ErrorDoesNotHaltQueue(t *testing.T) {
	var mu sync.Mutex
	var handled []string

	d := NewDispatcher(context.Background(), func(_ context.Context, e bus.InboundEnvelope) error {
		mu.Lock()
		handled = append(handled, e.ProviderMessageID)
		mu.Unlock()
		if e.ProviderMessageID == "M1" {
			return errors.New("boom")
		}
		return nil
	})

	d.Enqueue("c", env("c", "M1"))
	d.Enqueue("c", env("c", "M2"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(handled) != 2 || handled[1] != "M2" {
		t.Fatalf("handled = %v, want [M1 M2]", handled)
	}
}

// TestDispatcher_PanicIsolated verifies a panicking handler is caught at the
// queue boundary.
func TestDispatcher_PanicIsolated(t *testing.T) {
	var mu sync.Mutex
	var handled []string

	d := NewDispatcher(context.Background(), func(_ context.Context, e bus.InboundEnvelope) error {
		if e.ProviderMessageID == "M1" {
			panic("handler exploded")
		}
		mu.Lock()
		handled = append(handled, e.ProviderMessageID)
		mu.Unlock()
		return nil
	})

	d.Enqueue("c", env("c", "M1"))
	d.Enqueue("c", env("c", "M2"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(handled) != 1 || handled[0] != "M2" {
		t.Fatalf("handled = %v, want [M2]", handled)
	}
}

// TestDispatcher_BookkeepingReleasedOnDrain verifies idle contacts leave no
// residue in the queue map.
func TestDispatcher_BookkeepingReleasedOnDrain(t *testing.T) {
	d := NewDispatcher(context.Background(), func(_ context.Context, _ bus.InboundEnvelope) error {
		return nil
	})

	for i := 0; i < 100; i++ {
		d.Enqueue(fmt.Sprintf("contact-%d", i), env(fmt.Sprintf("contact-%d", i), "M1"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	d.mu.Lock()
	n := len(d.queues)
	d.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d contact queues retained after drain, want 0", n)
	}
}

// TestDispatcher_DrainOutlivesRunContext verifies items accepted before
// shutdown are handled with a live context even after the run context (the
// signal context in production) is canceled; otherwise every drained item
// would fail against a context-respecting store.
func TestDispatcher_DrainOutlivesRunContext(t *testing.T) {
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var mu sync.Mutex
	var ctxErrs []error

	d := NewDispatcher(runCtx, func(ctx context.Context, e bus.InboundEnvelope) error {
		if e.ProviderMessageID == "M1" {
			cancelRun()
		}
		mu.Lock()
		ctxErrs = append(ctxErrs, ctx.Err())
		mu.Unlock()
		return nil
	})

	d.Enqueue("c", env("c", "M1"))
	d.Enqueue("c", env("c", "M2"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(ctxErrs) != 2 {
		t.Fatalf("handled %d items, want 2", len(ctxErrs))
	}
	for i, e := range ctxErrs {
		if e != nil {
			t.Errorf("item %d handled with dead context: %v", i, e)
		}
	}
}

// TestDispatcher_ShutdownDeadlineCancelsInFlight verifies an expired Shutdown
// deadline cancels the handler context so stuck handlers unblock.
func TestDispatcher_ShutdownDeadlineCancelsInFlight(t *testing.T) {
	released := make(chan struct{})

	d := NewDispatcher(context.Background(), func(ctx context.Context, _ bus.InboundEnvelope) error {
		<-ctx.Done()
		close(released)
		return ctx.Err()
	})
	d.Enqueue("c", env("c", "M1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown err = %v, want deadline exceeded", err)
	}

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not canceled after Shutdown deadline")
	}
}

// TestDispatcher_RejectsAfterShutdown verifies Enqueue returns false once the
// dispatcher is closed.
func TestDispatcher_RejectsAfterShutdown(t *testing.T) {
	d := NewDispatcher(context.Background(), func(_ context.Context, _ bus.InboundEnvelope) error {
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if d.Enqueue("c", env("c", "M1")) {
		t.Fatal("Enqueue accepted work after Shutdown")
	}
}
