package guard

import (
	"sync"
	"time"
)

// maxTrackedContacts caps the marker map so churning contacts cannot grow it
// without bound.
const maxTrackedContacts = 4096

// GreetingGuard closes the race window between dispatching an initial greeting
// and durably persisting that fact: a fast reply processed before the save
// lands would otherwise see "no history" and greet again. Markers expire after
// a short TTL; durable state is the source of truth beyond it.
// Safe for concurrent use.
type GreetingGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewGreetingGuard creates a guard with the given marker TTL (default 10s).
func NewGreetingGuard(ttl time.Duration) *GreetingGuard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &GreetingGuard{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkSent records that a greeting was just dispatched to the contact.
func (g *GreetingGuard) MarkSent(contact string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if len(g.entries) >= maxTrackedContacts {
		for k, at := range g.entries {
			if now.Sub(at) >= g.ttl {
				delete(g.entries, k)
			}
		}
		for len(g.entries) >= maxTrackedContacts {
			for k := range g.entries {
				delete(g.entries, k)
				break
			}
		}
	}
	g.entries[contact] = now
}

// WasSent reports whether a greeting was dispatched to the contact inside the
// TTL window.
func (g *GreetingGuard) WasSent(contact string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	at, ok := g.entries[contact]
	if !ok {
		return false
	}
	if g.now().Sub(at) >= g.ttl {
		delete(g.entries, contact)
		return false
	}
	return true
}
