// Package gateway is the inbound edge: it receives provider webhook events,
// normalizes identity, filters replays and stale backlog, and hands accepted
// envelopes to the per-contact queue. Everything downstream of acceptance runs
// inside that contact's queue slot.
package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/vendaflow/vendaflow/internal/bus"
	"github.com/vendaflow/vendaflow/internal/identity"
)

// Rejection reasons reported in ingest decisions. Replays are rejected
// silently; a webhook retry is provider behavior, not an error.
const (
	ReasonUnroutable = "unroutable"
	ReasonDuplicate  = "duplicate"
	ReasonStale      = "stale"
	ReasonShutdown   = "shutting_down"
)

// Decision is the outcome of ingesting one event.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Contact  string `json:"-"`
}

// Enqueuer is the queue-facing side of the dispatcher.
type Enqueuer interface {
	Enqueue(contact string, env bus.InboundEnvelope) bool
}

// IngestConfig tunes the gateway filters.
type IngestConfig struct {
	// ReplayWindow is the dedup TTL; webhook retries inside it are dropped.
	ReplayWindow time.Duration `json:"replay_window,omitempty"`
	// ReplayMaxEntries caps the dedup cache.
	ReplayMaxEntries int `json:"replay_max_entries,omitempty"`
	// StaleAfter rejects events older than this, so a backlog replayed after
	// an outage does not restart dead conversations.
	StaleAfter time.Duration `json:"stale_after,omitempty"`
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 20 * time.Minute
	}
	if c.ReplayMaxEntries <= 0 {
		c.ReplayMaxEntries = 5000
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	return c
}

// Ingestor normalizes, deduplicates, and enqueues inbound events.
type Ingestor struct {
	norm   identity.Normalizer
	dedupe *bus.DedupeCache
	queue  Enqueuer
	cfg    IngestConfig
	now    func() time.Time
}

// NewIngestor wires the gateway filters in front of the queue.
func NewIngestor(norm identity.Normalizer, queue Enqueuer, cfg IngestConfig) *Ingestor {
	cfg = cfg.withDefaults()
	return &Ingestor{
		norm:   norm,
		dedupe: bus.NewDedupeCache(cfg.ReplayWindow, cfg.ReplayMaxEntries),
		queue:  queue,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Ingest applies the acceptance pipeline to one raw event. The dedup cache is
// the only side effect before enqueue; if it is unavailable ingestion fails
// open and the state machine's watermark catches the duplicate.
func (i *Ingestor) Ingest(ev bus.InboundEvent) Decision {
	res := i.norm.Normalize(ev.RawContactIdentifier, ev.ParticipantIdentifier)
	if res.Key == "" {
		slog.Info("ingest: unroutable identifier",
			"raw", ev.RawContactIdentifier, "message_id", ev.ProviderMessageID)
		return Decision{Reason: ReasonUnroutable}
	}

	now := i.now()

	if !ev.ProviderTimestamp.IsZero() && now.Sub(ev.ProviderTimestamp) > i.cfg.StaleAfter {
		slog.Info("ingest: stale event rejected",
			"contact", res.Key,
			"message_id", ev.ProviderMessageID,
			"age", now.Sub(ev.ProviderTimestamp).Round(time.Second))
		return Decision{Reason: ReasonStale, Contact: res.Key}
	}

	dedupKey := ev.ProviderMessageID
	if dedupKey == "" {
		dedupKey = fallbackDedupKey(res.Key, ev.Text, ev.ProviderTimestamp, now)
	}
	if i.dedupe.Seen(dedupKey) {
		slog.Debug("ingest: duplicate dropped", "contact", res.Key, "dedup_key", dedupKey)
		return Decision{Reason: ReasonDuplicate, Contact: res.Key}
	}

	arrived := ev.ProviderTimestamp
	if arrived.IsZero() {
		arrived = now
	}

	env := bus.InboundEnvelope{
		ProviderMessageID: dedupKey,
		Contact:           res.Key,
		Text:              ev.Text,
		MessageType:       ev.MessageType,
		IsBroadcast:       res.IsBroadcast,
		ArrivedAt:         arrived,
		Metadata:          ev.Metadata,
	}
	if !i.queue.Enqueue(res.Key, env) {
		return Decision{Reason: ReasonShutdown, Contact: res.Key}
	}

	slog.Info("ingest: accepted",
		"contact", res.Key,
		"message_id", env.ProviderMessageID,
		"type", env.MessageType,
		"broadcast", env.IsBroadcast)
	return Decision{Accepted: true, Contact: res.Key}
}

// fallbackDedupKey covers providers that omit message ids: contact + text +
// arrival minute hashed into a stable synthetic id.
func fallbackDedupKey(contact, text string, providerTS, now time.Time) string {
	ts := providerTS
	if ts.IsZero() {
		ts = now
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", contact, text, ts.UTC().Format("2006-01-02T15:04"))))
	return "synth-" + hex.EncodeToString(sum[:8])
}
