// Package guard holds the two inbound-side guards: the greeting race guard and
// the bot-detection guard. Both keep bounded process-local state; everything
// durable lives in the conversation state.
package guard

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Signal names emitted by the bot guard. Weights are configuration, not code,
// so thresholds can be tuned without touching transition logic.
const (
	SignalNumberedMenu = "numbered_menu"
	SignalCannedPhrase = "canned_phrase"
	SignalProtocolCode = "protocol_code"
	SignalFastReply    = "fast_reply"
	SignalBurstArrival = "burst_arrival"
)

// BotConfig tunes the scoring model. Zero values fall back to defaults.
type BotConfig struct {
	// Weights maps signal name to its score contribution.
	Weights map[string]float64 `json:"weights,omitempty"`
	// BlockThreshold is the score at or above which a contact is blocked.
	BlockThreshold float64 `json:"block_threshold,omitempty"`
	// MinHumanReplyLatency: replies faster than this after our outbound
	// message trigger the fast-reply signal.
	MinHumanReplyLatency time.Duration `json:"min_human_reply_latency,omitempty"`
	// BurstWindow / BurstLimit: more than BurstLimit arrivals inside
	// BurstWindow triggers the burst signal.
	BurstWindow time.Duration `json:"burst_window,omitempty"`
	BurstLimit  int           `json:"burst_limit,omitempty"`
	// BlockDuration is how long a block lasts without verification.
	BlockDuration time.Duration `json:"block_duration,omitempty"`
	// CannedPhrases are matched case-insensitively as substrings.
	CannedPhrases []string `json:"canned_phrases,omitempty"`
}

// DefaultBotConfig returns the tuned production defaults. Each signal alone
// stays under the threshold; any two concurrent signals cross it.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Weights: map[string]float64{
			SignalNumberedMenu: 0.35,
			SignalCannedPhrase: 0.35,
			SignalProtocolCode: 0.35,
			SignalFastReply:    0.40,
			SignalBurstArrival: 0.30,
		},
		BlockThreshold:       0.60,
		MinHumanReplyLatency: 200 * time.Millisecond,
		BurstWindow:          10 * time.Second,
		BurstLimit:           4,
		BlockDuration:        24 * time.Hour,
		CannedPhrases: []string{
			"esta é uma mensagem automática",
			"mensagem automatica",
			"horário de atendimento",
			"digite o número da opção",
			"não responda esta mensagem",
			"atendimento eletrônico",
			"this is an automated message",
			"do not reply to this message",
		},
	}
}

var (
	// "1 - Financeiro\n2 - Suporte" style option menus.
	menuPattern = regexp.MustCompile(`(?m)^\s*\d{1,2}\s*[-.)–]\s+\S`)
	// Protocol / ticket codes: "protocolo 2024083100123", "#45812", "TK-20931".
	protocolPattern = regexp.MustCompile(`(?i)(protocolo\s*:?\s*\d{4,}|#\d{4,}|\b[A-Z]{2,4}-\d{4,}\b)`)
)

// Assessment is the scoring result for one inbound message.
type Assessment struct {
	Score   float64
	Signals []string
}

// Blocked reports whether the score crosses the configured block threshold.
func (a Assessment) Blocked(cfg BotConfig) bool {
	return a.Score >= cfg.BlockThreshold
}

// contactWindow is the bounded per-contact rolling state the guard keeps.
type contactWindow struct {
	arrivals     []time.Time // bounded to arrivalWindowSize
	lastOutbound time.Time
	blockedUntil time.Time
}

const arrivalWindowSize = 10

// BotGuard scores inbound messages for non-human origin. It keeps a bounded
// rolling window of arrival timestamps per contact plus the last outbound
// dispatch time (for reply-latency scoring). All per-contact mutation happens
// while the caller holds that contact's queue slot, but the maps are still
// locked because the gateway and the engine run on different goroutines.
type BotGuard struct {
	mu       sync.Mutex
	cfg      BotConfig
	contacts map[string]*contactWindow
}

// NewBotGuard creates a guard with the given config, filling defaults for any
// zero field.
func NewBotGuard(cfg BotConfig) *BotGuard {
	def := DefaultBotConfig()
	if cfg.Weights == nil {
		cfg.Weights = def.Weights
	}
	if cfg.BlockThreshold == 0 {
		cfg.BlockThreshold = def.BlockThreshold
	}
	if cfg.MinHumanReplyLatency == 0 {
		cfg.MinHumanReplyLatency = def.MinHumanReplyLatency
	}
	if cfg.BurstWindow == 0 {
		cfg.BurstWindow = def.BurstWindow
	}
	if cfg.BurstLimit == 0 {
		cfg.BurstLimit = def.BurstLimit
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.CannedPhrases == nil {
		cfg.CannedPhrases = def.CannedPhrases
	}
	return &BotGuard{cfg: cfg, contacts: make(map[string]*contactWindow)}
}

// Config returns the effective configuration.
func (g *BotGuard) Config() BotConfig { return g.cfg }

// Score evaluates one inbound message and returns the weighted assessment.
// It also records the arrival in the contact's rolling window.
func (g *BotGuard) Score(contact, text string, arrival time.Time) Assessment {
	g.mu.Lock()
	w := g.window(contact)
	lastOut := w.lastOutbound
	w.arrivals = append(w.arrivals, arrival)
	if len(w.arrivals) > arrivalWindowSize {
		w.arrivals = w.arrivals[len(w.arrivals)-arrivalWindowSize:]
	}
	burst := g.countRecent(w.arrivals, arrival) > g.cfg.BurstLimit
	g.mu.Unlock()

	var a Assessment
	add := func(name string) {
		a.Signals = append(a.Signals, name)
		a.Score += g.cfg.Weights[name]
	}

	if menuPattern.MatchString(text) {
		add(SignalNumberedMenu)
	}
	lower := strings.ToLower(text)
	for _, phrase := range g.cfg.CannedPhrases {
		if strings.Contains(lower, phrase) {
			add(SignalCannedPhrase)
			break
		}
	}
	if protocolPattern.MatchString(text) {
		add(SignalProtocolCode)
	}
	if !lastOut.IsZero() && arrival.Sub(lastOut) >= 0 && arrival.Sub(lastOut) < g.cfg.MinHumanReplyLatency {
		add(SignalFastReply)
	}
	if burst {
		add(SignalBurstArrival)
	}

	return a
}

// RecordOutbound notes when an outbound message was dispatched to the contact,
// giving reply-latency scoring its reference point.
func (g *BotGuard) RecordOutbound(contact string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window(contact).lastOutbound = at
}

// MarkBlocked records a block until the given time.
func (g *BotGuard) MarkBlocked(contact string, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window(contact).blockedUntil = until
}

// ClearBlocked lifts a block after successful human verification.
func (g *BotGuard) ClearBlocked(contact string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window(contact).blockedUntil = time.Time{}
}

// IsBlocked reports whether the contact is currently blocked.
func (g *BotGuard) IsBlocked(contact string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.contacts[contact]
	return ok && !w.blockedUntil.IsZero() && time.Now().Before(w.blockedUntil)
}

// verificationAffirmatives are replies accepted as passing the human check.
var verificationAffirmatives = []string{
	"sou humano", "sou uma pessoa", "sim, sou eu", "pode continuar",
	"sim", "claro", "isso", "sou eu", "yes", "i am human",
}

// IsVerificationReply reports whether the text reads as an affirmative answer
// to the human-verification challenge.
func IsVerificationReply(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, "!. ")
	for _, ok := range verificationAffirmatives {
		if t == ok || strings.HasPrefix(t, ok+" ") || strings.HasPrefix(t, ok+",") {
			return true
		}
	}
	return false
}

func (g *BotGuard) window(contact string) *contactWindow {
	w, ok := g.contacts[contact]
	if !ok {
		// Cap tracked contacts the same way the greeting guard does.
		if len(g.contacts) >= maxTrackedContacts {
			for k := range g.contacts {
				delete(g.contacts, k)
				break
			}
		}
		w = &contactWindow{}
		g.contacts[contact] = w
	}
	return w
}

func (g *BotGuard) countRecent(arrivals []time.Time, now time.Time) int {
	n := 0
	for _, at := range arrivals {
		if now.Sub(at) <= g.cfg.BurstWindow {
			n++
		}
	}
	return n
}
