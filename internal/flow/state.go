// Package flow owns the per-contact conversation state and the phase state
// machine that advances it. The machine is the only writer of a contact's
// state, and it always runs while holding that contact's queue slot.
package flow

import (
	"time"

	"github.com/vendaflow/vendaflow/internal/bus"
)

// Phase is the qualification phase of a conversation.
type Phase string

const (
	PhaseIdentification       Phase = "identification"
	PhaseBusinessDiscovery    Phase = "business_discovery"
	PhaseSolutionPresentation Phase = "solution_presentation"
	PhaseScheduling           Phase = "scheduling"
	PhaseCompleted            Phase = "completed"
	// PhaseBlockedBotCheck is orthogonal: entering it does not erase phase
	// history, and passing verification resumes the pre-block phase.
	PhaseBlockedBotCheck Phase = "blocked_bot_check"
)

// phaseOrder defines the forward direction of the funnel. blocked_bot_check is
// deliberately absent; it is not part of the linear order.
var phaseOrder = map[Phase]int{
	PhaseIdentification:       0,
	PhaseBusinessDiscovery:    1,
	PhaseSolutionPresentation: 2,
	PhaseScheduling:           3,
	PhaseCompleted:            4,
}

// NextPhase returns the next linear phase, or the same phase if there is none.
func NextPhase(p Phase) Phase {
	switch p {
	case PhaseIdentification:
		return PhaseBusinessDiscovery
	case PhaseBusinessDiscovery:
		return PhaseSolutionPresentation
	case PhaseSolutionPresentation:
		return PhaseScheduling
	case PhaseScheduling:
		return PhaseCompleted
	default:
		return p
	}
}

// PhaseIndex returns the linear position of a phase, or -1 for
// blocked_bot_check and unknown values.
func PhaseIndex(p Phase) int {
	if i, ok := phaseOrder[p]; ok {
		return i
	}
	return -1
}

// Well-known qualification field names (BANT plus identity fields). Free-form
// discovered attributes use their own keys alongside these.
const (
	FieldName      = "name"
	FieldBusiness  = "business"
	FieldBudget    = "budget"
	FieldAuthority = "authority"
	FieldNeed      = "need"
	FieldTiming    = "timing"
)

// QualField is one qualification value with the phase that produced it.
// Provenance is what makes the append-only merge rule enforceable.
type QualField struct {
	Value     string    `json:"value"`
	Phase     Phase     `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SignalEvent is one bot-guard observation kept in the bounded history window.
type SignalEvent struct {
	At      time.Time `json:"at"`
	Score   float64   `json:"score"`
	Signals []string  `json:"signals,omitempty"`
}

// signalHistoryMax bounds BotDetection.SignalHistory.
const signalHistoryMax = 20

// BotDetection is the durable bot-guard record on a conversation.
type BotDetection struct {
	Score         float64       `json:"score"`
	SignalHistory []SignalEvent `json:"signal_history,omitempty"`
	BlockedUntil  *time.Time    `json:"blocked_until,omitempty"`
	// PhaseBefore is the phase to resume after verification clears a block.
	PhaseBefore Phase `json:"phase_before,omitempty"`
}

// Handoff records the last ownership transfer between agent roles.
type Handoff struct {
	FromRole   string            `json:"from_role"`
	ToRole     string            `json:"to_role"`
	Payload    map[string]string `json:"payload,omitempty"`
	AcceptedAt *time.Time        `json:"accepted_at,omitempty"`
}

// State is the durable conversation record, one per contact identity. It is
// created on the first inbound event, mutated only inside the contact's queue
// slot, and never deleted by the core.
type State struct {
	Contact       string               `json:"contact"`
	CurrentPhase  Phase                `json:"current_phase"`
	MessageCount  int                  `json:"message_count"`
	Qualification map[string]QualField `json:"qualification,omitempty"`
	// PhaseCompletion lists phases already satisfied, supporting non-linear
	// revisits without re-deriving history.
	PhaseCompletion []Phase      `json:"phase_completion,omitempty"`
	Handoff         *Handoff     `json:"handoff,omitempty"`
	BotDetection    BotDetection `json:"bot_detection"`
	// LastProcessedMessageID is the idempotency watermark: the last provider
	// message id fully applied to this state.
	LastProcessedMessageID string `json:"last_processed_message_id,omitempty"`
	// LastAction is the outbound action computed for the watermark message,
	// returned as-is on safe replays.
	LastAction *bus.OutboundAction `json:"last_action,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// NewState creates a fresh conversation in the identification phase.
func NewState(contact string) *State {
	now := time.Now().UTC()
	return &State{
		Contact:       contact,
		CurrentPhase:  PhaseIdentification,
		Qualification: make(map[string]QualField),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SeenMessage reports whether id matches the idempotency watermark: the
// message was already applied and reapplying it must be a no-op.
func (s *State) SeenMessage(id string) bool {
	return id != "" && s.LastProcessedMessageID == id
}

// Field returns a qualification value, with ok=false when unset.
func (s *State) Field(name string) (string, bool) {
	f, ok := s.Qualification[name]
	return f.Value, ok
}

// MergeQualification applies extracted fields under the append-only rule: a
// value set by a later phase is never overwritten by an earlier one. Same or
// later phase wins; conflicting earlier-phase reinterpretation is dropped.
func (s *State) MergeQualification(p Phase, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	if s.Qualification == nil {
		s.Qualification = make(map[string]QualField)
	}
	now := time.Now().UTC()
	for k, v := range fields {
		if v == "" {
			continue
		}
		if existing, ok := s.Qualification[k]; ok {
			if PhaseIndex(p) < PhaseIndex(existing.Phase) {
				continue
			}
		}
		s.Qualification[k] = QualField{Value: v, Phase: p, UpdatedAt: now}
	}
}

// HasCompleted reports whether a phase is in the completion set.
func (s *State) HasCompleted(p Phase) bool {
	for _, done := range s.PhaseCompletion {
		if done == p {
			return true
		}
	}
	return false
}

// markCompleted adds a phase to the completion set exactly once.
func (s *State) markCompleted(p Phase) {
	if !s.HasCompleted(p) {
		s.PhaseCompletion = append(s.PhaseCompletion, p)
	}
}

// recordBotObservation appends one observation to the bounded history.
func (s *State) recordBotObservation(at time.Time, score float64, signals []string) {
	s.BotDetection.Score = score
	if score == 0 && len(signals) == 0 {
		return
	}
	s.BotDetection.SignalHistory = append(s.BotDetection.SignalHistory, SignalEvent{
		At:      at,
		Score:   score,
		Signals: signals,
	})
	if len(s.BotDetection.SignalHistory) > signalHistoryMax {
		s.BotDetection.SignalHistory = s.BotDetection.SignalHistory[len(s.BotDetection.SignalHistory)-signalHistoryMax:]
	}
}

// Blocked reports whether the conversation is currently under a bot block.
func (s *State) Blocked(now time.Time) bool {
	return s.BotDetection.BlockedUntil != nil && now.Before(*s.BotDetection.BlockedUntil)
}
