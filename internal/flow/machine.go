package flow

import (
	"time"

	"github.com/vendaflow/vendaflow/internal/bus"
	"github.com/vendaflow/vendaflow/internal/guard"
)

// BotObservation is the bot-guard verdict for the current message, precomputed
// by the caller so the transition function stays independent of scoring
// internals.
type BotObservation struct {
	Score            float64
	Signals          []string
	CrossedThreshold bool
	// BlockFor is how long a newly entered block lasts without verification.
	BlockFor time.Duration
}

// Outcome is the result of applying one envelope to a conversation.
type Outcome struct {
	// Action is the single outbound action requested, nil when the
	// transition produces no outbound (exit, terminal phase).
	Action *bus.OutboundAction
	// Replay is true when the envelope's id matched the idempotency
	// watermark: the state was not mutated and Action is the previously
	// computed one.
	Replay bool
	From   Phase
	To     Phase
}

// Machine is the conversation phase state machine. It is the single mutation
// point for conversation state; callers must hold the contact's queue slot.
//
// Transitions are monotonic forward. The only paths that leave the linear
// order are the exit intent (terminal) and the bot-block/unblock pair, which
// preserves the pre-block phase. A later phase is never abandoned because of
// reinterpreted earlier content: ambiguous new signals are merged into the
// qualification data, not used to roll back.
type Machine struct {
	classifier Classifier
	extractor  Extractor
	responder  Responder
	now        func() time.Time
}

// NewMachine builds a machine from its pluggable strategies. Nil arguments
// fall back to the keyword/template defaults.
func NewMachine(c Classifier, e Extractor, r Responder) *Machine {
	if c == nil {
		c = KeywordClassifier{}
	}
	if e == nil {
		e = KeywordExtractor{}
	}
	if r == nil {
		r = TemplateResponder{}
	}
	return &Machine{classifier: c, extractor: e, responder: r, now: time.Now}
}

// Apply advances the conversation by one inbound envelope. messageCount,
// phaseCompletion, the watermark, and the cached action are all updated in the
// same call, so an accepted transition is atomic from the caller's view.
func (m *Machine) Apply(st *State, env bus.InboundEnvelope, obs BotObservation) Outcome {
	if st.SeenMessage(env.ProviderMessageID) {
		return Outcome{Action: st.LastAction, Replay: true, From: st.CurrentPhase, To: st.CurrentPhase}
	}

	from := st.CurrentPhase
	now := m.now().UTC()

	st.MessageCount++
	st.recordBotObservation(env.ArrivedAt, obs.Score, obs.Signals)

	var action *bus.OutboundAction

	switch {
	case st.CurrentPhase == PhaseBlockedBotCheck:
		action = m.applyBlocked(st, env)

	case obs.CrossedThreshold && st.CurrentPhase != PhaseCompleted:
		blockFor := obs.BlockFor
		if blockFor <= 0 {
			blockFor = 24 * time.Hour
		}
		until := now.Add(blockFor)
		st.BotDetection.BlockedUntil = &until
		st.BotDetection.PhaseBefore = st.CurrentPhase
		st.CurrentPhase = PhaseBlockedBotCheck
		action = m.action(st, bus.ActionRequestHumanVerification, ReplyVerification, nil)

	case st.CurrentPhase == PhaseCompleted:
		// Terminal: state still absorbs the message, nothing goes out.

	default:
		action = m.applyIntent(st, env)
	}

	st.LastProcessedMessageID = env.ProviderMessageID
	st.LastAction = action
	st.UpdatedAt = now

	return Outcome{Action: action, From: from, To: st.CurrentPhase}
}

// applyBlocked handles messages while the conversation is in the bot check.
// A recognized affirmative clears the block and resumes the pre-block phase;
// anything else re-issues the challenge and sends no qualification content.
func (m *Machine) applyBlocked(st *State, env bus.InboundEnvelope) *bus.OutboundAction {
	if guard.IsVerificationReply(env.Text) {
		st.BotDetection.BlockedUntil = nil
		resume := st.BotDetection.PhaseBefore
		if resume == "" || resume == PhaseBlockedBotCheck {
			resume = PhaseIdentification
		}
		st.CurrentPhase = resume
		return m.action(st, bus.ActionSendText, ReplyResume, nil)
	}
	return m.action(st, bus.ActionRequestHumanVerification, ReplyVerification, nil)
}

// applyIntent runs the classified-intent transition table for the linear
// phases.
func (m *Machine) applyIntent(st *State, env bus.InboundEnvelope) *bus.OutboundAction {
	intent := m.classifier.Classify(env.Text, st)

	if intent.Exit {
		st.markCompleted(st.CurrentPhase)
		st.CurrentPhase = PhaseCompleted
		return nil
	}

	// First contact, or a bare salutation before we know who we talk to:
	// greet and ask for the name. Tagged so the dispatch layer can apply the
	// first-response race guard.
	if st.MessageCount == 1 || (intent.Greeting && st.CurrentPhase == PhaseIdentification) {
		return m.action(st, bus.ActionSendText, ReplyGreeting, map[string]string{"greeting": "true"})
	}

	if intent.FAQ {
		// Answered inline, then the pending question is re-asked. No phase
		// change.
		return m.action(st, bus.ActionSendText, ReplyFAQ, nil)
	}
	if intent.Objection {
		return m.action(st, bus.ActionSendText, ReplyObjection, nil)
	}
	if intent.Greeting {
		// Mid-funnel salutation: just re-ask the pending question.
		return m.action(st, bus.ActionSendText, ReplyAskPhase, nil)
	}

	st.MergeQualification(st.CurrentPhase, m.extractor.Extract(st.CurrentPhase, env.Text))

	if intent.Scheduling {
		if PhaseIndex(PhaseScheduling) > PhaseIndex(st.CurrentPhase) {
			st.markCompleted(st.CurrentPhase)
			st.CurrentPhase = PhaseScheduling
		}
		return m.action(st, bus.ActionSendText, ReplyAskPhase, nil)
	}

	// Qualifying answer: current phase is satisfied, advance linearly.
	st.markCompleted(st.CurrentPhase)
	st.CurrentPhase = NextPhase(st.CurrentPhase)
	if st.CurrentPhase == PhaseCompleted {
		return m.action(st, bus.ActionSendText, ReplyScheduled, nil)
	}
	return m.action(st, bus.ActionSendText, ReplyAskPhase, nil)
}

func (m *Machine) action(st *State, typ bus.ActionType, kind ReplyKind, meta map[string]string) *bus.OutboundAction {
	return &bus.OutboundAction{
		Contact:  st.Contact,
		Type:     typ,
		Payload:  m.responder.Respond(kind, st),
		Metadata: meta,
	}
}
