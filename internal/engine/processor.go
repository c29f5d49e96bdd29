// Package engine runs the per-message pipeline inside a contact's queue slot:
// load state, score for bot origin, advance the state machine, hand off when a
// role boundary is crossed, persist, dispatch at most one outbound action.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vendaflow/vendaflow/internal/bus"
	"github.com/vendaflow/vendaflow/internal/flow"
	"github.com/vendaflow/vendaflow/internal/guard"
	"github.com/vendaflow/vendaflow/internal/handoff"
	"github.com/vendaflow/vendaflow/internal/store"
)

// Typed failures of external collaborators. The engine never retries; retry
// policy belongs to the caller, and the watermark makes such retries safe.
var (
	ErrPersist  = errors.New("conversation persist failed")
	ErrDispatch = errors.New("outbound dispatch failed")
)

// Processor is the queue handler for accepted envelopes.
type Processor struct {
	store     store.ConversationStore
	machine   *flow.Machine
	bots      *guard.BotGuard
	greetings *guard.GreetingGuard
	sender    bus.Sender
	tracer    trace.Tracer
}

// New wires the processor. All collaborators are required.
func New(st store.ConversationStore, machine *flow.Machine, bots *guard.BotGuard, greetings *guard.GreetingGuard, sender bus.Sender) *Processor {
	return &Processor{
		store:     st,
		machine:   machine,
		bots:      bots,
		greetings: greetings,
		sender:    sender,
		tracer:    otel.Tracer("vendaflow/engine"),
	}
}

// Process applies one envelope. It is the only writer of the contact's
// conversation state and always runs while holding that contact's queue slot.
func (p *Processor) Process(ctx context.Context, env bus.InboundEnvelope) error {
	ctx, span := p.tracer.Start(ctx, "engine.process",
		trace.WithAttributes(
			attribute.String("contact", env.Contact),
			attribute.String("message_id", env.ProviderMessageID),
		))
	defer span.End()

	st, err := p.store.Load(ctx, env.Contact)
	if errors.Is(err, store.ErrNotFound) {
		st = flow.NewState(env.Contact)
		slog.Debug("engine: new conversation", "contact", env.Contact)
	} else if err != nil {
		span.SetStatus(codes.Error, "load failed")
		return fmt.Errorf("%w: load %s: %v", ErrPersist, env.Contact, err)
	}

	// Replays and already-blocked contacts skip scoring: the arrival window
	// tracks only messages the machine will actually apply, and a blocked
	// contact's verdict is settled until verification clears it.
	var obs flow.BotObservation
	if !st.SeenMessage(env.ProviderMessageID) && !p.bots.IsBlocked(env.Contact) {
		assess := p.bots.Score(env.Contact, env.Text, env.ArrivedAt)
		obs = flow.BotObservation{
			Score:            assess.Score,
			Signals:          assess.Signals,
			CrossedThreshold: assess.Blocked(p.bots.Config()),
			BlockFor:         p.bots.Config().BlockDuration,
		}
	}

	out := p.machine.Apply(st, env, obs)
	span.SetAttributes(
		attribute.String("phase.from", string(out.From)),
		attribute.String("phase.to", string(out.To)),
		attribute.Bool("replay", out.Replay),
	)

	if out.Replay {
		// Watermark hit: state untouched, nothing goes out again.
		slog.Info("engine: replay suppressed",
			"contact", env.Contact, "message_id", env.ProviderMessageID)
		return nil
	}

	p.syncBlockState(st)

	action := out.Action
	if crossesRoleBoundary(out) {
		action = p.runHandoff(st, env, out)
		st.LastAction = action
	}

	if err := p.store.Save(ctx, env.Contact, st); err != nil {
		span.SetStatus(codes.Error, "save failed")
		return fmt.Errorf("%w: save %s: %v", ErrPersist, env.Contact, err)
	}

	if action == nil {
		return nil
	}
	return p.dispatch(ctx, env, action)
}

// syncBlockState mirrors the durable block flag into the guard's fast lookup.
func (p *Processor) syncBlockState(st *flow.State) {
	if st.CurrentPhase == flow.PhaseBlockedBotCheck && st.BotDetection.BlockedUntil != nil {
		p.bots.MarkBlocked(st.Contact, *st.BotDetection.BlockedUntil)
	} else {
		p.bots.ClearBlocked(st.Contact)
	}
}

// crossesRoleBoundary reports whether this transition moves ownership between
// agent roles. Exit transitions carry no action and never hand off.
func crossesRoleBoundary(out flow.Outcome) bool {
	if out.Action == nil || out.To == flow.PhaseBlockedBotCheck || out.To == flow.PhaseCompleted {
		return false
	}
	return handoff.RoleForPhase(out.From) != handoff.RoleForPhase(out.To)
}

// runHandoff builds the packet and replaces the machine's reply with the
// receiving role's opener.
func (p *Processor) runHandoff(st *flow.State, env bus.InboundEnvelope, out flow.Outcome) *bus.OutboundAction {
	from := handoff.RoleForPhase(out.From)
	to := handoff.RoleForPhase(out.To)

	packet := handoff.Initiate(st, from, to, env.Text, handoff.OriginInbound)
	resp, err := handoff.OnReceived(env.Contact, packet)
	if err != nil {
		// Degraded handoff keeps the machine's own reply.
		slog.Warn("engine: handoff receive failed, keeping machine reply",
			"contact", env.Contact, "from", from, "to", to, "error", err)
		return out.Action
	}
	handoff.Accept(st, time.Now())

	slog.Info("engine: handoff",
		"contact", env.Contact, "from", from, "to", to, "phase", out.To)
	return &bus.OutboundAction{
		Contact: env.Contact,
		Type:    bus.ActionSendText,
		Payload: resp,
	}
}

// dispatch delivers the action, applying the first-response race guard to
// greeting sends.
func (p *Processor) dispatch(ctx context.Context, env bus.InboundEnvelope, action *bus.OutboundAction) error {
	greeting := action.Metadata["greeting"] == "true"
	if greeting && p.greetings.WasSent(env.Contact) {
		slog.Info("engine: duplicate greeting suppressed",
			"contact", env.Contact, "message_id", env.ProviderMessageID)
		return nil
	}

	if err := p.sender.Send(ctx, *action); err != nil {
		return fmt.Errorf("%w: %s to %s: %v", ErrDispatch, action.Type, env.Contact, err)
	}

	if greeting {
		p.greetings.MarkSent(env.Contact)
	}
	p.bots.RecordOutbound(env.Contact, time.Now())

	slog.Info("engine: action dispatched",
		"contact", env.Contact,
		"type", string(action.Type),
		"message_id", env.ProviderMessageID)
	return nil
}
