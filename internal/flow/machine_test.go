package flow

import (
	"fmt"
	"testing"
	"time"

	"github.com/vendaflow/vendaflow/internal/bus"
)

var msgSeq int

func inbound(contact, text string) bus.InboundEnvelope {
	msgSeq++
	return bus.InboundEnvelope{
		ProviderMessageID: fmt.Sprintf("MSG-%04d", msgSeq),
		Contact:           contact,
		Text:              text,
		MessageType:       "text",
		ArrivedAt:         time.Now(),
	}
}

func newTestMachine() *Machine {
	return NewMachine(nil, nil, nil)
}

// TestMachine_GreetingOnFirstContact verifies the first message produces a
// greeting tagged for the race guard and stays in identification.
func TestMachine_GreetingOnFirstContact(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	out := m.Apply(st, inbound(st.Contact, "Olá"), BotObservation{})

	if out.Action == nil || out.Action.Type != bus.ActionSendText {
		t.Fatalf("expected send_text greeting, got %+v", out.Action)
	}
	if out.Action.Metadata["greeting"] != "true" {
		t.Errorf("greeting action not tagged: %+v", out.Action.Metadata)
	}
	if st.CurrentPhase != PhaseIdentification {
		t.Errorf("phase = %s, want identification", st.CurrentPhase)
	}
	if st.MessageCount != 1 {
		t.Errorf("messageCount = %d, want 1", st.MessageCount)
	}
}

// TestMachine_IdempotentReplay verifies replaying the same provider message id
// mutates nothing and returns the previously computed action.
func TestMachine_IdempotentReplay(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	env := inbound(st.Contact, "Olá")
	first := m.Apply(st, env, BotObservation{})
	countAfter := st.MessageCount

	replay := m.Apply(st, env, BotObservation{})

	if !replay.Replay {
		t.Fatal("second apply of same id not flagged as replay")
	}
	if st.MessageCount != countAfter {
		t.Errorf("replay mutated messageCount: %d -> %d", countAfter, st.MessageCount)
	}
	if replay.Action != first.Action {
		t.Errorf("replay returned a different action: %+v vs %+v", replay.Action, first.Action)
	}
}

// TestMachine_LinearAdvance walks the happy path through every phase.
func TestMachine_LinearAdvance(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	steps := []struct {
		text      string
		wantPhase Phase
	}{
		{"Olá", PhaseIdentification},
		{"João Silva", PhaseBusinessDiscovery},
		{"Tenho uma loja de roupas, sou o dono, preciso vender mais", PhaseSolutionPresentation},
		{"Sim, temos uns R$ 2.000 por mês pra isso", PhaseScheduling},
		{"Pode ser terça de manhã", PhaseCompleted},
	}

	for i, step := range steps {
		out := m.Apply(st, inbound(st.Contact, step.text), BotObservation{})
		if st.CurrentPhase != step.wantPhase {
			t.Fatalf("step %d (%q): phase = %s, want %s", i, step.text, st.CurrentPhase, step.wantPhase)
		}
		if i < len(steps)-1 && out.Action == nil {
			t.Fatalf("step %d: no outbound action", i)
		}
	}

	if st.MessageCount != len(steps) {
		t.Errorf("messageCount = %d, want %d", st.MessageCount, len(steps))
	}
	if name, _ := st.Field(FieldName); name != "João Silva" {
		t.Errorf("name = %q, want João Silva", name)
	}
	for _, p := range []Phase{PhaseIdentification, PhaseBusinessDiscovery, PhaseSolutionPresentation, PhaseScheduling} {
		if !st.HasCompleted(p) {
			t.Errorf("phase %s missing from completion set", p)
		}
	}
}

// TestMachine_PhaseMonotonicity verifies that without an exit intent the phase
// index never regresses, whatever the message content.
func TestMachine_PhaseMonotonicity(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	texts := []string{
		"Olá", "Maria", "quanto custa?", "tenho uma padaria", "muito caro",
		"oi de novo", "quero agendar", "como funciona?", "terça às 10h",
		"mais uma mensagem", "e outra",
	}

	last := PhaseIndex(st.CurrentPhase)
	for _, text := range texts {
		m.Apply(st, inbound(st.Contact, text), BotObservation{})
		cur := PhaseIndex(st.CurrentPhase)
		if cur < last {
			t.Fatalf("phase regressed after %q: index %d -> %d (%s)", text, last, cur, st.CurrentPhase)
		}
		last = cur
	}
}

// TestMachine_ExitIsTerminal verifies an opt-out completes the conversation
// from any state with no outbound action, and later messages stay silent.
func TestMachine_ExitIsTerminal(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	m.Apply(st, inbound(st.Contact, "Olá"), BotObservation{})
	out := m.Apply(st, inbound(st.Contact, "não quero mais, pare de me mandar mensagem"), BotObservation{})

	if st.CurrentPhase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", st.CurrentPhase)
	}
	if out.Action != nil {
		t.Fatalf("exit produced outbound action %+v", out.Action)
	}

	after := m.Apply(st, inbound(st.Contact, "alguém aí?"), BotObservation{})
	if after.Action != nil {
		t.Fatalf("terminal conversation produced action %+v", after.Action)
	}
	if st.MessageCount != 3 {
		t.Errorf("messageCount = %d, want 3 (terminal state still counts messages)", st.MessageCount)
	}
}

// TestMachine_FAQDoesNotChangePhase verifies an off-topic question is answered
// inline and the phase question is re-asked.
func TestMachine_FAQDoesNotChangePhase(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	m.Apply(st, inbound(st.Contact, "Olá"), BotObservation{})
	m.Apply(st, inbound(st.Contact, "Carlos"), BotObservation{})
	phase := st.CurrentPhase

	out := m.Apply(st, inbound(st.Contact, "quanto custa o serviço?"), BotObservation{})

	if st.CurrentPhase != phase {
		t.Fatalf("FAQ changed phase: %s -> %s", phase, st.CurrentPhase)
	}
	if out.Action == nil || out.Action.Type != bus.ActionSendText {
		t.Fatalf("FAQ produced no reply: %+v", out.Action)
	}
}

// TestMachine_ObjectionStaysInPhase verifies objections trigger the handling
// branch without a phase change.
func TestMachine_ObjectionStaysInPhase(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	m.Apply(st, inbound(st.Contact, "Olá"), BotObservation{})
	m.Apply(st, inbound(st.Contact, "Ana"), BotObservation{})
	phase := st.CurrentPhase

	out := m.Apply(st, inbound(st.Contact, "achei muito caro"), BotObservation{})

	if st.CurrentPhase != phase {
		t.Fatalf("objection changed phase: %s -> %s", phase, st.CurrentPhase)
	}
	if out.Action == nil {
		t.Fatal("objection produced no reply")
	}
}

// TestMachine_SchedulingJump verifies explicit scheduling interest moves
// forward to scheduling from an earlier phase.
func TestMachine_SchedulingJump(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	m.Apply(st, inbound(st.Contact, "Olá"), BotObservation{})
	m.Apply(st, inbound(st.Contact, "Pedro"), BotObservation{})
	m.Apply(st, inbound(st.Contact, "quero agendar uma reunião"), BotObservation{})

	if st.CurrentPhase != PhaseScheduling {
		t.Fatalf("phase = %s, want scheduling", st.CurrentPhase)
	}
}

// TestMachine_BotBlockAndVerification verifies threshold crossing flips into
// blocked_bot_check, further content only re-issues the challenge, and an
// affirmative reply resumes the pre-block phase.
func TestMachine_BotBlockAndVerification(t *testing.T) {
	m := newTestMachine()
	st := NewState("5584996250203")

	m.Apply(st, inbound(st.Contact, "Olá"), BotObservation{})
	m.Apply(st, inbound(st.Contact, "Rafael"), BotObservation{})
	before := st.CurrentPhase

	out := m.Apply(st, inbound(st.Contact, "1 - Financeiro\n2 - Suporte"), BotObservation{
		Score:            0.75,
		Signals:          []string{"numbered_menu", "fast_reply"},
		CrossedThreshold: true,
		BlockFor:         time.Hour,
	})

	if st.CurrentPhase != PhaseBlockedBotCheck {
		t.Fatalf("phase = %s, want blocked_bot_check", st.CurrentPhase)
	}
	if out.Action == nil || out.Action.Type != bus.ActionRequestHumanVerification {
		t.Fatalf("expected verification challenge, got %+v", out.Action)
	}
	if !st.Blocked(time.Now()) {
		t.Fatal("state not reporting blocked")
	}

	again := m.Apply(st, inbound(st.Contact, "3 - Comercial"), BotObservation{})
	if again.Action == nil || again.Action.Type != bus.ActionRequestHumanVerification {
		t.Fatalf("blocked phase should re-challenge, got %+v", again.Action)
	}

	cleared := m.Apply(st, inbound(st.Contact, "sou humano"), BotObservation{})
	if st.CurrentPhase != before {
		t.Fatalf("resumed phase = %s, want %s", st.CurrentPhase, before)
	}
	if st.Blocked(time.Now()) {
		t.Fatal("still blocked after verification")
	}
	if cleared.Action == nil || cleared.Action.Type != bus.ActionSendText {
		t.Fatalf("expected resume text, got %+v", cleared.Action)
	}
}
