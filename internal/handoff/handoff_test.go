package handoff

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vendaflow/vendaflow/internal/flow"
)

// TestInitiate_PacketCompleteness verifies the packet carries every collected
// qualification field plus contact and phase, so the receiving role never
// re-asks an answered question.
func TestInitiate_PacketCompleteness(t *testing.T) {
	st := flow.NewState("5584996250203")
	st.CurrentPhase = flow.PhaseSolutionPresentation
	st.MergeQualification(flow.PhaseIdentification, map[string]string{flow.FieldName: "João Silva"})
	st.MergeQualification(flow.PhaseBusinessDiscovery, map[string]string{
		flow.FieldNeed: "vender mais pelo WhatsApp",
		"segment":      "varejo",
	})

	p := Initiate(st, RoleQualifier, RoleCloser, "sim, temos orçamento", OriginInbound)

	for _, key := range []string{flow.FieldName, flow.FieldNeed, "segment", "contact", "phase"} {
		if p.Fields[key] == "" {
			t.Errorf("packet missing field %q", key)
		}
	}
	if p.RawResponse != "sim, temos orçamento" {
		t.Errorf("rawResponse = %q", p.RawResponse)
	}
	if p.Origin != OriginInbound {
		t.Errorf("origin = %q", p.Origin)
	}
	if st.Handoff == nil || st.Handoff.FromRole != string(RoleQualifier) || st.Handoff.ToRole != string(RoleCloser) {
		t.Fatalf("state handoff record = %+v", st.Handoff)
	}
	if st.Handoff.AcceptedAt != nil {
		t.Error("handoff marked accepted before OnReceived")
	}
}

// TestOnReceived_UsesCollectedContext verifies the closer's opener references
// the qualifier's findings.
func TestOnReceived_UsesCollectedContext(t *testing.T) {
	p := Packet{
		Fields: map[string]string{
			flow.FieldName: "Maria Souza",
			flow.FieldNeed: "automatizar atendimento",
		},
		RawResponse: "faz sentido sim",
		Origin:      OriginInbound,
	}

	resp, err := OnReceived("5584996250203", p)
	if err != nil {
		t.Fatalf("OnReceived: %v", err)
	}
	if !strings.Contains(resp, "Maria") {
		t.Errorf("opener does not address the contact by name: %q", resp)
	}
	if !strings.Contains(resp, "automatizar atendimento") {
		t.Errorf("opener does not reference the discovered need: %q", resp)
	}
}

// TestOnReceived_MissingNameDegrades verifies a packet with rawResponse set
// but no name does not fail; it asks for the missing field.
func TestOnReceived_MissingNameDegrades(t *testing.T) {
	p := Packet{RawResponse: "quero ver a solução"}

	resp, err := OnReceived("5584996250203", p)
	if err != nil {
		t.Fatalf("OnReceived with missing name errored: %v", err)
	}
	if !strings.Contains(strings.ToLower(resp), "chamar") {
		t.Errorf("expected a request for the missing name, got %q", resp)
	}
}

// TestOnReceived_LongNeedStaysValidUTF8 verifies a long accented need is
// shortened without splitting a multi-byte rune.
func TestOnReceived_LongNeedStaysValidUTF8(t *testing.T) {
	p := Packet{Fields: map[string]string{
		flow.FieldName: "Ana",
		flow.FieldNeed: strings.Repeat("atenção rápida e organização ", 10),
	}}

	resp, err := OnReceived("5584996250203", p)
	if err != nil {
		t.Fatalf("OnReceived: %v", err)
	}
	if !utf8.ValidString(resp) {
		t.Fatalf("opener contains invalid UTF-8: %q", resp)
	}
	if !strings.Contains(resp, "…") {
		t.Errorf("long need not shortened: %q", resp)
	}
}

// TestOnReceived_Idempotent verifies the same packet yields the same response.
func TestOnReceived_Idempotent(t *testing.T) {
	p := Packet{Fields: map[string]string{flow.FieldName: "Ana", flow.FieldNeed: "mais leads"}}

	a, err1 := OnReceived("5584996250203", p)
	b, err2 := OnReceived("5584996250203", p)
	if err1 != nil || err2 != nil {
		t.Fatalf("errors: %v, %v", err1, err2)
	}
	if a != b {
		t.Fatalf("responses differ:\n%q\n%q", a, b)
	}
}

// TestRoleForPhase covers the ownership split.
func TestRoleForPhase(t *testing.T) {
	cases := map[flow.Phase]Role{
		flow.PhaseIdentification:       RoleQualifier,
		flow.PhaseBusinessDiscovery:    RoleQualifier,
		flow.PhaseBlockedBotCheck:      RoleQualifier,
		flow.PhaseSolutionPresentation: RoleCloser,
		flow.PhaseScheduling:           RoleCloser,
		flow.PhaseCompleted:            RoleCloser,
	}
	for phase, want := range cases {
		if got := RoleForPhase(phase); got != want {
			t.Errorf("RoleForPhase(%s) = %s, want %s", phase, got, want)
		}
	}
}

// TestAccept marks acceptance exactly once.
func TestAccept(t *testing.T) {
	st := flow.NewState("5584996250203")
	Initiate(st, RoleQualifier, RoleCloser, "ok", OriginInbound)

	first := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	Accept(st, first)
	Accept(st, first.Add(time.Hour))

	if st.Handoff.AcceptedAt == nil || !st.Handoff.AcceptedAt.Equal(first) {
		t.Fatalf("acceptedAt = %v, want %v", st.Handoff.AcceptedAt, first)
	}
}
