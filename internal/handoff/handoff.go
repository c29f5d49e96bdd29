// Package handoff transfers conversation ownership between specialized agent
// roles. The qualifier owns identification and business discovery; the closer
// owns solution presentation and scheduling. A handoff packet must carry
// everything the receiving role needs so already-answered questions are never
// re-asked.
package handoff

import (
	"fmt"
	"strings"
	"time"

	"github.com/vendaflow/vendaflow/internal/flow"
)

// Role identifies a specialized agent role.
type Role string

const (
	RoleQualifier Role = "qualifier"
	RoleCloser    Role = "closer"
)

// Origin tags how a handoff was triggered.
const (
	OriginInbound  = "inbound"
	OriginExternal = "external"
)

// RoleForPhase maps each phase to its owning role. blocked_bot_check keeps
// the role of the phase it interrupted, so it maps to the qualifier only as a
// fallback.
func RoleForPhase(p flow.Phase) Role {
	switch p {
	case flow.PhaseSolutionPresentation, flow.PhaseScheduling, flow.PhaseCompleted:
		return RoleCloser
	default:
		return RoleQualifier
	}
}

// Packet is the payload handed to the receiving role: a flat field map of
// everything collected so far, the literal text that triggered the handoff,
// and the origin tag.
type Packet struct {
	Fields      map[string]string `json:"fields"`
	RawResponse string            `json:"raw_response"`
	Origin      string            `json:"origin"`
	FromRole    Role              `json:"from_role"`
	ToRole      Role              `json:"to_role"`
}

// Initiate builds the handoff packet from the conversation state and records
// the transfer on the state. It is called exactly once per phase transition
// that crosses a role boundary.
func Initiate(st *flow.State, from, to Role, rawResponse, origin string) Packet {
	fields := make(map[string]string, len(st.Qualification)+2)
	for k, f := range st.Qualification {
		fields[k] = f.Value
	}
	fields["contact"] = st.Contact
	fields["phase"] = string(st.CurrentPhase)

	p := Packet{
		Fields:      fields,
		RawResponse: rawResponse,
		Origin:      origin,
		FromRole:    from,
		ToRole:      to,
	}

	st.Handoff = &flow.Handoff{
		FromRole: string(from),
		ToRole:   string(to),
		Payload:  fields,
	}
	return p
}

// OnReceived produces the receiving role's initial response from a packet.
// It is idempotent (the same packet always yields the same response) and
// duplicate dispatch is suppressed by the greeting guard at the send layer.
// A packet missing a required field degrades to asking for it explicitly
// instead of failing.
func OnReceived(contact string, p Packet) (string, error) {
	if p.Fields == nil {
		p.Fields = map[string]string{}
	}

	name := strings.TrimSpace(p.Fields[flow.FieldName])
	if name == "" {
		// Required field missing: ask for it rather than proceeding blind.
		return "Antes de seguirmos: como posso te chamar?", nil
	}

	need := strings.TrimSpace(p.Fields[flow.FieldNeed])
	if need == "" {
		return fmt.Sprintf("%s, antes de te apresentar a solução: me conta rapidinho qual o principal desafio do seu negócio hoje?", firstName(name)), nil
	}

	return fmt.Sprintf(
		"%s, aqui é o especialista da VendaFlow. Vi que seu foco é: %s. Nossa solução resolve exatamente isso — posso te mostrar como e já deixamos uma conversa marcada?",
		firstName(name), summarize(need)), nil
}

// Accept marks the handoff as accepted on the conversation state.
func Accept(st *flow.State, at time.Time) {
	if st.Handoff != nil && st.Handoff.AcceptedAt == nil {
		t := at.UTC()
		st.Handoff.AcceptedAt = &t
	}
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return full
	}
	return parts[0]
}

// summarize caps long free-form text, cutting on a rune boundary so accented
// Portuguese never yields invalid UTF-8.
func summarize(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
