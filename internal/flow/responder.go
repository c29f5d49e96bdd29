package flow

import (
	"fmt"
	"strings"
)

// ReplyKind tells the responder what kind of outbound text is needed. The
// machine decides the kind; the responder decides the words.
type ReplyKind string

const (
	ReplyGreeting     ReplyKind = "greeting"
	ReplyAskPhase     ReplyKind = "ask_phase"
	ReplyFAQ          ReplyKind = "faq"
	ReplyObjection    ReplyKind = "objection"
	ReplyVerification ReplyKind = "verification_challenge"
	ReplyResume       ReplyKind = "resume"
	ReplyScheduled    ReplyKind = "scheduled"
)

// Responder produces outbound text. The default is template-based; an
// LLM-backed implementation can sit behind the same interface.
type Responder interface {
	Respond(kind ReplyKind, st *State) string
}

// TemplateResponder renders fixed Portuguese templates with light
// personalization from qualification data.
type TemplateResponder struct{}

// phaseQuestions are the pending questions per phase, re-asked after FAQ and
// objection interruptions.
var phaseQuestions = map[Phase]string{
	PhaseIdentification:       "Pra começar, como posso te chamar?",
	PhaseBusinessDiscovery:    "Me conta um pouco sobre o seu negócio: o que vocês fazem e qual o principal desafio hoje?",
	PhaseSolutionPresentation: "Com base no que você contou, nossa solução automatiza a qualificação dos seus leads no WhatsApp. Faz sentido pra sua operação? Vocês já têm um orçamento pensado pra isso?",
	PhaseScheduling:           "Qual o melhor dia e horário pra uma conversa rápida com nosso especialista?",
}

// Respond implements Responder.
func (TemplateResponder) Respond(kind ReplyKind, st *State) string {
	name, _ := st.Field(FieldName)

	switch kind {
	case ReplyGreeting:
		return "Olá! Aqui é a assistente da VendaFlow. " + phaseQuestions[PhaseIdentification]
	case ReplyAskPhase:
		q := phaseQuestions[st.CurrentPhase]
		if q == "" {
			q = phaseQuestions[PhaseBusinessDiscovery]
		}
		if name != "" {
			return fmt.Sprintf("%s, %s", firstName(name), lowerFirst(q))
		}
		return q
	case ReplyFAQ:
		q := phaseQuestions[st.CurrentPhase]
		return "Boa pergunta! Nosso especialista pode detalhar isso na conversa. Voltando: " + lowerFirst(q)
	case ReplyObjection:
		return "Entendo totalmente. Muitos clientes pensavam assim antes de ver o retorno na prática. Posso te mostrar como funciona no seu caso? " + phaseQuestions[st.CurrentPhase]
	case ReplyVerification:
		return "Antes de continuar, só pra confirmar que estou falando com uma pessoa: me responde com \"sou humano\", por favor."
	case ReplyResume:
		q := phaseQuestions[st.CurrentPhase]
		return "Obrigada por confirmar! Continuando de onde paramos: " + lowerFirst(q)
	case ReplyScheduled:
		if name != "" {
			return fmt.Sprintf("Perfeito, %s! Agendamento anotado. Nosso especialista confirma em seguida por aqui.", firstName(name))
		}
		return "Perfeito! Agendamento anotado. Nosso especialista confirma em seguida por aqui."
	default:
		return phaseQuestions[PhaseBusinessDiscovery]
	}
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return full
	}
	return parts[0]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToLower(string(r[0])))[0]
	return string(r)
}
