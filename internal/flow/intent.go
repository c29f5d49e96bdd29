package flow

import (
	"regexp"
	"strings"
)

// Intent is the structured classification of one inbound message. Classifiers
// are pluggable heuristics; the state machine only branches on this struct,
// never on raw text.
type Intent struct {
	// Exit: opt-out request. Terminal from any phase.
	Exit bool
	// Scheduling: explicit meeting/scheduling interest.
	Scheduling bool
	// Objection: pushback that stays in the current phase.
	Objection bool
	// FAQ: off-topic question handled inline without a phase change.
	FAQ bool
	// Greeting: a bare salutation with no answer content.
	Greeting bool
	// Qualifying: substantive answer content that advances the funnel.
	Qualifying bool
}

// Classifier turns message text plus conversation state into an Intent.
type Classifier interface {
	Classify(text string, st *State) Intent
}

// KeywordClassifier is the default heuristic classifier: keyword and pattern
// matching tuned for Brazilian Portuguese sales conversations. It is a
// stand-in for smarter classifiers behind the same interface.
type KeywordClassifier struct{}

var (
	exitWords = []string{
		"parar", "pare de", "sair", "cancelar", "descadastrar", "remover meu",
		"não quero mais", "nao quero mais", "me tire", "stop", "unsubscribe",
	}
	schedulingWords = []string{
		"agendar", "marcar", "reunião", "reuniao", "call", "conversar com",
		"horário", "horario", "agenda", "quando podemos", "me liga",
	}
	objectionWords = []string{
		"muito caro", "tá caro", "ta caro", "não tenho interesse",
		"nao tenho interesse", "já tenho", "ja tenho", "não preciso",
		"nao preciso", "sem orçamento", "sem orcamento", "agora não", "agora nao",
	}
	questionWords = []string{
		"como", "quanto", "qual", "quais", "o que", "oq ", "por que", "porque",
		"quem", "onde",
	}
)

var questionMark = regexp.MustCompile(`\?\s*$`)

var greetingWords = []string{
	"olá", "ola", "oi", "oie", "bom dia", "boa tarde", "boa noite",
	"e aí", "e ai", "hey", "hello", "hi",
}

// isGreeting reports whether the (lowercased, trimmed) text is a bare
// salutation carrying no answer content.
func isGreeting(t string) bool {
	t = strings.Trim(t, "!?. ")
	for _, w := range greetingWords {
		if t == w || strings.HasPrefix(t, w+" tudo bem") || strings.HasPrefix(t, w+", tudo bem") {
			return true
		}
	}
	return false
}

// Classify implements Classifier.
func (KeywordClassifier) Classify(text string, st *State) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Intent{}
	}

	var in Intent
	for _, w := range exitWords {
		if strings.Contains(t, w) {
			in.Exit = true
			return in
		}
	}
	for _, w := range schedulingWords {
		if strings.Contains(t, w) {
			in.Scheduling = true
			return in
		}
	}
	for _, w := range objectionWords {
		if strings.Contains(t, w) {
			in.Objection = true
			return in
		}
	}

	if isGreeting(t) {
		in.Greeting = true
		return in
	}

	// Questions interrupt the funnel; everything else is treated as a
	// qualifying answer to the pending question.
	if questionMark.MatchString(t) {
		for _, w := range questionWords {
			if strings.Contains(t, w) {
				in.FAQ = true
				return in
			}
		}
		in.FAQ = true
		return in
	}

	in.Qualifying = true
	return in
}
