package flow

import (
	"regexp"
	"strings"
)

// Extractor pulls qualification fields out of a qualifying answer. Like the
// classifier it is a pluggable heuristic; the default keys off the phase the
// answer was given in plus a few content patterns.
type Extractor interface {
	Extract(phase Phase, text string) map[string]string
}

// KeywordExtractor is the default heuristic extractor.
type KeywordExtractor struct{}

var (
	budgetPattern = regexp.MustCompile(`(?i)R\$\s*[\d.,]+\s*(mil|k)?`)
	timingWords   = []string{
		"urgente", "imediato", "essa semana", "esta semana", "este mês",
		"esse mês", "este mes", "esse mes", "próximo mês", "proximo mes",
		"ano que vem",
	}
	authorityWords = []string{
		"sou o dono", "sou a dona", "sou dono", "sou dona", "sou sócio",
		"sou socio", "sou gerente", "sou diretor", "sou diretora", "eu decido",
		"sou responsável", "sou responsavel", "sou ceo",
	}
)

// Extract implements Extractor.
func (KeywordExtractor) Extract(phase Phase, text string) map[string]string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	fields := make(map[string]string)

	switch phase {
	case PhaseIdentification:
		// The pending question in identification is the contact's name.
		if len(text) <= 80 && !strings.ContainsAny(text, "?") && !isGreeting(strings.ToLower(text)) {
			fields[FieldName] = text
		}
	case PhaseBusinessDiscovery:
		fields[FieldNeed] = text
	}

	lower := strings.ToLower(text)
	if m := budgetPattern.FindString(text); m != "" {
		fields[FieldBudget] = strings.TrimSpace(m)
	}
	for _, w := range timingWords {
		if strings.Contains(lower, w) {
			fields[FieldTiming] = w
			break
		}
	}
	for _, w := range authorityWords {
		if strings.Contains(lower, w) {
			fields[FieldAuthority] = w
			break
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}
