// Package triage suggests a risk tier from the complaint typed at the triage
// desk. The suggestion is recomputed on every edit, so PriorityOf must stay
// cheap and free of side effects.
package triage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jwalitptl/patient-flow/internal/model"
)

// Keyword phrases for the upper tiers, accent-free and lower case. Any other
// complaint is LOW. Matching is on whole words, so "febre" never matches
// inside "febrezinha".
var (
	highKeywords = []string{
		"febre alta", "dor no peito", "dor toracica", "falta de ar", "dificuldade para respirar",
		"desmaio", "desmaiou", "inconsciente", "convulsao", "convulsionando", "sangramento",
		"hemorragia", "infarto", "avc", "derrame", "parada cardiaca", "queimadura grave",
		"fratura exposta", "trauma", "acidente", "envenenamento", "overdose",
		"chest pain", "shortness of breath", "unconscious", "seizure", "bleeding", "stroke",
		"high fever",
	}
	mediumKeywords = []string{
		"febre", "vomito", "vomitos", "vomitando", "diarreia", "dor forte", "dor intensa",
		"dor abdominal", "fratura", "corte", "queimadura", "tontura", "pressao alta",
		"crise", "infeccao", "desidratacao",
		"fever", "vomiting", "severe pain", "fracture", "dizziness",
	}
)

// PriorityOf maps a free-text complaint to a tier. Case, surrounding space,
// punctuation and accents are ignored. Empty text is unclassified; text
// without any known keyword is LOW.
func PriorityOf(complaint string) model.Priority {
	text := Normalize(complaint)
	if text == "" {
		return model.PriorityUnclassified
	}
	padded := " " + text + " "
	switch {
	case containsAny(padded, highKeywords):
		return model.PriorityHigh
	case containsAny(padded, mediumKeywords):
		return model.PriorityMedium
	}
	return model.PriorityLow
}

// Normalize folds text into lower-case accent-free words separated by single
// spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func containsAny(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
