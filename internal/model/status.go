package model

import "strings"

// Status is the attendance stage of a patient. The values are the ones the
// REST backend stores.
type Status string

const (
	StatusRegistered           Status = "CADASTRADO"
	StatusAwaitingTriage       Status = "AGUARDANDO_TRIAGEM"
	StatusAwaitingConsultation Status = "AGUARDANDO"
	StatusInConsultation       Status = "EM_ATENDIMENTO"
	StatusConcluded            Status = "CONCLUIDO"
)

var statusRank = map[Status]int{
	StatusRegistered:           0,
	StatusAwaitingTriage:       1,
	StatusAwaitingConsultation: 2,
	StatusInConsultation:       3,
	StatusConcluded:            4,
}

var statusAliases = map[string]Status{
	"cadastrado":             StatusRegistered,
	"registered":             StatusRegistered,
	"aguardando_triagem":     StatusAwaitingTriage,
	"aguardando-triagem":     StatusAwaitingTriage,
	"awaiting_triage":        StatusAwaitingTriage,
	"aguardando":             StatusAwaitingConsultation,
	"aguardando-atendimento": StatusAwaitingConsultation,
	"aguardando_atendimento": StatusAwaitingConsultation,
	"awaiting_consultation":  StatusAwaitingConsultation,
	"em_atendimento":         StatusInConsultation,
	"em-atendimento":         StatusInConsultation,
	"in_progress":            StatusInConsultation,
	"in_consultation":        StatusInConsultation,
	"concluido":              StatusConcluded,
	"concluded":              StatusConcluded,
}

// ParseStatus accepts the current vocabulary and the legacy kebab-case one.
func ParseStatus(s string) (Status, bool) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanMoveTo reports whether to is a legal forward step from s. Skipping
// AWAITING_TRIAGE is allowed because some deployments fold it into
// REGISTERED; nothing moves backwards and CONCLUDED is terminal.
func (s Status) CanMoveTo(to Status) bool {
	switch s {
	case StatusRegistered:
		return to == StatusAwaitingTriage || to == StatusAwaitingConsultation
	case StatusAwaitingTriage:
		return to == StatusAwaitingConsultation
	case StatusAwaitingConsultation:
		return to == StatusInConsultation
	case StatusInConsultation:
		return to == StatusConcluded
	}
	return false
}

// AwaitingTriage covers both REGISTERED and AWAITING_TRIAGE.
func (s Status) AwaitingTriage() bool {
	return s == StatusRegistered || s == StatusAwaitingTriage
}

func (s Status) Terminal() bool {
	return s == StatusConcluded
}

func (s Status) String() string {
	return string(s)
}
