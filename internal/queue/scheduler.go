package queue

import (
	"sort"
	"time"

	"github.com/jwalitptl/patient-flow/internal/model"
)

// Desk selects which waiting line is being ordered.
type Desk string

const (
	DeskTriage    Desk = "triage"
	DeskPhysician Desk = "physician"
)

// Eligible reports whether a patient belongs in the desk's line. Patients in
// consultation or concluded are never eligible.
func Eligible(p *model.Patient, desk Desk) bool {
	switch desk {
	case DeskTriage:
		return p.Status.AwaitingTriage()
	case DeskPhysician:
		return p.Status == model.StatusAwaitingConsultation
	}
	return false
}

// Order returns the desk's line: highest tier first, then earliest
// registration, then earliest triage, with the id as final key so the result
// never depends on input order. The input is not modified.
func Order(patients []model.Patient, desk Desk) []model.Patient {
	out := make([]model.Patient, 0, len(patients))
	for i := range patients {
		if Eligible(&patients[i], desk) {
			out = append(out, patients[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Less(&out[i], &out[j])
	})
	return out
}

// Less is the queue comparator.
func Less(a, b *model.Patient) bool {
	if ra, rb := a.Priority().Rank(), b.Priority().Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if wa, wb := a.WaitingSince(), b.WaitingSince(); !wa.Equal(wb) {
		return wa.Before(wb)
	}
	return a.ID < b.ID
}

// Head returns the first patient of the desk's line.
func Head(patients []model.Patient, desk Desk) (model.Patient, bool) {
	ordered := Order(patients, desk)
	if len(ordered) == 0 {
		return model.Patient{}, false
	}
	return ordered[0], true
}

// Current returns the patient the physician is seeing. With an empty
// physicianID any patient in consultation is returned, earliest encounter
// first. Encounters loaded without a physician belong to every desk.
func Current(patients []model.Patient, physicianID string) (model.Patient, bool) {
	for _, p := range InConsultation(patients) {
		if physicianID == "" {
			return p, true
		}
		enc := p.OpenEncounter()
		if enc == nil || enc.PhysicianID == "" || enc.PhysicianID == physicianID {
			return p, true
		}
	}
	return model.Patient{}, false
}

// InConsultation lists patients being seen, ordered by encounter start.
func InConsultation(patients []model.Patient) []model.Patient {
	out := make([]model.Patient, 0)
	for _, p := range patients {
		if p.Status == model.StatusInConsultation {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := startOf(&out[i]), startOf(&out[j])
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func startOf(p *model.Patient) time.Time {
	if enc := p.OpenEncounter(); enc != nil {
		return enc.StartedAt
	}
	return p.CreatedAt
}
