package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient is one care episode, from registration to conclusion.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BirthDate string    `json:"birth_date,omitempty"`
	Document  string    `json:"document,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	ZipCode   string    `json:"zip_code,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Triage is ordered oldest first; the last entry is the one in effect.
	Triage     []TriageRecord `json:"triage,omitempty"`
	Encounters []Encounter    `json:"encounters,omitempty"`
}

// Vitals recorded by the triage nurse. Values are kept as typed by the
// nurse; the backend stores them as text.
type Vitals struct {
	Temperature     string `json:"temperature,omitempty"`
	BloodPressure   string `json:"blood_pressure,omitempty"`
	HeartRate       string `json:"heart_rate,omitempty"`
	RespiratoryRate string `json:"respiratory_rate,omitempty"`
}

type TriageRecord struct {
	ID        string    `json:"id"`
	Complaint string    `json:"complaint"`
	Priority  Priority  `json:"priority"`
	Vitals    Vitals    `json:"vitals"`
	Allergies string    `json:"allergies,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Encounter is a physician consultation. It is open while EndedAt is nil.
type Encounter struct {
	ID           string     `json:"id"`
	PhysicianID  string     `json:"physician_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Symptoms     string     `json:"symptoms,omitempty"`
	Diagnosis    string     `json:"diagnosis,omitempty"`
	Kind         string     `json:"kind,omitempty"`
	Prescription string     `json:"prescription,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

func (e Encounter) Open() bool {
	return e.EndedAt == nil
}

// LatestTriage returns the triage record in effect, or nil.
func (p *Patient) LatestTriage() *TriageRecord {
	if len(p.Triage) == 0 {
		return nil
	}
	return &p.Triage[len(p.Triage)-1]
}

// Priority is the tier of the latest triage.
func (p *Patient) Priority() Priority {
	if t := p.LatestTriage(); t != nil {
		return t.Priority
	}
	return PriorityUnclassified
}

// OpenEncounter returns the encounter without an end time, or nil.
func (p *Patient) OpenEncounter() *Encounter {
	for i := range p.Encounters {
		if p.Encounters[i].Open() {
			return &p.Encounters[i]
		}
	}
	return nil
}

// WaitingSince is the moment the patient joined the consultation queue,
// falling back to registration.
func (p *Patient) WaitingSince() time.Time {
	if t := p.LatestTriage(); t != nil && !t.CreatedAt.IsZero() {
		return t.CreatedAt
	}
	return p.CreatedAt
}

// Clone returns a copy that shares no slices with p.
func (p Patient) Clone() Patient {
	c := p
	if p.Triage != nil {
		c.Triage = append([]TriageRecord(nil), p.Triage...)
	}
	if p.Encounters != nil {
		c.Encounters = make([]Encounter, len(p.Encounters))
		for i, e := range p.Encounters {
			if e.EndedAt != nil {
				end := *e.EndedAt
				e.EndedAt = &end
			}
			c.Encounters[i] = e
		}
	}
	return c
}

// LocalID builds a time-based id for records created before the server
// assigns one.
func LocalID(now time.Time) string {
	return "local-" + now.UTC().Format("20060102150405.000000") + "-" + uuid.NewString()[:8]
}
