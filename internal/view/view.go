// Package view derives what each desk shows from a store snapshot. The
// functions are pure; callers pass the current time.
package view

import (
	"fmt"
	"math"
	"time"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/queue"
)

// Row is one patient line on a desk.
type Row struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Status        model.Status   `json:"status"`
	Priority      model.Priority `json:"priority"`
	PriorityLabel string         `json:"priority_label"`
	Complaint     string         `json:"complaint,omitempty"`
	Since         time.Time      `json:"since"`
	Elapsed       string         `json:"elapsed"`
	PhysicianID   string         `json:"physician_id,omitempty"`
}

// Counts tallies a line by tier.
type Counts struct {
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
	Unclassified int `json:"unclassified"`
}

type TriageView struct {
	Queue  []Row  `json:"queue"`
	Counts Counts `json:"counts"`
}

type PhysicianView struct {
	PhysicianID string `json:"physician_id"`
	Current     *Row   `json:"current"`
	Queue       []Row  `json:"queue"`
}

type PanelView struct {
	InConsultation     []Row     `json:"in_consultation"`
	Queue              []Row     `json:"queue"`
	Total              int       `json:"total"`
	Waiting            int       `json:"waiting"`
	Counts             Counts    `json:"counts"`
	AverageWaitMinutes int       `json:"average_wait_minutes"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Triage is the triage desk: patients still to be triaged, in queue order.
// Tier counts cover the whole store so the nurse sees how the day is going.
func Triage(patients []model.Patient, now time.Time) TriageView {
	ordered := queue.Order(patients, queue.DeskTriage)
	return TriageView{
		Queue:  rows(ordered, now),
		Counts: countTiers(patients),
	}
}

// Physician is the physician desk: the patient being seen, if any, and the
// consultation line.
func Physician(patients []model.Patient, physicianID string, now time.Time) PhysicianView {
	v := PhysicianView{
		PhysicianID: physicianID,
		Queue:       rows(queue.Order(patients, queue.DeskPhysician), now),
	}
	if cur, ok := queue.Current(patients, physicianID); ok {
		r := consultationRow(&cur, now)
		v.Current = &r
	}
	return v
}

// Panel is the waiting-room display.
func Panel(patients []model.Patient, now time.Time) PanelView {
	line := queue.Order(patients, queue.DeskPhysician)
	consulting := queue.InConsultation(patients)

	v := PanelView{
		InConsultation: make([]Row, 0, len(consulting)),
		Queue:          rows(line, now),
		Total:          len(patients),
		Waiting:        len(line),
		Counts:         countTiers(line),
		GeneratedAt:    now,
	}
	for i := range consulting {
		v.InConsultation = append(v.InConsultation, consultationRow(&consulting[i], now))
	}
	if len(line) > 0 {
		var total float64
		for i := range line {
			total += now.Sub(line[i].WaitingSince()).Minutes()
		}
		v.AverageWaitMinutes = int(math.Round(total / float64(len(line))))
	}
	return v
}

// Elapsed renders a duration the way the panel shows it: "12m" under an
// hour, "1h 5m" from there on. Negative durations read as "0m".
func Elapsed(d time.Duration) string {
	minutes := int(d / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func rows(patients []model.Patient, now time.Time) []Row {
	out := make([]Row, 0, len(patients))
	for i := range patients {
		out = append(out, row(&patients[i], patients[i].WaitingSince(), now))
	}
	return out
}

func consultationRow(p *model.Patient, now time.Time) Row {
	since := p.CreatedAt
	var physician string
	if enc := p.OpenEncounter(); enc != nil {
		since = enc.StartedAt
		physician = enc.PhysicianID
	}
	r := row(p, since, now)
	r.PhysicianID = physician
	return r
}

func row(p *model.Patient, since, now time.Time) Row {
	r := Row{
		ID:            p.ID,
		Name:          p.Name,
		Status:        p.Status,
		Priority:      p.Priority(),
		PriorityLabel: p.Priority().Label(),
		Since:         since,
		Elapsed:       Elapsed(now.Sub(since)),
	}
	if t := p.LatestTriage(); t != nil {
		r.Complaint = t.Complaint
	}
	return r
}

func countTiers(patients []model.Patient) Counts {
	var c Counts
	for i := range patients {
		switch patients[i].Priority() {
		case model.PriorityHigh:
			c.High++
		case model.PriorityMedium:
			c.Medium++
		case model.PriorityLow:
			c.Low++
		default:
			c.Unclassified++
		}
	}
	return c
}
