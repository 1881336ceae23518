// Package local is an in-process stand-in for the patient backend, used
// when no backend URL is configured. Data lives for the life of the
// process.
package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/remote"
	"github.com/jwalitptl/patient-flow/pkg/errors"
)

var _ remote.API = (*Backend)(nil)

type Backend struct {
	mu       sync.Mutex
	patients map[string]model.Patient
	now      func() time.Time
}

func New(seed ...model.Patient) *Backend {
	b := &Backend{
		patients: make(map[string]model.Patient, len(seed)),
		now:      time.Now,
	}
	for _, p := range seed {
		b.patients[p.ID] = p.Clone()
	}
	return b
}

func (b *Backend) ListPatients(ctx context.Context) ([]model.Patient, error) {
	return b.filter(ctx, func(model.Patient) bool { return true })
}

// Queue returns every patient not yet concluded.
func (b *Backend) Queue(ctx context.Context) ([]model.Patient, error) {
	return b.filter(ctx, func(p model.Patient) bool { return !p.Status.Terminal() })
}

func (b *Backend) filter(ctx context.Context, keep func(model.Patient) bool) ([]model.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Patient, 0, len(b.patients))
	for _, p := range b.patients {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *Backend) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	if err := ctx.Err(); err != nil {
		return model.Patient{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.patients[id]
	if !ok {
		return model.Patient{}, errors.NotFound("patient " + id)
	}
	return p.Clone(), nil
}

func (b *Backend) CreatePatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	if err := ctx.Err(); err != nil {
		return model.Patient{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.ID == "" {
		p.ID = model.LocalID(b.now())
	}
	if _, exists := b.patients[p.ID]; exists {
		return model.Patient{}, errors.Validation(fmt.Sprintf("patient %s already exists", p.ID), nil)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = b.now()
	}
	if p.Status == "" {
		p.Status = model.StatusRegistered
	}
	b.patients[p.ID] = p.Clone()
	return p, nil
}

func (b *Backend) Lookup(ctx context.Context, document string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	want := digits(document)
	if want == "" {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.patients {
		if digits(p.Document) == want {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatus applies a forward transition. Repeating the current status is
// accepted.
func (b *Backend) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	return b.mutate(ctx, id, func(p *model.Patient) error {
		if p.Status == status {
			return nil
		}
		if !p.Status.CanMoveTo(status) {
			return errors.IllegalTransition(p.Status.String(), status.String())
		}
		p.Status = status
		return nil
	})
}

func (b *Backend) SubmitTriage(ctx context.Context, patientID string, rec model.TriageRecord) error {
	return b.mutate(ctx, patientID, func(p *model.Patient) error {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = b.now()
		}
		p.Triage = append(p.Triage, rec)
		return nil
	})
}

func (b *Backend) StartEncounter(ctx context.Context, patientID, physicianID string) (model.Encounter, error) {
	var enc model.Encounter
	err := b.mutate(ctx, patientID, func(p *model.Patient) error {
		if open := p.OpenEncounter(); open != nil {
			enc = *open
			return nil
		}
		enc = model.Encounter{ID: uuid.NewString(), PhysicianID: physicianID, StartedAt: b.now()}
		p.Encounters = append(p.Encounters, enc)
		return nil
	})
	return enc, err
}

func (b *Backend) ConcludeEncounter(ctx context.Context, patientID string, enc model.Encounter) error {
	return b.mutate(ctx, patientID, func(p *model.Patient) error {
		open := p.OpenEncounter()
		if open == nil {
			return errors.Validation("patient has no open encounter", errors.ErrIllegalTransition)
		}
		end := b.now()
		if enc.EndedAt != nil {
			end = *enc.EndedAt
		}
		open.EndedAt = &end
		open.Symptoms = enc.Symptoms
		open.Diagnosis = enc.Diagnosis
		open.Kind = enc.Kind
		open.Prescription = enc.Prescription
		open.Notes = enc.Notes
		return nil
	})
}

// Login accepts any non-empty credentials.
func (b *Backend) Login(ctx context.Context, email, password string) (string, model.User, error) {
	if err := ctx.Err(); err != nil {
		return "", model.User{}, err
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return "", model.User{}, errors.Auth(401, fmt.Errorf("missing credentials"))
	}
	name := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		name = email[:at]
	}
	return "local-" + uuid.NewString(), model.User{ID: email, Name: name, Email: email}, nil
}

func (b *Backend) mutate(ctx context.Context, id string, fn func(p *model.Patient) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.patients[id]
	if !ok {
		return errors.NotFound("patient " + id)
	}
	p = p.Clone()
	if err := fn(&p); err != nil {
		return err
	}
	b.patients[id] = p
	return nil
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
