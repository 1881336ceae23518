// Package remotetest provides a configurable remote.API for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/remote"
)

var _ remote.API = (*MockAPI)(nil)

// MockAPI calls the matching function field, or succeeds with a zero value
// when the field is nil. Calls are counted by method name.
type MockAPI struct {
	ListPatientsFunc      func(ctx context.Context) ([]model.Patient, error)
	QueueFunc             func(ctx context.Context) ([]model.Patient, error)
	GetPatientFunc        func(ctx context.Context, id string) (model.Patient, error)
	CreatePatientFunc     func(ctx context.Context, p model.Patient) (model.Patient, error)
	LookupFunc            func(ctx context.Context, document string) (bool, error)
	UpdateStatusFunc      func(ctx context.Context, id string, status model.Status) error
	SubmitTriageFunc      func(ctx context.Context, patientID string, rec model.TriageRecord) error
	StartEncounterFunc    func(ctx context.Context, patientID, physicianID string) (model.Encounter, error)
	ConcludeEncounterFunc func(ctx context.Context, patientID string, enc model.Encounter) error
	LoginFunc             func(ctx context.Context, email, password string) (string, model.User, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method ran.
func (m *MockAPI) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockAPI) ListPatients(ctx context.Context) ([]model.Patient, error) {
	m.record("ListPatients")
	if m.ListPatientsFunc != nil {
		return m.ListPatientsFunc(ctx)
	}
	return []model.Patient{}, nil
}

func (m *MockAPI) Queue(ctx context.Context) ([]model.Patient, error) {
	m.record("Queue")
	if m.QueueFunc != nil {
		return m.QueueFunc(ctx)
	}
	return []model.Patient{}, nil
}

func (m *MockAPI) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	m.record("GetPatient")
	if m.GetPatientFunc != nil {
		return m.GetPatientFunc(ctx, id)
	}
	return model.Patient{ID: id}, nil
}

func (m *MockAPI) CreatePatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	m.record("CreatePatient")
	if m.CreatePatientFunc != nil {
		return m.CreatePatientFunc(ctx, p)
	}
	return p, nil
}

func (m *MockAPI) Lookup(ctx context.Context, document string) (bool, error) {
	m.record("Lookup")
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, document)
	}
	return false, nil
}

func (m *MockAPI) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	m.record("UpdateStatus")
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockAPI) SubmitTriage(ctx context.Context, patientID string, rec model.TriageRecord) error {
	m.record("SubmitTriage")
	if m.SubmitTriageFunc != nil {
		return m.SubmitTriageFunc(ctx, patientID, rec)
	}
	return nil
}

func (m *MockAPI) StartEncounter(ctx context.Context, patientID, physicianID string) (model.Encounter, error) {
	m.record("StartEncounter")
	if m.StartEncounterFunc != nil {
		return m.StartEncounterFunc(ctx, patientID, physicianID)
	}
	return model.Encounter{}, nil
}

func (m *MockAPI) ConcludeEncounter(ctx context.Context, patientID string, enc model.Encounter) error {
	m.record("ConcludeEncounter")
	if m.ConcludeEncounterFunc != nil {
		return m.ConcludeEncounterFunc(ctx, patientID, enc)
	}
	return nil
}

func (m *MockAPI) Login(ctx context.Context, email, password string) (string, model.User, error) {
	m.record("Login")
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return "token", model.User{ID: email}, nil
}
