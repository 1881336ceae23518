package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/patient-flow/internal/model"
)

// The backend has changed shape several times: ids are numbers or strings,
// triage and encounters come as one object or as a list, and the tier may
// sit on the patient or on its triage. Everything is folded into the model
// types here so nothing past this package has to care.

// flexString accepts a JSON string, number or boolean.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexTime accepts RFC 3339 text, a bare date, or epoch milliseconds.
type flexTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var raw flexString
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		f.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		f.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", s)
}

// oneOrMany accepts a single object, a list of objects, or null.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*o = nil
		return nil
	case b[0] == '[':
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*o = items
		return nil
	case b[0] == '{':
		var item T
		if err := json.Unmarshal(b, &item); err != nil {
			return err
		}
		*o = []T{item}
		return nil
	}
	*o = nil
	return nil
}

type wireTriage struct {
	ID               flexString `json:"id"`
	Motivo           string     `json:"motivo"`
	Prioridade       string     `json:"prioridade"`
	Temperatura      flexString `json:"temperatura"`
	Pressao          flexString `json:"pressao"`
	FreqCardiaca     flexString `json:"freqCardiaca"`
	FreqRespiratoria flexString `json:"freqRespiratoria"`
	Alergias         string     `json:"alergias"`
	Notas            string     `json:"notas"`
	CreatedAt        flexTime   `json:"createdAt"`
	CompletedAt      flexTime   `json:"completedAt"`
	UpdatedAt        flexTime   `json:"updatedAt"`
}

func (t wireTriage) at() time.Time {
	switch {
	case !t.CreatedAt.IsZero():
		return t.CreatedAt.Time
	case !t.CompletedAt.IsZero():
		return t.CompletedAt.Time
	}
	return t.UpdatedAt.Time
}

type wireEncounter struct {
	ID              flexString `json:"id"`
	MedicoID        flexString `json:"medicoId"`
	Status          string     `json:"status"`
	HoraInicio      flexTime   `json:"horaInicio"`
	HoraFim         *flexTime  `json:"horaFim"`
	Sintomas        string     `json:"sintomas"`
	Cid10           string     `json:"cid10"`
	TipoAtendimento string     `json:"tipoAtendimento"`
	Prescricao      string     `json:"prescricao"`
	Observacoes     string     `json:"observacoes"`
	CreatedAt       flexTime   `json:"createdAt"`
	UpdatedAt       flexTime   `json:"updatedAt"`
}

func (e wireEncounter) open() bool {
	switch strings.ToUpper(strings.TrimSpace(e.Status)) {
	case "EM_ATENDIMENTO", "IN_PROGRESS":
		return true
	case "":
		return e.HoraFim == nil || e.HoraFim.IsZero()
	}
	return false
}

type wirePatient struct {
	ID             flexString `json:"id"`
	Nome           string     `json:"nome"`
	DataNascimento string     `json:"dataNascimento"`
	Documento      string     `json:"documento"`
	Telefone       string     `json:"telefone"`
	Endereco       string     `json:"endereco"`
	Cep            string     `json:"cep"`
	Status         string     `json:"status"`
	CreatedAt      flexTime   `json:"createdAt"`
	DataCadastro   flexTime   `json:"dataCadastro"`

	// Older list endpoints flatten the latest triage onto the patient.
	Prioridade       string     `json:"prioridade"`
	Motivo           string     `json:"motivo"`
	Temperatura      flexString `json:"temperatura"`
	Pressao          flexString `json:"pressao"`
	FreqCardiaca     flexString `json:"freqCardiaca"`
	FreqRespiratoria flexString `json:"freqRespiratoria"`
	Alergias         string     `json:"alergias"`
	Notas            string     `json:"notas"`
	CompletedAt      flexTime   `json:"completedAt"`

	Triagem      oneOrMany[wireTriage]    `json:"triagem"`
	Triage       oneOrMany[wireTriage]    `json:"triage"`
	Atendimento  oneOrMany[wireEncounter] `json:"atendimento"`
	Atendimentos oneOrMany[wireEncounter] `json:"atendimentos"`
}

// normalize converts one wire record. Records without an id or with an
// unknown status are rejected.
func (w wirePatient) normalize() (model.Patient, error) {
	id := strings.TrimSpace(string(w.ID))
	if id == "" {
		return model.Patient{}, fmt.Errorf("patient without id")
	}
	status, ok := model.ParseStatus(w.Status)
	if !ok {
		return model.Patient{}, fmt.Errorf("patient %s: unknown status %q", id, w.Status)
	}

	p := model.Patient{
		ID:        id,
		Name:      w.Nome,
		BirthDate: w.DataNascimento,
		Document:  w.Documento,
		Phone:     w.Telefone,
		Address:   w.Endereco,
		ZipCode:   w.Cep,
		Status:    status,
		CreatedAt: w.CreatedAt.Time,
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = w.DataCadastro.Time
	}

	p.Triage = w.triage()
	p.Encounters = w.encounters(status)
	return p, nil
}

func (w wirePatient) triage() []model.TriageRecord {
	raw := append(append([]wireTriage(nil), w.Triagem...), w.Triage...)
	if len(raw) == 0 && (w.Motivo != "" || w.Prioridade != "") {
		raw = []wireTriage{{
			Motivo:           w.Motivo,
			Prioridade:       w.Prioridade,
			Temperatura:      w.Temperatura,
			Pressao:          w.Pressao,
			FreqCardiaca:     w.FreqCardiaca,
			FreqRespiratoria: w.FreqRespiratoria,
			Alergias:         w.Alergias,
			Notas:            w.Notas,
			CompletedAt:      w.CompletedAt,
		}}
	}
	if len(raw) == 0 {
		return nil
	}
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].at().Before(raw[j].at()) })

	out := make([]model.TriageRecord, 0, len(raw))
	for i, t := range raw {
		prio, _ := model.ParsePriority(t.Prioridade)
		// the tier on the patient wins for the latest record
		if i == len(raw)-1 && w.Prioridade != "" {
			if top, ok := model.ParsePriority(w.Prioridade); ok {
				prio = top
			}
		}
		id := string(t.ID)
		if id == "" {
			id = fmt.Sprintf("%s-t%d", w.ID, i+1)
		}
		out = append(out, model.TriageRecord{
			ID:        id,
			Complaint: t.Motivo,
			Priority:  prio,
			Vitals: model.Vitals{
				Temperature:     string(t.Temperatura),
				BloodPressure:   string(t.Pressao),
				HeartRate:       string(t.FreqCardiaca),
				RespiratoryRate: string(t.FreqRespiratoria),
			},
			Allergies: t.Alergias,
			Notes:     t.Notas,
			CreatedAt: t.at(),
		})
	}
	return out
}

// encounters keeps at most one open encounter: the latest one, and only
// while the patient is actually in consultation.
func (w wirePatient) encounters(status model.Status) []model.Encounter {
	raw := append(append([]wireEncounter(nil), w.Atendimento...), w.Atendimentos...)
	if len(raw) == 0 {
		return nil
	}
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].start().Before(raw[j].start()) })

	openIdx := -1
	if status == model.StatusInConsultation {
		for i := len(raw) - 1; i >= 0; i-- {
			if raw[i].open() {
				openIdx = i
				break
			}
		}
	}

	out := make([]model.Encounter, 0, len(raw))
	for i, e := range raw {
		enc := model.Encounter{
			ID:           string(e.ID),
			PhysicianID:  string(e.MedicoID),
			StartedAt:    e.start(),
			Symptoms:     e.Sintomas,
			Diagnosis:    e.Cid10,
			Kind:         e.TipoAtendimento,
			Prescription: e.Prescricao,
			Notes:        e.Observacoes,
		}
		if enc.ID == "" {
			enc.ID = fmt.Sprintf("%s-e%d", w.ID, i+1)
		}
		if i != openIdx {
			end := e.end()
			enc.EndedAt = &end
		}
		out = append(out, enc)
	}
	return out
}

func (e wireEncounter) start() time.Time {
	if !e.HoraInicio.IsZero() {
		return e.HoraInicio.Time
	}
	return e.CreatedAt.Time
}

func (e wireEncounter) end() time.Time {
	switch {
	case e.HoraFim != nil && !e.HoraFim.IsZero():
		return e.HoraFim.Time
	case !e.UpdatedAt.IsZero():
		return e.UpdatedAt.Time
	}
	return e.start()
}

// decodePatients reads a list response. Anything that is not a JSON array is
// treated as an empty list; malformed records are returned separately.
func decodePatients(body []byte) ([]model.Patient, []error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return []model.Patient{}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return []model.Patient{}, []error{err}
	}

	out := make([]model.Patient, 0, len(raws))
	var rejected []error
	for _, raw := range raws {
		var w wirePatient
		if err := json.Unmarshal(raw, &w); err != nil {
			rejected = append(rejected, err)
			continue
		}
		p, err := w.normalize()
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		out = append(out, p)
	}
	return out, rejected
}

func decodePatient(body []byte) (model.Patient, error) {
	var w wirePatient
	if err := json.Unmarshal(body, &w); err != nil {
		return model.Patient{}, err
	}
	return w.normalize()
}

// Outgoing payloads.

type patientPayload struct {
	ID             string `json:"id,omitempty"`
	Nome           string `json:"nome"`
	DataNascimento string `json:"dataNascimento,omitempty"`
	Documento      string `json:"documento"`
	Telefone       string `json:"telefone,omitempty"`
	Endereco       string `json:"endereco,omitempty"`
	Cep            string `json:"cep,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
}

func newPatientPayload(p model.Patient) patientPayload {
	return patientPayload{
		ID:             p.ID,
		Nome:           p.Name,
		DataNascimento: p.BirthDate,
		Documento:      p.Document,
		Telefone:       p.Phone,
		Endereco:       p.Address,
		Cep:            p.ZipCode,
		Status:         p.Status.String(),
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type triagePayload struct {
	PacienteID       string `json:"pacienteId"`
	Temperatura      string `json:"temperatura,omitempty"`
	Pressao          string `json:"pressao,omitempty"`
	FreqCardiaca     string `json:"freqCardiaca,omitempty"`
	FreqRespiratoria string `json:"freqRespiratoria,omitempty"`
	Alergias         string `json:"alergias,omitempty"`
	Notas            string `json:"notas,omitempty"`
	Motivo           string `json:"motivo"`
	Prioridade       string `json:"prioridade"`
	CompletedAt      string `json:"completedAt"`
}

func newTriagePayload(patientID string, t model.TriageRecord) triagePayload {
	return triagePayload{
		PacienteID:       patientID,
		Temperatura:      t.Vitals.Temperature,
		Pressao:          t.Vitals.BloodPressure,
		FreqCardiaca:     t.Vitals.HeartRate,
		FreqRespiratoria: t.Vitals.RespiratoryRate,
		Alergias:         t.Allergies,
		Notas:            t.Notes,
		Motivo:           t.Complaint,
		Prioridade:       string(t.Priority),
		CompletedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type encounterPayload struct {
	MedicoID        string `json:"medicoId,omitempty"`
	Sintomas        string `json:"sintomas,omitempty"`
	Cid10           string `json:"cid10,omitempty"`
	TipoAtendimento string `json:"tipoAtendimento,omitempty"`
	Prescricao      string `json:"prescricao,omitempty"`
	Observacoes     string `json:"observacoes,omitempty"`
	HoraInicio      string `json:"horaInicio,omitempty"`
	HoraFim         string `json:"horaFim,omitempty"`
}

func newEncounterPayload(e model.Encounter) encounterPayload {
	out := encounterPayload{
		MedicoID:        e.PhysicianID,
		Sintomas:        e.Symptoms,
		Cid10:           e.Diagnosis,
		TipoAtendimento: e.Kind,
		Prescricao:      e.Prescription,
		Observacoes:     e.Notes,
	}
	if !e.StartedAt.IsZero() {
		out.HoraInicio = e.StartedAt.UTC().Format(time.RFC3339)
	}
	if e.EndedAt != nil {
		out.HoraFim = e.EndedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type startPayload struct {
	PacienteID string `json:"pacienteId"`
	MedicoID   string `json:"medicoId,omitempty"`
}

type concludePayload struct {
	PacienteID  string           `json:"pacienteId"`
	Atendimento encounterPayload `json:"atendimento"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type lookupPayload struct {
	Documento string `json:"documento"`
}

type lookupResponse struct {
	Encontrado bool            `json:"encontrado"`
	Paciente   json.RawMessage `json:"paciente,omitempty"`
}

type loginPayload struct {
	Email string `json:"email"`
	Senha string `json:"senha"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    flexString `json:"id"`
		Nome  string     `json:"nome"`
		Name  string     `json:"name"`
		Email string     `json:"email"`
		Role  string     `json:"role"`
	} `json:"user"`
}

func (r loginResponse) user() model.User {
	name := r.User.Nome
	if name == "" {
		name = r.User.Name
	}
	return model.User{ID: string(r.User.ID), Name: name, Email: r.User.Email, Role: r.User.Role}
}
