// Package attendance moves patients through registration, triage,
// consultation and conclusion.
//
// Every transition is optimistic: the store changes first and the bus
// fires, then the backend is told. If the backend refuses, the patient is
// put back the way it was and the bus fires again.
package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/patient-flow/internal/bus"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/queue"
	"github.com/jwalitptl/patient-flow/internal/remote"
	"github.com/jwalitptl/patient-flow/internal/repository"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/internal/triage"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
	"github.com/jwalitptl/patient-flow/pkg/validator"
)

const lookupTTL = 30 * time.Second

type AttendanceService interface {
	Register(ctx context.Context, req *model.RegistrationRequest) (model.Patient, error)
	Lookup(ctx context.Context, req *model.LookupRequest) (bool, error)
	SubmitTriage(ctx context.Context, patientID string, req *model.TriageRequest) (model.Patient, error)
	CallNext(ctx context.Context, physicianID string) (model.Patient, bool, error)
	Select(ctx context.Context, physicianID, patientID string) (model.Patient, error)
	Conclude(ctx context.Context, patientID string, req *model.ConclusionRequest) (model.Patient, error)
	ConcludeAndCallNext(ctx context.Context, physicianID, patientID string, req *model.ConclusionRequest) (Handoff, error)
}

// Handoff is the outcome of concluding a consultation and calling the next
// patient in one step. Next is nil when the queue was empty.
type Handoff struct {
	Concluded model.Patient  `json:"concluded"`
	Next      *model.Patient `json:"next,omitempty"`
}

type Service struct {
	api       remote.API
	store     *store.Store
	bus       *bus.Bus
	session   *session.Session
	journal   repository.TransitionRepository
	validator validator.Validator
	lookups   *cache.Cache
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

var _ AttendanceService = (*Service)(nil)

// NewService wires the service; journal and m may be nil.
func NewService(api remote.API, st *store.Store, b *bus.Bus, sess *session.Session,
	journal repository.TransitionRepository, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		api:       api,
		store:     st,
		bus:       b,
		session:   sess,
		journal:   journal,
		validator: validator.New(),
		lookups:   cache.New(lookupTTL, time.Minute),
		metrics:   m,
		logger:    log,
		now:       time.Now,
	}
}

// Register creates the patient on the backend and adds it to the store once
// confirmed. A locally generated id is sent and kept if the backend does
// not assign one.
func (s *Service) Register(ctx context.Context, req *model.RegistrationRequest) (model.Patient, error) {
	if err := s.validator.Validate(req); err != nil {
		return model.Patient{}, err
	}

	now := s.now()
	p := model.Patient{
		ID:        model.LocalID(now),
		Name:      strings.TrimSpace(req.Name),
		BirthDate: req.BirthDate,
		Document:  strings.TrimSpace(req.Document),
		Phone:     req.Phone,
		Address:   req.Address,
		ZipCode:   req.ZipCode,
		Status:    model.StatusRegistered,
		CreatedAt: now,
	}

	created, err := s.api.CreatePatient(ctx, p)
	if err != nil {
		s.count(model.StatusRegistered, "failure")
		return model.Patient{}, fmt.Errorf("failed to register patient: %w", err)
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}

	if err := s.store.Update(func(tx *store.Tx) error {
		tx.Put(created)
		return nil
	}); err != nil {
		return model.Patient{}, err
	}
	s.lookups.Set(documentKey(created.Document), true, lookupTTL)
	s.count(model.StatusRegistered, "success")
	s.record(ctx, created.ID, "", model.StatusRegistered, "")
	s.bus.Publish()

	s.logger.Info("patient registered", "patient_id", created.ID)
	return created, nil
}

// Lookup reports whether a patient with the document exists. Answers are
// cached briefly; patients already in the store answer without a request.
func (s *Service) Lookup(ctx context.Context, req *model.LookupRequest) (bool, error) {
	if err := s.validator.Validate(req); err != nil {
		return false, err
	}
	key := documentKey(req.Document)
	if key == "" {
		return false, errors.Validation("document must contain digits", nil)
	}
	if found, ok := s.lookups.Get(key); ok {
		return found.(bool), nil
	}
	for _, p := range s.store.List() {
		if documentKey(p.Document) == key {
			s.lookups.Set(key, true, lookupTTL)
			return true, nil
		}
	}

	found, err := s.api.Lookup(ctx, req.Document)
	if err != nil {
		return false, fmt.Errorf("failed to look up patient: %w", err)
	}
	s.lookups.Set(key, found, lookupTTL)
	return found, nil
}

// SubmitTriage records the triage and sends the patient to the
// consultation queue. Without an explicit priority the classifier decides;
// a complaint that yields no tier is rejected.
func (s *Service) SubmitTriage(ctx context.Context, patientID string, req *model.TriageRequest) (model.Patient, error) {
	if err := s.validator.Validate(req); err != nil {
		return model.Patient{}, err
	}
	if strings.TrimSpace(req.Complaint) == "" {
		return model.Patient{}, errors.Validation("complaint: is required", nil)
	}

	prio := triage.PriorityOf(req.Complaint)
	if req.Priority != "" {
		p, ok := model.ParsePriority(req.Priority)
		if !ok {
			return model.Patient{}, errors.Validation(fmt.Sprintf("priority: unknown tier %q", req.Priority), nil)
		}
		prio = p
	}
	if !prio.Classified() {
		return model.Patient{}, errors.Validation("priority: is required", nil)
	}

	rec := model.TriageRecord{
		ID:        uuid.NewString(),
		Complaint: strings.TrimSpace(req.Complaint),
		Priority:  prio,
		Vitals:    req.Vitals,
		Allergies: req.Allergies,
		Notes:     req.Notes,
		CreatedAt: s.now(),
	}

	after, _, err := s.transition(ctx, model.StatusAwaitingConsultation,
		byID(patientID),
		func(p *model.Patient) { p.Triage = append(p.Triage, rec) },
		func(ctx context.Context, p model.Patient) error {
			if err := s.api.UpdateStatus(ctx, p.ID, model.StatusAwaitingConsultation); err != nil {
				return err
			}
			return s.api.SubmitTriage(ctx, p.ID, rec)
		})
	return after, err
}

// CallNext takes the head of the consultation queue. An empty queue is not
// an error: found is false and nothing changes.
//
// A patient whose encounter carries no physician id counts as the current
// patient of every physician, so with a backend that omits the physician a
// single consultation blocks CallNext on all desks until it is concluded.
func (s *Service) CallNext(ctx context.Context, physicianID string) (model.Patient, bool, error) {
	pick := func(tx *store.Tx) (model.Patient, bool, error) {
		patients := tx.List()
		if err := checkFree(patients, physicianID); err != nil {
			return model.Patient{}, false, err
		}
		head, ok := queue.Head(patients, queue.DeskPhysician)
		return head, ok, nil
	}
	return s.start(ctx, physicianID, pick)
}

// Select opens the chart of a specific waiting patient.
func (s *Service) Select(ctx context.Context, physicianID, patientID string) (model.Patient, error) {
	pick := func(tx *store.Tx) (model.Patient, bool, error) {
		if err := checkFree(tx.List(), physicianID); err != nil {
			return model.Patient{}, false, err
		}
		return byID(patientID)(tx)
	}
	p, _, err := s.start(ctx, physicianID, pick)
	return p, err
}

func (s *Service) start(ctx context.Context, physicianID string, pick func(tx *store.Tx) (model.Patient, bool, error)) (model.Patient, bool, error) {
	enc := model.Encounter{
		ID:          model.LocalID(s.now()),
		PhysicianID: physicianID,
		StartedAt:   s.now(),
	}
	var confirmed model.Encounter

	after, found, err := s.transition(ctx, model.StatusInConsultation, pick,
		func(p *model.Patient) { p.Encounters = append(p.Encounters, enc) },
		func(ctx context.Context, p model.Patient) error {
			if err := s.api.UpdateStatus(ctx, p.ID, model.StatusInConsultation); err != nil {
				return err
			}
			var err error
			confirmed, err = s.api.StartEncounter(ctx, p.ID, physicianID)
			return err
		})
	if err != nil || !found {
		return after, found, err
	}

	if confirmed.ID != "" && confirmed.ID != enc.ID {
		after = s.adoptEncounterID(after.ID, enc.ID, confirmed.ID)
	}
	return after, true, nil
}

// Conclude closes the open encounter with the clinical record and ends the
// episode.
func (s *Service) Conclude(ctx context.Context, patientID string, req *model.ConclusionRequest) (model.Patient, error) {
	if err := s.validator.Validate(req); err != nil {
		return model.Patient{}, err
	}
	symptoms, diagnosis := strings.TrimSpace(req.Symptoms), strings.TrimSpace(req.Diagnosis)
	if symptoms == "" && diagnosis == "" {
		return model.Patient{}, errors.Validation("symptoms: is required without diagnosis", nil)
	}

	end := s.now()
	var closed model.Encounter
	after, _, err := s.transition(ctx, model.StatusConcluded, byID(patientID),
		func(p *model.Patient) {
			enc := p.OpenEncounter()
			if enc == nil {
				p.Encounters = append(p.Encounters, model.Encounter{ID: model.LocalID(end), StartedAt: end})
				enc = &p.Encounters[len(p.Encounters)-1]
			}
			enc.EndedAt = &end
			enc.Symptoms = symptoms
			enc.Diagnosis = diagnosis
			enc.Kind = req.Kind
			enc.Prescription = req.Prescription
			enc.Notes = req.Notes
			closed = *enc
		},
		func(ctx context.Context, p model.Patient) error {
			if err := s.api.UpdateStatus(ctx, p.ID, model.StatusConcluded); err != nil {
				return err
			}
			return s.api.ConcludeEncounter(ctx, p.ID, closed)
		})
	return after, err
}

// ConcludeAndCallNext concludes the physician's current patient and then
// takes the head of the queue. A failed call leaves the conclusion in place
// and returns it alongside the error.
func (s *Service) ConcludeAndCallNext(ctx context.Context, physicianID, patientID string, req *model.ConclusionRequest) (Handoff, error) {
	done, err := s.Conclude(ctx, patientID, req)
	if err != nil {
		return Handoff{}, err
	}

	out := Handoff{Concluded: done}
	next, found, err := s.CallNext(ctx, physicianID)
	if err != nil {
		return out, fmt.Errorf("failed to call next patient: %w", err)
	}
	if found {
		out.Next = &next
	}
	return out, nil
}

// transition is the optimistic update shared by every operation. pick runs
// inside the store transaction and chooses the patient; returning false
// makes the whole call a no-op.
func (s *Service) transition(
	ctx context.Context,
	to model.Status,
	pick func(tx *store.Tx) (model.Patient, bool, error),
	apply func(p *model.Patient),
	push func(ctx context.Context, p model.Patient) error,
) (model.Patient, bool, error) {
	var before, after model.Patient
	found := false

	err := s.store.Update(func(tx *store.Tx) error {
		p, ok, err := pick(tx)
		if err != nil || !ok {
			return err
		}
		if !p.Status.CanMoveTo(to) {
			return errors.IllegalTransition(p.Status.String(), to.String())
		}
		before = p.Clone()
		apply(&p)
		p.Status = to
		tx.Put(p)
		after = p
		found = true
		return nil
	})
	if err != nil {
		s.count(to, "rejected")
		return model.Patient{}, false, err
	}
	if !found {
		return model.Patient{}, false, nil
	}
	s.bus.Publish()

	log := s.logger.WithFields(map[string]interface{}{
		"patient_id": after.ID,
		"from":       before.Status.String(),
		"to":         to.String(),
	})

	if err := push(ctx, after); err != nil {
		s.revert(before, to)
		s.count(to, "reverted")
		log.Error(err, "transition reverted", "kind", string(errors.KindOf(err)))
		return model.Patient{}, false, fmt.Errorf("failed to move patient %s to %s: %w", after.ID, to, err)
	}

	s.count(to, "success")
	s.record(ctx, after.ID, before.Status, to, "")
	s.bus.Publish()
	log.Info("transition confirmed")
	return after, true, nil
}

// revert restores the pre-transition record unless a load has since
// replaced the optimistic one.
func (s *Service) revert(before model.Patient, optimistic model.Status) {
	_ = s.store.Update(func(tx *store.Tx) error {
		cur, ok := tx.Get(before.ID)
		if !ok || cur.Status != optimistic {
			return nil
		}
		tx.Put(before)
		return nil
	})
	s.bus.Publish()
}

func (s *Service) adoptEncounterID(patientID, localID, serverID string) model.Patient {
	var out model.Patient
	_ = s.store.Update(func(tx *store.Tx) error {
		p, ok := tx.Get(patientID)
		if !ok {
			return nil
		}
		for i := range p.Encounters {
			if p.Encounters[i].ID == localID {
				p.Encounters[i].ID = serverID
				tx.Put(p)
				break
			}
		}
		out = p
		return nil
	})
	return out
}

func (s *Service) record(ctx context.Context, patientID string, from, to model.Status, note string) {
	if s.journal == nil {
		return
	}
	actor := ""
	if s.session != nil {
		if u, ok := s.session.User(); ok {
			actor = u.ID
		}
	}
	t := &model.Transition{
		ID:        uuid.New(),
		PatientID: patientID,
		From:      from,
		To:        to,
		Actor:     actor,
		Note:      note,
		At:        s.now(),
	}
	if err := s.journal.Record(ctx, t); err != nil {
		s.logger.Error(err, "failed to journal transition", "patient_id", patientID, "to", to.String())
	}
}

func (s *Service) count(to model.Status, result string) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(to.String(), result).Inc()
	}
}

func byID(id string) func(tx *store.Tx) (model.Patient, bool, error) {
	return func(tx *store.Tx) (model.Patient, bool, error) {
		p, ok := tx.Get(id)
		if !ok {
			return model.Patient{}, false, errors.NotFound("patient " + id)
		}
		return p, true, nil
	}
}

func checkFree(patients []model.Patient, physicianID string) error {
	if cur, busy := queue.Current(patients, physicianID); busy {
		return errors.Validation(fmt.Sprintf("patient %s is still in consultation", cur.ID), errors.ErrPhysicianBusy)
	}
	return nil
}

func documentKey(doc string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, doc)
}
