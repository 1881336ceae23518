// Package store holds the patient records every desk view reads from.
//
// Readers always get copies. Writers either replace the whole collection
// (after a load) or run an Update transaction that sees a private working
// copy and is published in one step, so no reader ever observes half of a
// transition.
package store

import (
	"sort"
	"sync"

	"github.com/jwalitptl/patient-flow/internal/model"
)

type Store struct {
	mu       sync.RWMutex
	patients map[string]model.Patient
	version  uint64

	subMu   sync.Mutex
	nextSub uint64
	subs    map[uint64]func()
}

func New() *Store {
	return &Store{
		patients: make(map[string]model.Patient),
		subs:     make(map[uint64]func()),
	}
}

// Get returns a copy of the patient with the given id.
func (s *Store) Get(id string) (model.Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return model.Patient{}, false
	}
	return p.Clone(), true
}

// List returns copies of every patient, ordered by id.
func (s *Store) List() []model.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.patients)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patients)
}

// Version increases with every committed change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Replace swaps the whole collection for patients.
func (s *Store) Replace(patients []model.Patient) {
	next := make(map[string]model.Patient, len(patients))
	for _, p := range patients {
		next[p.ID] = p.Clone()
	}
	s.commit(next)
}

// Clear empties the store. Clearing an empty store does not notify.
func (s *Store) Clear() {
	s.mu.RLock()
	empty := len(s.patients) == 0
	s.mu.RUnlock()
	if empty {
		return
	}
	s.commit(make(map[string]model.Patient))
}

// Update runs fn against a working copy. If fn returns nil and changed
// something the copy becomes the store contents; otherwise it is dropped.
// Updates are serialized.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := &Tx{base: s.patients}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if tx.working == nil {
		s.mu.Unlock()
		return nil
	}
	s.patients = tx.working
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

// Subscribe registers fn to run after every committed change and returns
// the function that removes it.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) commit(next map[string]model.Patient) {
	s.mu.Lock()
	s.patients = next
	s.version++
	s.mu.Unlock()

	s.notify()
}

func (s *Store) notify() {
	s.subMu.Lock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Tx is the view of the store inside Update. It must not be kept after fn
// returns.
type Tx struct {
	base    map[string]model.Patient
	working map[string]model.Patient
}

func (tx *Tx) current() map[string]model.Patient {
	if tx.working != nil {
		return tx.working
	}
	return tx.base
}

func (tx *Tx) Get(id string) (model.Patient, bool) {
	p, ok := tx.current()[id]
	if !ok {
		return model.Patient{}, false
	}
	return p.Clone(), true
}

// Put stores a copy of p, replacing any patient with the same id.
func (tx *Tx) Put(p model.Patient) {
	if tx.working == nil {
		tx.working = make(map[string]model.Patient, len(tx.base)+1)
		for id, existing := range tx.base {
			tx.working[id] = existing
		}
	}
	tx.working[p.ID] = p.Clone()
}

// Reset replaces the whole working copy with patients.
func (tx *Tx) Reset(patients []model.Patient) {
	tx.working = make(map[string]model.Patient, len(patients))
	for _, p := range patients {
		tx.working[p.ID] = p.Clone()
	}
}

func (tx *Tx) List() []model.Patient {
	return sortedCopy(tx.current())
}

func sortedCopy(m map[string]model.Patient) []model.Patient {
	out := make([]model.Patient, 0, len(m))
	for _, p := range m {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
