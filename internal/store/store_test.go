package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-flow/internal/model"
)

func patient(id string, status model.Status) model.Patient {
	return model.Patient{
		ID:        id,
		Name:      "patient " + id,
		Status:    status,
		CreatedAt: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestStore_ReplaceAndRead(t *testing.T) {
	s := New()
	s.Replace([]model.Patient{patient("2", model.StatusRegistered), patient("1", model.StatusRegistered)})

	assert.Equal(t, 2, s.Len())
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].ID)

	p, ok := s.Get("2")
	require.True(t, ok)
	assert.Equal(t, "patient 2", p.Name)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_ReadersGetCopies(t *testing.T) {
	s := New()
	p := patient("1", model.StatusAwaitingConsultation)
	p.Triage = []model.TriageRecord{{ID: "t1", Priority: model.PriorityLow}}
	s.Replace([]model.Patient{p})

	got, _ := s.Get("1")
	got.Triage[0].Priority = model.PriorityHigh
	got.Status = model.StatusConcluded

	again, _ := s.Get("1")
	assert.Equal(t, model.PriorityLow, again.Triage[0].Priority)
	assert.Equal(t, model.StatusAwaitingConsultation, again.Status)
}

func TestStore_UpdateCommitsOrDiscards(t *testing.T) {
	s := New()
	s.Replace([]model.Patient{patient("1", model.StatusRegistered)})
	v := s.Version()

	err := s.Update(func(tx *Tx) error {
		p, _ := tx.Get("1")
		p.Status = model.StatusAwaitingConsultation
		tx.Put(p)
		return errors.New("remote rejected")
	})
	require.Error(t, err)
	p, _ := s.Get("1")
	assert.Equal(t, model.StatusRegistered, p.Status, "failed tx leaves store untouched")
	assert.Equal(t, v, s.Version())

	require.NoError(t, s.Update(func(tx *Tx) error {
		p, _ := tx.Get("1")
		p.Status = model.StatusAwaitingConsultation
		tx.Put(p)
		return nil
	}))
	p, _ = s.Get("1")
	assert.Equal(t, model.StatusAwaitingConsultation, p.Status)
	assert.Equal(t, v+1, s.Version())
}

func TestStore_ReadOnlyUpdateDoesNotNotify(t *testing.T) {
	s := New()
	calls := 0
	s.Subscribe(func() { calls++ })

	require.NoError(t, s.Update(func(tx *Tx) error {
		_ = tx.List()
		return nil
	}))
	assert.Zero(t, calls)
}

func TestStore_SubscribeAndClear(t *testing.T) {
	s := New()
	calls := 0
	unsub := s.Subscribe(func() { calls++ })

	s.Replace([]model.Patient{patient("1", model.StatusRegistered)})
	s.Clear()
	s.Clear()
	assert.Equal(t, 2, calls, "clearing an empty store is silent")
	assert.Zero(t, s.Len())

	unsub()
	s.Replace(nil)
	assert.Equal(t, 2, calls)
}

func TestStore_SubscriberMayReadStore(t *testing.T) {
	s := New()
	var seen int
	s.Subscribe(func() { seen = s.Len() })
	s.Replace([]model.Patient{patient("1", model.StatusRegistered)})
	assert.Equal(t, 1, seen)
}

func TestStore_NoPartialTransitionVisible(t *testing.T) {
	s := New()
	s.Replace([]model.Patient{patient("a", model.StatusAwaitingConsultation), patient("b", model.StatusAwaitingConsultation)})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			inConsult := 0
			for _, p := range s.List() {
				if p.Status == model.StatusInConsultation {
					inConsult++
				}
			}
			// a and b always move together
			assert.Contains(t, []int{0, 2}, inConsult)
		}
	}()

	for i := 0; i < 200; i++ {
		to := model.StatusInConsultation
		if i%2 == 1 {
			to = model.StatusAwaitingConsultation
		}
		require.NoError(t, s.Update(func(tx *Tx) error {
			for _, id := range []string{"a", "b"} {
				p, _ := tx.Get(id)
				p.Status = to
				tx.Put(p)
			}
			return nil
		}))
	}
	close(stop)
	wg.Wait()
}
