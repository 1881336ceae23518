// Package syncer keeps the patient store in line with the backend.
//
// Loads follow "last request wins": starting a load cancels the one in
// flight, and a response is only applied while its load is still the
// newest. Network and server failures are retried with a linearly growing
// delay; auth and validation failures are not.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/patient-flow/internal/bus"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/notice"
	"github.com/jwalitptl/patient-flow/internal/remote"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	// FreshFor is how long a successful load satisfies Refresh(false).
	FreshFor time.Duration
	// FocusInterval is the minimum spacing between focus-triggered refreshes.
	FocusInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		FreshFor:      5 * time.Minute,
		FocusInterval: time.Second,
	}
}

// Status is a point-in-time view of the sync layer for the desks.
type Status struct {
	Loading    bool        `json:"loading"`
	Retrying   bool        `json:"retrying"`
	Retries    int         `json:"retries"`
	Fresh      bool        `json:"fresh"`
	LastFetch  *time.Time  `json:"last_fetch,omitempty"`
	ErrorKind  errors.Kind `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	Generation uint64      `json:"generation"`
	Patients   int         `json:"patients"`
}

const freshKey = "patients"

var errSuperseded = errors.New("load superseded")

type Syncer struct {
	api     remote.API
	store   *store.Store
	session *session.Session
	notices *notice.Board
	metrics *metrics.Metrics
	logger  *logger.Logger
	config  Config

	fresh *cache.Cache
	focus *rate.Limiter
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	loading    bool
	retrying   bool
	retries    int
	lastFetch  time.Time
	lastErr    error
	errKind    errors.Kind
}

// New wires a syncer; notices and m may be nil.
func New(api remote.API, st *store.Store, sess *session.Session, notices *notice.Board,
	m *metrics.Metrics, log *logger.Logger, config Config) *Syncer {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.FreshFor <= 0 {
		config.FreshFor = DefaultConfig().FreshFor
	}
	if config.FocusInterval <= 0 {
		config.FocusInterval = DefaultConfig().FocusInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Syncer{
		api:     api,
		store:   st,
		session: sess,
		notices: notices,
		metrics: m,
		logger:  log,
		config:  config,
		fresh:   cache.New(config.FreshFor, time.Minute),
		focus:   rate.NewLimiter(rate.Every(config.FocusInterval), 1),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Load fetches the full patient list and replaces the store with it.
//
// Without a session the store is cleared and nothing is fetched. A load
// cancelled by ctx or by a newer Load returns nil and leaves no trace. A
// terminal failure is recorded, announced as a notice and returned; the
// store keeps its previous contents except on auth failures, which end the
// session and clear it.
func (s *Syncer) Load(ctx context.Context) error {
	if s.session.Token() == "" {
		s.mu.Lock()
		s.supersedeLocked()
		s.clearErrorLocked()
		s.mu.Unlock()
		s.store.Clear()
		s.fresh.Delete(freshKey)
		return nil
	}

	loadCtx, gen := s.begin(ctx)
	started := s.now()
	log := s.logger.WithFields(map[string]interface{}{"generation": gen})

	for attempt := 0; ; attempt++ {
		patients, err := s.api.ListPatients(loadCtx)
		if err == nil {
			if s.apply(gen, patients) {
				s.observe("success", started)
				log.Debug("patients loaded", "count", len(patients), "retries", attempt)
			}
			return nil
		}
		if errors.IsCanceled(err) || loadCtx.Err() != nil {
			s.abandon(gen)
			log.Debug("load cancelled")
			return nil
		}

		kind := errors.KindOf(err)
		if errors.Retryable(kind) && attempt < s.config.MaxRetries {
			delay := s.config.BaseDelay * time.Duration(attempt+1)
			if !s.markRetry(gen, attempt+1, kind, err) {
				return nil
			}
			log.Warn("load failed, retrying", "kind", string(kind), "attempt", attempt+1, "delay", delay.String())
			if err := s.sleep(loadCtx, delay); err != nil {
				s.abandon(gen)
				return nil
			}
			continue
		}

		if s.fail(gen, kind, err, attempt) {
			s.observe("failure", started)
			log.Error(err, "load failed", "kind", string(kind), "retries", attempt)
		}
		return err
	}
}

// Refresh loads when forced, when the last load is older than the
// freshness window, or when an error is outstanding.
func (s *Syncer) Refresh(ctx context.Context, force bool) error {
	if !force && s.IsFresh() && !s.hasError() {
		return nil
	}
	return s.Load(ctx)
}

// RetryLoad is the manual "try again": it drops the recorded error and loads.
func (s *Syncer) RetryLoad(ctx context.Context) error {
	s.ClearError()
	return s.Load(ctx)
}

// OnFocus handles the host window regaining focus. Bursts of focus events
// collapse into a single refresh-if-needed.
func (s *Syncer) OnFocus(ctx context.Context) error {
	if !s.focus.Allow() {
		return nil
	}
	return s.Refresh(ctx, false)
}

func (s *Syncer) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearErrorLocked()
}

func (s *Syncer) IsFresh() bool {
	_, ok := s.fresh.Get(freshKey)
	return ok
}

// Stop cancels the load in flight, if any.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
}

// supersedeLocked invalidates the load in flight so its response is dropped.
func (s *Syncer) supersedeLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.loading = false
	s.retrying = false
}

// Watch refreshes the store on every bus signal until the returned
// function is called or ctx ends.
func (s *Syncer) Watch(ctx context.Context, b *bus.Bus) func() {
	return b.Subscribe(func() {
		if ctx.Err() != nil {
			return
		}
		go func() {
			if err := s.Refresh(ctx, true); err != nil {
				s.logger.Debug("bus-triggered refresh failed", "error", err.Error())
			}
		}()
	})
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	st := Status{
		Loading:    s.loading,
		Retrying:   s.retrying,
		Retries:    s.retries,
		ErrorKind:  s.errKind,
		Generation: s.generation,
	}
	if !s.lastFetch.IsZero() {
		t := s.lastFetch
		st.LastFetch = &t
	}
	if s.lastErr != nil {
		st.Error = errors.MessageFor(s.errKind)
	}
	s.mu.Unlock()

	st.Fresh = s.IsFresh()
	st.Patients = s.store.Len()
	return st
}

// begin supersedes any load in flight and returns the new load's context.
func (s *Syncer) begin(ctx context.Context) (context.Context, uint64) {
	loadCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		if s.metrics != nil {
			s.metrics.SyncSuperseded.Inc()
		}
		s.logger.Debug("superseding load in flight", "generation", s.generation)
	}
	s.generation++
	s.cancel = cancel
	s.loading = true
	s.retrying = false
	s.retries = 0
	s.clearErrorLocked()
	return loadCtx, s.generation
}

// apply installs the response if gen is still the newest load. The check
// runs inside the store transaction so an older response can never land
// after a newer one.
func (s *Syncer) apply(gen uint64, patients []model.Patient) bool {
	var fetched time.Time
	err := s.store.Update(func(tx *store.Tx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.generation {
			return errSuperseded
		}
		tx.Reset(patients)
		s.lastFetch = s.now()
		fetched = s.lastFetch
		s.retries = 0
		s.endLocked()
		s.clearErrorLocked()
		return nil
	})
	if err != nil {
		return false
	}
	s.fresh.Set(freshKey, fetched, s.config.FreshFor)
	if s.metrics != nil {
		s.metrics.StorePatients.Set(float64(len(patients)))
	}
	return true
}

func (s *Syncer) markRetry(gen uint64, retry int, kind errors.Kind, err error) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.retrying = true
	s.retries = retry
	s.lastErr = err
	s.errKind = kind
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SyncRetries.Inc()
	}
	if retry == 1 && s.notices != nil {
		s.notices.Info("Could not load patients. Retrying...")
	}
	return true
}

func (s *Syncer) fail(gen uint64, kind errors.Kind, err error, retries int) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.lastErr = err
	s.errKind = kind
	s.retries = retries
	s.endLocked()
	s.mu.Unlock()

	if kind == errors.KindAuth {
		s.session.Clear()
		s.store.Clear()
		s.fresh.Delete(freshKey)
	}
	if s.notices != nil {
		msg := errors.MessageFor(kind)
		if kind == errors.KindUnknown && retries > 0 {
			msg = fmt.Sprintf("Could not load the patient list after %d attempts.", retries)
		}
		s.notices.Error(msg)
	}
	return true
}

// abandon closes out a cancelled load without recording an error.
func (s *Syncer) abandon(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.endLocked()
	}
}

func (s *Syncer) endLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loading = false
	s.retrying = false
}

func (s *Syncer) clearErrorLocked() {
	s.lastErr = nil
	s.errKind = ""
}

func (s *Syncer) hasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr != nil
}

func (s *Syncer) observe(result string, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SyncLoads.WithLabelValues(result).Inc()
	s.metrics.SyncLatency.Observe(s.now().Sub(started).Seconds())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
