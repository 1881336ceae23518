package view

import (
	"context"
	"sync"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/queue"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

// Refresher is the part of the sync layer a mounted view drives.
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
	Stop()
}

// Watcher mounts desk views on the store. A mounted view is re-rendered on
// every store commit and asks for a refresh when it appears. When the last
// view goes away the load in flight is cancelled.
type Watcher struct {
	store   *store.Store
	sync    Refresher
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu      sync.Mutex
	mounted int
}

func NewWatcher(st *store.Store, r Refresher, m *metrics.Metrics, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{store: st, sync: r, metrics: m, logger: log}
}

// Mount renders once from the current snapshot, then on every change, and
// starts a refresh-if-stale in the background. The returned function
// unmounts; it is safe to call more than once.
func (w *Watcher) Mount(ctx context.Context, render func([]model.Patient)) func() {
	ctx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	draw := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		render(w.store.List())
	}
	unsubscribe := w.store.Subscribe(draw)

	w.mu.Lock()
	w.mounted++
	w.mu.Unlock()

	draw()
	go func() {
		if err := w.sync.Refresh(ctx, false); err != nil {
			w.logger.Debug("mount refresh failed", "error", err.Error())
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			cancel()

			w.mu.Lock()
			w.mounted--
			last := w.mounted == 0
			w.mu.Unlock()
			if last {
				w.sync.Stop()
			}
		})
	}
}

// Mounted reports how many views are currently mounted.
func (w *Watcher) Mounted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mounted
}

// TrackQueues keeps the queue size gauges in line with the store until the
// returned function is called.
func TrackQueues(st *store.Store, m *metrics.Metrics) func() {
	if m == nil {
		return func() {}
	}
	set := func() {
		patients := st.List()
		for _, desk := range []queue.Desk{queue.DeskTriage, queue.DeskPhysician} {
			m.QueueSize.WithLabelValues(string(desk)).Set(float64(len(queue.Order(patients, desk))))
		}
		m.StorePatients.Set(float64(len(patients)))
	}
	set()
	return st.Subscribe(set)
}
