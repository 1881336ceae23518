package syncer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-flow/internal/bus"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/notice"
	"github.com/jwalitptl/patient-flow/internal/remote/remotetest"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

type fixture struct {
	api     *remotetest.MockAPI
	store   *store.Store
	session *session.Session
	notices *notice.Board
	syncer  *Syncer

	mu     sync.Mutex
	delays []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:     &remotetest.MockAPI{},
		store:   store.New(),
		session: session.New("token", &model.User{ID: "1"}),
		notices: notice.NewBoard(),
	}
	f.syncer = New(f.api, f.store, f.session, f.notices, metrics.NewMetrics("test", "sync"), nil, DefaultConfig())
	f.syncer.sleep = func(ctx context.Context, d time.Duration) error {
		f.mu.Lock()
		f.delays = append(f.delays, d)
		f.mu.Unlock()
		return ctx.Err()
	}
	return f
}

func patients(ids ...string) []model.Patient {
	out := make([]model.Patient, len(ids))
	for i, id := range ids {
		out[i] = model.Patient{ID: id, Name: "patient " + id, Status: model.StatusRegistered}
	}
	return out
}

func TestLoad_RetriesServerErrorsThenSucceeds(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.FromStatus(http.StatusServiceUnavailable, "")
		}
		return patients("1", "2"), nil
	}

	require.NoError(t, f.syncer.Load(context.Background()))

	assert.Equal(t, int32(3), calls.Load(), "exactly two retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.delays)
	assert.Equal(t, 2, f.store.Len())

	st := f.syncer.Status()
	assert.False(t, st.Loading)
	assert.False(t, st.Retrying)
	assert.Zero(t, st.Retries)
	assert.Empty(t, st.ErrorKind)
	assert.True(t, st.Fresh)
	assert.NotNil(t, st.LastFetch)

	active := f.notices.Active()
	require.Len(t, active, 1, "one info notice on the first retry")
	assert.Equal(t, notice.LevelInfo, active[0].Level)
}

func TestLoad_AuthFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.store.Replace(patients("stale"))
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		return nil, errors.FromStatus(http.StatusUnauthorized, "expired")
	}

	err := f.syncer.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))

	assert.Equal(t, 1, f.api.Calls("ListPatients"))
	assert.Empty(t, f.delays)
	assert.False(t, f.session.Valid(), "session ends")
	assert.Zero(t, f.store.Len(), "store is cleared")
	assert.Equal(t, errors.KindAuth, f.syncer.Status().ErrorKind)
}

func TestLoad_ValidationFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		return nil, errors.FromStatus(http.StatusUnprocessableEntity, "")
	}
	require.Error(t, f.syncer.Load(context.Background()))
	assert.Equal(t, 1, f.api.Calls("ListPatients"))
	assert.True(t, f.session.Valid())
}

func TestLoad_ExhaustedRetriesKeepStaleData(t *testing.T) {
	f := newFixture(t)
	f.store.Replace(patients("stale"))
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		return nil, errors.Network(context.DeadlineExceeded)
	}

	err := f.syncer.Load(context.Background())
	require.Error(t, err)

	assert.Equal(t, 4, f.api.Calls("ListPatients"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, f.delays)
	assert.Equal(t, 1, f.store.Len(), "stale data stays visible")

	st := f.syncer.Status()
	assert.Equal(t, errors.KindNetwork, st.ErrorKind)
	assert.Equal(t, 3, st.Retries)
	assert.NotEmpty(t, st.Error)

	var levels []notice.Level
	for _, n := range f.notices.Active() {
		levels = append(levels, n.Level)
	}
	assert.Contains(t, levels, notice.LevelError)
}

func TestLoad_SecondLoadSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	firstStarted := make(chan struct{})
	var calls atomic.Int32
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-ctx.Done()
			// a late answer from the superseded request
			return patients("old"), nil
		}
		return patients("new"), nil
	}

	var commits atomic.Int32
	f.store.Subscribe(func() { commits.Add(1) })

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.syncer.Load(context.Background()) }()
	<-firstStarted

	require.NoError(t, f.syncer.Load(context.Background()))
	require.NoError(t, <-firstDone)

	assert.Equal(t, int32(1), commits.Load(), "exactly one store update")
	list := f.store.List()
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)
}

func TestLoad_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		return patients("3", "1", "2"), nil
	}
	require.NoError(t, f.syncer.Load(context.Background()))
	first := f.store.List()
	require.NoError(t, f.syncer.Load(context.Background()))
	assert.Equal(t, first, f.store.List())
}

func TestLoad_WithoutSessionClearsStore(t *testing.T) {
	f := newFixture(t)
	f.store.Replace(patients("1"))
	f.session.Clear()

	require.NoError(t, f.syncer.Load(context.Background()))
	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.api.Calls("ListPatients"))
}

func TestLoad_SessionLossDropsInFlightResponse(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		close(started)
		<-release
		return patients("late"), nil
	}

	done := make(chan error, 1)
	go func() { done <- f.syncer.Load(context.Background()) }()
	<-started

	f.session.Clear()
	require.NoError(t, f.syncer.Load(context.Background()))
	close(release)

	require.NoError(t, <-done)
	assert.Zero(t, f.store.Len(), "response for the ended session is dropped")
	assert.False(t, f.syncer.Status().Loading)
	assert.False(t, f.syncer.IsFresh())
}

func TestLoad_ConcurrentLoads(t *testing.T) {
	f := newFixture(t)
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		return patients("1", "2"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.syncer.Load(context.Background()))
			_ = f.syncer.Status()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, f.store.Len())
	assert.True(t, f.syncer.IsFresh())
	assert.False(t, f.syncer.Status().Loading)
}

func TestLoad_CallerCancellationIsSilent(t *testing.T) {
	f := newFixture(t)
	f.store.Replace(patients("kept"))
	ctx, cancel := context.WithCancel(context.Background())
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		cancel()
		return nil, ctx.Err()
	}

	require.NoError(t, f.syncer.Load(ctx))
	st := f.syncer.Status()
	assert.False(t, st.Loading)
	assert.Empty(t, st.ErrorKind)
	assert.Equal(t, 1, f.store.Len())
	assert.Empty(t, f.notices.Active())
}

func TestStop_DropsInFlightResponse(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		close(started)
		<-release
		return patients("late"), nil
	}

	done := make(chan error, 1)
	go func() { done <- f.syncer.Load(context.Background()) }()
	<-started
	f.syncer.Stop()
	close(release)

	require.NoError(t, <-done)
	assert.Zero(t, f.store.Len())
}

func TestRefresh_FreshnessPolicy(t *testing.T) {
	f := newFixture(t)
	fail := false
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		if fail {
			return nil, errors.FromStatus(http.StatusBadRequest, "")
		}
		return patients("1"), nil
	}
	ctx := context.Background()

	require.NoError(t, f.syncer.Refresh(ctx, false))
	assert.Equal(t, 1, f.api.Calls("ListPatients"))

	require.NoError(t, f.syncer.Refresh(ctx, false))
	assert.Equal(t, 1, f.api.Calls("ListPatients"), "fresh data is not refetched")

	require.NoError(t, f.syncer.Refresh(ctx, true))
	assert.Equal(t, 2, f.api.Calls("ListPatients"), "forced refresh always fetches")

	fail = true
	require.Error(t, f.syncer.Refresh(ctx, true))
	fail = false
	require.NoError(t, f.syncer.Refresh(ctx, false))
	assert.Equal(t, 4, f.api.Calls("ListPatients"), "an outstanding error forces a fetch")
}

func TestRefresh_StaleAfterWindow(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.FreshFor = 30 * time.Millisecond
	s := New(f.api, f.store, f.session, nil, nil, nil, cfg)

	require.NoError(t, s.Refresh(context.Background(), false))
	assert.True(t, s.IsFresh())
	assert.Eventually(t, func() bool { return !s.IsFresh() }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Refresh(context.Background(), false))
	assert.Equal(t, 2, f.api.Calls("ListPatients"))
}

func TestRetryLoad_ClearsErrorAndLoads(t *testing.T) {
	f := newFixture(t)
	fail := true
	f.api.ListPatientsFunc = func(ctx context.Context) ([]model.Patient, error) {
		if fail {
			return nil, errors.FromStatus(http.StatusTeapot, "")
		}
		return patients("1"), nil
	}
	require.Error(t, f.syncer.Load(context.Background()))
	assert.Equal(t, errors.KindUnknown, f.syncer.Status().ErrorKind)

	fail = false
	require.NoError(t, f.syncer.RetryLoad(context.Background()))
	assert.Empty(t, f.syncer.Status().ErrorKind)
	assert.Equal(t, 1, f.store.Len())
}

func TestOnFocus_Throttled(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.FocusInterval = time.Hour
	cfg.FreshFor = time.Nanosecond
	s := New(f.api, f.store, f.session, nil, nil, nil, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.OnFocus(context.Background()))
	}
	assert.Equal(t, 1, f.api.Calls("ListPatients"))
}

func TestWatch_BusSignalForcesRefresh(t *testing.T) {
	f := newFixture(t)
	b := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.syncer.Load(ctx))
	unsub := f.syncer.Watch(ctx, b)

	b.Publish()
	assert.Eventually(t, func() bool { return f.api.Calls("ListPatients") == 2 }, time.Second, 5*time.Millisecond)

	unsub()
	b.Publish()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.api.Calls("ListPatients"))
}
