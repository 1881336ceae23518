package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/patient-flow/pkg/logger"
)

func TestTicker_RunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	tk := NewTicker(TickerConfig{Name: "test", Interval: 5 * time.Millisecond}, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("first run fails")
		}
		return nil
	}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tk.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestNewTicker_RejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		NewTicker(TickerConfig{Name: "bad"}, func(context.Context) error { return nil }, logger.Nop())
	})
}
