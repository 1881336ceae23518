package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/patient-flow/pkg/logger"
)

type TickerConfig struct {
	Name     string
	Interval time.Duration
}

// Ticker runs a job on a fixed interval until its context ends. A failing
// run is logged and the next tick runs as usual.
type Ticker struct {
	config TickerConfig
	job    func(ctx context.Context) error
	logger *logger.Logger
}

func NewTicker(config TickerConfig, job func(ctx context.Context) error, logger *logger.Logger) *Ticker {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}
	return &Ticker{config: config, job: job, logger: logger}
}

func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.logger.Info("Starting periodic job", "job", t.config.Name, "interval", t.config.Interval.String())

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Shutting down periodic job", "job", t.config.Name)
			return
		case <-ticker.C:
			if err := t.job(ctx); err != nil {
				t.logger.Error(err, "Periodic job failed", "job", t.config.Name)
			}
		}
	}
}
