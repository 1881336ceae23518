package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/patient-flow/config"
	"github.com/jwalitptl/patient-flow/internal/bus"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/notice"
	"github.com/jwalitptl/patient-flow/internal/remote"
	"github.com/jwalitptl/patient-flow/internal/remote/local"
	"github.com/jwalitptl/patient-flow/internal/repository"
	"github.com/jwalitptl/patient-flow/internal/repository/postgres"
	"github.com/jwalitptl/patient-flow/internal/service/attendance"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/internal/syncer"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/messaging"
	"github.com/jwalitptl/patient-flow/pkg/messaging/redis"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	session *session.Session
	api     remote.API
	store   *store.Store
	bus     *bus.Bus
	notices *notice.Board
	syncer  *syncer.Syncer
	service *attendance.Service

	db      *sqlx.DB
	journal repository.TransitionRepository
	broker  messaging.Broker
}

func newLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stderr,
		JSON:       strings.EqualFold(cfg.Format, "json"),
	})
}

// buildApp wires the core. withInfra also opens the journal database and
// the message broker when they are configured.
func buildApp(ctx context.Context, cfg *config.Config, withInfra bool) (*app, error) {
	log := newLogger(cfg.Log)
	m := metrics.NewMetrics("patientflow", "desk")

	var user *model.User
	if cfg.Session.UserID != "" {
		user = &model.User{ID: cfg.Session.UserID, Name: cfg.Session.UserName, Role: cfg.Session.UserRole}
	}
	sess := session.New(cfg.Session.Token, user)

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: m,
		session: sess,
		store:   store.New(),
		bus:     bus.New(),
		notices: notice.NewBoard(),
	}

	if cfg.API.BaseURL == "" {
		log.Warn("no api.base_url configured, using the in-process backend")
		a.api = local.New()
		if sess.Token() == "" {
			sess.Set("local", user)
		}
	} else {
		a.api = remote.NewClient(cfg.API.ToRemoteConfig(), sess, m, log)
	}

	if withInfra {
		if err := a.openInfra(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	a.syncer = syncer.New(a.api, a.store, sess, a.notices, m, log, cfg.Sync.ToSyncerConfig())
	a.service = attendance.NewService(a.api, a.store, a.bus, sess, a.journal, m, log)
	return a, nil
}

func (a *app) openInfra(ctx context.Context) error {
	if a.cfg.Database.Enabled() {
		db, err := postgres.NewDB(ctx, a.cfg.Database.DSN())
		if err != nil {
			return err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return err
		}
		a.db = db
		a.journal = postgres.NewTransitionRepository(postgres.NewBaseRepository(db))
		a.log.Info("transition journal enabled")
	}

	if a.cfg.Redis.URL != "" {
		zl := a.log.ZL
		broker, err := redis.NewRedisBroker(a.cfg.Redis.ToBrokerConfig(), &zl)
		if err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		a.broker = broker
	}
	return nil
}

func (a *app) close() {
	if a.syncer != nil {
		a.syncer.Stop()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.log.Error(err, "failed to close broker")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error(err, "failed to close database")
		}
	}
}
