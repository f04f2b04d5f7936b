// Package app wires the services from a loaded config.
package app

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/audit"
	"github.com/charleshuang3/authsession/internal/config"
	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/idgen"
	"github.com/charleshuang3/authsession/internal/locker"
	"github.com/charleshuang3/authsession/internal/outbox"
	"github.com/charleshuang3/authsession/internal/session"
	"github.com/charleshuang3/authsession/internal/sweeper"
	"github.com/charleshuang3/authsession/internal/tokens"
	"github.com/charleshuang3/authsession/internal/users"
)

var (
	logger = log.With().Str("component", "app").Logger()
)

type App struct {
	DB       *gormw.DB
	Audit    *audit.Recorder
	Users    *users.Service
	Sessions *session.Service
	Sweeper  *sweeper.Sweeper

	// Outbox is nil unless outbox.enabled is set.
	Outbox *outbox.Publisher

	closers []func() error
}

// New opens the database, migrates it and builds every service.
func New(cfg *config.Config, clock clockwork.Clock) (*App, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &App{}
	if err := a.init(cfg, clock); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(cfg *config.Config, clock clockwork.Clock) (err error) {
	a.DB, err = gormw.Open(&cfg.DB)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.DB.Close)

	if err = a.DB.Migrate(); err != nil {
		return err
	}

	ids, err := idgen.NewSnowflake(&cfg.IDGen, clock)
	if err != nil {
		return err
	}

	enc, err := tokens.NewEncoder(&cfg.Token, clock)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { enc.Close(); return nil })

	lk, closeLocker, err := locker.New(&cfg.Lock)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeLocker)

	a.Audit = audit.NewRecorder(a.DB, clock)
	if cfg.Outbox.Enabled {
		sink, closeSink, err := outbox.NewSink(&cfg.Outbox)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closeSink)

		a.Outbox, err = outbox.NewPublisher(&cfg.Outbox, a.DB, sink, clock)
		if err != nil {
			return err
		}
		a.Audit.WithOutbox()
	}

	a.Users, err = users.NewService(&cfg.Users, a.DB, ids, a.Audit, clock)
	if err != nil {
		return err
	}

	a.Sessions, err = session.NewService(&cfg.Session, session.Deps{
		DB:       a.DB,
		IDs:      ids,
		Encoder:  enc,
		Verifier: a.Users,
		Locker:   lk,
		Audit:    a.Audit,
		Clock:    clock,
	})
	if err != nil {
		return err
	}

	a.Sweeper, err = sweeper.New(&cfg.Sweeper, a.DB, clock)
	return err
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to close app")
	}
	return err
}
