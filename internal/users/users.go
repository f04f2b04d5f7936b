// Package users registers accounts and verifies passwords.
package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/charleshuang3/authsession/internal/audit"
	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/storage"
)

var (
	logger = log.With().Str("component", "users").Logger()

	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrAccountLocked      = errors.New("users: account locked")
	ErrUserExists         = errors.New("users: user already exists")
	ErrInvalidInput       = errors.New("users: invalid input")
)

type IDGenerator interface {
	NextID() (int64, error)
}

type Service struct {
	cfg   *Config
	db    *gormw.DB
	ids   IDGenerator
	audit *audit.Recorder
	clock clockwork.Clock

	// compared against when the user does not exist, so both paths cost
	// one bcrypt.
	dummyHash []byte
}

func NewService(cfg *Config, db *gormw.DB, ids IDGenerator, rec *audit.Recorder, clock clockwork.Clock) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		db:        db,
		ids:       ids,
		audit:     rec,
		clock:     clock,
		dummyHash: dummy,
	}, nil
}

// Register creates a user. Input errors wrap ErrInvalidInput with a message
// fit for the client.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	for _, identifier := range []string{username, email} {
		_, err := storage.GetUserByUsernameOrEmail(db, identifier)
		if err == nil {
			return nil, ErrUserExists
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %v", err)
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:             id,
		Username:       username,
		Email:          email,
		HashedPassword: string(hashedPassword),
		Roles:          s.cfg.DefaultRoles,
	}
	if err := storage.CreateUser(db, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.audit.Record(ctx, user.ID, audit.EventRegister, true, "")
	logger.Info().Int64("user_id", user.ID).Str("username", username).Msg("User registered")
	return user, nil
}

// Authenticate checks identifier (username or email) and password. A wrong
// password, an unknown user and a locked account all wrap
// ErrInvalidCredentials; store failures are returned as is.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	db := s.db.WithContext(ctx)

	user, err := storage.GetUserByUsernameOrEmail(db, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.clock.Now()
	if user.IsLocked(now) {
		s.audit.Record(ctx, user.ID, audit.EventLoginFailure, false, "account locked")
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, ErrAccountLocked)
	}

	if !user.CheckPassword(password) {
		return nil, s.recordFailure(ctx, user, now)
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := storage.ResetLoginFailures(db, user.ID); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// recordFailure counts the failure in the database so concurrent wrong
// passwords all count.
func (s *Service) recordFailure(ctx context.Context, user *models.User, now time.Time) error {
	lockedUntil, alreadyLocked, err := storage.RecordLoginFailure(s.db.WithContext(ctx), user.ID, now,
		s.cfg.MaxFailedAttempts, time.Duration(s.cfg.LockoutMinutes)*time.Minute)
	if err != nil {
		return err
	}

	if alreadyLocked {
		// another request locked the account after our lookup.
		s.audit.Record(ctx, user.ID, audit.EventLoginFailure, false, "account locked")
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, ErrAccountLocked)
	}

	s.audit.Record(ctx, user.ID, audit.EventLoginFailure, false, "wrong password")
	if lockedUntil != nil {
		s.audit.Record(ctx, user.ID, audit.EventAccountLocked, false, "locked until "+lockedUntil.UTC().Format(time.RFC3339))
		logger.Warn().Bool("security", true).Int64("user_id", user.ID).Time("locked_until", *lockedUntil).Msg("Account locked after failed logins")
	}
	return ErrInvalidCredentials
}

// GetUser looks a user up by username, email or decimal id.
func (s *Service) GetUser(ctx context.Context, identifier string) (*models.User, error) {
	db := s.db.WithContext(ctx)
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		if u, err := storage.GetUserByID(db, id); err == nil {
			return u, nil
		}
	}
	return storage.GetUserByUsernameOrEmail(db, identifier)
}
