// Package session owns the token lifecycle: login, refresh with rotation,
// logout and the per-user session limit.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-set/v3"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/audit"
	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/locker"
	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/storage"
	"github.com/charleshuang3/authsession/internal/tokens"
)

var (
	logger = log.With().Str("component", "session").Logger()
)

// IDGenerator mints row ids.
type IDGenerator interface {
	NextID() (int64, error)
}

// CredentialVerifier checks a username (or email) and password. Any error
// other than a store outage is reported as ErrInvalidCredentials.
type CredentialVerifier interface {
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)
}

type Deps struct {
	DB       *gormw.DB
	IDs      IDGenerator
	Encoder  *tokens.Encoder
	Verifier CredentialVerifier
	Locker   locker.Locker
	Audit    *audit.Recorder
	Clock    clockwork.Clock
}

type Service struct {
	cfg      *Config
	db       *gormw.DB
	ids      IDGenerator
	encoder  *tokens.Encoder
	verifier CredentialVerifier
	locker   locker.Locker
	limiter  *Limiter
	audit    *audit.Recorder
	clock    clockwork.Clock
}

// TokenPair is handed to the client once. RefreshToken is never stored in
// clear.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	SessionID             int64
	UserID                int64
}

func NewService(cfg *Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.DB == nil || deps.IDs == nil || deps.Encoder == nil {
		return nil, errors.New("session: db, id generator and encoder are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	lk := deps.Locker
	if lk == nil {
		lk = locker.NewLocal()
	}

	return &Service{
		cfg:      cfg,
		db:       deps.DB,
		ids:      deps.IDs,
		encoder:  deps.Encoder,
		verifier: deps.Verifier,
		locker:   lk,
		limiter:  NewLimiter(cfg.SessionLimitPolicy, clock),
		audit:    deps.Audit,
		clock:    clock,
	}, nil
}

func userLockKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout())
}

// Login verifies the credentials and opens a new session, evicting or
// rejecting per the session limit policy.
func (s *Service) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	if s.verifier == nil {
		return nil, errors.New("session: no credential verifier configured")
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	user, err := s.verifier.Authenticate(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return nil, classify(err)
		}
		return nil, ErrInvalidCredentials
	}

	pair, err := s.openSession(ctx, user.ID, "login")
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user.ID, audit.EventLoginSuccess, true, "")
	logger.Info().Int64("user_id", user.ID).Int64("session_id", pair.SessionID).Msg("User logged in")
	return pair, nil
}

// IssueForUser opens a session without checking credentials, for trusted
// callers such as registration and the admin cli.
func (s *Service) IssueForUser(ctx context.Context, userID int64, createdBy string) (*TokenPair, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return s.openSession(ctx, userID, createdBy)
}

func (s *Service) openSession(ctx context.Context, userID int64, createdBy string) (*TokenPair, error) {
	unlock, err := s.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return nil, classify(err)
	}
	defer unlock()

	rt, raw, err := s.newRefreshToken(userID, createdBy)
	if err != nil {
		return nil, classify(err)
	}

	var evicted []models.RefreshToken
	err = s.db.Transaction(ctx, func(tx *gormw.DB) error {
		var err error
		evicted, err = s.limiter.EnsureCapacity(ctx, tx, userID, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
		return storage.AddRefreshToken(tx, rt)
	})
	if err != nil {
		var tooMany *TooManySessionsError
		if errors.As(err, &tooMany) {
			logger.Info().Int64("user_id", userID).Int("active", len(tooMany.Sessions)).Msg("Session limit reached")
			return nil, tooMany
		}
		return nil, classify(err)
	}

	for _, e := range evicted {
		s.audit.Record(ctx, userID, audit.EventSessionEvicted, true, "session "+strconv.FormatInt(e.ID, 10))
	}

	return s.tokenPair(rt, raw)
}

func (s *Service) newRefreshToken(userID int64, createdBy string) (*models.RefreshToken, string, error) {
	id, err := s.ids.NextID()
	if err != nil {
		return nil, "", err
	}
	raw, err := tokens.GenerateOpaqueToken()
	if err != nil {
		return nil, "", err
	}

	return &models.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: tokens.HashToken(raw),
		ExpiresAt: s.CalculateRefreshTokenExpiry(s.cfg.RefreshTokenLifetimeDays).UTC(),
		CreatedAt: s.clock.Now().UTC(),
		CreatedBy: createdBy,
	}, raw, nil
}

func (s *Service) tokenPair(rt *models.RefreshToken, raw string) (*TokenPair, error) {
	access, accessExp, err := s.encoder.IssueAccessToken(strconv.FormatInt(rt.UserID, 10), s.cfg.AccessTokenLifetime())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientStore, err)
	}

	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          raw,
		RefreshTokenExpiresAt: rt.ExpiresAt,
		SessionID:             rt.ID,
		UserID:                rt.UserID,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked, so presenting it again fails with ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	if presented == "" {
		return nil, ErrTokenNotFound
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	hash := tokens.HashToken(presented)
	found, err := storage.GetRefreshTokenByHash(s.db.WithContext(ctx), hash)
	if err != nil {
		return nil, classify(err)
	}

	unlock, err := s.locker.Lock(ctx, userLockKey(found.UserID))
	if err != nil {
		return nil, classify(err)
	}

	next, raw, err := s.newRefreshToken(found.UserID, "refresh")
	if err != nil {
		unlock()
		return nil, classify(err)
	}

	var current *models.RefreshToken
	err = s.db.Transaction(ctx, func(tx *gormw.DB) error {
		// re-read, the row may have been rotated or swept since the lookup.
		var err error
		current, err = storage.GetRefreshTokenByID(tx, found.ID)
		if err != nil {
			return err
		}

		rotated, err := Transition(*current, Event{Kind: EventRotate, ReplacedByID: next.ID}, s.clock.Now())
		if err != nil {
			return err
		}
		if err := persistRevocation(ctx, tx, rotated); err != nil {
			return err
		}
		return storage.AddRefreshToken(tx, next)
	})
	unlock()

	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrTokenRevoked) && current != nil {
			s.onRevokedPresented(ctx, current)
		}
		return nil, err
	}

	s.audit.Record(ctx, found.UserID, audit.EventTokenRefresh, true, "session "+strconv.FormatInt(next.ID, 10))
	return s.tokenPair(next, raw)
}

// onRevokedPresented handles a revoked token coming back. A rotated token
// being reused is a replay: the token or its successor may be stolen.
func (s *Service) onRevokedPresented(ctx context.Context, rt *models.RefreshToken) {
	if rt.ReplacedByID == nil {
		logger.Info().Int64("user_id", rt.UserID).Int64("session_id", rt.ID).Msg("Revoked refresh token presented")
		return
	}

	logger.Warn().
		Bool("security", true).
		Int64("user_id", rt.UserID).
		Int64("session_id", rt.ID).
		Int64("replaced_by", *rt.ReplacedByID).
		Msg("Refresh token replay detected")
	s.audit.Record(ctx, rt.UserID, audit.EventRefreshReplay, false, "session "+strconv.FormatInt(rt.ID, 10))

	if s.cfg.RevokeAllOnReplay {
		n, err := s.RevokeAll(ctx, rt.UserID)
		if err != nil {
			logger.Error().Err(err).Int64("user_id", rt.UserID).Msg("Failed to revoke sessions after replay")
			return
		}
		logger.Warn().Bool("security", true).Int64("user_id", rt.UserID).Int64("revoked", n).Msg("Revoked all sessions after replay")
	}
}

// Logout revokes every session of the user. Calling it again is a no-op.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	n, err := s.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, userID, audit.EventLogout, true, strconv.FormatInt(n, 10)+" sessions revoked")
	return nil
}

// RevokeAll revokes every non-revoked token of the user and returns how many
// changed.
func (s *Service) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return 0, classify(err)
	}
	defer unlock()

	n, err := storage.RevokeAllRefreshTokens(s.db.WithContext(ctx), userID, s.clock.Now())
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// ActiveSessions lists the user's active sessions, oldest first.
func (s *Service) ActiveSessions(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	list, err := storage.ListActiveRefreshTokens(s.db.WithContext(ctx), userID, s.clock.Now())
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

// RevokeSessions revokes the listed sessions of the user. Ids that are not
// the user's are ignored.
func (s *Service) RevokeSessions(ctx context.Context, userID int64, ids []int64) (int64, error) {
	unique := set.From(ids).Slice()
	if len(unique) == 0 {
		return 0, nil
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return 0, classify(err)
	}
	n, err := storage.RevokeRefreshTokens(s.db.WithContext(ctx), userID, unique, s.clock.Now())
	unlock()
	if err != nil {
		return 0, classify(err)
	}

	s.audit.Record(ctx, userID, audit.EventSessionsRevoked, true, strconv.FormatInt(n, 10)+" sessions revoked")
	return n, nil
}

// VerifyAccessToken checks an access token and maps failures to this
// package's errors.
func (s *Service) VerifyAccessToken(token string) (*tokens.AccessClaims, error) {
	claims, err := s.encoder.VerifyAccessToken(token)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, tokens.ErrExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, tokens.ErrRevoked):
		return nil, ErrTokenRevoked
	default:
		return nil, ErrTokenInvalid
	}
}

// RevokeAccessToken makes a still valid access token unusable until its
// expiry.
func (s *Service) RevokeAccessToken(token string) error {
	claims, err := s.VerifyAccessToken(token)
	if err != nil {
		return err
	}
	if err := s.encoder.Revoke(claims); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return nil
}

// AccessTokenNeedsRefresh applies NeedsRefresh with the configured lifetime
// and threshold.
func (s *Service) AccessTokenNeedsRefresh(claims *tokens.AccessClaims) bool {
	return s.NeedsRefresh(claims.IssuedAt, s.cfg.AccessTokenLifetimeMinutes, s.cfg.RefreshThreshold())
}
