// Package tokens signs and verifies access tokens and produces the opaque
// refresh tokens stored by hash.
package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/idgen"
)

var (
	logger = log.With().Str("component", "tokens").Logger()

	ErrExpired = errors.New("tokens: token expired")
	ErrInvalid = errors.New("tokens: token invalid")
	ErrRevoked = errors.New("tokens: token revoked")
)

const (
	claimType  = "type"
	typeAccess = "access"
)

// AccessClaims are the verified claims of an access token.
type AccessClaims struct {
	Subject   string
	UserID    int64
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Encoder struct {
	key      []byte
	issuer   string
	clock    clockwork.Clock
	denylist *Denylist
}

func NewEncoder(cfg *Config, clock clockwork.Clock) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	denylist, err := NewDenylist(cfg.DenylistCapacity, clock)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		key:      []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		clock:    clock,
		denylist: denylist,
	}, nil
}

// IssueAccessToken signs an access token for subject. The returned expiry is
// exactly the exp claim.
func (e *Encoder) IssueAccessToken(subject string, lifetime time.Duration) (string, time.Time, error) {
	jti, err := idgen.NewUUID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate jti: %v", err)
	}

	// JWT times have second precision.
	iat := e.clock.Now().UTC().Truncate(time.Second)
	exp := iat.Add(lifetime)

	token, err := jwt.NewBuilder().
		Issuer(e.issuer).
		Subject(subject).
		IssuedAt(iat).
		Expiration(exp).
		JwtID(jti).
		Claim(claimType, typeAccess).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build access token claims: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), e.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %v", err)
	}

	return string(signed), exp, nil
}

// VerifyAccessToken checks signature, issuer, expiry, token type and the
// denylist. Claims are only returned with a nil error.
func (e *Encoder) VerifyAccessToken(raw string) (*AccessClaims, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256(), e.key),
		jwt.WithClock(jwt.ClockFunc(e.clock.Now)),
		jwt.WithIssuer(e.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.TokenExpiredError()) {
			return nil, ErrExpired
		}
		logger.Debug().Err(err).Msg("Access token rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var typ string
	if err := token.Get(claimType, &typ); err != nil || typ != typeAccess {
		return nil, fmt.Errorf("%w: wrong token type", ErrInvalid)
	}

	sub, ok := token.Subject()
	if !ok {
		return nil, fmt.Errorf("%w: no subject", ErrInvalid)
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalid)
	}

	exp, ok := token.Expiration()
	if !ok {
		return nil, fmt.Errorf("%w: no expiration", ErrInvalid)
	}
	iat, _ := token.IssuedAt()

	jti, ok := token.JwtID()
	if !ok || jti == "" {
		return nil, fmt.Errorf("%w: no jti", ErrInvalid)
	}
	if e.denylist.Contains(jti) {
		return nil, ErrRevoked
	}

	return &AccessClaims{
		Subject:   sub,
		UserID:    userID,
		ID:        jti,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// Revoke denylists a verified access token until it expires on its own.
func (e *Encoder) Revoke(claims *AccessClaims) error {
	if err := e.denylist.Add(claims.ID, claims.ExpiresAt); err != nil {
		logger.Error().Err(err).Str("jti", claims.ID).Msg("Failed to denylist access token")
		return err
	}
	return nil
}

func (e *Encoder) Close() {
	e.denylist.Close()
}
