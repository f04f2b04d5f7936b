// Package authapi exposes the session lifecycle over HTTP.
package authapi

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/session"
	"github.com/charleshuang3/authsession/internal/tokens"
)

var (
	logger = log.With().Str("component", "authapi").Logger()
)

const (
	keyClaims = "ACCESS_CLAIMS"
)

// Sessions is the part of session.Service the handlers use.
type Sessions interface {
	Login(ctx context.Context, identifier, password string) (*session.TokenPair, error)
	Refresh(ctx context.Context, presented string) (*session.TokenPair, error)
	IssueForUser(ctx context.Context, userID int64, createdBy string) (*session.TokenPair, error)
	Logout(ctx context.Context, userID int64) error
	ActiveSessions(ctx context.Context, userID int64) ([]models.RefreshToken, error)
	RevokeSessions(ctx context.Context, userID int64, ids []int64) (int64, error)
	VerifyAccessToken(token string) (*tokens.AccessClaims, error)
	RevokeAccessToken(token string) error
	AccessTokenNeedsRefresh(claims *tokens.AccessClaims) bool
}

// Registrar creates and looks up users.
type Registrar interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	GetUser(ctx context.Context, identifier string) (*models.User, error)
}

type API struct {
	sessions  Sessions
	registrar Registrar
	now       func() time.Time
}

func New(sessions Sessions, registrar Registrar) *API {
	return &API{
		sessions:  sessions,
		registrar: registrar,
		now:       time.Now,
	}
}

func (a *API) RegisterHandlers(rg *gin.RouterGroup) {
	rg.POST("/register", a.handleRegister)
	rg.POST("/login", a.handleLogin)
	rg.POST("/refresh", a.handleRefresh)

	authed := rg.Group("/", a.requireAccessToken)
	authed.POST("/logout", a.handleLogout)
	authed.GET("/validate", a.handleValidate)
	authed.GET("/me", a.handleMe)
	authed.GET("/sessions", a.handleListSessions)
	authed.POST("/sessions/revoke", a.handleRevokeSessions)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// requireAccessToken verifies the bearer token and stores its claims.
func (a *API) requireAccessToken(c *gin.Context) {
	raw := bearerToken(c)
	if raw == "" {
		c.Header("WWW-Authenticate", `Bearer realm="authsession"`)
		responseError(c, session.ErrTokenNotFound)
		c.Abort()
		return
	}

	claims, err := a.sessions.VerifyAccessToken(raw)
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer realm="authsession", error="invalid_token"`)
		responseError(c, err)
		c.Abort()
		return
	}

	c.Set(keyClaims, claims)
	c.Next()
}

func claimsFrom(c *gin.Context) *tokens.AccessClaims {
	return c.MustGet(keyClaims).(*tokens.AccessClaims)
}
