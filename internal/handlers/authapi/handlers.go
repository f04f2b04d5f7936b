package authapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charleshuang3/authsession/internal/handlers/firewall"
	"github.com/charleshuang3/authsession/internal/models"
	"github.com/charleshuang3/authsession/internal/session"
	"github.com/charleshuang3/authsession/internal/storage"
	"github.com/charleshuang3/authsession/internal/users"
)

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"` // seconds
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"` // seconds
	SessionID        string `json:"session_id"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// ids are strings in JSON, int64 does not fit a javascript number.
func toSessionResponse(rt *models.RefreshToken) sessionResponse {
	return sessionResponse{
		ID:        strconv.FormatInt(rt.ID, 10),
		CreatedAt: rt.CreatedAt,
		ExpiresAt: rt.ExpiresAt,
		CreatedBy: rt.CreatedBy,
	}
}

func (a *API) toTokenResponse(pair *session.TokenPair) *tokenResponse {
	now := a.now()
	return &tokenResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(pair.AccessTokenExpiresAt.Sub(now).Seconds()),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresIn: int(pair.RefreshTokenExpiresAt.Sub(now).Seconds()),
		SessionID:        strconv.FormatInt(pair.SessionID, 10),
	}
}

type handleRegisterParams struct {
	Username string `form:"username" json:"username" binding:"required"`
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type userResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

func toUserResponse(u *models.User) *userResponse {
	return &userResponse{
		ID:       u.Subject(),
		Username: u.Username,
		Email:    u.Email,
		Roles:    strings.Fields(u.Roles),
	}
}

type handleRegisterResponse struct {
	tokenResponse
	User *userResponse `json:"user"`
}

func (a *API) handleRegister(c *gin.Context) {
	params := &handleRegisterParams{}
	if err := c.ShouldBind(params); err != nil {
		responseBadRequest(c, "Missing required parameters")
		return
	}

	user, err := a.registrar.Register(c.Request.Context(), params.Username, params.Email, params.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidInput):
			responseBadRequest(c, strings.TrimPrefix(err.Error(), users.ErrInvalidInput.Error()+": "))
		case errors.Is(err, users.ErrUserExists):
			c.JSON(http.StatusConflict, &errorResponse{Error: codeUserExists, Description: "Username or email already registered."})
		default:
			responseError(c, err)
		}
		return
	}

	// a new user is signed in right away.
	pair, err := a.sessions.IssueForUser(c.Request.Context(), user.ID, "register")
	if err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, &handleRegisterResponse{
		tokenResponse: *a.toTokenResponse(pair),
		User:          toUserResponse(user),
	})
}

type handleLoginParams struct {
	// Username is a username or an email.
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

func (a *API) handleLogin(c *gin.Context) {
	params := &handleLoginParams{}
	if err := c.ShouldBind(params); err != nil {
		responseBadRequest(c, "Missing required parameters")
		return
	}

	pair, err := a.sessions.Login(c.Request.Context(), params.Username, params.Password)
	if err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.toTokenResponse(pair))
}

type handleRefreshParams struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token" binding:"required"`
}

func (a *API) handleRefresh(c *gin.Context) {
	params := &handleRefreshParams{}
	if err := c.ShouldBind(params); err != nil {
		responseBadRequest(c, "Missing required parameters")
		return
	}

	pair, err := a.sessions.Refresh(c.Request.Context(), params.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrTokenRevoked) {
			// a rotated token coming back. Unknown tokens are usually just
			// swept or mistyped.
			firewall.MarkSuspicious(c, "refresh token "+err.Error())
		}
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.toTokenResponse(pair))
}

func (a *API) handleLogout(c *gin.Context) {
	claims := claimsFrom(c)

	if err := a.sessions.Logout(c.Request.Context(), claims.UserID); err != nil {
		responseError(c, err)
		return
	}
	if err := a.sessions.RevokeAccessToken(bearerToken(c)); err != nil {
		// refresh tokens are already gone, the access token dies on its own.
		logger.Error().Err(err).Int64("user_id", claims.UserID).Msg("Failed to revoke access token")
	}

	c.Status(http.StatusNoContent)
}

type handleValidateResponse struct {
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	NeedsRefresh bool      `json:"needs_refresh"`
}

func (a *API) handleValidate(c *gin.Context) {
	claims := claimsFrom(c)

	c.JSON(http.StatusOK, &handleValidateResponse{
		UserID:       claims.Subject,
		ExpiresAt:    claims.ExpiresAt,
		NeedsRefresh: a.sessions.AccessTokenNeedsRefresh(claims),
	})
}

func (a *API) handleMe(c *gin.Context) {
	claims := claimsFrom(c)

	user, err := a.registrar.GetUser(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// valid token for a user deleted since.
			c.JSON(http.StatusNotFound, &errorResponse{Error: codeUserNotFound})
			return
		}
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

func (a *API) handleListSessions(c *gin.Context) {
	claims := claimsFrom(c)

	list, err := a.sessions.ActiveSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		responseError(c, err)
		return
	}

	resp := make([]sessionResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toSessionResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

type handleRevokeSessionsParams struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

func (a *API) handleRevokeSessions(c *gin.Context) {
	claims := claimsFrom(c)

	params := &handleRevokeSessionsParams{}
	if err := c.ShouldBindJSON(params); err != nil {
		responseBadRequest(c, "Missing required parameters")
		return
	}

	ids := make([]int64, 0, len(params.IDs))
	for _, s := range params.IDs {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			responseBadRequest(c, "Invalid session id: "+s)
			return
		}
		ids = append(ids, id)
	}

	n, err := a.sessions.RevokeSessions(c.Request.Context(), claims.UserID, ids)
	if err != nil {
		responseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
