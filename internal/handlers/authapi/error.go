package authapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charleshuang3/authsession/internal/handlers/firewall"
	"github.com/charleshuang3/authsession/internal/session"
	"github.com/charleshuang3/authsession/internal/storage"
)

type errorResponse struct {
	Error       string            `json:"error"`
	Description string            `json:"error_description,omitempty"`
	Sessions    []sessionResponse `json:"sessions,omitempty"`
}

const (
	codeInvalidRequest     = "invalid_request"
	codeInvalidCredentials = "invalid_credentials"
	codeTokenExpired       = "token_expired"
	codeTokenRevoked       = "token_revoked"
	codeTokenNotFound      = "token_not_found"
	codeTokenInvalid       = "token_invalid"
	codeTooManySessions    = "too_many_sessions"
	codeUserExists         = "user_exists"
	codeUserNotFound       = "user_not_found"
	codeUnavailable        = "temporarily_unavailable"
	codeServerError        = "server_error"
)

// responseError writes the status and code for a session error. Expired,
// revoked, unknown and invalid tokens each have their own code so clients
// can tell them apart.
func responseError(c *gin.Context, err error) {
	var tooMany *session.TooManySessionsError

	switch {
	case errors.As(err, &tooMany):
		resp := &errorResponse{
			Error:       codeTooManySessions,
			Description: "Session limit reached, revoke a session and retry.",
		}
		for i := range tooMany.Sessions {
			resp.Sessions = append(resp.Sessions, toSessionResponse(&tooMany.Sessions[i]))
		}
		c.JSON(http.StatusConflict, resp)
	case errors.Is(err, session.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, &errorResponse{Error: codeInvalidCredentials, Description: "Invalid username or password"})
	case errors.Is(err, session.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, &errorResponse{Error: codeTokenExpired})
	case errors.Is(err, session.ErrTokenRevoked):
		c.JSON(http.StatusUnauthorized, &errorResponse{Error: codeTokenRevoked})
	case errors.Is(err, session.ErrTokenNotFound):
		c.JSON(http.StatusUnauthorized, &errorResponse{Error: codeTokenNotFound})
	case errors.Is(err, session.ErrTokenInvalid):
		// This should never happen unless the requester is cheating.
		firewall.MarkSuspicious(c, "invalid access token")
		c.JSON(http.StatusUnauthorized, &errorResponse{Error: codeTokenInvalid})
	case errors.Is(err, session.ErrTransientStore), errors.Is(err, storage.ErrUnavailable):
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Store unavailable")
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, &errorResponse{Error: codeUnavailable})
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Unexpected error")
		c.JSON(http.StatusInternalServerError, &errorResponse{Error: codeServerError})
	}
}

func responseBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, &errorResponse{Error: codeInvalidRequest, Description: msg})
}
