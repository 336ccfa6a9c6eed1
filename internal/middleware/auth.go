package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fufnotes/internal/auth"
	"github.com/dukerupert/fufnotes/internal/store"
)

// ErrUnauthorized means the request carries no live session.
var ErrUnauthorized = errors.New("unauthorized")

// SessionAuth resolves the caller of a request from the session cookie.
type SessionAuth struct {
	sessions   *store.SessionStore
	cookieName string
	devUserID  string
	logger     *slog.Logger
}

// NewSessionAuth builds a resolver. A non-empty devUserID authenticates every
// request as that user without looking at cookies.
func NewSessionAuth(sessions *store.SessionStore, cookieName, devUserID string, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		sessions:   sessions,
		cookieName: cookieName,
		devUserID:  devUserID,
		logger:     logger,
	}
}

func (a *SessionAuth) CookieName() string { return a.cookieName }

// Authenticate returns the caller, or ErrUnauthorized when the cookie is
// missing, unknown or expired. Expired sessions are deleted on the way.
func (a *SessionAuth) Authenticate(r *http.Request) (auth.AuthContext, error) {
	if a.devUserID != "" {
		return auth.AuthContext{UserID: a.devUserID, Email: "dev@example.com"}, nil
	}

	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return auth.AuthContext{}, ErrUnauthorized
	}
	sess, err := a.sessions.Get(r.Context(), cookie.Value)
	if errors.Is(err, store.ErrNotFound) {
		return auth.AuthContext{}, ErrUnauthorized
	}
	if err != nil {
		return auth.AuthContext{}, err
	}
	return auth.AuthContext{UserID: sess.UserID, Email: sess.Email, SessionID: sess.ID}, nil
}

// Require rejects unauthenticated requests with 401 and otherwise stores the
// AuthContext on the request context.
func (a *SessionAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := a.Authenticate(r)
		if errors.Is(err, ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err != nil {
			a.logger.Error("session lookup", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
	})
}
