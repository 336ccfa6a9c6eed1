package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/fufnotes/internal/auth"
	"github.com/dukerupert/fufnotes/internal/metrics"
	"github.com/dukerupert/fufnotes/internal/passhroom"
	"github.com/dukerupert/fufnotes/internal/store"
)

type AuthConfig struct {
	SessionCookie string
	StateCookie   string
	SessionTTL    time.Duration
	StateTTL      time.Duration
}

// AuthHandler runs the Passhroom sign-in handshake and issues app sessions.
type AuthHandler struct {
	provider *passhroom.Client
	users    *store.UserStore
	sessions *store.SessionStore
	cookies  auth.Cookies
	cfg      AuthConfig
	logger   *slog.Logger
}

func NewAuthHandler(
	provider *passhroom.Client,
	users *store.UserStore,
	sessions *store.SessionStore,
	cookies auth.Cookies,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		users:    users,
		sessions: sessions,
		cookies:  cookies,
		cfg:      cfg,
		logger:   logger,
	}
}

type startRequest struct {
	Email string `json:"email" validate:"required,max=254,contains=@"`
}

type codeRequest struct {
	Email string `json:"email" validate:"required,max=254,contains=@"`
	Code  string `json:"code" validate:"required,max=2048"`
}

var codeRequestErrors = map[string]string{
	"email": passhroom.CodeBadEmail,
	"code":  passhroom.CodeBadCode,
}

// Start asks the provider to email a sign-in code and remembers the
// anti-forgery state in a short-lived cookie.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		h.reject(w, "start", http.StatusBadRequest, passhroom.CodeBadEmail)
		return
	}

	state, err := randomHex(16)
	if err != nil {
		h.logger.Error("generate state", "error", err)
		jsonError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}

	res, err := h.provider.Start(r.Context(), req.Email, state)
	if err != nil {
		h.fail(w, "start", err)
		return
	}
	if res.Cooldown {
		msg := res.Message
		if msg == "" {
			msg = passhroom.CooldownMessage
		}
		metrics.RecordHandshake("start", "cooldown")
		jsonOK(w, map[string]any{"cooldown": true, "message": msg})
		return
	}

	h.cookies.Set(w, r, h.cfg.StateCookie, state, h.cfg.StateTTL)
	metrics.RecordHandshake("start", "ok")
	jsonOK(w, nil)
}

// Code completes sign-in from a code the user typed in: the provider turns
// it into an authorization code and state, the state is checked against the
// cookie, and the authorization code is exchanged for the user's identity.
func (h *AuthHandler) Code(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Code = strings.TrimSpace(req.Code)
	if err := validate.Struct(req); err != nil {
		h.reject(w, "code", http.StatusBadRequest, validationCode(err, codeRequestErrors, passhroom.CodeBadCode))
		return
	}
	if !h.provider.HasSecret() {
		h.reject(w, "code", http.StatusInternalServerError, passhroom.CodeMissingClientSecret)
		return
	}

	minted, err := h.provider.ExchangeLoginCode(r.Context(), req.Email, req.Code)
	if err != nil {
		// A used, expired or wrong code ends this sign-in; rate limits and
		// transport failures may be retried with the same state.
		if pe, ok := passhroom.AsError(err); ok && pe.Terminal() {
			h.cookies.Clear(w, r, h.cfg.StateCookie)
		}
		h.fail(w, "code", err)
		return
	}

	if !h.stateMatches(r, minted.State) {
		h.cookies.Clear(w, r, h.cfg.StateCookie)
		h.reject(w, "code", http.StatusBadRequest, passhroom.CodeBadState)
		return
	}

	tok, err := h.provider.ExchangeToken(r.Context(), minted.AuthCode, []string{minted.RedirectURI})
	if err != nil {
		h.cookies.Clear(w, r, h.cfg.StateCookie)
		h.fail(w, "code", err)
		return
	}

	if err := h.createSession(r.Context(), w, r, tok); err != nil {
		h.logger.Error("create session", "error", err)
		jsonError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}
	metrics.RecordHandshake("code", "ok")
	jsonOK(w, nil)
}

// Callback completes sign-in from the provider's browser redirect. Failures
// answer in plain text because a browser is looking at them.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	_, cookieErr := r.Cookie(h.cfg.StateCookie)
	h.logger.Info("passhroom callback",
		"host", r.Host,
		"xf_proto", r.Header.Get("X-Forwarded-Proto"),
		"has_code", code != "",
		"has_state", state != "",
		"has_state_cookie", cookieErr == nil,
	)

	if code == "" || state == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if !h.stateMatches(r, state) {
		h.cookies.Clear(w, r, h.cfg.StateCookie)
		h.rejectText(w, http.StatusBadRequest, passhroom.CodeBadState)
		return
	}
	if !h.provider.HasSecret() {
		h.cookies.Clear(w, r, h.cfg.StateCookie)
		h.rejectText(w, http.StatusInternalServerError, passhroom.CodeMissingClientSecret)
		return
	}

	tok, err := h.provider.ExchangeToken(r.Context(), code, h.provider.RedirectURIs())
	if err != nil {
		h.cookies.Clear(w, r, h.cfg.StateCookie)
		pe, ok := passhroom.AsError(err)
		switch {
		case ok && pe.Code == passhroom.CodeUnreachable:
			h.rejectText(w, http.StatusBadGateway, pe.Code)
		case ok && pe.Code == passhroom.CodeClientSecretInvalid:
			h.rejectText(w, http.StatusInternalServerError, pe.Code)
		default:
			h.logger.Warn("passhroom callback exchange", "error", err)
			h.rejectText(w, http.StatusBadRequest, passhroom.CodeTokenExchangeFailed)
		}
		return
	}

	if err := h.createSession(r.Context(), w, r, tok); err != nil {
		h.logger.Error("create session", "error", err)
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}
	metrics.RecordHandshake("callback", "ok")
	http.Redirect(w, r, "/", http.StatusFound)
}

// Root handles GET / so providers that only allow the bare origin as a
// redirect URI can still complete sign-in.
func (h *AuthHandler) Root(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code") != "" && q.Get("state") != "" {
		h.Callback(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "fufnotes")
}

func (h *AuthHandler) stateMatches(r *http.Request, state string) bool {
	c, err := r.Cookie(h.cfg.StateCookie)
	if err != nil || c.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

// createSession records the user, issues a session cookie and retires the
// state cookie.
func (h *AuthHandler) createSession(ctx context.Context, w http.ResponseWriter, r *http.Request, tok passhroom.Token) error {
	user, err := h.users.Upsert(ctx, tok.UserID, strings.ToLower(tok.Email))
	if err != nil {
		return err
	}
	sess, err := h.sessions.Create(ctx, user.PasshroomUserID, user.Email, h.cfg.SessionTTL)
	if err != nil {
		return err
	}
	h.cookies.Set(w, r, h.cfg.SessionCookie, sess.ID, h.cfg.SessionTTL)
	h.cookies.Clear(w, r, h.cfg.StateCookie)
	return nil
}

// fail answers a provider error with its code and user-facing message.
func (h *AuthHandler) fail(w http.ResponseWriter, step string, err error) {
	pe, ok := passhroom.AsError(err)
	if !ok {
		h.logger.Error("passhroom "+step, "error", err)
		metrics.RecordHandshake(step, "server_error")
		jsonError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}
	if pe.Timeout {
		h.logger.Warn("passhroom "+step+" timed out", "code", pe.Code, "detail", pe.Detail)
	} else if pe.Status >= http.StatusInternalServerError {
		h.logger.Error("passhroom "+step, "code", pe.Code, "status", pe.Status, "detail", pe.Detail)
	}
	status := pe.Status
	if status < 400 {
		status = http.StatusBadRequest
	}
	h.reject(w, step, status, pe.Code)
}

func (h *AuthHandler) reject(w http.ResponseWriter, step string, status int, code string) {
	metrics.RecordHandshake(step, code)
	jsonError(w, status, code, map[string]any{"message": passhroom.Message(code)})
}

func (h *AuthHandler) rejectText(w http.ResponseWriter, status int, code string) {
	metrics.RecordHandshake("callback", code)
	http.Error(w, code, status)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
