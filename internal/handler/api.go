package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fufnotes/internal/auth"
	"github.com/dukerupert/fufnotes/internal/markdown"
	"github.com/dukerupert/fufnotes/internal/middleware"
	"github.com/dukerupert/fufnotes/internal/notes"
	"github.com/dukerupert/fufnotes/internal/store"
)

// actionFunc handles one API action for an authenticated owner. Expected
// failures are written directly; a returned error becomes not_found for
// store.ErrNotFound and server_error otherwise.
type actionFunc func(w http.ResponseWriter, r *http.Request, owner string) error

// APIHandler serves the action-dispatched JSON API at /api?action=<name>.
type APIHandler struct {
	svc      *notes.Service
	sessions *store.SessionStore
	auth     *middleware.SessionAuth
	cookies  auth.Cookies
	logger   *slog.Logger
	actions  map[string]actionFunc
}

func NewAPIHandler(svc *notes.Service, sessions *store.SessionStore, sa *middleware.SessionAuth, cookies auth.Cookies, logger *slog.Logger) *APIHandler {
	h := &APIHandler{
		svc:      svc,
		sessions: sessions,
		auth:     sa,
		cookies:  cookies,
		logger:   logger,
	}
	h.actions = map[string]actionFunc{
		"list":    h.list,
		"get":     h.get,
		"create":  h.create,
		"save":    h.save,
		"delete":  h.delete,
		"preview": h.preview,

		"projects_list":   h.projectsList,
		"projects_get":    h.projectsGet,
		"projects_create": h.projectsCreate,
		"projects_update": h.projectsUpdate,
		"projects_delete": h.projectsDelete,

		"project_todos_create":   h.todosCreate,
		"project_todos_update":   h.todosUpdate,
		"project_todos_delete":   h.todosDelete,
		"project_todos_add_note": h.todosAddNote,
	}
	return h
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "":
		jsonError(w, http.StatusBadRequest, "missing_action", nil)
		return
	case "login":
		h.login(w, r)
		return
	case "logout":
		h.logout(w, r)
		return
	}

	ac, err := h.auth.Authenticate(r)
	if errors.Is(err, middleware.ErrUnauthorized) {
		jsonError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if err != nil {
		h.logger.Error("session lookup", "action", action, "error", err)
		jsonError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}

	fn, ok := h.actions[action]
	if !ok {
		jsonError(w, http.StatusNotFound, "not_found", nil)
		return
	}

	ctx := auth.WithAuth(r.Context(), ac)
	if err := fn(w, r.WithContext(ctx), ac.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "not_found", nil)
			return
		}
		h.logger.Error("api error", "action", action, "error", err)
		jsonError(w, http.StatusInternalServerError, "server_error", nil)
	}
}

func (h *APIHandler) login(w http.ResponseWriter, r *http.Request) {
	ac, err := h.auth.Authenticate(r)
	if errors.Is(err, middleware.ErrUnauthorized) {
		jsonError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if err != nil {
		h.logger.Error("session lookup", "action", "login", "error", err)
		jsonError(w, http.StatusInternalServerError, "server_error", nil)
		return
	}
	jsonOK(w, map[string]any{"email": ac.Email})
}

// logout deletes the session named by the cookie, if any, and clears it.
func (h *APIHandler) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.auth.CookieName()); err == nil && c.Value != "" {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			h.logger.Warn("delete session", "error", err)
		}
	}
	h.cookies.Clear(w, r, h.auth.CookieName())
	jsonOK(w, nil)
}

// requirePOST answers 405 unless the request is a POST.
func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return false
	}
	return true
}

// queryParam returns the named query parameter or answers 400 with code.
func queryParam(w http.ResponseWriter, r *http.Request, name, code string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		jsonError(w, http.StatusBadRequest, code, nil)
		return "", false
	}
	return v, true
}

func (h *APIHandler) list(w http.ResponseWriter, r *http.Request, owner string) error {
	metas, err := h.svc.List(r.Context(), owner)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"notes": metas})
	return nil
}

func (h *APIHandler) get(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok {
		return nil
	}
	n, err := h.svc.Get(r.Context(), owner, id)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"meta": n.Meta(), "content": n.Content})
	return nil
}

type createNoteRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request, owner string) error {
	if !requirePOST(w, r) {
		return nil
	}
	var req createNoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return nil
	}
	n, err := h.svc.Create(r.Context(), owner, req.Title)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"meta": n.Meta()})
	return nil
}

type saveNoteRequest struct {
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	BaseRevision json.Number `json:"baseRevision"`
	Force        bool        `json:"force"`
}

// baseRevision parses the client's base revision. A missing value is 0.
func (req saveNoteRequest) baseRevision() (int64, bool) {
	if req.BaseRevision == "" {
		return 0, true
	}
	n, err := req.BaseRevision.Int64()
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *APIHandler) save(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	var req saveNoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return nil
	}
	base, ok := req.baseRevision()
	if !ok {
		jsonError(w, http.StatusBadRequest, "bad_revision", nil)
		return nil
	}

	n, err := h.svc.Save(r.Context(), owner, id, req.Title, req.Content, base, req.Force)
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		jsonError(w, http.StatusConflict, "conflict", map[string]any{
			"meta":    conflict.Current.Meta(),
			"content": conflict.Current.Content,
		})
		return nil
	case errors.Is(err, store.ErrBadRevision):
		jsonError(w, http.StatusBadRequest, "bad_revision", nil)
		return nil
	case err != nil:
		return err
	}
	jsonOK(w, map[string]any{"meta": n.Meta()})
	return nil
}

func (h *APIHandler) delete(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	if err := h.svc.Delete(r.Context(), owner, id); err != nil {
		return err
	}
	jsonOK(w, nil)
	return nil
}

type previewRequest struct {
	Content string `json:"content"`
}

// preview renders Markdown to sanitized HTML: the stored note when an id is
// given, otherwise the posted content.
func (h *APIHandler) preview(w http.ResponseWriter, r *http.Request, owner string) error {
	var src string
	if id := r.URL.Query().Get("id"); id != "" {
		n, err := h.svc.Get(r.Context(), owner, id)
		if err != nil {
			return err
		}
		src = n.Content
	} else {
		if !requirePOST(w, r) {
			return nil
		}
		var req previewRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return nil
		}
		src = req.Content
	}

	html, err := markdown.Render(src)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"html": html})
	return nil
}
