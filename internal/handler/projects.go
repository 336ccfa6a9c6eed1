package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
	"github.com/dukerupert/fufnotes/internal/notes"
	"github.com/dukerupert/fufnotes/internal/store"
)

type projectRequest struct {
	Title       string  `json:"title" validate:"max=200"`
	Description string  `json:"description" validate:"max=200000"`
	DueAt       *string `json:"dueAt"`
}

type todoCreateRequest struct {
	Title string  `json:"title" validate:"max=200"`
	DueAt *string `json:"dueAt"`
}

// todoUpdateRequest distinguishes absent fields (keep) from present ones.
// A present dueAt of null or "" clears the due date.
type todoUpdateRequest struct {
	Title        *string         `json:"title" validate:"omitnil,max=200"`
	Done         *bool           `json:"done"`
	DueAt        json.RawMessage `json:"dueAt"`
	LinkedNoteID *string         `json:"linkedNoteId"`
}

var fieldErrors = map[string]string{
	"title":       "title_too_long",
	"description": "description_too_long",
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeProject reads and validates a project body, answering the request
// itself on failure.
func decodeProject(w http.ResponseWriter, r *http.Request) (projectRequest, *time.Time, bool) {
	var req projectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return req, nil, false
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "Untitled project"
	}
	if err := validate.Struct(req); err != nil {
		jsonError(w, http.StatusBadRequest, validationCode(err, fieldErrors, "bad_request"), nil)
		return req, nil, false
	}
	due, err := model.ParseDueDate(optionalString(req.DueAt))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "bad_due_date", nil)
		return req, nil, false
	}
	return req, due, true
}

func (h *APIHandler) projectsList(w http.ResponseWriter, r *http.Request, owner string) error {
	projects, err := h.svc.ListProjects(r.Context(), owner)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"projects": projects})
	return nil
}

func (h *APIHandler) projectsGet(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok {
		return nil
	}
	detail, err := h.svc.ProjectDetail(r.Context(), owner, id)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{
		"project": detail.Project,
		"todos":   detail.Todos,
		"lists":   detail.Lists,
	})
	return nil
}

func (h *APIHandler) projectsCreate(w http.ResponseWriter, r *http.Request, owner string) error {
	if !requirePOST(w, r) {
		return nil
	}
	req, due, ok := decodeProject(w, r)
	if !ok {
		return nil
	}
	p, err := h.svc.CreateProject(r.Context(), owner, req.Title, req.Description, due)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"project": p})
	return nil
}

func (h *APIHandler) projectsUpdate(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	req, due, ok := decodeProject(w, r)
	if !ok {
		return nil
	}
	p, err := h.svc.UpdateProject(r.Context(), owner, id, req.Title, req.Description, due)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"project": p})
	return nil
}

func (h *APIHandler) projectsDelete(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	if err := h.svc.DeleteProject(r.Context(), owner, id); err != nil {
		return err
	}
	jsonOK(w, nil)
	return nil
}

func (h *APIHandler) todosCreate(w http.ResponseWriter, r *http.Request, owner string) error {
	projectID, ok := queryParam(w, r, "projectId", "missing_project_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	var req todoCreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return nil
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "Todo"
	}
	if err := validate.Struct(req); err != nil {
		jsonError(w, http.StatusBadRequest, validationCode(err, fieldErrors, "bad_request"), nil)
		return nil
	}
	due, err := model.ParseDueDate(optionalString(req.DueAt))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "bad_due_date", nil)
		return nil
	}

	t, err := h.svc.CreateTodo(r.Context(), owner, projectID, req.Title, due)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"todo": t})
	return nil
}

func (h *APIHandler) todosUpdate(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	var req todoUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return nil
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			title = "Todo"
		}
		req.Title = &title
	}
	if err := validate.Struct(req); err != nil {
		jsonError(w, http.StatusBadRequest, validationCode(err, fieldErrors, "bad_request"), nil)
		return nil
	}

	patch := store.TodoPatch{
		Title:        req.Title,
		Done:         req.Done,
		LinkedNoteID: req.LinkedNoteID,
	}
	if len(req.DueAt) > 0 {
		due, err := parseRawDueDate(req.DueAt)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "bad_due_date", nil)
			return nil
		}
		patch.DueAt = &due
	}

	t, err := h.svc.UpdateTodo(r.Context(), owner, id, patch)
	if errors.Is(err, notes.ErrLinkedNoteNotFound) {
		jsonError(w, http.StatusNotFound, "note_not_found", nil)
		return nil
	}
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"todo": t})
	return nil
}

func parseRawDueDate(raw json.RawMessage) (*time.Time, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return model.ParseDueDate(s)
}

func (h *APIHandler) todosDelete(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	if err := h.svc.DeleteTodo(r.Context(), owner, id); err != nil {
		return err
	}
	jsonOK(w, nil)
	return nil
}

// todosAddNote attaches a note to the todo, returning the existing one when
// the todo is already linked.
func (h *APIHandler) todosAddNote(w http.ResponseWriter, r *http.Request, owner string) error {
	id, ok := queryParam(w, r, "id", "missing_id")
	if !ok || !requirePOST(w, r) {
		return nil
	}
	meta, created, err := h.svc.AttachNote(r.Context(), owner, id)
	if err != nil {
		return err
	}
	jsonOK(w, map[string]any{"note": meta, "created": created})
	return nil
}
