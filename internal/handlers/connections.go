package handlers

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/sshmux/internal/session"
)

// Optional numeric fields are pointers so an absent field can fall
// back to its default while a present-but-wrong-type value fails the
// decode and turns into a 400.
type createConnectionRequest struct {
	Host          string   `json:"host"`
	Port          *int     `json:"port"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	Cols          *float64 `json:"cols"`
	Rows          *float64 `json:"rows"`
	IdleTimeoutMs *float64 `json:"idleTimeoutMs"`
}

type createConnectionResponse struct {
	ID             string       `json:"id"`
	State          string       `json:"state"`
	CreatedAt      int64        `json:"createdAt"`
	LastActivityAt int64        `json:"lastActivityAt"`
	IdleTimeoutMs  int64        `json:"idleTimeoutMs"`
	WSPath         string       `json:"wsPath"`
	Meta           session.Meta `json:"meta"`
}

type resizeRequest struct {
	Cols *float64 `json:"cols"`
	Rows *float64 `json:"rows"`
}

// CreateConnection dials a new SSH session and answers once it is
// ready or the attempt failed.
func (a *API) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &session.InvalidError{Detail: "invalid JSON body"})
		return
	}

	params := session.CreateParams{
		Host:          req.Host,
		Username:      req.Username,
		Password:      req.Password,
		IdleTimeoutMs: a.IdleTimeoutMs,
	}
	if req.Port != nil {
		params.Port = *req.Port
	}
	if req.Cols != nil {
		params.Cols = int(*req.Cols)
	}
	if req.Rows != nil {
		params.Rows = int(*req.Rows)
	}
	// A non-positive idle budget never comes from a well-behaved client;
	// keep the default instead.
	if req.IdleTimeoutMs != nil && *req.IdleTimeoutMs > 0 {
		params.IdleTimeoutMs = int64(*req.IdleTimeoutMs)
	}

	s, err := a.Mgr.Create(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	v := s.View()
	writeJSON(w, http.StatusCreated, createConnectionResponse{
		ID:             v.ID,
		State:          v.State,
		CreatedAt:      v.CreatedAt,
		LastActivityAt: v.LastActivityAt,
		IdleTimeoutMs:  v.IdleTimeoutMs,
		WSPath:         a.wsPath(v.ID),
		Meta:           v.Meta,
	})
}

// ListConnections returns the full registry snapshot.
func (a *API) ListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Mgr.Snapshot())
}

// DeleteConnection terminates a session. The second delete of the
// same id is a 404.
func (a *API) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := a.Mgr.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ResizeConnection updates the PTY dimensions of a ready session.
func (a *API) ResizeConnection(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &session.InvalidError{Detail: "invalid JSON body"})
		return
	}
	if req.Cols == nil || req.Rows == nil {
		writeError(w, &session.InvalidError{Detail: "cols and rows must be numbers"})
		return
	}

	cols, rows := session.ClampDims(int(*req.Cols), int(*req.Rows))
	if err := a.Mgr.Resize(chi.URLParam(r, "id"), cols, rows); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cols": cols, "rows": rows})
}

func (a *API) wsPath(id string) string {
	return path.Join("/", a.BasePath, "ws", id)
}
