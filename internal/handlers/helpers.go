package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/sshmux/internal/session"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes and the
// {error, detail} body shape.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid  *session.InvalidError
		capacity *session.CapacityError
		connect  *session.ConnectError
		shell    *session.ShellError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "InvalidRequest", Detail: invalid.Detail})
	case errors.As(err, &capacity):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "CapacityExceeded", Detail: capacity.Error()})
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "NotFound", Detail: err.Error()})
	case errors.Is(err, session.ErrNotReady):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "NotReady", Detail: err.Error()})
	case errors.As(err, &connect):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "ConnectError", Detail: connect.Error()})
	case errors.As(err, &shell):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "ShellError", Detail: shell.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Detail: err.Error()})
	}
}
