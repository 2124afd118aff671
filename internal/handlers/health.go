package handlers

import (
	"net/http"
	"time"
)

// Health reports process liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"ts": time.Now().UnixMilli(),
	})
}
