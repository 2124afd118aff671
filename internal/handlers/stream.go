package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gluk-w/sshmux/internal/notify"
)

const defaultHeartbeat = 15 * time.Second

// StreamConnections serves the registry change feed as server-sent
// events. Every summary goes out as an `event: connections` frame
// whose id is the summary version; a comment keeps the connection
// warm between publications.
func (a *API) StreamConnections(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Open with a comment so the EventSource connection is
	// established before the first publication.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	initial, ch, cancel := a.Mgr.Subscribe()
	defer cancel()

	if err := writeSSEFrame(w, initial); err != nil {
		return
	}
	flusher.Flush()

	hb := a.Heartbeat
	if hb <= 0 {
		hb = defaultHeartbeat
	}
	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case summary, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEFrame(w, summary); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": hb\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEFrame emits one event-stream frame. Multi-line payloads are
// split into one data: line each, with a trailing \r stripped.
func writeSSEFrame(w io.Writer, summary notify.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", summary.Version)
	b.WriteString("event: connections\n")
	for _, line := range strings.Split(string(payload), "\n") {
		fmt.Fprintf(&b, "data: %s\n", strings.TrimSuffix(line, "\r"))
	}
	b.WriteByte('\n')
	_, err = io.WriteString(w, b.String())
	return err
}
