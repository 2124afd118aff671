package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/sshmux/internal/session"
)

const (
	wsReadLimit    = 1024 * 1024
	attachedBanner = "\r\n[attached]\r\n"
	pongFrame      = `{"type":"pong"}`
)

// AttachWS upgrades the request and attaches the peer to a ready
// session. With ?readOnly=1 the peer observes output but its resize
// and stdin frames are dropped; ping and detach still work.
func (a *API) AttachWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	readOnly := r.URL.Query().Get("readOnly") == "1"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.Log.Warnf("websocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	peer := newWSPeer(conn)
	s, err := a.Mgr.Attach(id, peer)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "Connection not ready")
		return
	}
	defer a.Mgr.Detach(s, peer)

	ctx := r.Context()
	if err := peer.WriteText(ctx, attachedBanner); err != nil {
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.Touch()
		a.dispatchFrame(ctx, s, peer, typ, data, readOnly)
	}
}

// dispatchFrame routes one inbound peer message: text frames that form
// a known tagged JSON object are control frames, everything else is
// raw shell input.
func (a *API) dispatchFrame(ctx context.Context, s *session.Session, peer *wsPeer, typ websocket.MessageType, data []byte, readOnly bool) {
	if typ == websocket.MessageText {
		if frame, ok := parseControlFrame(data); ok {
			a.handleControl(ctx, s, peer, frame, readOnly)
			return
		}
	}
	if readOnly {
		return
	}
	if err := a.Mgr.WriteStdin(s, data); err != nil {
		a.Log.Warnf("session %s stdin write failed: %v", s.ID, err)
	}
}

// parseControlFrame reports whether data is a tagged object of one of
// the known control shapes. Anything else falls through as stdin.
func parseControlFrame(data []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return nil, false
	}
	var frame map[string]any
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return nil, false
	}
	switch frame["type"] {
	case "resize", "stdin", "ping", "detach":
		return frame, true
	}
	return nil, false
}

func (a *API) handleControl(ctx context.Context, s *session.Session, peer *wsPeer, frame map[string]any, readOnly bool) {
	switch frame["type"] {
	case "resize":
		if readOnly {
			return
		}
		cols, okCols := frame["cols"].(float64)
		rows, okRows := frame["rows"].(float64)
		if !okCols || !okRows {
			return
		}
		if err := a.Mgr.Resize(s.ID, int(cols), int(rows)); err != nil {
			a.Log.Debugf("session %s resize frame ignored: %v", s.ID, err)
		}
	case "stdin":
		if readOnly {
			return
		}
		if err := a.Mgr.WriteStdin(s, []byte(stdinString(frame["data"]))); err != nil {
			a.Log.Warnf("session %s stdin write failed: %v", s.ID, err)
		}
	case "ping":
		_ = peer.WriteText(ctx, pongFrame)
	case "detach":
		_ = peer.Close(session.CloseNormal, "Detached")
	}
}

// stdinString coerces the data field of a stdin frame: strings pass
// through, absent and null become empty, other scalars get their
// default rendering.
func stdinString(v any) string {
	switch data := v.(type) {
	case nil:
		return ""
	case string:
		return data
	default:
		return fmt.Sprintf("%v", data)
	}
}

// wsPeer adapts a WebSocket connection to the engine's Peer. The open
// flag flips on the first failed write or on close so the fan-out can
// skip it without paying for a doomed write each chunk.
type wsPeer struct {
	conn *websocket.Conn
	open atomic.Bool
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	p := &wsPeer{conn: conn}
	p.open.Store(true)
	return p
}

func (p *wsPeer) WriteBinary(ctx context.Context, b []byte) error {
	if !p.open.Load() {
		return net.ErrClosed
	}
	err := p.conn.Write(ctx, websocket.MessageBinary, b)
	if err != nil {
		p.open.Store(false)
	}
	return err
}

func (p *wsPeer) WriteText(ctx context.Context, s string) error {
	if !p.open.Load() {
		return net.ErrClosed
	}
	err := p.conn.Write(ctx, websocket.MessageText, []byte(s))
	if err != nil {
		p.open.Store(false)
	}
	return err
}

func (p *wsPeer) Close(code int, reason string) error {
	p.open.Store(false)
	return p.conn.Close(websocket.StatusCode(code), reason)
}

func (p *wsPeer) Open() bool {
	return p.open.Load()
}
