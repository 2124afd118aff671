package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gluk-w/sshmux/internal/session"
)

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	return conn
}

// readBanner consumes frames until the attach banner arrives. Shell output
// may race ahead of it on a busy session.
func readBanner(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read banner: %v", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		if string(data) != attachedBanner {
			t.Fatalf("expected attach banner %q, got %q", attachedBanner, data)
		}
		return
	}
}

// readUntilContains accumulates binary frames until want shows up in the
// combined output.
func readUntilContains(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) string {
	t.Helper()
	var out strings.Builder
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %q (saw %q): %v", want, out.String(), err)
		}
		if typ == websocket.MessageBinary {
			out.Write(data)
		}
		if strings.Contains(out.String(), want) {
			return out.String()
		}
	}
}

// readTextFrame skips binary shell output until the next text frame.
func readTextFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read text frame: %v", err)
		}
		if typ == websocket.MessageText {
			return string(data)
		}
	}
}

func TestAttachWS_BannerAndEcho(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, created.WSPath)
	defer conn.CloseNow()
	readBanner(t, ctx, conn)

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("uptime\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	readUntilContains(t, ctx, conn, "echo:uptime")
}

func TestAttachWS_ControlFrames(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, created.WSPath)
	defer conn.CloseNow()
	readBanner(t, ctx, conn)

	// Tagged stdin goes to the shell.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stdin","data":"ls -la\n"}`)); err != nil {
		t.Fatalf("write stdin frame: %v", err)
	}
	readUntilContains(t, ctx, conn, "echo:ls -la")

	// Ping is answered on the same socket.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]string
	if err := json.Unmarshal([]byte(readTextFrame(t, ctx, conn)), &pong); err != nil {
		t.Fatalf("parse pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Errorf("expected pong, got %v", pong)
	}

	// Resize lands on the PTY; the test server reports it in the stream.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"resize","cols":200,"rows":50}`)); err != nil {
		t.Fatalf("write resize: %v", err)
	}
	readUntilContains(t, ctx, conn, "resize:200x50")

	snap := listConnections(t, ts)
	if len(snap.List) != 1 || snap.List[0].Cols != 200 || snap.List[0].Rows != 50 {
		t.Errorf("resize frame not reflected in snapshot: %+v", snap.List)
	}
}

func TestAttachWS_RawTextIsStdin(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, created.WSPath)
	defer conn.CloseNow()
	readBanner(t, ctx, conn)

	// Plain text that is not a tagged object is shell input.
	if err := conn.Write(ctx, websocket.MessageText, []byte("plain input\n")); err != nil {
		t.Fatalf("write raw text: %v", err)
	}
	readUntilContains(t, ctx, conn, "echo:plain input")

	// So is a JSON object with an unknown tag.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write unknown tag: %v", err)
	}
	readUntilContains(t, ctx, conn, `echo:{"type":"bogus"}`)
}

func TestAttachWS_Detach(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, created.WSPath)
	defer conn.CloseNow()
	readBanner(t, ctx, conn)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"detach"}`)); err != nil {
		t.Fatalf("write detach: %v", err)
	}
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
			t.Fatalf("expected close 1000, got %d (%v)", status, err)
		}
		break
	}

	// The session survives the detach; only the peer count drops.
	waitFor(t, 2*time.Second, func() bool {
		snap := listConnections(t, ts)
		return len(snap.List) == 1 && snap.List[0].AttachedClients == 0
	}, "peer never detached after the detach frame")
}

func TestAttachWS_UnknownSession(t *testing.T) {
	ts, _ := newTestStack(t, session.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/no-such-id"
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		// Dial may surface the close during the handshake, which is fine.
		return
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected the server to close the socket for an unknown session")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusInternalError {
		t.Errorf("expected close 1011, got %d (%v)", status, err)
	}
}

func TestAttachWS_ReadOnly(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ro := dialWS(t, ctx, ts, created.WSPath+"?readOnly=1")
	defer ro.CloseNow()
	readBanner(t, ctx, ro)

	obs := dialWS(t, ctx, ts, created.WSPath)
	defer obs.CloseNow()
	readBanner(t, ctx, obs)

	// Input and resize from the read-only peer are dropped.
	if err := ro.Write(ctx, websocket.MessageBinary, []byte("blocked\n")); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := ro.Write(ctx, websocket.MessageText, []byte(`{"type":"stdin","data":"also blocked\n"}`)); err != nil {
		t.Fatalf("write stdin frame: %v", err)
	}
	if err := ro.Write(ctx, websocket.MessageText, []byte(`{"type":"resize","cols":222,"rows":44}`)); err != nil {
		t.Fatalf("write resize frame: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	// A normal peer's input still flows; nothing from the read-only peer
	// may precede it in the shell stream.
	if err := obs.Write(ctx, websocket.MessageBinary, []byte("marker\n")); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	out := readUntilContains(t, ctx, obs, "echo:marker")
	if strings.Contains(out, "blocked") {
		t.Errorf("read-only input leaked into the shell: %q", out)
	}

	snap := listConnections(t, ts)
	if len(snap.List) != 1 || snap.List[0].Cols != session.DefaultCols || snap.List[0].Rows != session.DefaultRows {
		t.Errorf("read-only resize frame changed the PTY: %+v", snap.List)
	}
	if snap.List[0].AttachedClients != 2 {
		t.Errorf("expected 2 attached clients, got %d", snap.List[0].AttachedClients)
	}

	// Ping still works for read-only peers.
	if err := ro.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]string
	if err := json.Unmarshal([]byte(readTextFrame(t, ctx, ro)), &pong); err != nil {
		t.Fatalf("parse pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Errorf("expected pong, got %v", pong)
	}
}

func TestAttachWS_FanOut(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := dialWS(t, ctx, ts, created.WSPath)
	defer first.CloseNow()
	readBanner(t, ctx, first)

	second := dialWS(t, ctx, ts, created.WSPath)
	defer second.CloseNow()
	readBanner(t, ctx, second)

	if err := first.Write(ctx, websocket.MessageBinary, []byte("fan\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	readUntilContains(t, ctx, first, "echo:fan")
	readUntilContains(t, ctx, second, "echo:fan")
}

func TestAttachWS_DeleteClosesPeers(t *testing.T) {
	ts, srv := newTestStack(t, session.Config{})
	created := createSession(t, ts, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, created.WSPath)
	defer conn.CloseNow()
	readBanner(t, ctx, conn)

	resp := doDelete(t, ts, created.ID)
	resp.Body.Close()

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
			t.Fatalf("expected close 1001, got %d (%v)", status, err)
		}
		break
	}
}
