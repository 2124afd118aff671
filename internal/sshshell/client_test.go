package sshshell

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/sshmux/internal/sshtest"
)

// dialTestServer connects to an in-process SSH server with the shared test
// credentials. Cleanup closes the client.
func dialTestServer(t *testing.T) (*Client, *sshtest.Server) {
	t.Helper()

	srv := sshtest.Start(t)
	c, err := Connect(context.Background(), Options{
		Host:     srv.Host,
		Port:     srv.Port,
		User:     sshtest.User,
		Password: sshtest.Password,
	}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

// readUntil reads from r until the accumulated output contains the target
// string or the timeout expires.
func readUntil(t *testing.T, r io.Reader, target string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	var accumulated string
	buf := make([]byte, 4096)
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got: %q", target, accumulated)
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			accumulated += string(buf[:n])
		}
		if strings.Contains(accumulated, target) {
			return accumulated
		}
		if err != nil {
			t.Fatalf("read error waiting for %q: %v, accumulated: %q", target, err, accumulated)
		}
	}
}

func TestConnectAndOpenShell(t *testing.T) {
	c, _ := dialTestServer(t)

	shell, err := c.OpenShell(120, 30, "")
	if err != nil {
		t.Fatalf("OpenShell: %v", err)
	}
	defer shell.Close()

	// The test server announces the PTY dimensions it granted.
	readUntil(t, shell, "shell:120x30", 5*time.Second)
}

func TestConnectRejectsBadPassword(t *testing.T) {
	srv := sshtest.Start(t)

	_, err := Connect(context.Background(), Options{
		Host:     srv.Host,
		Port:     srv.Port,
		User:     sshtest.User,
		Password: "wrong",
	}, nil)
	if err == nil {
		t.Fatal("Connect with a bad password should fail")
	}
}

func TestConnectRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty host", Options{User: "u", Password: "p"}},
		{"empty user", Options{Host: "h", Password: "p"}},
		{"bad port", Options{Host: "h", Port: 70000, User: "u", Password: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Connect(context.Background(), tt.opts, nil); err == nil {
				t.Errorf("Connect(%+v) should fail", tt.opts)
			}
		})
	}
}

func TestConnectTimesOutOnUnreachableHost(t *testing.T) {
	// 192.0.2.0/24 is TEST-NET-1, guaranteed unroutable.
	start := time.Now()
	_, err := Connect(context.Background(), Options{
		Host:         "192.0.2.1",
		Port:         22,
		User:         "u",
		Password:     "p",
		ReadyTimeout: 250 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Fatal("Connect to unroutable host should fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect took %s, ready timeout not honored", elapsed)
	}
}

func TestShellEchoRoundTrip(t *testing.T) {
	c, _ := dialTestServer(t)

	shell, err := c.OpenShell(80, 24, "")
	if err != nil {
		t.Fatalf("OpenShell: %v", err)
	}
	defer shell.Close()

	readUntil(t, shell, "shell:", 5*time.Second)

	if _, err := shell.Write([]byte("ls -la\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil(t, shell, "echo:ls -la", 5*time.Second)
}

func TestShellResizePropagates(t *testing.T) {
	c, _ := dialTestServer(t)

	shell, err := c.OpenShell(80, 24, "")
	if err != nil {
		t.Fatalf("OpenShell: %v", err)
	}
	defer shell.Close()

	readUntil(t, shell, "shell:", 5*time.Second)

	if err := shell.Resize(200, 50); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	readUntil(t, shell, "resize:200x50", 5*time.Second)
}

func TestShellCloseUnblocksRead(t *testing.T) {
	c, _ := dialTestServer(t)

	shell, err := c.OpenShell(80, 24, "")
	if err != nil {
		t.Fatalf("OpenShell: %v", err)
	}
	readUntil(t, shell, "shell:", 5*time.Second)

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := shell.Read(buf); err != nil {
				readDone <- err
				return
			}
		}
	}()

	if err := shell.Close(); err != nil && err != io.EOF {
		t.Logf("Close: %v", err)
	}
	// Double close is safe.
	shell.Close()

	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestDeadFiresOnTransportLoss(t *testing.T) {
	c, srv := dialTestServer(t)

	srv.DropConnections()

	select {
	case err := <-c.Dead():
		if err == nil {
			t.Error("Dead() delivered nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Dead() did not fire after transport loss")
	}
}

func TestDeadSilentOnDeliberateClose(t *testing.T) {
	c, _ := dialTestServer(t)

	if err := c.Close(); err != nil {
		t.Logf("Close: %v", err)
	}

	select {
	case err := <-c.Dead():
		t.Errorf("Dead() fired after deliberate Close: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{Host: "h", User: "u", Password: "p"}
	o.applyDefaults()
	if o.Port != 22 {
		t.Errorf("Port = %d, want 22", o.Port)
	}
	if o.ReadyTimeout != 20*time.Second {
		t.Errorf("ReadyTimeout = %s, want 20s", o.ReadyTimeout)
	}
	if o.KeepaliveInterval != 15*time.Second {
		t.Errorf("KeepaliveInterval = %s, want 15s", o.KeepaliveInterval)
	}
	if o.KeepaliveMax != 3 {
		t.Errorf("KeepaliveMax = %d, want 3", o.KeepaliveMax)
	}
}
