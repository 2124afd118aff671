// Package sshtest runs a minimal in-process SSH server for tests. It accepts
// a fixed username/password, allocates fake PTY sessions, echoes stdin back
// with an "echo:" prefix, and reports window changes as "resize:COLSxROWS"
// lines so tests can observe resize propagation in the output stream.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Credentials every test server accepts.
const (
	User     = "testuser"
	Password = "testpass"
)

// Server is one listening in-process SSH server.
type Server struct {
	Addr string
	Host string
	Port int

	ln   net.Listener
	done chan struct{}

	mu    sync.Mutex
	conns []net.Conn
}

// Start launches a server on a loopback port. Shutdown is registered with
// t.Cleanup.
func Start(t *testing.T) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == User && string(pass) == Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("access denied for %q", conn.User())
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr: ln.Addr().String(),
		ln:   ln,
		done: make(chan struct{}),
	}
	host, portStr, _ := net.SplitHostPort(s.Addr)
	s.Host = host
	fmt.Sscanf(portStr, "%d", &s.Port)

	go func() {
		defer close(s.done)
		for {
			netConn, err := ln.Accept()
			if err != nil {
				return
			}
			s.track(netConn)
			go s.handleConn(netConn, config)
		}
	}()

	t.Cleanup(s.Close)
	return s
}

// Close stops the listener and drops every live connection.
func (s *Server) Close() {
	s.ln.Close()
	s.DropConnections()
	<-s.done
}

// DropConnections severs all established transports without touching the
// listener, simulating an upstream network failure.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests)
	}
}

func handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	var ptyCols, ptyRows uint32

	for req := range requests {
		switch req.Type {
		case "pty-req":
			ptyCols, ptyRows = parsePtyReq(req.Payload)
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "window-change":
			if len(req.Payload) >= 8 {
				cols := binary.BigEndian.Uint32(req.Payload[0:4])
				rows := binary.BigEndian.Uint32(req.Payload[4:8])
				fmt.Fprintf(ch, "resize:%dx%d\n", cols, rows)
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell", "exec":
			if req.WantReply {
				req.Reply(true, nil)
			}
			if ptyCols > 0 {
				fmt.Fprintf(ch, "shell:%dx%d\n", ptyCols, ptyRows)
			} else {
				fmt.Fprint(ch, "shell:nopty\n")
			}
			// Echo stdin back with a prefix; keep handling requests
			// (window-change arrives after the shell starts).
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := ch.Read(buf)
					if n > 0 {
						ch.Write([]byte("echo:"))
						ch.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// parsePtyReq extracts cols and rows from a pty-req payload
// (string term, uint32 cols, uint32 rows, uint32 width, uint32 height, string modes).
func parsePtyReq(p []byte) (cols, rows uint32) {
	if len(p) < 4 {
		return 0, 0
	}
	termLen := binary.BigEndian.Uint32(p[0:4])
	rest := p[4:]
	if uint32(len(rest)) < termLen+8 {
		return 0, 0
	}
	rest = rest[termLen:]
	return binary.BigEndian.Uint32(rest[0:4]), binary.BigEndian.Uint32(rest[4:8])
}
