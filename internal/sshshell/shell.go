package sshshell

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// DefaultTerm is the terminal type requested for the PTY.
const DefaultTerm = "xterm-256color"

// Shell is one PTY-backed interactive shell running the remote user's login
// shell. It reads merged PTY output (the PTY folds stderr into the stream)
// and writes keystrokes to stdin.
type Shell struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session

	closeOnce sync.Once
	closeErr  error
}

// OpenShell allocates a PTY with the given dimensions and starts the remote
// login shell on it.
func (c *Client) OpenShell(cols, rows int, term string) (*Shell, error) {
	if term == "" {
		term = DefaultTerm
	}

	session, err := c.ssh.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(term, rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{
		stdin:   stdin,
		stdout:  stdout,
		session: session,
	}, nil
}

// Read returns the next chunk of PTY output. It blocks until output arrives,
// the shell exits (io.EOF), or the session is torn down.
func (s *Shell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Write feeds keystrokes to the shell's stdin.
func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Resize propagates new PTY dimensions to the remote side.
func (s *Shell) Resize(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

// Close ends the shell session. Safe to call more than once and from any
// goroutine; it unblocks pending Reads and Writes.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}
