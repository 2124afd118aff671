package session

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	// ErrNotFound means the id is not in the registry (or no longer is).
	ErrNotFound = errors.New("connection not found")
	// ErrNotReady means the session exists but is not in the ready state.
	ErrNotReady = errors.New("connection not ready")
	// ErrClosed means the engine is shutting down and admits nothing new.
	ErrClosed = errors.New("engine closed")
)

// InvalidError reports a malformed or missing request field.
type InvalidError struct {
	Detail string
}

func (e *InvalidError) Error() string {
	return e.Detail
}

// CapacityError reports a rejected admission because the registry is full.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("MAX_CONNECTIONS (%d) reached", e.Max)
}

// ConnectError wraps an SSH transport establishment failure (DNS, TCP,
// handshake, auth, or ready timeout).
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ssh connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ShellError wraps a PTY allocation or shell start failure.
type ShellError struct {
	Err error
}

func (e *ShellError) Error() string {
	return fmt.Sprintf("shell open failed: %v", e.Err)
}

func (e *ShellError) Unwrap() error {
	return e.Err
}
