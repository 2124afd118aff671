package session

import "context"

// Close codes passed to Peer.Close when the engine tears a peer down.
// They mirror the WebSocket status codes the transport layer sends.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

// Peer is one attached terminal client. The transport layer (WebSocket)
// adapts its connection to this interface so the engine never depends on
// a wire library.
type Peer interface {
	// WriteBinary delivers raw terminal output.
	WriteBinary(ctx context.Context, p []byte) error
	// WriteText delivers a control payload such as the attach banner or
	// a pong reply.
	WriteText(ctx context.Context, s string) error
	// Close ends the connection with the given status code and reason.
	// It must be safe to call more than once.
	Close(code int, reason string) error
	// Open reports whether the connection can still accept writes.
	Open() bool
}
