// Package session implements the connection engine: a registry of live SSH
// shell sessions, the peer fan-out that bridges each session to its attached
// terminal clients, and the idle sweeper that reaps abandoned sessions.
//
// # Architecture
//
// [Manager] owns a map of sessions keyed by generated id. Each [Session]
// carries:
//   - [Meta]: host, port, and username (never the password).
//   - Current PTY dimensions and the per-session idle budget.
//   - The set of attached peers ([Peer] implementations owned by the
//     transport layer).
//   - The underlying handles from the sshshell package.
//
// All registry mutations are serialized through the manager mutex so snapshot
// counts and notification versions always agree. Per-session values that hot
// paths read (state, last activity) live in atomics, letting the sweeper scan
// the registry without taking session locks.
//
// # Session Lifecycle
//
//  1. [Manager.Create] admits the session (capacity check and registry insert
//     are one critical section), then dials SSH and opens the PTY shell. The
//     session is publicly visible as connecting while the dial runs.
//
//  2. On success the session turns ready and two goroutines start: one pumps
//     shell output to every open peer, one watches the transport for death.
//
//  3. Peers come and go via [Manager.Attach] and [Manager.Detach]. Input and
//     window changes flow through [Manager.WriteStdin] and [Manager.Resize].
//
//  4. Exactly one terminal transition ends the session: administrative
//     delete, idle sweep, upstream EOF, or transport loss. Termination is
//     idempotent; late racers lose and observe [ErrNotFound].
//
// Closed and error are terminal states. A session never leaves them, and its
// done channel is closed exactly once on the way in.
//
// # Notifications
//
// Every mutation publishes exactly one [notify.Summary] whose registry counts
// are computed under the same lock as the change itself, so event-stream
// consumers can cache list responses keyed by version.
//
// # Limits
//
//   - Registry size is capped at [Config.MaxConnections] at admission time.
//   - PTY dimensions are clamped to [MaxCols] x [MaxRows].
//   - Sessions idle past their budget with no open peer are reaped every
//     [Config.SweepInterval].
//
// # Usage
//
//	mgr := session.NewManager(session.Config{MaxConnections: 100}, notify.NewBus(), logger)
//	defer mgr.Close()
//
//	s, err := mgr.Create(ctx, session.CreateParams{
//		Host:     "10.0.0.5",
//		Username: "ops",
//		Password: secret,
//	})
//	if err != nil { ... }
//
//	// Attach a peer (for example a WebSocket adapter).
//	if _, err := mgr.Attach(s.ID, peer); err != nil { ... }
//	defer mgr.Detach(s, peer)
//
//	mgr.WriteStdin(s, []byte("uptime\n"))
//	mgr.Resize(s.ID, 200, 50)
package session
