package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/sshmux/internal/sshshell"
)

// State is the lifecycle phase of a session.
type State int32

const (
	// StateConnecting: admitted to the registry, SSH dial in progress.
	StateConnecting State = iota
	// StateReady: shell is live, peers may attach.
	StateReady
	// StateClosed: ended deliberately (delete, idle sweep, orderly EOF).
	StateClosed
	// StateError: ended by a transport or shell failure.
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final. A terminal session never
// transitions again and holds no upstream resources.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Meta identifies the upstream host a session is connected to. The
// password used at connect time is never retained.
type Meta struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// View is the read-only projection of a session returned by the REST
// endpoints.
type View struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	CreatedAt       int64  `json:"createdAt"`
	LastActivityAt  int64  `json:"lastActivityAt"`
	IdleTimeoutMs   int64  `json:"idleTimeoutMs"`
	AttachedClients int    `json:"attachedClients"`
	Cols            int    `json:"cols"`
	Rows            int    `json:"rows"`
	Meta            Meta   `json:"meta"`
}

// Snapshot is a point-in-time listing of every live session together
// with the notification version it corresponds to.
type Snapshot struct {
	Version uint64 `json:"version"`
	Ts      int64  `json:"ts"`
	List    []View `json:"list"`
}

// Session is one managed SSH shell and its set of attached peers.
//
// State and lastActivity are atomics so registry-wide scans (counts,
// sweeps, snapshots) never need the per-session lock order inverted:
// the manager lock may wrap s.mu, never the reverse.
type Session struct {
	ID        string
	Meta      Meta
	CreatedAt int64

	state        atomic.Int32
	lastActivity atomic.Int64

	idleTimeoutMs int64

	mu     sync.Mutex
	cols   int
	rows   int
	client *sshshell.Client
	shell  *sshshell.Shell
	peers  map[Peer]struct{}

	// done is closed exactly once, on the transition into a terminal
	// state. Pump goroutines use it to tell deliberate teardown apart
	// from upstream failure.
	done chan struct{}
}

func newSession(meta Meta, cols, rows int, idleTimeoutMs int64) *Session {
	now := time.Now().UnixMilli()
	s := &Session{
		ID:            uuid.New().String(),
		Meta:          meta,
		CreatedAt:     now,
		idleTimeoutMs: idleTimeoutMs,
		cols:          cols,
		rows:          rows,
		peers:         make(map[Peer]struct{}),
		done:          make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	s.lastActivity.Store(now)
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// LastActivity returns the epoch-millisecond timestamp of the most
// recent activity.
func (s *Session) LastActivity() int64 {
	return s.lastActivity.Load()
}

// IdleTimeoutMs returns the idle budget fixed at creation.
func (s *Session) IdleTimeoutMs() int64 {
	return s.idleTimeoutMs
}

// Touch records activity now.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
}

// View builds the REST projection of the session.
func (s *Session) View() View {
	s.mu.Lock()
	cols, rows := s.cols, s.rows
	attached := 0
	for p := range s.peers {
		if p.Open() {
			attached++
		}
	}
	s.mu.Unlock()
	return View{
		ID:              s.ID,
		State:           s.State().String(),
		CreatedAt:       s.CreatedAt,
		LastActivityAt:  s.LastActivity(),
		IdleTimeoutMs:   s.idleTimeoutMs,
		AttachedClients: attached,
		Cols:            cols,
		Rows:            rows,
		Meta:            s.Meta,
	}
}

// openPeers counts peers that can still accept writes.
func (s *Session) openPeers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.peers {
		if p.Open() {
			n++
		}
	}
	return n
}

// snapshotPeers copies the peer set so writes can happen outside the
// lock.
func (s *Session) snapshotPeers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

func sortViews(views []View) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt != views[j].CreatedAt {
			return views[i].CreatedAt < views[j].CreatedAt
		}
		return views[i].ID < views[j].ID
	})
}
