package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gluk-w/sshmux/internal/logutil"
	"github.com/gluk-w/sshmux/internal/metrics"
	"github.com/gluk-w/sshmux/internal/notify"
	"github.com/gluk-w/sshmux/internal/sshshell"
)

// PTY dimensions applied when a create request omits them.
const (
	DefaultCols = 120
	DefaultRows = 30
)

// MaxCols and MaxRows bound requested PTY dimensions. Oversized values
// are clamped rather than rejected.
const (
	MaxCols = 500
	MaxRows = 200
)

const (
	shellReadBuffer  = 32 * 1024
	peerWriteTimeout = 5 * time.Second
)

// Config carries the engine knobs. Zero values fall back to the
// defaults noted on each field.
type Config struct {
	// MaxConnections caps registry size at admission. Default 100.
	MaxConnections int
	// IdleTimeoutMs is the default per-session idle budget. Default 600000.
	IdleTimeoutMs int64
	// SweepInterval is the idle reaper period. Default 30s.
	SweepInterval time.Duration
	// SSHReadyTimeout bounds dial plus handshake. Default 20s.
	SSHReadyTimeout time.Duration
	// SSHKeepaliveInterval and SSHKeepaliveMax configure dead-transport
	// detection. Defaults 15s and 3 misses.
	SSHKeepaliveInterval time.Duration
	SSHKeepaliveMax      int
}

func (c *Config) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.IdleTimeoutMs <= 0 {
		c.IdleTimeoutMs = 600_000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.SSHReadyTimeout <= 0 {
		c.SSHReadyTimeout = 20 * time.Second
	}
	if c.SSHKeepaliveInterval <= 0 {
		c.SSHKeepaliveInterval = 15 * time.Second
	}
	if c.SSHKeepaliveMax <= 0 {
		c.SSHKeepaliveMax = 3
	}
}

// CreateParams describes a session to establish. Port defaults to 22,
// Cols/Rows to DefaultCols/DefaultRows when zero, and a non-positive
// IdleTimeoutMs falls back to the configured default.
type CreateParams struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Cols          int
	Rows          int
	IdleTimeoutMs int64
}

func validateParams(p *CreateParams) error {
	if strings.TrimSpace(p.Host) == "" {
		return &InvalidError{Detail: "host is required"}
	}
	if strings.TrimSpace(p.Username) == "" {
		return &InvalidError{Detail: "username is required"}
	}
	if p.Password == "" {
		return &InvalidError{Detail: "password is required"}
	}
	if p.Port == 0 {
		p.Port = 22
	}
	if p.Port < 1 || p.Port > 65535 {
		return &InvalidError{Detail: "port must be between 1 and 65535"}
	}
	if p.Cols == 0 {
		p.Cols = DefaultCols
	}
	if p.Rows == 0 {
		p.Rows = DefaultRows
	}
	if p.Cols < 1 || p.Rows < 1 {
		return &InvalidError{Detail: "cols and rows must be positive"}
	}
	p.Cols, p.Rows = ClampDims(p.Cols, p.Rows)
	return nil
}

// ClampDims caps PTY dimensions at MaxCols x MaxRows.
func ClampDims(cols, rows int) (int, int) {
	if cols > MaxCols {
		cols = MaxCols
	}
	if rows > MaxRows {
		rows = MaxRows
	}
	return cols, rows
}

// Manager owns the session registry, the idle sweeper, and the
// per-session pump goroutines. All registry mutations are serialized
// through m.mu so counts and snapshots stay consistent with the
// notification stream.
type Manager struct {
	cfg Config
	log *zap.SugaredLogger
	bus *notify.Bus

	mu       sync.Mutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager builds the engine and starts its sweeper. A nil bus or
// logger gets a default.
func NewManager(cfg Config, bus *notify.Bus, log *zap.SugaredLogger) *Manager {
	cfg.applyDefaults()
	if bus == nil {
		bus = notify.NewBus()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Create admits a session, dials the host, and opens the PTY shell.
// It returns once the session is ready or the attempt has failed.
// Caller cancellation does not abort an admitted attempt: the session
// reaches ready or a terminal state either way and then answers to the
// idle sweeper like any other.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if err := validateParams(&params); err != nil {
		return nil, err
	}
	if params.IdleTimeoutMs <= 0 {
		params.IdleTimeoutMs = m.cfg.IdleTimeoutMs
	}

	meta := Meta{Host: params.Host, Port: params.Port, Username: params.Username}
	s := newSession(meta, params.Cols, params.Rows, params.IdleTimeoutMs)

	m.mu.Lock()
	select {
	case <-m.stop:
		m.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	if len(m.sessions) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		return nil, &CapacityError{Max: m.cfg.MaxConnections}
	}
	m.sessions[s.ID] = s
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	metrics.SessionsCreated.Inc()
	m.publishLocked(notify.ReasonCreated, s.ID)
	m.mu.Unlock()

	m.log.Infof("session %s connecting to %s@%s:%d", s.ID,
		logutil.SanitizeForLog(params.Username), logutil.SanitizeForLog(params.Host), params.Port)

	client, err := sshshell.Connect(context.WithoutCancel(ctx), sshshell.Options{
		Host:              params.Host,
		Port:              params.Port,
		User:              params.Username,
		Password:          params.Password,
		ReadyTimeout:      m.cfg.SSHReadyTimeout,
		KeepaliveInterval: m.cfg.SSHKeepaliveInterval,
		KeepaliveMax:      m.cfg.SSHKeepaliveMax,
	}, m.log)
	if err != nil {
		m.terminate(s, StateError, notify.ReasonState, CloseInternalError, "Connection error")
		return nil, &ConnectError{Err: err}
	}

	shell, err := client.OpenShell(params.Cols, params.Rows, sshshell.DefaultTerm)
	if err != nil {
		client.Close()
		m.terminate(s, StateError, notify.ReasonState, CloseInternalError, "Connection error")
		return nil, &ShellError{Err: err}
	}

	s.mu.Lock()
	if s.State() != StateConnecting {
		// Deleted or swept while the dial was in flight.
		s.mu.Unlock()
		shell.Close()
		client.Close()
		return nil, ErrNotFound
	}
	s.client = client
	s.shell = shell
	s.state.Store(int32(StateReady))
	s.mu.Unlock()

	s.Touch()
	m.wg.Add(2)
	go m.pumpShell(s, shell)
	go m.watchClient(s, client)

	m.mu.Lock()
	m.publishLocked(notify.ReasonState, s.ID)
	m.mu.Unlock()

	m.log.Infof("session %s ready (%s)", s.ID, logutil.SanitizeForLog(client.Addr()))
	return s, nil
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Count returns the registry size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot lists every live session, ordered by creation time.
func (m *Manager) Snapshot() Snapshot {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	views := make([]View, 0, len(m.sessions))
	for _, s := range m.sessions {
		views = append(views, s.View())
	}
	version := m.bus.Version()
	m.mu.Unlock()
	sortViews(views)
	return Snapshot{Version: version, Ts: now, List: views}
}

// Delete terminates a session administratively. The second delete of
// the same id reports NotFound.
func (m *Manager) Delete(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if !m.terminate(s, StateClosed, notify.ReasonDeleted, CloseGoingAway, "Connection closed") {
		return ErrNotFound
	}
	return nil
}

// Resize updates the stored PTY dimensions and propagates the window
// change to the shell. Oversized dimensions are clamped. Valid only
// while the session is ready; any other state reports NotFound.
func (m *Manager) Resize(id string, cols, rows int) error {
	if cols < 1 || rows < 1 {
		return &InvalidError{Detail: "cols and rows must be positive"}
	}
	cols, rows = ClampDims(cols, rows)
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.State() != StateReady {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.cols, s.rows = cols, rows
	shell := s.shell
	s.mu.Unlock()

	if shell != nil {
		if err := shell.Resize(cols, rows); err != nil {
			m.log.Warnf("session %s window change failed: %v", s.ID, err)
		}
	}
	s.Touch()

	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.publishLocked(notify.ReasonResize, s.ID)
	}
	m.mu.Unlock()
	return nil
}

// Attach registers a peer with a ready session.
func (m *Manager) Attach(id string, p Peer) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.State() != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	s.peers[p] = struct{}{}
	attached := len(s.peers)
	s.mu.Unlock()

	s.Touch()
	metrics.PeersAttached.Inc()

	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.publishLocked(notify.ReasonWSAttached, s.ID)
	}
	m.mu.Unlock()

	m.log.Infof("peer attached to session %s (%d attached)", s.ID, attached)
	return s, nil
}

// Detach removes a peer after its transport closed or errored. Peers
// already cleared by termination are ignored.
func (m *Manager) Detach(s *Session, p Peer) {
	s.mu.Lock()
	_, present := s.peers[p]
	delete(s.peers, p)
	s.mu.Unlock()
	if !present {
		return
	}

	s.Touch()
	metrics.PeersAttached.Dec()

	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.publishLocked(notify.ReasonWSDetached, s.ID)
	}
	m.mu.Unlock()
	m.log.Infof("peer detached from session %s", s.ID)
}

// WriteStdin forwards peer input to the shell.
func (m *Manager) WriteStdin(s *Session, data []byte) error {
	s.mu.Lock()
	shell := s.shell
	s.mu.Unlock()
	if shell == nil {
		return ErrNotReady
	}
	s.Touch()
	n, err := shell.Write(data)
	metrics.ShellBytes.WithLabelValues("stdin").Add(float64(n))
	return err
}

// Subscribe attaches an event-stream consumer. The returned summary
// reflects the registry at subscription time. cancel must be called
// when the consumer goes away.
func (m *Manager) Subscribe() (notify.Summary, <-chan notify.Summary, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus.Subscribe(m.countsLocked())
}

// Close stops the sweeper, terminates every remaining session, and
// waits for the engine goroutines to exit.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.terminate(s, StateClosed, notify.ReasonDeleted, CloseGoingAway, "Server shutting down")
	}
	m.bus.Close()
	m.wg.Wait()
}

// countsLocked tallies sessions by state. Callers hold m.mu.
func (m *Manager) countsLocked() notify.Counts {
	c := notify.Counts{Total: len(m.sessions)}
	for _, s := range m.sessions {
		switch s.State() {
		case StateReady:
			c.Ready++
		case StateConnecting:
			c.Connecting++
		case StateError:
			c.Error++
		case StateClosed:
			c.Closed++
		}
	}
	return c
}

// publishLocked emits one notification. Callers hold m.mu so the
// counts and the version move together.
func (m *Manager) publishLocked(reason notify.Reason, changedIDs ...string) {
	m.bus.Publish(reason, changedIDs, m.countsLocked())
}

// terminate moves s into a terminal state and releases everything it
// owns. The registry entry goes first (with exactly one notification),
// then the peers are closed with the given code, then the shell and
// the SSH transport. Returns false if s was already terminal.
func (m *Manager) terminate(s *Session, to State, reason notify.Reason, code int, closeReason string) bool {
	s.mu.Lock()
	if s.State().Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state.Store(int32(to))
	peers := make([]Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[Peer]struct{})
	shell, client := s.shell, s.client
	s.shell, s.client = nil, nil
	close(s.done)
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, s.ID)
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.publishLocked(reason, s.ID)
	m.mu.Unlock()

	for _, p := range peers {
		_ = p.Close(code, closeReason)
		metrics.PeersAttached.Dec()
	}
	if shell != nil {
		_ = shell.Close()
	}
	if client != nil {
		_ = client.Close()
	}

	metrics.SessionsTerminated.WithLabelValues(string(reason)).Inc()
	m.log.Infof("session %s terminated (state=%s reason=%s)", s.ID, to, reason)
	return true
}

// pumpShell copies shell output to every open peer until the shell
// ends, then drives the terminal transition for upstream EOF or error.
func (m *Manager) pumpShell(s *Session, shell *sshshell.Shell) {
	defer m.wg.Done()
	buf := make([]byte, shellReadBuffer)
	for {
		n, err := shell.Read(buf)
		if n > 0 {
			s.Touch()
			metrics.ShellBytes.WithLabelValues("stdout").Add(float64(n))
			m.broadcast(s, buf[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-s.done:
			// Deliberate teardown already ran.
		default:
			if errors.Is(err, io.EOF) {
				m.log.Infof("session %s shell closed by remote", s.ID)
				m.terminate(s, StateClosed, notify.ReasonState, CloseInternalError, "Connection closed")
			} else {
				m.log.Warnf("session %s shell read failed: %v", s.ID, err)
				m.terminate(s, StateError, notify.ReasonState, CloseInternalError, "Connection error")
			}
		}
		return
	}
}

// broadcast fans one chunk out to the open peers. Send errors are
// swallowed; a failing peer detaches through its own read loop.
func (m *Manager) broadcast(s *Session, chunk []byte) {
	for _, p := range s.snapshotPeers() {
		if !p.Open() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), peerWriteTimeout)
		_ = p.WriteBinary(ctx, chunk)
		cancel()
	}
}

// watchClient turns transport death (keepalive misses, TCP reset,
// server-side close) into a terminal transition.
func (m *Manager) watchClient(s *Session, client *sshshell.Client) {
	defer m.wg.Done()
	select {
	case <-s.done:
	case err := <-client.Dead():
		if errors.Is(err, io.EOF) {
			m.log.Infof("session %s ssh transport closed", s.ID)
			m.terminate(s, StateClosed, notify.ReasonState, CloseInternalError, "Connection closed")
		} else {
			m.log.Warnf("session %s ssh transport lost: %v", s.ID, err)
			m.terminate(s, StateError, notify.ReasonState, CloseInternalError, "Connection error")
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle reaps sessions that have no open peer and whose idle age
// exceeds their budget. Races with other terminators are resolved by
// terminate's idempotence.
func (m *Manager) sweepIdle() {
	now := time.Now().UnixMilli()
	m.mu.Lock()
	var victims []*Session
	for _, s := range m.sessions {
		if s.State().Terminal() {
			continue
		}
		if now-s.LastActivity() <= s.IdleTimeoutMs() {
			continue
		}
		if s.openPeers() > 0 {
			continue
		}
		victims = append(victims, s)
	}
	m.mu.Unlock()

	for _, s := range victims {
		if m.terminate(s, StateClosed, notify.ReasonIdleTimeout, CloseGoingAway, "Idle timeout") {
			m.log.Infof("session %s idle for more than %dms, closing", s.ID, s.IdleTimeoutMs())
		}
	}
}
