package sshshell

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/sshmux/internal/logutil"
)

const (
	defaultPort              = 22
	defaultReadyTimeout      = 20 * time.Second
	defaultKeepaliveInterval = 15 * time.Second
	defaultKeepaliveMax      = 3
)

// Options describes one SSH destination. Zero values for the timeout and
// keepalive fields take the package defaults above.
type Options struct {
	Host              string
	Port              int
	User              string
	Password          string
	ReadyTimeout      time.Duration
	KeepaliveInterval time.Duration
	KeepaliveMax      int
}

func (o *Options) applyDefaults() {
	if o.Port == 0 {
		o.Port = defaultPort
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyTimeout
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = defaultKeepaliveInterval
	}
	if o.KeepaliveMax <= 0 {
		o.KeepaliveMax = defaultKeepaliveMax
	}
}

// Client is one established SSH transport.
type Client struct {
	ssh  *ssh.Client
	addr string
	log  *zap.SugaredLogger

	dead     chan error
	deadOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Connect dials host:port and completes the SSH handshake with password
// auth. The whole establishment is bounded by opts.ReadyTimeout. On success
// the keepalive watchdog is already running.
func Connect(ctx context.Context, opts Options, log *zap.SugaredLogger) (*Client, error) {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("connect: host is empty")
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("connect: invalid port %d", opts.Port)
	}
	if opts.User == "" {
		return nil, fmt.Errorf("connect: user is empty")
	}

	cfg := &ssh.ClientConfig{
		User: opts.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(opts.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.ReadyTimeout,
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	dialCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: opts.ReadyTimeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", logutil.SanitizeForLog(addr), err)
	}

	// The deadline bounds the handshake; cleared once established.
	netConn.SetDeadline(time.Now().Add(opts.ReadyTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", logutil.SanitizeForLog(addr), err)
	}
	netConn.SetDeadline(time.Time{})

	c := &Client{
		ssh:  ssh.NewClient(sshConn, chans, reqs),
		addr: addr,
		log:  log,
		dead: make(chan error, 1),
		stop: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.watchTransport()
	go c.keepaliveLoop(opts.KeepaliveInterval, opts.KeepaliveMax)

	log.Debugf("ssh connected to %s", logutil.SanitizeForLog(addr))
	return c, nil
}

// Dead delivers at most one error when the transport dies from under us
// (remote close, network failure, or keepalive misses). A deliberate Close
// does not report.
func (c *Client) Dead() <-chan error {
	return c.dead
}

// Addr returns the remote address the client dialed.
func (c *Client) Addr() string {
	return c.addr
}

// Close tears the transport down and stops the watchdog goroutines.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	err := c.ssh.Close()
	c.wg.Wait()
	return err
}

func (c *Client) fail(err error) {
	c.deadOnce.Do(func() { c.dead <- err })
}

// watchTransport reports transport teardown that we did not initiate.
func (c *Client) watchTransport() {
	defer c.wg.Done()
	err := c.ssh.Wait()
	select {
	case <-c.stop:
		return
	default:
	}
	if err == nil {
		err = io.EOF
	}
	c.fail(fmt.Errorf("ssh transport closed: %w", err))
}

// keepaliveLoop probes the server every interval. A probe counts as a miss
// when it errors or produces no reply within one interval; maxMisses
// consecutive misses declare the transport dead.
func (c *Client) keepaliveLoop(interval time.Duration, maxMisses int) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		replied := make(chan error, 1)
		go func() {
			_, _, err := c.ssh.SendRequest("keepalive@openssh.com", true, nil)
			replied <- err
		}()

		timeout := time.NewTimer(interval)
		select {
		case <-c.stop:
			timeout.Stop()
			return
		case err := <-replied:
			timeout.Stop()
			if err != nil {
				misses++
				c.log.Debugf("ssh keepalive error for %s (%d/%d): %v", c.addr, misses, maxMisses, err)
			} else {
				misses = 0
			}
		case <-timeout.C:
			misses++
			c.log.Debugf("ssh keepalive timeout for %s (%d/%d)", c.addr, misses, maxMisses)
		}

		if misses >= maxMisses {
			c.log.Warnf("ssh keepalive failed %d times for %s, declaring transport dead", misses, c.addr)
			c.fail(fmt.Errorf("keepalive: %d consecutive probes failed", misses))
			return
		}
	}
}
