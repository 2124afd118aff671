package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds all runtime configuration. Every field is read from the
// environment by Load; variable names are unprefixed and match the tag.
type Settings struct {
	Port            int      `envconfig:"PORT" default:"8080"`
	BasePath        string   `envconfig:"BASE_PATH" default:""`
	IdleTimeoutMs   int64    `envconfig:"IDLE_TIMEOUT_MS" default:"600000"`
	SweepIntervalMs int64    `envconfig:"SWEEP_INTERVAL_MS" default:"30000"`
	MaxConnections  int      `envconfig:"MAX_CONNECTIONS" default:"100"`
	SSEHeartbeatMs  int64    `envconfig:"SSE_HEARTBEAT_MS" default:"15000"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// SSH transport settings
	SSHReadyTimeoutMs int64 `envconfig:"SSH_READY_TIMEOUT_MS" default:"20000"`
	SSHKeepaliveMs    int64 `envconfig:"SSH_KEEPALIVE_MS" default:"15000"`
	SSHKeepaliveMax   int   `envconfig:"SSH_KEEPALIVE_MAX" default:"3"`

	// Logging settings
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogPath  string `envconfig:"LOG_PATH" default:""`
}

var Cfg Settings

func Load() error {
	if err := envconfig.Process("", &Cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	Cfg.BasePath = NormalizeBasePath(Cfg.BasePath)
	if err := Cfg.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (s Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", s.Port)
	}
	if s.MaxConnections < 1 {
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", s.MaxConnections)
	}
	if s.SweepIntervalMs < 1 {
		return fmt.Errorf("config: SWEEP_INTERVAL_MS must be positive, got %d", s.SweepIntervalMs)
	}
	if s.SSEHeartbeatMs < 1 {
		return fmt.Errorf("config: SSE_HEARTBEAT_MS must be positive, got %d", s.SSEHeartbeatMs)
	}
	return nil
}

// NormalizeBasePath canonicalizes a URL prefix: leading slash, no trailing
// slash. Empty input (or a bare "/") means the server is mounted at root.
func NormalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// IdleTimeout returns the default per-session idle budget.
func (s Settings) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// SweepInterval returns the idle sweeper period.
func (s Settings) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalMs) * time.Millisecond
}

// SSEHeartbeat returns the event-stream liveness tick period.
func (s Settings) SSEHeartbeat() time.Duration {
	return time.Duration(s.SSEHeartbeatMs) * time.Millisecond
}

// SSHReadyTimeout returns how long an SSH connect may take before it fails.
func (s Settings) SSHReadyTimeout() time.Duration {
	return time.Duration(s.SSHReadyTimeoutMs) * time.Millisecond
}

// SSHKeepalive returns the interval between SSH keepalive probes.
func (s Settings) SSHKeepalive() time.Duration {
	return time.Duration(s.SSHKeepaliveMs) * time.Millisecond
}

// AllowAllOrigins reports whether the origin allow-list contains "*".
func (s Settings) AllowAllOrigins() bool {
	for _, o := range s.AllowedOrigins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// OriginAllowed reports whether the given Origin header value is permitted.
func (s Settings) OriginAllowed(origin string) bool {
	if s.AllowAllOrigins() {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}
