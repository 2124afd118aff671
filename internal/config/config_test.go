package config

import (
	"os"
	"testing"
	"time"
)

// clearEnv removes the given variables for the duration of the test.
// t.Setenv registers the restore; the explicit Unsetenv makes envconfig
// fall back to tag defaults.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "BASE_PATH", "IDLE_TIMEOUT_MS", "SWEEP_INTERVAL_MS",
		"MAX_CONNECTIONS", "SSE_HEARTBEAT_MS", "ALLOWED_ORIGINS",
		"SSH_READY_TIMEOUT_MS", "SSH_KEEPALIVE_MS", "SSH_KEEPALIVE_MAX",
		"LOG_LEVEL", "LOG_PATH")

	if err := Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if Cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", Cfg.Port)
	}
	if Cfg.BasePath != "" {
		t.Errorf("BasePath = %q, want empty", Cfg.BasePath)
	}
	if Cfg.IdleTimeout() != 10*time.Minute {
		t.Errorf("IdleTimeout = %s, want 10m", Cfg.IdleTimeout())
	}
	if Cfg.SweepInterval() != 30*time.Second {
		t.Errorf("SweepInterval = %s, want 30s", Cfg.SweepInterval())
	}
	if Cfg.MaxConnections != 100 {
		t.Errorf("MaxConnections = %d, want 100", Cfg.MaxConnections)
	}
	if !Cfg.AllowAllOrigins() {
		t.Error("AllowAllOrigins() = false, want true for default *")
	}
	if Cfg.SSEHeartbeat() != 15*time.Second {
		t.Errorf("SSEHeartbeat = %s, want 15s", Cfg.SSEHeartbeat())
	}
	if Cfg.SSHReadyTimeout() != 20*time.Second {
		t.Errorf("SSHReadyTimeout = %s, want 20s", Cfg.SSHReadyTimeout())
	}
	if Cfg.SSHKeepalive() != 15*time.Second {
		t.Errorf("SSHKeepalive = %s, want 15s", Cfg.SSHKeepalive())
	}
	if Cfg.SSHKeepaliveMax != 3 {
		t.Errorf("SSHKeepaliveMax = %d, want 3", Cfg.SSHKeepaliveMax)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("BASE_PATH", "api/term/")
	t.Setenv("IDLE_TIMEOUT_MS", "1500")
	t.Setenv("SWEEP_INTERVAL_MS", "250")
	t.Setenv("MAX_CONNECTIONS", "2")
	t.Setenv("SSE_HEARTBEAT_MS", "500")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example,http://b.example")

	if err := Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if Cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", Cfg.Port)
	}
	if Cfg.BasePath != "/api/term" {
		t.Errorf("BasePath = %q, want /api/term", Cfg.BasePath)
	}
	if Cfg.IdleTimeoutMs != 1500 {
		t.Errorf("IdleTimeoutMs = %d, want 1500", Cfg.IdleTimeoutMs)
	}
	if Cfg.MaxConnections != 2 {
		t.Errorf("MaxConnections = %d, want 2", Cfg.MaxConnections)
	}
	if Cfg.AllowAllOrigins() {
		t.Error("AllowAllOrigins() = true, want false for explicit list")
	}
	if !Cfg.OriginAllowed("http://b.example") {
		t.Error("OriginAllowed(http://b.example) = false, want true")
	}
	if Cfg.OriginAllowed("http://evil.example") {
		t.Error("OriginAllowed(http://evil.example) = true, want false")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PORT", "0")
	if err := Load(); err == nil {
		t.Error("Load() with PORT=0 should fail")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_CONNECTIONS", "0")
	if err := Load(); err == nil {
		t.Error("Load() with MAX_CONNECTIONS=0 should fail")
	}
}

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"//", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"api/v1/", "/api/v1"},
		{"  /api  ", "/api"},
	}
	for _, tt := range tests {
		if got := NormalizeBasePath(tt.in); got != tt.want {
			t.Errorf("NormalizeBasePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOriginAllowedTrimsEntries(t *testing.T) {
	s := Settings{AllowedOrigins: []string{" http://a.example ", "http://b.example"}}
	if !s.OriginAllowed("http://a.example") {
		t.Error("whitespace-padded allow-list entry should match")
	}
}
