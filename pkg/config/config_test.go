package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pairlink/pkg/config"

	"github.com/stretchr/testify/assert"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load("non-existent-config.yaml")
	assert.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":8081", cfg.Signal.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Client.NegotiationTimeout)
	assert.Equal(t, 64, cfg.Client.CandidateBufferCap)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

signal:
  address: ":9001"
  ping_interval: 5s
  pong_timeout: 10s

client:
  connect_timeout: 4s
  join_timeout: 6s
  reconnect_attempts: 5
  reconnect_delay: 1s
  negotiation_timeout: 20s
  candidate_buffer_cap: 32

rate_limiting:
  enabled: true
  rooms_per_minute: 3
  burst: 2

logging:
  level: "debug"
  format: "json"
`)

	// Set env overrides
	t.Setenv("PAIRLINK_SERVER_ADDRESS", ":7000")
	t.Setenv("PAIRLINK_SIGNAL_ADDRESS", ":7001")
	t.Setenv("PAIRLINK_LOG_LEVEL", "warn")
	t.Setenv("PAIRLINK_TURN_SERVER_URL", "turn:turn.example.com:3478")

	cfg, err := config.Load(path)
	assert.NoError(t, err)

	// YAML values
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 4*time.Second, cfg.Client.ConnectTimeout)
	assert.Equal(t, 6*time.Second, cfg.Client.JoinTimeout)
	assert.Equal(t, 5, cfg.Client.ReconnectAttempts)
	assert.Equal(t, 20*time.Second, cfg.Client.NegotiationTimeout)
	assert.Equal(t, 32, cfg.Client.CandidateBufferCap)
	assert.Equal(t, 3, cfg.RateLimiting.RoomsPerMinute)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Env overrides
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, ":7001", cfg.Signal.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "turn:turn.example.com:3478", cfg.WebRTC.TURNServerURL)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ""
  read_timeout: 0s
  write_timeout: 0s

signal:
  address: ""
  ping_interval: 0s
  pong_timeout: 0s

client:
  connect_timeout: 0s
  join_timeout: 0s
  negotiation_timeout: 0s
  candidate_buffer_cap: 0

logging:
  level: ""
`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate_PongTimeoutMustExceedPingInterval(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 10 * time.Second

	assert.Error(t, cfg.Validate())
}
