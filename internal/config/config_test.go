package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Executor.MaxTurns)
	assert.Equal(t, "rules", cfg.Engine.Kind)
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: redis
  redis:
    addr: redis:6379
    ttl: 24h
  distributed_lock: true
executor:
  max_turns: 4
  deny_tools: [cancel_order]
orders:
  retry:
    max_attempts: 5
    base_delay: 50ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, 4, cfg.Executor.MaxTurns)
	assert.Equal(t, []string{"cancel_order"}, cfg.Executor.DenyTools)
	assert.Equal(t, 5, cfg.Orders.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Orders.Retry.BaseDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, "rules", cfg.Engine.Kind)
	assert.True(t, cfg.Executor.ContinueOnHandoff)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"CONCIERGE_STORE":      "sqlite",
		"CONCIERGE_MAX_TURNS":  "3",
		"CONCIERGE_PII":        "true",
		"CONCIERGE_LOG_LEVEL":  "debug",
		"CONCIERGE_DENY_TOOLS": "execute_order, cancel_order,",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"execute_order", "cancel_order"}, cfg.Executor.DenyTools)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Executor.MaxTurns)
	assert.True(t, cfg.Security.PII)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"CONCIERGE_MAX_TURNS": "ten",
		"CONCIERGE_TRACING":   "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONCIERGE_MAX_TURNS")
	assert.Contains(t, err.Error(), "CONCIERGE_TRACING")
}

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "mongo"
	cfg.Engine.Kind = "oracle"
	cfg.Orders.Backend = "http"
	cfg.Executor.MaxTurns = 0
	cfg.Security.EncryptionKey = "abcd"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown store backend "mongo"`,
		`unknown engine "oracle"`,
		"requires base_url",
		"max_turns must be positive",
		"key must be 32 bytes",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_LockNeedsRedis(t *testing.T) {
	cfg := Default()
	cfg.Store.Lock = true
	assert.ErrorContains(t, cfg.Validate(), "distributed_lock requires the redis store")
}

func TestSecurityKeys(t *testing.T) {
	active := strings.Repeat("ab", 32)
	old := strings.Repeat("01", 32)
	s := SecurityConfig{EncryptionKey: active, FallbackKeys: []string{old}}

	key, fallbacks, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, key, 32)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, byte(0x01), fallbacks[0][0])

	key, _, err = SecurityConfig{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, key)

	_, _, err = SecurityConfig{EncryptionKey: active, FallbackKeys: []string{"zz"}}.Keys()
	assert.ErrorContains(t, err, "fallback_keys[0]")
}
