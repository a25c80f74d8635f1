// Package config loads the concierge runtime configuration from a YAML file
// and CONCIERGE_* environment overrides.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/concierge/pkg/orders"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONCIERGE_"

// Config is the full runtime configuration.
type Config struct {
	Log        LogConfig         `yaml:"log"`
	Store      StoreConfig       `yaml:"store"`
	Engine     EngineConfig      `yaml:"engine"`
	Executor   ExecutorConfig    `yaml:"executor"`
	Orders     OrdersConfig      `yaml:"orders"`
	Security   SecurityConfig    `yaml:"security"`
	HTTP       HTTPConfig        `yaml:"http"`
	Tracing    TracingConfig     `yaml:"tracing"`
	AgentGraph string            `yaml:"agent_graph"`
	Rules      string            `yaml:"rules"`
	Inventory  orders.MockConfig `yaml:"inventory"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects where session state and journals live.
type StoreConfig struct {
	Backend string        `yaml:"backend"` // memory, file, redis or sqlite
	Dir     string        `yaml:"dir"`
	Redis   RedisConfig   `yaml:"redis"`
	SQLite  string        `yaml:"sqlite_dsn"`
	Lock    bool          `yaml:"distributed_lock"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// EngineConfig selects the reasoning engine.
type EngineConfig struct {
	Kind        string  `yaml:"kind"` // rules or openai
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// APIKey reads the engine key from the configured environment variable.
func (e EngineConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

type ExecutorConfig struct {
	MaxTurns          int  `yaml:"max_turns"`
	ContinueOnHandoff bool `yaml:"continue_on_handoff"`
	MaxInputSize      int  `yaml:"max_input_size"`
	// DenyTools are answered with a policy refusal instead of running.
	DenyTools []string `yaml:"deny_tools"`
}

// OrdersConfig selects the order backend and the resilience around it.
type OrdersConfig struct {
	Backend string               `yaml:"backend"` // local or http
	BaseURL string               `yaml:"base_url"`
	Timeout time.Duration        `yaml:"timeout"`
	Retry   orders.RetryPolicy   `yaml:"retry"`
	Breaker orders.BreakerConfig `yaml:"breaker"`
}

type SecurityConfig struct {
	// EncryptionKey is a hex encoded 32 byte AES-256 key. Empty disables encryption.
	EncryptionKey  string   `yaml:"encryption_key"`
	FallbackKeys   []string `yaml:"fallback_keys"`
	PII            bool     `yaml:"pii"`
	PIIKeyPatterns []string `yaml:"pii_key_patterns"`
}

type HTTPConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

// Default returns a configuration that runs fully offline.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend: "file",
			Dir:     ".concierge",
			Redis:   RedisConfig{Addr: "localhost:6379"},
			SQLite:  "concierge.db",
			LockTTL: 30 * time.Second,
		},
		Engine: EngineConfig{
			Kind:      "rules",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Executor: ExecutorConfig{MaxTurns: 10, ContinueOnHandoff: true},
		Orders: OrdersConfig{
			Backend: "local",
			Timeout: 10 * time.Second,
			Retry:   orders.DefaultRetryPolicy(),
		},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Tracing:   TracingConfig{Service: "concierge"},
		Inventory: orders.DefaultMockConfig(),
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = nil
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*dst = append(*dst, item)
				}
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STORE", &c.Store.Backend)
	str("STORE_DIR", &c.Store.Dir)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	num("REDIS_DB", &c.Store.Redis.DB)
	str("REDIS_PREFIX", &c.Store.Redis.Prefix)
	str("SQLITE_DSN", &c.Store.SQLite)
	flag("DISTRIBUTED_LOCK", &c.Store.Lock)
	str("ENGINE", &c.Engine.Kind)
	str("MODEL", &c.Engine.Model)
	str("OPENAI_BASE_URL", &c.Engine.BaseURL)
	num("MAX_TURNS", &c.Executor.MaxTurns)
	num("MAX_INPUT_SIZE", &c.Executor.MaxInputSize)
	list("DENY_TOOLS", &c.Executor.DenyTools)
	str("ORDERS_BACKEND", &c.Orders.Backend)
	str("ORDERS_URL", &c.Orders.BaseURL)
	str("ENCRYPTION_KEY", &c.Security.EncryptionKey)
	flag("PII", &c.Security.PII)
	str("HTTP_ADDR", &c.HTTP.Addr)
	flag("TRACING", &c.Tracing.Enabled)

	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory", "file", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Engine.Kind {
	case "rules", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", c.Engine.Kind))
	}
	switch c.Orders.Backend {
	case "local":
	case "http":
		if c.Orders.BaseURL == "" {
			errs = append(errs, errors.New("orders backend http requires base_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown orders backend %q", c.Orders.Backend))
	}
	if c.Executor.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("max_turns must be positive, got %d", c.Executor.MaxTurns))
	}
	if c.Store.Lock && c.Store.Backend != "redis" {
		errs = append(errs, errors.New("distributed_lock requires the redis store"))
	}
	if _, _, err := c.Security.Keys(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Keys decodes the encryption keys. A nil active key means encryption is off.
func (s SecurityConfig) Keys() ([]byte, [][]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err := decodeKey(s.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption_key: %w", err)
	}
	var fallbacks [][]byte
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback_keys[%d]: %w", i, err)
		}
		fallbacks = append(fallbacks, key)
	}
	return active, fallbacks, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
