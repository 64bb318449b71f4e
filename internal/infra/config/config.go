package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Generator GeneratorConfig `yaml:"generator"`
	Cache     CacheConfig     `yaml:"cache"`
	Sync      SyncConfig      `yaml:"sync"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Store     StoreConfig     `yaml:"store"`
	Drafts    DraftsConfig    `yaml:"drafts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// GeneratorConfig holds settings for the streaming generation backend.
type GeneratorConfig struct {
	Endpoint       string               `yaml:"endpoint"`
	Model          string               `yaml:"model"`
	APIKey         string               `yaml:"api_key"`
	System         string               `yaml:"system"`
	MaxTokens      int                  `yaml:"max_tokens"`
	Temperature    float64              `yaml:"temperature"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the generator.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CacheConfig holds generation cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	MaxAge  time.Duration `yaml:"max_age"` // 0 keeps entries forever
}

// SyncConfig holds remote preview sync settings. An empty URL disables sync.
type SyncConfig struct {
	URL             string        `yaml:"url"`
	Token           string        `yaml:"token"`
	PushTimeout     time.Duration `yaml:"push_timeout"`
	OptimisticRate  float64       `yaml:"optimistic_rate"` // pushes per second, 0 = unlimited
	OptimisticBurst int           `yaml:"optimistic_burst"`
}

// GatewayConfig holds preview gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client HTTP rate limits. Zero RequestsPerMin
// disables limiting.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// StoreConfig holds conversation store settings.
type StoreConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // 0 keeps conversations forever
}

// DraftsConfig holds draft file system settings.
type DraftsConfig struct {
	PagesRoot string `yaml:"pages_root"`
}

// SchedulerConfig holds maintenance job settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single maintenance job.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`   // "cache_prune" or "store_reap"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.docchat.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".docchat")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Generator: GeneratorConfig{
			Endpoint:    "http://localhost:8787/v1",
			Model:       "default",
			System:      "You are docchat, an assistant that edits documentation pages.",
			MaxTokens:   4096,
			ConnTimeout: 10 * time.Second,
			RespTimeout: 120 * time.Second,
			Pool: PoolConfig{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Cache: CacheConfig{
			Enabled: false,
			Dir:     filepath.Join(dataDir, "cache"),
		},
		Sync: SyncConfig{
			PushTimeout:     5 * time.Second,
			OptimisticRate:  10,
			OptimisticBurst: 1,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    ":8090",
			RateLimit: RateLimitConfig{
				RequestsPerMin: 600,
				Burst:          50,
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "conversations.db"),
		},
		Drafts: DraftsConfig{
			PagesRoot: ".",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("DOCCHAT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps DOCCHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCCHAT_GENERATOR_ENDPOINT"); v != "" {
		cfg.Generator.Endpoint = v
	}
	if v := os.Getenv("DOCCHAT_GENERATOR_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
	if v := os.Getenv("DOCCHAT_GENERATOR_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("DOCCHAT_GENERATOR_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generator.MaxTokens = n
		}
	}
	if v := os.Getenv("DOCCHAT_GENERATOR_RESP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Generator.RespTimeout = d
		}
	}
	if v := os.Getenv("DOCCHAT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true"
	}
	if v := os.Getenv("DOCCHAT_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("DOCCHAT_SYNC_URL"); v != "" {
		cfg.Sync.URL = v
	}
	if v := os.Getenv("DOCCHAT_SYNC_TOKEN"); v != "" {
		cfg.Sync.Token = v
	}
	if v := os.Getenv("DOCCHAT_SYNC_PUSH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sync.PushTimeout = d
		}
	}
	if v := os.Getenv("DOCCHAT_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("DOCCHAT_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("DOCCHAT_GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = nil
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  "env-" + strconv.Itoa(i),
			})
		}
	}
	if v := os.Getenv("DOCCHAT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DOCCHAT_DRAFTS_PAGES_ROOT"); v != "" {
		cfg.Drafts.PagesRoot = v
	}
	if v := os.Getenv("DOCCHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DOCCHAT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DOCCHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DOCCHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
