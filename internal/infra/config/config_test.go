package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Generator.Model != "default" {
		t.Errorf("Generator.Model = %q, want %q", cfg.Generator.Model, "default")
	}
	if cfg.Sync.PushTimeout != 5*time.Second {
		t.Errorf("Sync.PushTimeout = %v, want 5s", cfg.Sync.PushTimeout)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled by default")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generator.MaxTokens != 4096 {
		t.Errorf("expected defaults, got MaxTokens=%d", cfg.Generator.MaxTokens)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
generator:
  endpoint: "https://gen.example.com/v1"
  model: "docs-large"
  api_key: "test-key"
  resp_timeout: 30s
cache:
  enabled: true
  dir: "/tmp/docchat-cache"
sync:
  url: "ws://localhost:9000/sync"
  push_timeout: 2s
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generator.Model != "docs-large" {
		t.Errorf("Model = %q, want %q", cfg.Generator.Model, "docs-large")
	}
	if cfg.Generator.RespTimeout != 30*time.Second {
		t.Errorf("RespTimeout = %v, want 30s", cfg.Generator.RespTimeout)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Dir != "/tmp/docchat-cache" {
		t.Errorf("Cache mismatch: %+v", cfg.Cache)
	}
	if cfg.Sync.PushTimeout != 2*time.Second {
		t.Errorf("Sync.PushTimeout = %v, want 2s", cfg.Sync.PushTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Generator.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want default 4096", cfg.Generator.MaxTokens)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("generator: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidValuesFailValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  url: \"http://not-a-socket\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCCHAT_GENERATOR_MODEL", "env-model")
	t.Setenv("DOCCHAT_LOGGER_LEVEL", "debug")
	t.Setenv("DOCCHAT_SYNC_PUSH_TIMEOUT", "750ms")
	t.Setenv("DOCCHAT_CACHE_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Generator.Model != "env-model" {
		t.Errorf("Model = %q, want %q", cfg.Generator.Model, "env-model")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Sync.PushTimeout != 750*time.Millisecond {
		t.Errorf("PushTimeout = %v, want 750ms", cfg.Sync.PushTimeout)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should be enabled")
	}
}

func TestEnvOverridesIgnoreInvalidDuration(t *testing.T) {
	t.Setenv("DOCCHAT_GENERATOR_RESP_TIMEOUT", "soon")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Generator.RespTimeout != 120*time.Second {
		t.Errorf("RespTimeout = %v, want default", cfg.Generator.RespTimeout)
	}
}

func TestEnvOverridesGatewayTokens(t *testing.T) {
	t.Setenv("DOCCHAT_GATEWAY_TOKENS", "alpha, beta,")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Gateway.Auth.Type != "static" {
		t.Errorf("Auth.Type = %q, want static", cfg.Gateway.Auth.Type)
	}
	if len(cfg.Gateway.Auth.Tokens) != 2 {
		t.Fatalf("tokens = %+v, want 2", cfg.Gateway.Auth.Tokens)
	}
	if cfg.Gateway.Auth.Tokens[1].Token != "beta" {
		t.Errorf("second token = %q, want beta", cfg.Gateway.Auth.Tokens[1].Token)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0644, false},
		{0664, true},
		{0666, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.mode.String())
		if err := os.WriteFile(path, nil, tt.mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}
}
