package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins:
    - "http://localhost:3000"
store:
  path: "/tmp/sefarad.db"
auth:
  token_ttl: 30m
listen:
  snapshot_throttle: 250ms
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server.AllowedOrigins = %v, want 1 entry", cfg.Server.AllowedOrigins)
	}
	if cfg.Store.Path != "/tmp/sefarad.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 30m", cfg.Auth.TokenTTL)
	}
	if cfg.Listen.SnapshotThrottle != 250*time.Millisecond {
		t.Errorf("Listen.SnapshotThrottle = %v, want 250ms", cfg.Listen.SnapshotThrottle)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Auth.SigningSecret == "" {
		t.Error("Auth.SigningSecret should have default")
	}
	if !cfg.Auth.AnonymousEnabled {
		t.Error("Auth.AnonymousEnabled should default to true")
	}
	if cfg.Listen.MaxLimit != 100 {
		t.Errorf("Listen.MaxLimit = %d, want default 100", cfg.Listen.MaxLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q, want :memory:", cfg.Store.Path)
	}
	if cfg.Mock.AppID != DefaultAppID {
		t.Errorf("Mock.AppID = %q, want %q", cfg.Mock.AppID, DefaultAppID)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"empty secret", func(c *Config) { c.Auth.SigningSecret = "" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"zero max limit", func(c *Config) { c.Listen.MaxLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestParseBackendConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"empty string", "", 0, false},
		{"whitespace", "   ", 0, false},
		{"empty object", "{}", 0, false},
		{"null", "null", 0, false},
		{"populated", `{"apiKey":"k","projectId":"sefarad","endpoint":"http://x"}`, 3, false},
		{"invalid", `{"apiKey":`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBackendConfig(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestClientValidate(t *testing.T) {
	cfg := DefaultClient()
	if err := cfg.Validate(); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("Validate() = %v, want ErrConfigMissing", err)
	}

	cfg.BackendConfig = map[string]any{"projectId": "sefarad"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestClientApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAppID:          "tenant-a",
		EnvBackendConfig:  `{"endpoint":"http://backend:9000/"}`,
		EnvBootstrapToken: "tok",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultClient()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.AppID != "tenant-a" {
		t.Errorf("AppID = %q", cfg.AppID)
	}
	if cfg.BootstrapToken != "tok" {
		t.Errorf("BootstrapToken = %q", cfg.BootstrapToken)
	}
	if cfg.Endpoint() != "http://backend:9000" {
		t.Errorf("Endpoint() = %q", cfg.Endpoint())
	}

	env[EnvBackendConfig] = "not json"
	cfg = DefaultClient()
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("ApplyEnv() with invalid JSON should return error")
	}
}

func TestClientDefaults(t *testing.T) {
	cfg := DefaultClient()
	if cfg.AppID != DefaultAppID {
		t.Errorf("AppID = %q, want %q", cfg.AppID, DefaultAppID)
	}
	if cfg.Endpoint() != DefaultEndpoint {
		t.Errorf("Endpoint() = %q, want %q", cfg.Endpoint(), DefaultEndpoint)
	}
	if cfg.BootstrapToken != "" {
		t.Error("BootstrapToken should default to empty")
	}
}

func TestLoadClient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	yaml := `
app_id: sefarad-prod
backend_config:
  projectId: sefarad
  endpoint: http://127.0.0.1:9999
log_level: debug
retry:
  max_attempts: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error: %v", err)
	}
	if cfg.AppID != "sefarad-prod" {
		t.Errorf("AppID = %q", cfg.AppID)
	}
	if cfg.ProjectID() != "sefarad" {
		t.Errorf("ProjectID() = %q", cfg.ProjectID())
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	// Unset fields keep defaults.
	if cfg.AuthTimeout != 10*time.Second {
		t.Errorf("AuthTimeout = %v, want 10s", cfg.AuthTimeout)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"-4", slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
