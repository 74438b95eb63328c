package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAppID    = "sefarad-mx-default-id"
	DefaultEndpoint = "http://127.0.0.1:8080"
)

// Environment variables read by ApplyEnv.
const (
	EnvAppID          = "SEFARAD_APP_ID"
	EnvBackendConfig  = "SEFARAD_BACKEND_CONFIG"
	EnvBootstrapToken = "SEFARAD_AUTH_TOKEN"
	EnvIDToken        = "SEFARAD_ID_TOKEN"
)

// ErrConfigMissing means no backend configuration was supplied. It is fatal.
var ErrConfigMissing = errors.New("configuration missing: backend config is not available")

// Client is the configuration handed to the session-sync controller. It is
// built once by the CLI and passed in explicitly.
type Client struct {
	AppID         string         `yaml:"app_id"`
	BackendConfig map[string]any `yaml:"backend_config"`
	// BootstrapToken is a custom sign-in token. Empty means none.
	BootstrapToken string `yaml:"bootstrap_token"`
	// IDToken resumes an existing backend session when set.
	IDToken string `yaml:"id_token"`

	LogLevel         string        `yaml:"log_level"`
	AuthTimeout      time.Duration `yaml:"auth_timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	WatchInterval    time.Duration `yaml:"watch_interval"`
	Retry            RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	// MaxAttempts bounds consecutive resubscribe attempts; 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultClient returns a client configuration with no backend config, which
// the controller treats as ErrConfigMissing.
func DefaultClient() Client {
	return Client{
		AppID:            DefaultAppID,
		BackendConfig:    map[string]any{},
		LogLevel:         "info",
		AuthTimeout:      10 * time.Second,
		SubscribeTimeout: 15 * time.Second,
		WatchInterval:    30 * time.Second,
		Retry: RetryConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 8,
		},
	}
}

// LoadClient reads a YAML client configuration on top of DefaultClient.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
	}
	if cfg.BackendConfig == nil {
		cfg.BackendConfig = map[string]any{}
	}
	return cfg, nil
}

// ParseBackendConfig decodes the injected backend config JSON string. An empty
// string yields an empty object.
func ParseBackendConfig(raw string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse backend config: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ApplyEnv overrides fields from the given lookup (normally os.LookupEnv).
func (c *Client) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAppID); ok && v != "" {
		c.AppID = v
	}
	if v, ok := lookup(EnvBackendConfig); ok {
		bc, err := ParseBackendConfig(v)
		if err != nil {
			return err
		}
		c.BackendConfig = bc
	}
	if v, ok := lookup(EnvBootstrapToken); ok {
		c.BootstrapToken = v
	}
	if v, ok := lookup(EnvIDToken); ok {
		c.IDToken = v
	}
	return nil
}

// Validate reports ErrConfigMissing when the backend config object is empty.
func (c Client) Validate() error {
	if len(c.BackendConfig) == 0 {
		return ErrConfigMissing
	}
	return nil
}

// Endpoint returns the backend base URL from the "endpoint" key of the
// backend config.
func (c Client) Endpoint() string {
	if v, ok := c.BackendConfig["endpoint"].(string); ok && v != "" {
		return strings.TrimRight(v, "/")
	}
	return DefaultEndpoint
}

// ProjectID returns the "projectId" key of the backend config, if any.
func (c Client) ProjectID() string {
	v, _ := c.BackendConfig["projectId"].(string)
	return v
}

func (c Client) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to slog. Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if n, err := strconv.Atoi(name); err == nil {
			return slog.Level(n)
		}
		return slog.LevelInfo
	}
}
