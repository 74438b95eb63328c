package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the document backend configuration read by `sefarad serve`.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Auth   AuthConfig   `yaml:"auth"`
	Listen ListenConfig `yaml:"listen"`
	Mock   MockConfig   `yaml:"mock"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	SigningSecret     string        `yaml:"signing_secret"`
	CustomTokenSecret string        `yaml:"custom_token_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	// RefreshWindow is how long after expiry a token may still be refreshed;
	// 0 means no limit.
	RefreshWindow time.Duration `yaml:"refresh_window"`
	// AnonymousEnabled mirrors the provider toggle of a hosted backend.
	AnonymousEnabled bool `yaml:"anonymous_enabled"`
}

type ListenConfig struct {
	SnapshotThrottle time.Duration `yaml:"snapshot_throttle"`
	MaxLimit         int           `yaml:"max_limit"`
	// MaxConnections caps concurrent listeners; 0 means unlimited.
	MaxConnections int `yaml:"max_connections"`
}

type MockConfig struct {
	AppID    string        `yaml:"app_id"`
	Interval time.Duration `yaml:"interval"`
	Seed     int           `yaml:"seed"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Store: StoreConfig{
			Path: ":memory:",
		},
		Auth: AuthConfig{
			SigningSecret:     "dev-signing-secret",
			CustomTokenSecret: "dev-custom-token-secret",
			TokenTTL:          time.Hour,
			RefreshWindow:     7 * 24 * time.Hour,
			AnonymousEnabled:  true,
		},
		Listen: ListenConfig{
			SnapshotThrottle: 100 * time.Millisecond,
			MaxLimit:         100,
			MaxConnections:   256,
		},
		Mock: MockConfig{
			AppID:    DefaultAppID,
			Interval: 5 * time.Second,
			Seed:     5,
		},
	}
}

// Default returns the backend configuration used when no file is given.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.SigningSecret == "" {
		return errors.New("auth.signing_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Listen.MaxLimit <= 0 {
		return errors.New("listen.max_limit must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
