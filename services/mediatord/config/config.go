package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for mediatord.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Environment   string        `yaml:"env"`
	LogLevel      string        `yaml:"log_level"`
	LogFile       LogFile       `yaml:"log_file"`
	BridgeConfig  string        `yaml:"bridge_config"`
	DataDir       string        `yaml:"data_dir"`
	Relayer       RelayerConfig `yaml:"relayer"`
	Admin         AdminConfig   `yaml:"admin"`
	Index         IndexConfig   `yaml:"index"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
	Stream        StreamConfig  `yaml:"stream"`
}

// LogFile enables a rotated JSON log file next to stdout.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StreamConfig sizes the websocket event feed.
type StreamConfig struct {
	Buffer int `yaml:"buffer"`
}

// RelayerConfig tunes the delivery loop between the two sides.
type RelayerConfig struct {
	Interval  Duration `yaml:"interval"`
	PerSecond float64  `yaml:"per_second"`
	Burst     int      `yaml:"burst"`
	Paused    bool     `yaml:"paused"`
}

// AdminConfig controls bearer authentication of the admin routes.
type AdminConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`
}

// IndexConfig points at the sqlite database holding the event index.
type IndexConfig struct {
	DSN string `yaml:"dsn"`
}

// RateLimit bounds requests per client on the HTTP API.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a configuration suitable for a local in-memory bridge.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.BridgeConfig == "" {
		cfg.BridgeConfig = "bridge.toml"
	}
	if cfg.Relayer.Interval.Duration == 0 {
		cfg.Relayer.Interval.Duration = 2 * time.Second
	}
	if cfg.Relayer.Burst <= 0 {
		cfg.Relayer.Burst = 16
	}
	if cfg.Admin.ClockSkew.Duration == 0 {
		cfg.Admin.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Admin.Audience == "" {
		cfg.Admin.Audience = "mediatord"
	}
	if cfg.Index.DSN == "" {
		cfg.Index.DSN = "file::memory:?cache=shared"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 60
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 64
	}
	if cfg.LogFile.Path != "" {
		if cfg.LogFile.MaxSizeMB <= 0 {
			cfg.LogFile.MaxSizeMB = 100
		}
		if cfg.LogFile.MaxBackups <= 0 {
			cfg.LogFile.MaxBackups = 5
		}
		if cfg.LogFile.MaxAgeDays <= 0 {
			cfg.LogFile.MaxAgeDays = 28
		}
	}
}

func validate(cfg Config) error {
	if cfg.Relayer.Interval.Duration < 0 {
		return fmt.Errorf("relayer.interval must not be negative")
	}
	if cfg.Relayer.PerSecond < 0 {
		return fmt.Errorf("relayer.per_second must not be negative")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if secret := strings.TrimSpace(cfg.Admin.JWTSecret); secret != "" && len(secret) < 32 {
		return fmt.Errorf("admin.jwt_secret must be at least 32 bytes")
	}
	return nil
}
