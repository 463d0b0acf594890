// Package config loads chatsync configuration from a YAML file with
// CHATSYNC_* environment overrides and command-line flags. Flags win over
// env, env wins over file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Sync       SyncConfig       `yaml:"sync"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the local ops HTTP surface settings (healthz,
// metrics, local conversation view).
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig holds the durable cache location.
type StorageConfig struct {
	CachePath string `yaml:"cache_path"`
}

// Duration accepts human-friendly strings ("5s", "2m") or bare seconds
// in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// APIConfig holds REST backend settings.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Key     string   `yaml:"key"`
	Timeout Duration `yaml:"timeout"`
	Rate    struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate"`
}

// RealtimeConfig holds the websocket transport settings.
type RealtimeConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// SyncConfig holds reconciliation behavior knobs.
type SyncConfig struct {
	// SelfID identifies the current user for optimistic sends.
	SelfID string `yaml:"self_id"`
	// RefetchCron schedules a periodic authoritative refetch per open
	// conversation; empty disables it.
	RefetchCron string `yaml:"refetch_cron"`
	// QueueCapacity bounds each session's pending-op queue.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ValidationConfig holds raw-payload validation limits.
type ValidationConfig struct {
	MaxContentLen    int  `yaml:"max_content_len"`
	MaxMediaRefs     int  `yaml:"max_media_refs"`
	RequireTimestamp bool `yaml:"require_timestamp"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// Addr returns host:port for the ops HTTP surface.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8091
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
