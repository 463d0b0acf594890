package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Cache  string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the resolved configuration the app runs with.
type EffectiveConfigResult struct {
	Config    *Config
	Addr      string
	CachePath string
	Source    string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", "127.0.0.1:8091", "ops HTTP listen address")
	cachePtr := flag.String("cache", "./.chatsync", "local cache path")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, Cache: *cachePtr, Config: *cfgPtr, Set: set}
}

// ApplyEnvOverrides reads CHATSYNC_* env vars onto cfg and reports
// whether any were used.
func ApplyEnvOverrides(cfg *Config) bool {
	used := false
	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHATSYNC_CACHE_PATH"); v != "" {
		used = true
		cfg.Storage.CachePath = v
	}
	if v := os.Getenv("CHATSYNC_API_BASE_URL"); v != "" {
		used = true
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_API_KEY"); v != "" {
		used = true
		cfg.API.Key = v
	}
	if v := os.Getenv("CHATSYNC_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.API.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("CHATSYNC_API_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			used = true
			cfg.API.Rate.RPS = f
		}
	}
	if v := os.Getenv("CHATSYNC_API_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.API.Rate.Burst = n
		}
	}
	if v := os.Getenv("CHATSYNC_REALTIME_URL"); v != "" {
		used = true
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("CHATSYNC_REALTIME_KEY"); v != "" {
		used = true
		cfg.Realtime.Key = v
	}
	if v := os.Getenv("CHATSYNC_SELF_ID"); v != "" {
		used = true
		cfg.Sync.SelfID = v
	}
	if v := os.Getenv("CHATSYNC_REFETCH_CRON"); v != "" {
		used = true
		cfg.Sync.RefetchCron = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CHATSYNC_LOG_FORMAT"); v != "" {
		used = true
		cfg.Logging.Format = strings.ToLower(strings.TrimSpace(v))
	}
	return used
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// CHATSYNC_CONFIG, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATSYNC_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// LoadEffective merges file, env and flags into the effective config the
// app runs with.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	source := "config"
	if err != nil {
		// missing file is fine unless the user pointed at it explicitly
		if flags.Set["config"] {
			return EffectiveConfigResult{}, err
		}
		cfg = &Config{}
		source = "flags"
	}
	if ApplyEnvOverrides(cfg) {
		source = "env"
	}

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
		source = "flags"
	}
	cachePath := cfg.Storage.CachePath
	if cachePath == "" || flags.Set["cache"] {
		cachePath = flags.Cache
	}
	return EffectiveConfigResult{Config: cfg, Addr: addr, CachePath: cachePath, Source: source}, nil
}
