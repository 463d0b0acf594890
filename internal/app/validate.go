package app

import (
	"fmt"
	"strings"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
)

// validateConfig fails fast on configurations that cannot work.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.CachePath == "" {
		return fmt.Errorf("cache path is required (--cache or CHATSYNC_CACHE_PATH)")
	}
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	if u := cfg.Realtime.URL; u != "" {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("realtime url must be ws:// or wss://: %s", u)
		}
	}
	if u := cfg.API.BaseURL; u != "" {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("api base_url must be http:// or https://: %s", u)
		}
		if cfg.Sync.SelfID == "" {
			return fmt.Errorf("sync.self_id is required when the REST API is configured")
		}
	}
	if c := cfg.Sync.RefetchCron; c != "" && !gronx.IsValid(c) {
		return fmt.Errorf("invalid sync.refetch_cron expression: %s", c)
	}
	return nil
}
