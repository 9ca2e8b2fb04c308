package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g.
// TERALINK_BROWSER_MAX_SESSIONS=8. PORT, CHROME_PATH and COOKIES_FILE are
// also honoured unprefixed.
const EnvPrefix = "TERALINK"

// applyEnv overlays environment variables onto cfg. Unset variables leave
// the file values untouched.
func applyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}

// Usage prints the recognised environment variables.
func Usage() error {
	var cfg Config
	return envconfig.Usage(EnvPrefix, &cfg)
}
