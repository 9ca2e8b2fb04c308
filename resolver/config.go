package resolver

import "github.com/hazyhaar/teralink/resolver/internal/config"

// Config is the teralink configuration.
type Config = config.Config

// LoadConfig reads the YAML file at path (empty: none), applies TERALINK_
// environment overrides and fills defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// PrintEnvUsage writes the recognised environment variables to stdout.
func PrintEnvUsage() error { return config.Usage() }
