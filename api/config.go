/*
config.go - Host configuration via koanf

PURPOSE:
  Layered configuration: struct defaults, then an optional YAML file, then
  VARIANCE_-prefixed environment variables (VARIANCE_PORT=9090 overrides
  port). Unknown keys are ignored.
*/
package api

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "VARIANCE_"

// Config holds the host-level settings for the server and scheduler.
type Config struct {
	Port                 int           `koanf:"port"`
	DBPath               string        `koanf:"db_path"`
	LogLevel             string        `koanf:"log_level"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
	SweepEnabled         bool          `koanf:"sweep_enabled"`
	SweepWorkers         int           `koanf:"sweep_workers"`
	FiscalYearStartMonth int           `koanf:"fiscal_year_start_month"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:                 8080,
		DBPath:               "variance.db",
		LogLevel:             "info",
		SweepInterval:        time.Hour,
		SweepEnabled:         true,
		SweepWorkers:         4,
		FiscalYearStartMonth: 4, // April
	}
}

// LoadConfig layers file and environment settings over the defaults.
// An empty path skips the file layer.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return cfg, err
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
