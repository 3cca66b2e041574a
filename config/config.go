// Package config reads the runtime settings of the evaluators from the environment.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the settings that are not part of the recurrence itself.
type Config struct {
	LogLevel  string
	LogPretty bool
	// Host and BasePort place the TCP listeners of launched participants.
	Host     string
	BasePort int
	// DBPath is the sqlite database of benchmark results.
	DBPath string
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, usually os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		LogLevel: get("QCHAIN_LOG_LEVEL", "info"),
		Host:     get("QCHAIN_HOST", "127.0.0.1"),
		DBPath:   get("QCHAIN_DB", "runs/qchain.db"),
	}
	var err error
	if cfg.LogPretty, err = strconv.ParseBool(get("QCHAIN_LOG_PRETTY", "false")); err != nil {
		return Config{}, errors.Wrap(err, "QCHAIN_LOG_PRETTY")
	}
	if cfg.BasePort, err = strconv.Atoi(get("QCHAIN_BASE_PORT", "47100")); err != nil {
		return Config{}, errors.Wrap(err, "QCHAIN_BASE_PORT")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log level %q", c.LogLevel)
	}
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return errors.Errorf("base port %d", c.BasePort)
	}
	if c.Host == "" {
		return errors.New("empty host")
	}
	return nil
}
