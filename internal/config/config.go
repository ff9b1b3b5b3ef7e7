// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const EnvPrefix = "GAMESYNC_"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Addr                string `env:"ADDR" envDefault:":8080"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev              bool   `env:"LOG_DEV" envDefault:"false"`
	Store               string `env:"STORE" envDefault:"memory"`
	DatabaseURL         string `env:"DATABASE_URL"`
	PrefsPath           string `env:"PREFS_PATH" envDefault:"gamesync-prefs.db"`
	Codec               string `env:"CODEC" envDefault:"zstd"`
	TransactionAttempts int    `env:"TRANSACTION_ATTEMPTS" envDefault:"25"`
	SessionRoot         string `env:"SESSION_ROOT" envDefault:"games"`
	PublicURL           string `env:"PUBLIC_URL"`
}

// Load reads envFile into the process environment when it exists, then
// parses GAMESYNC_* variables. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("listen address is required")
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("store %q requires %sDATABASE_URL", c.Store, EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown store %q (want %q or %q)", c.Store, StoreMemory, StorePostgres)
	}
	switch c.Codec {
	case "zstd", "identity":
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if c.TransactionAttempts < 1 {
		return fmt.Errorf("transaction attempts must be positive: %d", c.TransactionAttempts)
	}
	if strings.Trim(c.SessionRoot, "/") == "" {
		return errors.New("session root is required")
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid public url %q", c.PublicURL)
		}
	}
	return nil
}
