package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppEnv        = "dev"
	defaultDBPath        = "./dev.db"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultDebounce      = 300 * time.Millisecond
	defaultPriceDecimals = 2
	defaultLookupTimeout = 2 * time.Second
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	AppEnv        string
	DBPath        string
	Port          string
	LogLevel      string
	Debounce      time.Duration
	PriceDecimals int32
	LookupTimeout time.Duration

	// Warnings collects problems found while loading. They are logged once the
	// logger exists.
	Warnings []string
}

// IsDev reports whether the server runs in development mode, where it migrates
// and seeds its own database at startup.
func (c Config) IsDev() bool {
	return c.AppEnv == "" || c.AppEnv == "dev" || c.AppEnv == "development"
}

// Load reads .env (if present) and the environment.
func Load() Config {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. Variables already set in the
// environment win over the file.
func LoadFile(path string) Config {
	var cfg Config
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cfg.warn("read %s: %v", path, err)
	}

	cfg.AppEnv = stringEnv("APP_ENV", defaultAppEnv)
	cfg.DBPath = stringEnv("DB_PATH", defaultDBPath)
	cfg.Port = stringEnv("PORT", defaultPort)
	cfg.LogLevel = stringEnv("LOG_LEVEL", defaultLogLevel)
	cfg.Debounce = cfg.millisEnv("DEBOUNCE_MS", defaultDebounce)
	cfg.LookupTimeout = cfg.millisEnv("PRICE_LOOKUP_TIMEOUT_MS", defaultLookupTimeout)

	cfg.PriceDecimals = defaultPriceDecimals
	if raw := os.Getenv("PRICE_DECIMALS"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 0 || n > 8 {
			cfg.warn("PRICE_DECIMALS=%q is not a number of places between 0 and 8, using %d", raw, defaultPriceDecimals)
		} else {
			cfg.PriceDecimals = int32(n)
		}
	}

	return cfg
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) millisEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		c.warn("%s=%q is not a non-negative number of milliseconds, using %s", key, raw, fallback)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
