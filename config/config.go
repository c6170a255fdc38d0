// Package config loads service settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"lookback-cloud/activity"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "LOOKBACK_CONFIG"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"lookback.yaml",
	"lookback.yml",
	"/etc/lookback/config.yaml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
	Google   GoogleConfig   `koanf:"google"`
	Auth     AuthConfig     `koanf:"auth"`
	Activity ActivityConfig `koanf:"activity"`
	Sync     SyncConfig     `koanf:"sync"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Port               int      `koanf:"port" validate:"min=1,max=65535"`
	CORSOrigins        []string `koanf:"cors_origins"`
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute" validate:"min=0"`
	// PublicURL is the externally reachable base URL, used for Google push callbacks.
	PublicURL string `koanf:"public_url" validate:"omitempty,url"`
}

type RedisConfig struct {
	URL string `koanf:"url" validate:"required"`
}

// GoogleConfig holds the OAuth client. Auth routes are disabled while ClientID is empty.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret" validate:"required_with=ClientID"`
	RedirectURL  string `koanf:"redirect_url" validate:"required_with=ClientID"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `koanf:"token_ttl" validate:"min=1m"`
}

type ActivityConfig struct {
	Timezone           string `koanf:"timezone" validate:"required"`
	SeedKnownCalendars bool   `koanf:"seed_known_calendars"`
}

type SyncConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Schedule          string        `koanf:"schedule" validate:"required"`
	Lookback          time.Duration `koanf:"lookback" validate:"min=0"`
	Horizon           time.Duration `koanf:"horizon" validate:"min=0"`
	SingleEvents      bool          `koanf:"single_events"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"min=1"`
	BreakerFailures   uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout"`
	// Push channel renewal.
	WatchRenewSchedule string        `koanf:"watch_renew_schedule" validate:"required"`
	WatchRenewBefore   time.Duration `koanf:"watch_renew_before" validate:"min=1m"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 120,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Activity: ActivityConfig{
			Timezone:           activity.DefaultTimezone,
			SeedKnownCalendars: true,
		},
		Sync: SyncConfig{
			Enabled:            true,
			Schedule:           "*/30 * * * *",
			Lookback:           30 * 24 * time.Hour,
			Horizon:            30 * 24 * time.Hour,
			SingleEvents:       true,
			RequestsPerSecond:  5,
			Burst:              5,
			BreakerFailures:    5,
			BreakerTimeout:     30 * time.Second,
			WatchRenewSchedule: "@hourly",
			WatchRenewBefore:   12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings maps environment variables onto config keys.
var envMappings = map[string]string{
	"port":                     "server.port",
	"cors_origins":             "server.cors_origins",
	"rate_limit_per_minute":    "server.rate_limit_per_minute",
	"public_url":               "server.public_url",
	"redis_url":                "redis.url",
	"calendar_client_id":       "google.client_id",
	"calendar_client_secret":   "google.client_secret",
	"calendar_redirect_url":    "google.redirect_url",
	"jwt_secret":               "auth.jwt_secret",
	"session_ttl":              "auth.token_ttl",
	"lookback_timezone":        "activity.timezone",
	"seed_known_calendars":     "activity.seed_known_calendars",
	"sync_enabled":             "sync.enabled",
	"sync_schedule":            "sync.schedule",
	"sync_lookback":            "sync.lookback",
	"sync_horizon":             "sync.horizon",
	"sync_single_events":       "sync.single_events",
	"sync_requests_per_second": "sync.requests_per_second",
	"sync_burst":               "sync.burst",
	"sync_breaker_failures":    "sync.breaker_failures",
	"sync_breaker_timeout":     "sync.breaker_timeout",
	"watch_renew_schedule":     "sync.watch_renew_schedule",
	"watch_renew_before":       "sync.watch_renew_before",
	"log_level":                "logging.level",
	"log_format":               "logging.format",
}

func envKey(key string) string {
	return envMappings[strings.ToLower(key)]
}

// LoadDotEnv reads .env files into the process environment. Missing files
// are not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load layers defaults, the YAML file at path (or the first of DefaultPaths
// found) and environment variables, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints plus the timezone and cron schedule.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := activity.LoadLocation(c.Activity.Timezone); err != nil {
		return fmt.Errorf("activity.timezone: %w", err)
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule %q: %w", c.Sync.Schedule, err)
	}
	if _, err := cron.ParseStandard(c.Sync.WatchRenewSchedule); err != nil {
		return fmt.Errorf("sync.watch_renew_schedule %q: %w", c.Sync.WatchRenewSchedule, err)
	}
	return nil
}

// Location resolves the configured reference timezone.
func (c *Config) Location() *time.Location {
	loc, err := activity.LoadLocation(c.Activity.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GoogleEnabled reports whether an OAuth client is configured.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != ""
}
