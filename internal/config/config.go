// Package config loads service settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"fielddispatch/internal/opt"
)

// Distance providers.
const (
	ProviderAuto   = "auto" // google when an API key is set, otherwise estimates only
	ProviderNone   = "none"
	ProviderGoogle = "google"
	ProviderOSRM   = "osrm"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	DBMigrate   bool   `yaml:"db_migrate"`
	RedisURL    string `yaml:"redis_url"`
	LogLevel    string `yaml:"log_level"`

	Distance DistanceConfig `yaml:"distance"`
	Solver   SolverConfig   `yaml:"solver"`
	Auth     AuthConfig     `yaml:"auth"`
	Rate     RateConfig     `yaml:"rate"`
	Webhook  WebhookConfig  `yaml:"webhook"`

	// LockTTL bounds how long a cross-process per-date lock survives a crashed holder.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type DistanceConfig struct {
	Provider      string        `yaml:"provider"`
	GoogleAPIKey  string        `yaml:"google_api_key"`
	OSRMURL       string        `yaml:"osrm_url"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
	Concurrency   int           `yaml:"concurrency"`
	TrafficTTL    time.Duration `yaml:"traffic_ttl"`
	StaticTTL     time.Duration `yaml:"static_ttl"`
	FallbackKph   float64       `yaml:"fallback_kph"`
}

type SolverConfig struct {
	TimeBudget    time.Duration `yaml:"time_budget"`
	MaxMoves      int           `yaml:"max_moves"`
	Seed          int64         `yaml:"seed"`
	Guided        bool          `yaml:"guided"`
	PenaltyFactor float64       `yaml:"penalty_factor"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmac_secret"`
}

// WebhookConfig lists endpoints notified after each committed run.
type WebhookConfig struct {
	URLs        []string `yaml:"urls"`
	Secret      string   `yaml:"secret"`
	MaxAttempts int      `yaml:"max_attempts"`
}

type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Default() Config {
	sc := opt.DefaultConfig()
	return Config{
		Port:      "8080",
		DBMigrate: true,
		LogLevel:  "info",
		Distance: DistanceConfig{
			Provider:      ProviderAuto,
			LookupTimeout: 5 * time.Second,
			RPS:           10,
			Burst:         10,
			Concurrency:   8,
			TrafficTTL:    15 * time.Minute,
			StaticTTL:     24 * time.Hour,
			FallbackKph:   40,
		},
		Solver: SolverConfig{
			TimeBudget:    sc.TimeBudget,
			MaxMoves:      sc.MaxMoves,
			Seed:          sc.Seed,
			Guided:        sc.Guided,
			PenaltyFactor: sc.PenaltyFactor,
		},
		Auth:    AuthConfig{Mode: "dev"},
		Rate:    RateConfig{RPS: 5, Burst: 10},
		Webhook: WebhookConfig{MaxAttempts: 10},
		LockTTL: 2 * time.Minute,
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("DISTANCE_PROVIDER", &c.Distance.Provider)
	str("GOOGLE_MAPS_API_KEY", &c.Distance.GoogleAPIKey)
	str("OSRM_URL", &c.Distance.OSRMURL)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_URLS")); v != "" {
		c.Webhook.URLs = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Webhook.URLs = append(c.Webhook.URLs, u)
			}
		}
	}
	c.Distance.Provider = strings.ToLower(c.Distance.Provider)
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)

	var errs []error
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("DB_MIGRATE", err))
		c.DBMigrate = b
	}
	if v := os.Getenv("SOLVER_TIME_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, envErr("SOLVER_TIME_BUDGET", err))
		c.Solver.TimeBudget = d
	}
	if v := os.Getenv("SOLVER_MAX_MOVES"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("SOLVER_MAX_MOVES", err))
		c.Solver.MaxMoves = n
	}
	if v := os.Getenv("SOLVER_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, envErr("SOLVER_SEED", err))
		c.Solver.Seed = n
	}
	if v := os.Getenv("SOLVER_GUIDED"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("SOLVER_GUIDED", err))
		c.Solver.Guided = b
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("WEBHOOK_MAX_ATTEMPTS", err))
		c.Webhook.MaxAttempts = n
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("RATE_RPS", err))
		c.Rate.RPS = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("RATE_BURST", err))
		c.Rate.Burst = n
	}
	return errors.Join(errs...)
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func (c Config) Validate() error {
	var errs []error
	switch c.Distance.Provider {
	case ProviderAuto, ProviderNone:
	case ProviderGoogle:
		if c.Distance.GoogleAPIKey == "" {
			errs = append(errs, errors.New("distance provider google needs GOOGLE_MAPS_API_KEY"))
		}
	case ProviderOSRM:
		if c.Distance.OSRMURL == "" {
			errs = append(errs, errors.New("distance provider osrm needs OSRM_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown distance provider %q", c.Distance.Provider))
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth mode hmac needs AUTH_HMAC_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	if c.Solver.TimeBudget < 0 {
		errs = append(errs, errors.New("solver time budget must be >= 0"))
	}
	if c.Solver.MaxMoves < 0 {
		errs = append(errs, errors.New("solver max moves must be >= 0"))
	}
	if c.Solver.PenaltyFactor < 0 {
		errs = append(errs, errors.New("solver penalty factor must be >= 0"))
	}
	if c.Distance.LookupTimeout < 0 || c.Distance.TrafficTTL < 0 || c.Distance.StaticTTL < 0 {
		errs = append(errs, errors.New("distance durations must be >= 0"))
	}
	if c.Distance.FallbackKph <= 0 {
		errs = append(errs, errors.New("fallback speed must be > 0"))
	}
	for _, u := range c.Webhook.URLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Errorf("webhook url %q must be http(s)", u))
		}
	}
	if c.Rate.RPS < 0 || c.Rate.Burst < 0 {
		errs = append(errs, errors.New("rate limits must be >= 0"))
	}
	return errors.Join(errs...)
}

// DistanceProvider resolves ProviderAuto to the concrete provider in use.
func (c Config) DistanceProvider() string {
	if c.Distance.Provider != ProviderAuto {
		return c.Distance.Provider
	}
	if c.Distance.GoogleAPIKey != "" {
		return ProviderGoogle
	}
	return ProviderNone
}

// SolverOptions maps the solver section onto the optimizer's config.
func (c Config) SolverOptions() opt.Config {
	oc := opt.DefaultConfig()
	oc.TimeBudget = c.Solver.TimeBudget
	oc.MaxMoves = c.Solver.MaxMoves
	oc.Seed = c.Solver.Seed
	oc.Guided = c.Solver.Guided
	oc.PenaltyFactor = c.Solver.PenaltyFactor
	return oc
}
