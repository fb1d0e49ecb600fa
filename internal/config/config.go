package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/linkshelf/storefront/internal/util"
	"gopkg.in/yaml.v3"
)

// Deployment environments.
const (
	// EnvDevelopment enables verbose error details and relaxed cookie flags.
	EnvDevelopment = "development"
	// EnvProduction hides internal error details from clients.
	EnvProduction = "production"
)

// defaultConfigFile is used when no config path is provided.
const defaultConfigFile = "config.yaml"

// AppConfig is the root configuration for the storefront admin API.
type AppConfig struct {
	ConfigPath string `yaml:"-"`

	Env          string             `yaml:"env" env:"STOREFRONT_ENV"`
	HTTP         HTTPConfig         `yaml:"http" envPrefix:"STOREFRONT_HTTP_"`
	Database     DatabaseConfig     `yaml:"database" envPrefix:"STOREFRONT_DATABASE_"`
	Redis        RedisConfig        `yaml:"redis" envPrefix:"STOREFRONT_REDIS_"`
	WebAuthn     WebAuthnConfig     `yaml:"webauthn" envPrefix:"STOREFRONT_WEBAUTHN_"`
	Session      SessionConfig      `yaml:"session" envPrefix:"STOREFRONT_SESSION_"`
	Janitor      JanitorConfig      `yaml:"janitor" envPrefix:"STOREFRONT_JANITOR_"`
	Registration RegistrationConfig `yaml:"registration" envPrefix:"STOREFRONT_REGISTRATION_"`
	Log          LogConfig          `yaml:"log" envPrefix:"STOREFRONT_LOG_"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds the relational store DSN (postgres URL or sqlite path).
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// RedisConfig configures the optional Redis session backend.
// Sessions are kept in memory when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// WebAuthnConfig holds relying party identity and challenge lifetime.
type WebAuthnConfig struct {
	RPID         string        `yaml:"rp_id" env:"RP_ID"`
	RPName       string        `yaml:"rp_name" env:"RP_NAME"`
	Origins      []string      `yaml:"origins" env:"ORIGINS" envSeparator:","`
	ChallengeTTL time.Duration `yaml:"challenge_ttl" env:"CHALLENGE_TTL"`
}

// SessionConfig configures admin sessions and their cookie.
type SessionConfig struct {
	Secret     string        `yaml:"secret" env:"SECRET"`
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	CookieName string        `yaml:"cookie_name" env:"COOKIE_NAME"`
}

// JanitorConfig controls the expired-challenge sweep.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// RegistrationConfig controls who may provision a new admin account.
type RegistrationConfig struct {
	RequireInvite bool          `yaml:"require_invite" env:"REQUIRE_INVITE"`
	InviteTTL     time.Duration `yaml:"invite_ttl" env:"INVITE_TTL"`
}

// LogConfig configures logrus output and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// Default returns the development defaults.
func Default() AppConfig {
	return AppConfig{
		Env: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "data/storefront.db",
		},
		WebAuthn: WebAuthnConfig{
			RPID:         "localhost",
			RPName:       "Storefront Admin",
			Origins:      []string{"http://localhost:3000"},
			ChallengeTTL: 5 * time.Minute,
		},
		Session: SessionConfig{
			TTL:        12 * time.Hour,
			CookieName: "admin_session",
		},
		Janitor: JanitorConfig{
			Interval: 10 * time.Minute,
		},
		Registration: RegistrationConfig{
			InviteTTL: 72 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// ResolveConfigPath returns the config file path, defaulting to config.yaml
// under WRITABLE_PATH when set.
func ResolveConfigPath(path string) string {
	path = strings.TrimSpace(path)
	if path != "" {
		return path
	}
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, defaultConfigFile)
	}
	return defaultConfigFile
}

// Load reads the YAML config file (a missing file is allowed) and applies
// STOREFRONT_* environment overrides on top.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cfg.ConfigPath = ResolveConfigPath(path)

	data, errRead := os.ReadFile(cfg.ConfigPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("config: parse %s: %w", cfg.ConfigPath, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return AppConfig{}, fmt.Errorf("config: read %s: %w", cfg.ConfigPath, errRead)
	}

	if errEnv := env.Parse(&cfg); errEnv != nil {
		return AppConfig{}, fmt.Errorf("config: env: %w", errEnv)
	}
	cfg.normalize()
	if errValidate := cfg.Validate(); errValidate != nil {
		return AppConfig{}, errValidate
	}
	return cfg, nil
}

// normalize trims string fields and drops empty origins.
func (c *AppConfig) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	c.WebAuthn.RPID = strings.TrimSpace(c.WebAuthn.RPID)
	c.WebAuthn.RPName = strings.TrimSpace(c.WebAuthn.RPName)
	origins := make([]string, 0, len(c.WebAuthn.Origins))
	for _, origin := range c.WebAuthn.Origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	c.WebAuthn.Origins = origins
	c.Session.CookieName = strings.TrimSpace(c.Session.CookieName)
	if c.Session.CookieName == "" {
		c.Session.CookieName = "admin_session"
	}
}

// Validate reports configuration errors that would make the server unsafe or unusable.
func (c AppConfig) Validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("config: unknown env %q", c.Env)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.WebAuthn.ChallengeTTL <= 0 {
		return errors.New("config: webauthn.challenge_ttl must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("config: session.ttl must be positive")
	}
	if c.Janitor.Interval <= 0 {
		return errors.New("config: janitor.interval must be positive")
	}
	if c.Registration.InviteTTL <= 0 {
		return errors.New("config: registration.invite_ttl must be positive")
	}
	if c.IsProduction() {
		if strings.TrimSpace(c.Session.Secret) == "" {
			return errors.New("config: session.secret is required in production")
		}
		if len(c.WebAuthn.Origins) == 0 {
			return errors.New("config: webauthn.origins is required in production")
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c AppConfig) IsProduction() bool {
	return c.Env == EnvProduction
}
