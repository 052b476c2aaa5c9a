// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Port     int           `env:"PORT" envDefault:"8080"`
	DBPath   string        `env:"DB_PATH" envDefault:"data/snippets.db"`
	BasePath string        `env:"BASE_PATH" envDefault:"http://localhost:8080"`
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	// JWTSecret signs bearer tokens. Only serve needs it; migrate runs
	// without one.
	JWTSecret string `env:"JWT_SECRET"`

	// Bootstrap admin: claims snippets left ownerless by the legacy
	// schema. Both empty disables it.
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// minSecretLen matches auth.NewTokenService.
const minSecretLen = 16

// Load reads .env when present (existing environment variables win), then
// parses the environment into a Config.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: loading .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	return cfg, nil
}

// ValidateAdmin checks the bootstrap credentials are set together or not at
// all. Every command that migrates needs it.
func (c *Config) ValidateAdmin() error {
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// ValidateServe checks the settings serve needs beyond what migrate needs.
func (c *Config) ValidateServe() error {
	var errs []error

	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLen))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if err := c.ValidateAdmin(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
