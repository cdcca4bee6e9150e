package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		ReadTimeout    string   `yaml:"readTimeout"`
		WriteTimeout   string   `yaml:"writeTimeout"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Session struct {
		Timeout         string `yaml:"timeout"`
		SweepInterval   string `yaml:"sweepInterval"`
		MinSecretLength int    `yaml:"minSecretLength"`
		CodeLength      int    `yaml:"codeLength"`
	} `yaml:"session"`
	Security struct {
		HashPasswords bool   `yaml:"hashPasswords"`
		BcryptCost    int    `yaml:"bcryptCost"`
		TokenSecret   string `yaml:"tokenSecret"`
		TokenTTL      string `yaml:"tokenTTL"`
	} `yaml:"security"`
	RateLimit struct {
		Enabled     bool   `yaml:"enabled"`
		MaxAttempts int    `yaml:"maxAttempts"`
		Window      string `yaml:"window"`
		Backend     string `yaml:"backend"`
	} `yaml:"rateLimit"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Bank struct {
		TTL string `yaml:"ttl"`
	} `yaml:"bank"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = "15s"
	cfg.Server.WriteTimeout = "15s"
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Session.Timeout = "24h"
	cfg.Session.SweepInterval = "5m"
	cfg.Session.MinSecretLength = 4
	cfg.Session.CodeLength = 6
	cfg.Security.BcryptCost = 10
	cfg.Security.TokenTTL = "12h"
	cfg.RateLimit.MaxAttempts = 5
	cfg.RateLimit.Window = "60s"
	cfg.RateLimit.Backend = "memory"
	cfg.Bank.TTL = "10m"
	return cfg
}

// Load reads YAML config from path on top of the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("ENABLE_PASSWORD_HASHING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_PASSWORD_HASHING: %w", err)
		}
		c.Security.HashPasswords = b
	}
	if v, ok := lookup("ENABLE_RATE_LIMITING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_RATE_LIMITING: %w", err)
		}
		c.RateLimit.Enabled = b
	}
	if v, ok := lookup("SESSION_TIMEOUT"); ok && v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_TIMEOUT: %w", err)
		}
		c.Session.Timeout = (time.Duration(minutes) * time.Minute).String()
	}
	if v, ok := lookup("SESSION_CLEANUP_INTERVAL"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_CLEANUP_INTERVAL: %w", err)
		}
		c.Session.SweepInterval = (time.Duration(ms) * time.Millisecond).String()
	}
	if v, ok := lookup("RATE_LIMIT_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS: %w", err)
		}
		c.RateLimit.MaxAttempts = n
	}
	if v, ok := lookup("RATE_LIMIT_WINDOW_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW_MS: %w", err)
		}
		c.RateLimit.Window = (time.Duration(ms) * time.Millisecond).String()
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Postgres.URL = v
	}
	if v, ok := lookup("TOKEN_SECRET"); ok && v != "" {
		c.Security.TokenSecret = v
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return errors.New("rateLimit.maxAttempts must be positive")
	}
	if TTLDuration(c.RateLimit.Window, 0) <= 0 {
		return errors.New("rateLimit.window must be a positive duration")
	}
	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("rateLimit.backend redis needs redis.addr")
		}
	default:
		return fmt.Errorf("rateLimit.backend: unknown backend %q", c.RateLimit.Backend)
	}
	if c.Session.CodeLength < 4 {
		return errors.New("session.codeLength must be at least 4")
	}
	if c.Session.MinSecretLength < 1 {
		return errors.New("session.minSecretLength must be positive")
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
