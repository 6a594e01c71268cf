// Package config содержит логику чтения конфигурации движка витрины.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Бэкенды постоянного хранилища профиля.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultAPIBaseURL = "http://localhost:3000"
	defaultProfile    = "default"
	defaultTimeout    = 10 * time.Second
)

// Config содержит параметры конфигурации движка витрины.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	APIBaseURL       string        `env:"API_BASE_URL"`
	StoreBackend     string        `env:"STORE_BACKEND"`
	RedisURL         string        `env:"REDIS_URL"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	Profile          string        `env:"PROFILE"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT"`
	RequestRate      float64       `env:"REQUEST_RATE"`
	FallbackCoverURL string        `env:"FALLBACK_COVER_URL"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		RunAddress:     defaultRunAddress,
		APIBaseURL:     defaultAPIBaseURL,
		StoreBackend:   StoreMemory,
		Profile:        defaultProfile,
		RequestTimeout: defaultTimeout,
	}
}

// LoadDotEnv подгружает переменные окружения из файла, если он есть.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv возвращает конфигурацию по умолчанию, дополненную переменными окружения.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	envCfg := &Config{}
	if err := env.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	def := Default()

	flag.StringVar(&cfg.RunAddress, "a", def.RunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.APIBaseURL, "u", def.APIBaseURL, "storefront API base URL")
	flag.StringVar(&cfg.StoreBackend, "s", def.StoreBackend, "durable store backend: memory, redis or postgres")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.Profile, "p", def.Profile, "durable store profile")
	flag.DurationVar(&cfg.RequestTimeout, "t", def.RequestTimeout, "storefront API request timeout")
	flag.Float64Var(&cfg.RequestRate, "q", 0, "storefront API requests per second, 0 disables pacing")
	flag.StringVar(&cfg.FallbackCoverURL, "c", "", "cover image shown when an item has none")

	flag.Parse()

	cfg.Override(envCfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Override переносит в c все непустые поля other.
func (c *Config) Override(other *Config) {
	if other.RunAddress != "" {
		c.RunAddress = other.RunAddress
	}
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.StoreBackend != "" {
		c.StoreBackend = other.StoreBackend
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
	if other.DatabaseURI != "" {
		c.DatabaseURI = other.DatabaseURI
	}
	if other.Profile != "" {
		c.Profile = other.Profile
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.RequestRate != 0 {
		c.RequestRate = other.RequestRate
	}
	if other.FallbackCoverURL != "" {
		c.FallbackCoverURL = other.FallbackCoverURL
	}
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("redis store requires a redis URL")
		}
	case StorePostgres:
		if c.DatabaseURI == "" {
			return errors.New("postgres store requires a database URI")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	if c.APIBaseURL == "" {
		return errors.New("storefront API base URL is required")
	}
	if c.Profile == "" {
		return errors.New("profile is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("request rate must not be negative, got %v", c.RequestRate)
	}
	return nil
}
