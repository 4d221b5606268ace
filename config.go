package lobby

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store driver names accepted by Config.Store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds configuration for the lobby service.
// Values come from an optional YAML file, then LOBBY_* environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"LOBBY_LISTEN_ADDR"`
	LogLevel   string `yaml:"log_level" env:"LOBBY_LOG_LEVEL"`

	UpstreamURL   string `yaml:"upstream_url" env:"LOBBY_UPSTREAM_URL"`
	UpstreamToken string `yaml:"upstream_token" env:"LOBBY_UPSTREAM_TOKEN"`
	// RefreshURL is called to obtain a new token when the upstream reports an expired one.
	RefreshURL   string        `yaml:"refresh_url" env:"LOBBY_REFRESH_URL"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"LOBBY_FETCH_TIMEOUT"`

	Store         string `yaml:"store" env:"LOBBY_STORE"`
	RedisAddr     string `yaml:"redis_addr" env:"LOBBY_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"LOBBY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"LOBBY_REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"LOBBY_REDIS_PREFIX"`
	SQLitePath    string `yaml:"sqlite_path" env:"LOBBY_SQLITE_PATH"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":4002",
		LogLevel:     "info",
		FetchTimeout: DefaultFetchTimeout,
		Store:        StoreMemory,
		RedisAddr:    "localhost:6379",
		RedisPrefix:  "lobby",
		SQLitePath:   "lobby.db",
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the environment, in that order of precedence.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: redis store requires redis_addr")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: sqlite store requires sqlite_path")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr must be set")
	}
	if c.FetchTimeout < 0 {
		return errors.New("config: fetch_timeout must not be negative")
	}
	return nil
}
