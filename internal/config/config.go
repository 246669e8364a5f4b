package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// RedisConfig holds shared cache connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// defaultRedisPrefix namespaces gateway keys in a shared Redis.
const defaultRedisPrefix = "gw"

// LoadRedisConfig loads shared cache settings from the YAML config file.
// Env vars override file values; missing config disables Redis and the
// gateway falls back to per-instance memory counters.
func LoadRedisConfig(configPath string) (RedisConfig, error) {
	// fileConfig maps the YAML fields needed for Redis settings.
	type fileConfig struct {
		Redis RedisConfig `yaml:"redis"`
	}

	result := RedisConfig{Prefix: defaultRedisPrefix}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Redis
		}
	}

	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		result.Addr = addr
	}
	if password := strings.TrimSpace(os.Getenv(EnvRedisPassword)); password != "" {
		result.Password = password
	}

	result.Addr = strings.TrimSpace(result.Addr)
	result.Prefix = strings.TrimSpace(result.Prefix)
	if result.Prefix == "" {
		result.Prefix = defaultRedisPrefix
	}
	if result.DB < 0 {
		result.DB = 0
	}
	return result, nil
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RouterConfig holds routing engine tunables.
type RouterConfig struct {
	CredentialCacheTTL  time.Duration `yaml:"credential-cache-ttl"`
	HealthCheckInterval time.Duration `yaml:"health-check-interval"`
	RegistryRefresh     time.Duration `yaml:"registry-refresh"`
}

// Router config defaults applied when the file omits or invalidates values.
const (
	defaultCredentialCacheTTL  = 60 * time.Second
	defaultHealthCheckInterval = 60 * time.Second
	defaultRegistryRefresh     = 30 * time.Second
)

// LoadRouterConfig loads routing tunables from the YAML config file.
func LoadRouterConfig(configPath string) (RouterConfig, error) {
	// fileConfig maps the YAML fields needed for router settings.
	type fileConfig struct {
		Router RouterConfig `yaml:"router"`
	}

	result := RouterConfig{}
	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Router
		}
	}

	if result.CredentialCacheTTL <= 0 {
		result.CredentialCacheTTL = defaultCredentialCacheTTL
	}
	if result.HealthCheckInterval <= 0 {
		result.HealthCheckInterval = defaultHealthCheckInterval
	}
	if result.RegistryRefresh <= 0 {
		result.RegistryRefresh = defaultRegistryRefresh
	}
	return result, nil
}
