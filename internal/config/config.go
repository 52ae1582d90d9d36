package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// FallbackPolicy is the behavior applied when the shared counter store is
// unreachable: permissive lets requests through untracked, strict rejects
// them with a service-unavailable error.
type FallbackPolicy int

const (
	FallbackPermissive FallbackPolicy = iota
	FallbackStrict
)

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch s {
	case "permissive", "":
		return FallbackPermissive, nil
	case "strict":
		return FallbackStrict, nil
	default:
		return FallbackPermissive, fmt.Errorf("unknown fallback policy: %q", s)
	}
}

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackStrict:
		return "strict"
	default:
		return "permissive"
	}
}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Services  []ServiceConfig `json:"services"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host      string `json:"host"`
	Port      string `json:"port"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type RateLimitConfig struct {
	Enabled     bool   `json:"enabled"`
	Fallback    string `json:"fallback"` // "permissive" or "strict"
	DefaultTier string `json:"default_tier"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

type ServiceConfig struct {
	Path     string   `json:"path"`
	Targets  []string `json:"targets"`
	Strategy string   `json:"strategy"`
}

// Load reads the optional JSON config file, then applies environment
// overrides. Secrets and store coordinates are expected to come from the
// environment in deployments; the file mainly carries the service routes.
func Load(path string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      "6379",
			KeyPrefix: "ratelimit",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			Fallback:    "permissive",
			DefaultTier: "free",
		},
		Auth: AuthConfig{
			ExpiryHours: 24,
		},
	}

	if file, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(config)

	if _, err := ParseFallbackPolicy(config.RateLimit.Fallback); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnv(config *Config) {
	setString(&config.Server.Port, "PORT")
	setString(&config.Server.Environment, "ENVIRONMENT")

	setString(&config.Redis.Host, "REDIS_HOST")
	setString(&config.Redis.Port, "REDIS_PORT")
	setString(&config.Redis.Password, "REDIS_PASSWORD")
	setInt(&config.Redis.DB, "REDIS_DB")
	setString(&config.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	setBool(&config.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setString(&config.RateLimit.Fallback, "RATE_LIMIT_FALLBACK")
	setString(&config.RateLimit.DefaultTier, "RATE_LIMIT_DEFAULT_TIER")

	setString(&config.Database.DSN, "DATABASE_URL")

	setString(&config.Auth.JWTSecret, "JWT_SECRET")
	setInt(&config.Auth.ExpiryHours, "JWT_EXPIRY_HOURS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
