package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port                   string `mapstructure:"port"`
	Environment            string `mapstructure:"environment"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// Development reports whether the server runs with relaxed CORS.
func (s ServerConfig) Development() bool {
	return strings.EqualFold(s.Environment, "development")
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	// JWTSecret verifies user access tokens (HS256).
	JWTSecret       string `mapstructure:"jwt_secret"`
	JWTIssuer       string `mapstructure:"jwt_issuer"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type DatabaseConfig struct {
	DSN                       string `mapstructure:"dsn"`
	MaxOpenConns              int    `mapstructure:"max_open_conns"`
	AuditRetentionDays        int    `mapstructure:"audit_retention_days"`
	IdempotencyRetentionHours int    `mapstructure:"idempotency_retention_hours"`
	CleanupIntervalMinutes    int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
	AuditListKey          string `mapstructure:"audit_list_key"`
	AuditListMax          int    `mapstructure:"audit_list_max"`
}

type AuditConfig struct {
	BufferSize            int    `mapstructure:"buffer_size"`
	Workers               int    `mapstructure:"workers"`
	RingSize              int    `mapstructure:"ring_size"`
	LogDir                string `mapstructure:"log_dir"`
	BreakerFailures       int    `mapstructure:"breaker_failures"`
	BreakerTimeoutSeconds int    `mapstructure:"breaker_timeout_seconds"`
}

type TierConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

func (t TierConfig) Window() time.Duration {
	return time.Duration(t.WindowSeconds) * time.Second
}

type RateLimitConfig struct {
	SweepIntervalSeconds int                   `mapstructure:"sweep_interval_seconds"`
	Tiers                map[string]TierConfig `mapstructure:"tiers"`
}

type StorageConfig struct {
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	URLTTLMinutes int    `mapstructure:"url_ttl_minutes"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// Environment variables support
	// e.g. FLUXGATE_AUTH_JWT_SECRET
	v.SetEnvPrefix("fluxgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.shutdown_timeout_seconds", 5)
	v.SetDefault("log.level", "info")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.token_ttl_minutes", 60)

	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Agent-Token", "X-Agent-Key", "X-Idempotency-Key"})
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.audit_retention_days", 90)
	v.SetDefault("database.idempotency_retention_hours", 24)
	v.SetDefault("database.cleanup_interval_minutes", 60)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("redis.audit_list_key", "audit_events")
	v.SetDefault("redis.audit_list_max", 10000)

	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.ring_size", 1000)
	v.SetDefault("audit.log_dir", "./logs")
	v.SetDefault("audit.breaker_failures", 5)
	v.SetDefault("audit.breaker_timeout_seconds", 30)

	v.SetDefault("ratelimit.sweep_interval_seconds", 60)
	v.SetDefault("ratelimit.tiers", map[string]any{
		"anonymous":  map[string]any{"requests": 50, "window_seconds": 900},
		"free":       map[string]any{"requests": 100, "window_seconds": 900},
		"pro":        map[string]any{"requests": 1000, "window_seconds": 900},
		"enterprise": map[string]any{"requests": 10000, "window_seconds": 900},
	})

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.url_ttl_minutes", 15)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
