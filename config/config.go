package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/patient-flow/internal/remote"
	"github.com/jwalitptl/patient-flow/internal/syncer"
	"github.com/jwalitptl/patient-flow/pkg/messaging/redis"
)

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// APIConfig points at the patient backend. An empty BaseURL selects the
// in-process backend.
type APIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	EncounterRoutes string        `mapstructure:"encounter_routes"`
}

type SyncConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	FreshFor      time.Duration `mapstructure:"fresh_for"`
	FocusInterval time.Duration `mapstructure:"focus_interval"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
}

type SessionConfig struct {
	Token     string `mapstructure:"token"`
	UserID    string `mapstructure:"user_id"`
	UserName  string `mapstructure:"user_name"`
	UserRole  string `mapstructure:"user_role"`
	Physician string `mapstructure:"physician"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`
	MetricsPath       string `mapstructure:"metrics_path"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	API        APIConfig        `mapstructure:"api"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Session    SessionConfig    `mapstructure:"session"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// envOverrides are read with the PATIENTFLOW_ prefix and win over the file.
type envOverrides struct {
	APIURL      string `envconfig:"API_URL"`
	Token       string `envconfig:"TOKEN"`
	Physician   string `envconfig:"PHYSICIAN"`
	RedisURL    string `envconfig:"REDIS_URL"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	Port        int    `envconfig:"PORT"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
}

const EnvPrefix = "PATIENTFLOW"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.encounter_routes", string(remote.RoutesSingular))

	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_delay", time.Second)
	v.SetDefault("sync.fresh_for", 5*time.Minute)
	v.SetDefault("sync.focus_interval", time.Second)
	v.SetDefault("sync.tick_interval", 30*time.Second)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
}

// LoadConfig reads path, or config.yml from the usual directories when path
// is empty. A missing default file is not an error; every setting has a
// default.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/patient-flow")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	config.applyEnv(env)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.APIURL != "" {
		c.API.BaseURL = env.APIURL
	}
	if env.Token != "" {
		c.Session.Token = env.Token
	}
	if env.Physician != "" {
		c.Session.Physician = env.Physician
	}
	if env.RedisURL != "" {
		c.Redis.URL = env.RedisURL
	}
	if env.DatabaseURL != "" {
		c.Database.URL = env.DatabaseURL
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Log.Format = env.LogFormat
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch remote.EncounterRoutes(c.API.EncounterRoutes) {
	case remote.RoutesSingular, remote.RoutesPlural:
	default:
		return fmt.Errorf("api.encounter_routes must be %q or %q", remote.RoutesSingular, remote.RoutesPlural)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.Sync.TickInterval <= 0 {
		return fmt.Errorf("sync.tick_interval must be positive")
	}
	return nil
}

// Enabled reports whether the transition journal should be opened.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func (c *APIConfig) ToRemoteConfig() remote.Config {
	return remote.Config{
		BaseURL:         c.BaseURL,
		Timeout:         c.Timeout,
		EncounterRoutes: remote.EncounterRoutes(c.EncounterRoutes),
	}
}

func (c *SyncConfig) ToSyncerConfig() syncer.Config {
	return syncer.Config{
		MaxRetries:    c.MaxRetries,
		BaseDelay:     c.RetryDelay,
		FreshFor:      c.FreshFor,
		FocusInterval: c.FocusInterval,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
