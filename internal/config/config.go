package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/answer-machine/internal/db"
	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/ratecontrol"
	"github.com/Kocoro-lab/answer-machine/internal/temporal"
	"github.com/Kocoro-lab/answer-machine/internal/tracing"
)

const (
	// DefaultPath is used when CONFIG_PATH is unset
	DefaultPath = "config/answer_machine.yaml"
	// EnvPrefix scopes environment overrides, e.g. AM_DATABASE_HOST
	EnvPrefix = "AM"
)

type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Temporal      temporal.Config     `mapstructure:"temporal"`
	Tracing       tracing.Config      `mapstructure:"tracing"`
	AnswerMachine AnswerMachineConfig `mapstructure:"answer_machine"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Admin         AdminConfig         `mapstructure:"admin"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig configures the conversation cache; an empty address disables it
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LLMConfig struct {
	Provider          string             `mapstructure:"provider"`
	Endpoint          string             `mapstructure:"endpoint"`
	APIKey            string             `mapstructure:"api_key"`
	Model             string             `mapstructure:"model"`
	Temperature       float64            `mapstructure:"temperature"`
	MaxTokens         int                `mapstructure:"max_tokens"`
	Timeout           time.Duration      `mapstructure:"timeout"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second"`
	Burst             int                `mapstructure:"burst"`
	RateLimits        ratecontrol.Config `mapstructure:"rate_limits"`
}

type AnswerMachineConfig struct {
	AnswerConcurrency    int           `mapstructure:"answer_concurrency"`
	HistoryLimit         int           `mapstructure:"history_limit"`
	HistoryTTL           time.Duration `mapstructure:"history_ttl"`
	WorkflowTimeout      time.Duration `mapstructure:"workflow_timeout"`
	DefaultMinIterations int           `mapstructure:"default_min_iterations"`
	DefaultMaxIterations int           `mapstructure:"default_max_iterations"`
}

type PricingConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

type AdminConfig struct {
	Port int `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "answer_machine")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "answer_machine")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "answer_machine.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 4)
	v.SetDefault("llm.rate_limits.default.rpm", 0)
	v.SetDefault("llm.rate_limits.default.tpm", 0)
	v.SetDefault("llm.rate_limits.ceiling.rpm", 0)
	v.SetDefault("llm.rate_limits.ceiling.tpm", 0)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "answer-machine")
	v.SetDefault("temporal.dial_attempts", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "answer-machine")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("answer_machine.answer_concurrency", 1)
	v.SetDefault("answer_machine.history_limit", 20)
	v.SetDefault("answer_machine.history_ttl", 5*time.Minute)
	v.SetDefault("answer_machine.workflow_timeout", 30*time.Minute)
	v.SetDefault("answer_machine.default_min_iterations", 1)
	v.SetDefault("answer_machine.default_max_iterations", 3)

	v.SetDefault("pricing.path", "config/pricing.yaml")
	v.SetDefault("pricing.watch", true)

	v.SetDefault("admin.port", 2112)
}

// Path returns CONFIG_PATH or the default location
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path, applies AM_* environment overrides and
// validates the result. A missing file leaves defaults plus environment in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the worker cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return fmt.Errorf("invalid config: unsupported database driver %q", c.Database.Driver)
	}
	am := c.AnswerMachine
	if am.AnswerConcurrency < 1 {
		return fmt.Errorf("invalid config: answer_machine.answer_concurrency must be at least 1")
	}
	if am.DefaultMinIterations < 0 || am.DefaultMaxIterations < 0 {
		return fmt.Errorf("invalid config: default iterations cannot be negative")
	}
	if am.DefaultMinIterations > am.DefaultMaxIterations {
		return fmt.Errorf("invalid config: default_min_iterations cannot be greater than default_max_iterations")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("invalid config: temporal.task_queue is required")
	}
	return nil
}

// DB converts the database section into store client configuration
func (d DatabaseConfig) DB() *db.Config {
	return &db.Config{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Name,
		SSLMode:         d.SSLMode,
		Path:            d.Path,
		MaxConnections:  d.MaxConnections,
		IdleConnections: d.IdleConnections,
		MaxLifetime:     d.MaxLifetime,
	}
}

// Client returns the transport settings of the LLM client
func (l LLMConfig) Client() llm.Config {
	return llm.Config{
		Timeout:           l.Timeout,
		RequestsPerSecond: l.RequestsPerSecond,
		Burst:             l.Burst,
		ProviderLimits:    l.RateLimits,
	}
}

// Settings returns the per-request defaults carried through a run
func (l LLMConfig) Settings() llm.Settings {
	return llm.Settings{
		Provider:    l.Provider,
		APIKey:      l.APIKey,
		Endpoint:    l.Endpoint,
		Model:       l.Model,
		Temperature: l.Temperature,
		MaxTokens:   l.MaxTokens,
	}
}
