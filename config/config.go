// Package config holds the settings of the recallmesh CLI and the credential
// loader. Settings come from an optional recallmesh.yaml, RECALLMESH_*
// environment variables and command line flags, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/recallmesh/model"
)

// EnvPrefix prefixes every environment variable, e.g. RECALLMESH_SESSION_BACKEND.
const EnvPrefix = "RECALLMESH"

// Config is the CLI configuration.
type Config struct {
	AppName       string `mapstructure:"app_name"`
	UserID        string `mapstructure:"user_id"`
	Provider      string `mapstructure:"provider"`
	Model         string `mapstructure:"model"`
	EnvFile       string `mapstructure:"env_file"`
	CredentialKey string `mapstructure:"credential_key"`
	LogLevel      string `mapstructure:"log_level"`
	MetricsAddr   string `mapstructure:"metrics_addr"`

	Session    SessionConfig    `mapstructure:"session"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Compaction CompactionConfig `mapstructure:"compaction"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	// Backend is memory, sqlite or redis.
	Backend string `mapstructure:"backend"`
	// DSN is the SQLite database path.
	DSN string `mapstructure:"dsn"`
	// Addr is the Redis address.
	Addr string `mapstructure:"addr"`
}

// MemoryConfig selects the memory store.
type MemoryConfig struct {
	// Backend is memory or sqlite.
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// RetryConfig mirrors model.RetryPolicy.
type RetryConfig struct {
	Attempts     int           `mapstructure:"attempts"`
	ExpBase      float64       `mapstructure:"exp_base"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	StatusCodes  []int         `mapstructure:"status_codes"`
}

// Policy converts the settings into a model.RetryPolicy.
func (r RetryConfig) Policy() model.RetryPolicy {
	return model.RetryPolicy{
		Attempts:     r.Attempts,
		ExpBase:      r.ExpBase,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		StatusCodes:  slices.Clone(r.StatusCodes),
	}
}

// CompactionConfig controls event compaction. Interval 0 disables it.
type CompactionConfig struct {
	Interval int `mapstructure:"interval"`
	Overlap  int `mapstructure:"overlap"`
}

// Defaults registers the default value of every setting on v.
func Defaults(v *viper.Viper) {
	retry := model.DefaultRetryPolicy()

	v.SetDefault("app_name", "agents")
	v.SetDefault("user_id", "default")
	v.SetDefault("provider", "openai")
	v.SetDefault("model", "")
	v.SetDefault("env_file", ".env")
	v.SetDefault("credential_key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.dsn", "recallmesh.db")
	v.SetDefault("session.addr", "localhost:6379")
	v.SetDefault("memory.backend", "memory")
	v.SetDefault("memory.dsn", "recallmesh-memory.db")
	v.SetDefault("retry.attempts", retry.Attempts)
	v.SetDefault("retry.exp_base", retry.ExpBase)
	v.SetDefault("retry.initial_delay", retry.InitialDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.status_codes", retry.StatusCodes)
	v.SetDefault("compaction.interval", 0)
	v.SetDefault("compaction.overlap", 1)
}

// NewViper returns a viper instance with defaults and environment binding.
// configFile is read when set; otherwise recallmesh.yaml is looked up in the
// working directory and silently skipped when absent.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	Defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("recallmesh")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerations and numeric bounds.
func (c *Config) Validate() error {
	var errs []error

	if c.AppName == "" {
		errs = append(errs, errors.New("app_name cannot be empty"))
	}

	if c.UserID == "" {
		errs = append(errs, errors.New("user_id cannot be empty"))
	}

	if !slices.Contains([]string{"openai", "anthropic"}, c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (want openai or anthropic)", c.Provider))
	}

	if !slices.Contains([]string{"memory", "sqlite", "redis"}, c.Session.Backend) {
		errs = append(errs, fmt.Errorf("unknown session backend %q (want memory, sqlite or redis)", c.Session.Backend))
	}

	if !slices.Contains([]string{"memory", "sqlite"}, c.Memory.Backend) {
		errs = append(errs, fmt.Errorf("unknown memory backend %q (want memory or sqlite)", c.Memory.Backend))
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}

	if c.Compaction.Interval < 0 || c.Compaction.Overlap < 0 {
		errs = append(errs, errors.New("compaction interval and overlap cannot be negative"))
	}

	return errors.Join(errs...)
}

// ProviderCredentialKey returns the env file key holding the provider API key.
func (c *Config) ProviderCredentialKey() string {
	if c.CredentialKey != "" {
		return c.CredentialKey
	}

	switch c.Provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}
