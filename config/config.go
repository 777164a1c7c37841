// Package config loads the mab configuration from a yaml file and MAB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/banditstore"
	"github.com/alextanhongpin/mab/ab/experiment"
	"github.com/alextanhongpin/mab/internal/logging"
)

const envPrefix = "MAB"

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Log         logging.Config     `mapstructure:"log"`
	Storage     StorageConfig      `mapstructure:"storage"`
	Autosave    []PolicyConfig     `mapstructure:"autosave" validate:"dive"`
	Experiments []ExperimentConfig `mapstructure:"experiments" validate:"unique=Name,dive"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	MetricsPath  string        `mapstructure:"metrics_path" validate:"omitempty,startswith=/"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	MaxBytes     int64         `mapstructure:"max_bytes" validate:"gte=0"`
}

// StorageConfig selects the banditstore backend. Path is the file of the
// file driver and the directory of the badger driver, where an empty path
// keeps the data in memory.
type StorageConfig struct {
	Driver    string `mapstructure:"driver" validate:"required,oneof=memory file redis postgres badger"`
	Path      string `mapstructure:"path" validate:"required_if=Driver file"`
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisKey  string `mapstructure:"redis_key"`
	DSN       string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	Prefix    string `mapstructure:"prefix"`
}

type PolicyConfig struct {
	Every    int64         `mapstructure:"every" validate:"gte=1"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// ExperimentConfig declares a bandit. Strategy is the stored bandit type,
// e.g. EpsilonGreedyBandit, and Params its parameters, e.g. epsilon.
type ExperimentConfig struct {
	Name     string         `mapstructure:"name" validate:"required"`
	Strategy string         `mapstructure:"strategy" validate:"required"`
	Params   map[string]any `mapstructure:"params"`
	Arms     []ArmConfig    `mapstructure:"arms" validate:"required,min=1,unique=ID,dive"`
}

type ArmConfig struct {
	ID    string `mapstructure:"id" validate:"required"`
	Value any    `mapstructure:"value"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.max_bytes", 1<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_key", banditstore.DefaultRedisKey)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.prefix", banditstore.DefaultBadgerPrefix)
}

// Load reads path, or ./config.yaml when path is empty. A missing default
// file is not an error: defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// Policies returns the autosave policies, or the redis defaults when none
// are configured.
func (c *Config) Policies() []experiment.Policy {
	if len(c.Autosave) == 0 {
		return experiment.DefaultPolicies
	}

	policies := make([]experiment.Policy, len(c.Autosave))
	for i, p := range c.Autosave {
		policies[i] = experiment.Policy{Every: p.Every, Interval: p.Interval}
	}

	return policies
}

// Bandit builds a bandit with zero counters for every configured arm.
func (e ExperimentConfig) Bandit(opts ...ab.Option) (*ab.Bandit, error) {
	rec := ab.Record{
		BanditType: ab.Type(e.Strategy),
		Arms:       make([]string, len(e.Arms)),
		Pulls:      make([]int64, len(e.Arms)),
		Reward:     make([]float64, len(e.Arms)),
		Values:     make([]any, len(e.Arms)),
		Params:     ab.Params(e.Params),
	}
	for i, a := range e.Arms {
		rec.Arms[i] = a.ID
		rec.Values[i] = a.Value
	}

	b, err := ab.Decode(rec, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: experiment %q: %w", e.Name, err)
	}

	return b, nil
}
