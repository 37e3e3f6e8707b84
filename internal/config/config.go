// Package config loads daemon configuration from an optional YAML file
// with CONVEY_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	DBPath      string        `mapstructure:"db_path"`
	WorkDir     string        `mapstructure:"work_dir"`
	Shell       string        `mapstructure:"shell"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

// Load reads the config file at path, or only defaults and environment
// when path is empty. Every key can be overridden with CONVEY_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", "convey.db")
	v.SetDefault("work_dir", ".")
	v.SetDefault("shell", "sh")
	v.SetDefault("workers", 2)
	v.SetDefault("queue_size", 64)
	v.SetDefault("step_timeout", "10m")

	v.SetEnvPrefix("CONVEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.StepTimeout <= 0 {
		return nil, fmt.Errorf("step_timeout must be positive, got %s", cfg.StepTimeout)
	}
	return &cfg, nil
}
