// Package config loads service and trainer settings from YAML or TOML files with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Model     ModelConfig     `yaml:"model" toml:"model"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Training  TrainingConfig  `yaml:"training" toml:"training"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" toml:"port"`
	Debug          bool     `yaml:"debug" toml:"debug"`
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

type ModelConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// DatabaseConfig points at the optional SQLite audit store; an empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" toml:"enabled"`
	PredictPerHour int  `yaml:"predict_per_hour" toml:"predict_per_hour"`
	GlobalPerDay   int  `yaml:"global_per_day" toml:"global_per_day"`
	MaxClients     int  `yaml:"max_clients" toml:"max_clients"`
}

type TrainingConfig struct {
	DataPath  string  `yaml:"data_path" toml:"data_path"`
	Estimator string  `yaml:"estimator" toml:"estimator"`
	MaxDepth  int     `yaml:"max_depth" toml:"max_depth"`
	MinLeaf   int     `yaml:"min_leaf" toml:"min_leaf"`
	Samples   int     `yaml:"samples" toml:"samples"`
	Seed      int64   `yaml:"seed" toml:"seed"`
	TestRatio float64 `yaml:"test_ratio" toml:"test_ratio"`
	Seasonal  bool    `yaml:"seasonal" toml:"seasonal"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           5000,
			TimeoutSeconds: 30,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{
			Path: filepath.Join("models", "model.json"),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			PredictPerHour: 50,
			GlobalPerDay:   200,
			MaxClients:     10000,
		},
		Training: TrainingConfig{
			Estimator: "linear",
			MaxDepth:  8,
			MinLeaf:   5,
			Samples:   1000,
			Seed:      42,
			TestRatio: 0.2,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error. Files ending in
// .toml are decoded as TOML, anything else as YAML. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse toml config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG %q: %w", v, err)
		}
		c.Server.Debug = debug
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.timeout_seconds must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.PredictPerHour <= 0 || c.RateLimit.GlobalPerDay <= 0 {
			errs = append(errs, errors.New("rate_limit thresholds must be positive"))
		}
		if c.RateLimit.MaxClients <= 0 {
			errs = append(errs, errors.New("rate_limit.max_clients must be positive"))
		}
	}
	switch c.Training.Estimator {
	case "linear", "tree":
	default:
		errs = append(errs, fmt.Errorf("training.estimator %q is not supported", c.Training.Estimator))
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		errs = append(errs, errors.New("training.test_ratio must be within (0,1)"))
	}
	return errors.Join(errs...)
}
