// Package config loads runtime configuration. Precedence, lowest to
// highest: struct defaults, an optional YAML file, PULSELINK_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for both the collector and the API
// server.
type Config struct {
	LogLevel string `default:"info"`

	// Collector.
	DeviceName     string        `default:"BLT_M70C"`
	FlushInterval  time.Duration `default:"5s"`
	ScanTimeout    time.Duration `default:"10s"`
	ConnectTimeout time.Duration `default:"30s"`
	APIURL         string        `default:"http://localhost:8080"`

	// API server.
	HTTPPort int `default:"8080"`

	// Persistence, shared by both.
	DatabaseDriver string `default:"sqlite"`
	DatabaseDSN    string `default:"data/pulselink.db"`
}

// Load builds a Config. path may be empty (no file); a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	defaults.SetDefaults(cfg)

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig mirrors Config with durations as strings. The YAML decoder has
// no notion of time.Duration, so those fields are parsed by hand.
type fileConfig struct {
	LogLevel       string `yaml:"log_level"`
	DeviceName     string `yaml:"device_name"`
	FlushInterval  string `yaml:"flush_interval"`
	ScanTimeout    string `yaml:"scan_timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
	APIURL         string `yaml:"api_url"`
	HTTPPort       *int   `yaml:"http_port"`
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseDSN    string `yaml:"database_dsn"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.DeviceName != "" {
		cfg.DeviceName = fc.DeviceName
	}
	if fc.APIURL != "" {
		cfg.APIURL = fc.APIURL
	}
	if fc.HTTPPort != nil {
		cfg.HTTPPort = *fc.HTTPPort
	}
	if fc.DatabaseDriver != "" {
		cfg.DatabaseDriver = fc.DatabaseDriver
	}
	if fc.DatabaseDSN != "" {
		cfg.DatabaseDSN = fc.DatabaseDSN
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"flush_interval", fc.FlushInterval, &cfg.FlushInterval},
		{"scan_timeout", fc.ScanTimeout, &cfg.ScanTimeout},
		{"connect_timeout", fc.ConnectTimeout, &cfg.ConnectTimeout},
	} {
		if d.raw == "" {
			continue
		}
		dur, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", d.key, err)
		}
		*d.dst = dur
	}

	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PULSELINK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PULSELINK_DEVICE_NAME"); v != "" {
		cfg.DeviceName = v
	}
	if v := os.Getenv("PULSELINK_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("PULSELINK_DB_DRIVER"); v != "" {
		cfg.DatabaseDriver = v
	}
	if v := os.Getenv("PULSELINK_DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}

	if v := os.Getenv("PULSELINK_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PULSELINK_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"PULSELINK_FLUSH_INTERVAL", &cfg.FlushInterval},
		{"PULSELINK_SCAN_TIMEOUT", &cfg.ScanTimeout},
		{"PULSELINK_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = dur
	}

	return nil
}
