// Package config builds the process configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrModelFileUnset is returned when MODEL_FILE is missing from the environment.
var ErrModelFileUnset = errors.New("MODEL_FILE is not set")

type Config struct {
	HTTP  HTTPConfig  `yaml:"http"`
	Model ModelConfig `yaml:"model"`
	Log   LogConfig   `yaml:"log"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ModelConfig describes where the artifact lives and how it is loaded. Path
// only comes from MODEL_FILE.
type ModelConfig struct {
	Path        string `yaml:"-"`
	Type        string `yaml:"type"`
	Cache       string `yaml:"cache"`
	CacheSize   int    `yaml:"cache_size"`
	ONNXLibrary string `yaml:"onnx_library"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

const (
	CacheNone = "none"
	CacheLRU  = "lru"
)

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Model: ModelConfig{
			Type:      "auto",
			Cache:     CacheNone,
			CacheSize: 4,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load applies defaults, then the YAML file at path (skipped when path is
// empty), then the environment.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	c.Model.Path, _ = lookup("MODEL_FILE")

	overrides := map[string]*string{
		"MODEL_TYPE":   &c.Model.Type,
		"MODEL_CACHE":  &c.Model.Cache,
		"ONNX_LIBRARY": &c.Model.ONNXLibrary,
		"HTTP_HOST":    &c.HTTP.Host,
		"LOG_LEVEL":    &c.Log.Level,
		"LOG_FORMAT":   &c.Log.Format,
		"LOG_FILE":     &c.Log.File,
	}
	for key, dst := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return ErrModelFileUnset
	}
	switch c.Model.Type {
	case "auto", "decision_tree", "onnx":
	default:
		return fmt.Errorf("model.type: unsupported value %q", c.Model.Type)
	}
	switch c.Model.Cache {
	case CacheNone:
	case CacheLRU:
		if c.Model.CacheSize <= 0 {
			return fmt.Errorf("model.cache_size must be positive, got %d", c.Model.CacheSize)
		}
	default:
		return fmt.Errorf("model.cache: unsupported value %q", c.Model.Cache)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
