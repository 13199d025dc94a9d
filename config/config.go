// Package config provides configuration loading and management for dicomview.
// It handles loading configuration from YAML files, environment overrides,
// validation, and default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomview/types"
)

// EnvAPIURL overrides API.BaseURL when set
const EnvAPIURL = "DICOMVIEW_API_URL"

// DefaultAPIBaseURL is the local backend endpoint
const DefaultAPIBaseURL = "http://localhost:8000/api/v1"

// DefaultCacheBytes is the in-memory image cache ceiling (2 GiB)
const DefaultCacheBytes int64 = 2 * 1024 * 1024 * 1024

// Instance ordering policies
const (
	OrderInstanceNumber = "instance-number"
	OrderPosition       = "position"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Backend connection
	API struct {
		// BaseURL is the REST/DICOMweb API root
		BaseURL string `yaml:"baseURL" validate:"required,url"`

		// Timeout bounds each listing request; uploads are not bounded
		Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	} `yaml:"api"`

	// Rendering engine parameters
	Engine struct {
		// ID names the single rendering engine instance
		ID string `yaml:"id" validate:"required"`

		// ToolGroupID names the single tool group
		ToolGroupID string `yaml:"toolGroupID" validate:"required"`

		// DecodeWorkers sizes the decode worker pool
		DecodeWorkers int `yaml:"decodeWorkers" validate:"min=1,max=64"`

		// CacheBytes is the image cache capacity ceiling
		CacheBytes int64 `yaml:"cacheBytes" validate:"gt=0"`
	} `yaml:"engine"`

	// Viewer defaults
	Viewer struct {
		Layout        types.Layout `yaml:"layout"`
		DefaultTool   string       `yaml:"defaultTool" validate:"required"`
		InstanceOrder string       `yaml:"instanceOrder" validate:"oneof=instance-number position"`
	} `yaml:"viewer"`

	// Upload parameters
	Upload struct {
		// FilterDICOM drops files that do not look like DICOM before upload
		FilterDICOM bool `yaml:"filterDICOM"`
	} `yaml:"upload"`

	// Logging
	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	} `yaml:"log"`

	// Metrics exposition for long-running sessions
	Metrics struct {
		// Address to serve /metrics on; empty disables the endpoint
		Address string `yaml:"address" validate:"omitempty,hostname_port"`
	} `yaml:"metrics"`
}

var validate = validator.New()

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.BaseURL = DefaultAPIBaseURL
	cfg.API.Timeout = 30 * time.Second

	cfg.Engine.ID = "dicomViewerEngine"
	cfg.Engine.ToolGroupID = "dicomViewerToolGroup"
	cfg.Engine.DecodeWorkers = runtime.NumCPU()
	if cfg.Engine.DecodeWorkers < 1 {
		cfg.Engine.DecodeWorkers = 4
	}
	cfg.Engine.CacheBytes = DefaultCacheBytes

	cfg.Viewer.Layout = types.Layout1x1
	cfg.Viewer.DefaultTool = "WindowLevel"
	cfg.Viewer.InstanceOrder = OrderInstanceNumber

	cfg.Upload.FilterDICOM = true

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment variable overrides
func (c *Config) ApplyEnv() {
	if url := os.Getenv(EnvAPIURL); url != "" {
		c.API.BaseURL = url
	}
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
