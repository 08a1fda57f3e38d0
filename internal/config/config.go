// Package config handles loading bridge configuration from YAML files and
// applying defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the bridge plugin.
type Config struct {
	Bridge  BridgeConfig  `yaml:"bridge"`
	Log     LogConfig     `yaml:"log"`
	Trading TradingConfig `yaml:"trading"`
	Asset   AssetConfig   `yaml:"asset"`
}

// BridgeConfig configures the TCP session to the order-management application.
type BridgeConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	DialTimeoutMs int    `yaml:"dialTimeoutMs"`
	IOTimeoutMs   int    `yaml:"ioTimeoutMs"`
}

// Addr returns the host:port dial address.
func (b BridgeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TradingConfig holds order lifecycle and polling settings.
type TradingConfig struct {
	FillWaitAttempts  int    `yaml:"fillWaitAttempts"`
	FillWaitMs        int    `yaml:"fillWaitMs"`
	ReconcileAttempts int    `yaml:"reconcileAttempts"`
	ReconcileMs       int    `yaml:"reconcileMs"`
	OrderHistoryCap   int    `yaml:"orderHistoryCap"`
	DefaultTIF        string `yaml:"defaultTif"`
	MaxTicks          int    `yaml:"maxTicks"`
	MaxRequestsPerSec int    `yaml:"maxRequestsPerSec"`
}

// AssetConfig holds fallback contract specs used when the application
// reports none at subscribe time.
type AssetConfig struct {
	DefaultTickSize   float64 `yaml:"defaultTickSize"`
	DefaultPointValue float64 `yaml:"defaultPointValue"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// LoadOrDefault loads the given file if it can be read and parsed, otherwise
// returns the built-in defaults. The plugin DLL runs without a config file in most
// installations.
func LoadOrDefault(path string) *Config {
	if path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	return Default()
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults applies sensible defaults for optional fields.
func (c *Config) setDefaults() {
	if c.Bridge.Host == "" {
		c.Bridge.Host = "127.0.0.1"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 8888
	}
	if c.Bridge.DialTimeoutMs == 0 {
		c.Bridge.DialTimeoutMs = 3000
	}
	if c.Bridge.IOTimeoutMs == 0 {
		c.Bridge.IOTimeoutMs = 30000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "logs/ntbridge.log"
	}
	if c.Trading.FillWaitAttempts == 0 {
		c.Trading.FillWaitAttempts = 10
	}
	if c.Trading.FillWaitMs == 0 {
		c.Trading.FillWaitMs = 100
	}
	if c.Trading.ReconcileAttempts == 0 {
		c.Trading.ReconcileAttempts = 10
	}
	if c.Trading.ReconcileMs == 0 {
		c.Trading.ReconcileMs = 100
	}
	if c.Trading.OrderHistoryCap == 0 {
		c.Trading.OrderHistoryCap = 100
	}
	if c.Trading.DefaultTIF == "" {
		c.Trading.DefaultTIF = "GTC"
	}
	if c.Trading.MaxTicks == 0 {
		c.Trading.MaxTicks = 5000
	}
	if c.Trading.MaxRequestsPerSec == 0 {
		c.Trading.MaxRequestsPerSec = 20
	}
	if c.Asset.DefaultTickSize == 0 {
		c.Asset.DefaultTickSize = 0.25
	}
	if c.Asset.DefaultPointValue == 0 {
		c.Asset.DefaultPointValue = 1.25
	}
}
