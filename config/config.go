// Package config loads the platform configuration from a yaml file or
// from command-line flags.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultWebAddr is where the dashboard listens unless overridden.
	DefaultWebAddr = ":8000"

	// MaxSymbols bounds how many markets one instance observes.
	MaxSymbols = 12
)

var validAssetTokens = map[string]bool{"USDT": true, "BUSD": true}

// Config is everything the platform needs to start: where to keep its
// data, which markets to observe and the exchange credentials.
type Config struct {
	DataDir       string   `yaml:"datapath"`
	AssetToken    string   `yaml:"asset_token"`
	Symbols       []string `yaml:"target_symbols"`
	BinanceKey    string   `yaml:"binance_api_key"`
	BinanceSecret string   `yaml:"binance_api_secret"`
	WebAddr       string   `yaml:"web_addr"`
	LogLevel      string   `yaml:"log_level"`
}

// Get resolves the configuration: a -config yaml file when provided,
// plain flags otherwise.
func Get() (Config, error) {
	path, cfg := fromFlags()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and validates a yaml config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Save writes the configuration as yaml, creating the file with owner
// permissions only since it carries API credentials.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

func (c *Config) normalize() error {
	if c.DataDir == "" {
		return errors.New("datapath must be set")
	}
	if c.AssetToken == "" {
		c.AssetToken = "USDT"
	}
	if !validAssetTokens[c.AssetToken] {
		return errors.Errorf("asset token %q is not supported", c.AssetToken)
	}
	if len(c.Symbols) == 0 {
		return errors.New("at least one target symbol must be set")
	}
	if len(c.Symbols) > MaxSymbols {
		return errors.Errorf("at most %d target symbols are supported, got %d", MaxSymbols, len(c.Symbols))
	}
	for i, symbol := range c.Symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if !strings.HasSuffix(symbol, c.AssetToken) || symbol == c.AssetToken {
			return errors.Errorf("symbol %q must be a base asset quoted in %s", symbol, c.AssetToken)
		}
		c.Symbols[i] = symbol
	}
	if c.WebAddr == "" {
		c.WebAddr = DefaultWebAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}
