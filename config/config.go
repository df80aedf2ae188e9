package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	nativecommon "lendvault/native/common"
	"lendvault/native/lending"
)

// Config is the deployment configuration for the lendvault daemon.
type Config struct {
	ListenAddress     string         `toml:"ListenAddress"`
	DataDir           string         `toml:"DataDir"`
	Environment       string         `toml:"Environment"`
	PoolAddress       string         `toml:"PoolAddress"`
	CollateralAddress string         `toml:"CollateralAddress"`
	Paused            []string       `toml:"Paused"`
	Oracle            OracleConfig   `toml:"oracle"`
	Lending           lending.Config `toml:"lending"`
}

// OracleConfig controls price feed wiring and freshness.
type OracleConfig struct {
	Priority           []string          `toml:"Priority"`
	MaxQuoteAgeSeconds int64             `toml:"MaxQuoteAgeSeconds"`
	Endpoint           string            `toml:"Endpoint"`
	StaticQuotes       map[string]string `toml:"StaticQuotes"`
}

// MaxQuoteAge returns the configured freshness window as a duration.
func (c OracleConfig) MaxQuoteAge() time.Duration {
	return time.Duration(c.MaxQuoteAgeSeconds) * time.Second
}

// Load reads and normalises the TOML configuration at the given path.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg.Normalise(), nil
}

// Default returns the development configuration: in-memory storage, manual
// oracle quotes only, reference lending constants.
func Default() Config {
	return Config{
		ListenAddress: "127.0.0.1:8645",
		Lending:       lending.DefaultConfig(),
	}.Normalise()
}

// Normalise applies defaults to unset fields.
func (c Config) Normalise() Config {
	cfg := c
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:8645"
	}
	if len(cfg.Oracle.Priority) == 0 {
		cfg.Oracle.Priority = []string{"manual"}
	}
	if cfg.Oracle.MaxQuoteAgeSeconds <= 0 {
		cfg.Oracle.MaxQuoteAgeSeconds = 120
	}
	cfg.Lending = cfg.Lending.Normalise()
	return cfg
}

// Pauses converts the configured pause list into a PauseView.
func (c Config) Pauses() nativecommon.PauseView {
	pauses := make(nativecommon.Pauses, len(c.Paused))
	for _, module := range c.Paused {
		module = strings.ToLower(strings.TrimSpace(module))
		if module != "" {
			pauses[module] = true
		}
	}
	return pauses
}
