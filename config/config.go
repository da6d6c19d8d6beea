// Package config loads the watcher daemon's runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for orderflowd.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	Environment   string           `yaml:"environment"`
	AuthToken     string           `yaml:"auth_token"`
	DatabasePath  string           `yaml:"database"`
	RouterAddress string           `yaml:"router_address"`
	Trampoline    string           `yaml:"trampoline"`
	Validity      Duration         `yaml:"validity"`
	Settlement    SettlementConfig `yaml:"settlement"`
	Log           LogConfig        `yaml:"log"`
}

// SettlementConfig identifies the external matching network and the signing
// domain whose digests the manager must reproduce.
type SettlementConfig struct {
	APIBase           string  `yaml:"api_base"`
	DomainName        string  `yaml:"domain_name"`
	DomainVersion     string  `yaml:"domain_version"`
	ChainID           uint64  `yaml:"chain_id"`
	VerifyingContract string  `yaml:"verifying_contract"`
	SubmitPerSecond   float64 `yaml:"submit_per_second"`
	SubmitBurst       int     `yaml:"submit_burst"`
}

// LogConfig tunes structured log output.
type LogConfig struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/orderflow.db"
	}
	if cfg.Validity.Duration == 0 {
		cfg.Validity.Duration = 5 * time.Minute
	}
	if cfg.Settlement.DomainName == "" {
		cfg.Settlement.DomainName = "Settlement Protocol"
	}
	if cfg.Settlement.DomainVersion == "" {
		cfg.Settlement.DomainVersion = "v2"
	}
	if cfg.Settlement.SubmitPerSecond == 0 {
		cfg.Settlement.SubmitPerSecond = 2
	}
	if cfg.Settlement.SubmitBurst == 0 {
		cfg.Settlement.SubmitBurst = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

func validate(cfg Config) error {
	if cfg.AuthToken == "" {
		return fmt.Errorf("auth_token must be configured")
	}
	if cfg.Settlement.ChainID == 0 {
		return fmt.Errorf("settlement.chain_id must be configured")
	}
	if !common.IsHexAddress(cfg.RouterAddress) {
		return fmt.Errorf("router_address %q is not a valid address", cfg.RouterAddress)
	}
	if !common.IsHexAddress(cfg.Trampoline) {
		return fmt.Errorf("trampoline %q is not a valid address", cfg.Trampoline)
	}
	if cfg.Settlement.VerifyingContract != "" && !common.IsHexAddress(cfg.Settlement.VerifyingContract) {
		return fmt.Errorf("settlement.verifying_contract %q is not a valid address", cfg.Settlement.VerifyingContract)
	}
	return nil
}
