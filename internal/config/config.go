// Package config loads and validates the process configuration: YAML
// decoding via goccy/go-yaml and struct-tag validation via
// go-playground/validator, so a malformed or incomplete config fails
// fast at startup instead of surfacing as a confusing runtime error.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Config is the root configuration for a kvcore process.
type Config struct {
	SSTableDirectory    string `yaml:"sstableDirectory" validate:"required"`
	BloomFilterSize     uint32 `yaml:"bloomFilterSize" validate:"required,min=1"`
	BloomHashCount      int    `yaml:"bloomHashCount" validate:"required,min=1"`
	MaxKeysPerSSTable   int    `yaml:"maxKeysPerSSTable" validate:"required,min=1"`
	CompactionThreshold int    `yaml:"compactionThreshold" validate:"required,min=1"`
	CacheInstances      int    `yaml:"cacheInstances" validate:"required,min=1"`
	PersistenceWorkers  int    `yaml:"persistenceWorkers" validate:"required,min=1"`
	HTTPPort            int    `yaml:"httpPort" validate:"required,min=1,max=65535"`
	LogJSON             bool   `yaml:"logJSON"`
	LogLevel            string `yaml:"logLevel" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// Default returns a baseline development configuration.
func Default() Config {
	return Config{
		SSTableDirectory:    "./data",
		BloomFilterSize:     4096,
		BloomHashCount:      4,
		MaxKeysPerSSTable:   1000,
		CompactionThreshold: 3,
		CacheInstances:      1,
		PersistenceWorkers:  4,
		HTTPPort:            8080,
		LogJSON:             false,
		LogLevel:            "INFO",
	}
}

// Load reads and validates a YAML config file at path. A missing file
// is not an error: Load falls back to Default() so the process can
// start from a clean checkout with no configuration on disk.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, Validate(cfg)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
