// Package config loads hashcore's process configuration from YAML, with
// defaults sane enough to run a demo instance with no file at all.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaydb/hashcore/pkg/logger"
	"github.com/relaydb/hashcore/pkg/telemetry"
)

// Config is the top-level shape loaded from a hashcore config file
// (spec.md §4.11): where the page file lives, how big the buffer pool is,
// and the ambient logging/telemetry stacks.
type Config struct {
	PageFilePath string `yaml:"page_file_path"`
	PoolSize     int    `yaml:"pool_size_per_instance"`
	NumInstances int    `yaml:"num_instances"`

	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration hashcorectl runs with when no config
// file is given.
func Default() Config {
	return Config{
		PageFilePath: "hashcore.db",
		PoolSize:     64,
		NumInstances: 4,
		Logger: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: "hashcore",
		},
	}
}

// Load reads and parses a YAML config file, filling any field it leaves
// zero-valued with Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 64
	}
	if cfg.NumInstances <= 0 {
		cfg.NumInstances = 4
	}
	if cfg.PageFilePath == "" {
		cfg.PageFilePath = "hashcore.db"
	}
	return cfg, nil
}
