// Package config loads a Collection's on-disk configuration, the
// chancolctl analogue of the teacher's flag-driven manager.Config but
// sourced from a YAML file so the raft cluster and sweep cadence can
// be versioned alongside the data store registry that wires into it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level on-disk shape for a chancolctl node.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Log        LogConfig        `yaml:"log"`
	GC         GCConfig         `yaml:"gc"`
	Collection CollectionConfig `yaml:"collection"`
}

// NodeConfig identifies this node within its raft cluster.
type NodeConfig struct {
	ID       string `yaml:"id"`
	BindAddr string `yaml:"bind_addr"`
	DataDir  string `yaml:"data_dir"`
}

// LogConfig mirrors pkg/log.Config's knobs so they can be set from file
// instead of only from persistent flags.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// GCConfig controls the background sweep cadence, §4.G/§7.
type GCConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CollectionConfig carries the behavior flags §6 describes as
// construction-time, ambient switches rather than per-call options.
type CollectionConfig struct {
	DetectOutboundRoutesViaDDSKey bool `yaml:"detect_outbound_routes_via_dds_key"`
}

// Default returns the configuration chancolctl falls back to when no
// file is given, matching the teacher's clusterInitCmd flag defaults.
func Default() Config {
	return Config{
		Node: NodeConfig{
			ID:       "node-1",
			BindAddr: "127.0.0.1:7950",
			DataDir:  "./chancol-data",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		GC: GCConfig{
			SweepInterval: 30 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file, filling in Default() for
// any field the file doesn't set.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
