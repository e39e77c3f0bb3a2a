// Package config loads the states agent's YAML configuration file,
// matching the keys the core reads: salt.delay, global.watch, and the
// module.* bootstrap location, plus the ambient RPC/metrics settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opslink/states-agent/internal/moduleset"
)

// SaltConfig holds the recipe-delay setting.
type SaltConfig struct {
	// DelayMinutes is minutes between recipe cycles; 0 is legal and
	// collapses the delay to a no-op.
	DelayMinutes int `yaml:"delay"`
}

// GlobalConfig holds cross-cutting settings.
type GlobalConfig struct {
	// Watch is the directory the Checksum store persists into.
	Watch string `yaml:"watch"`
}

// RPCConfig configures the control surface and Manager client transport.
type RPCConfig struct {
	// ListenAddr is where the control surface (Load/Abort/Kill/...)
	// listens for inbound Manager calls.
	ListenAddr string `yaml:"listen_addr"`
	// ManagerAddr is the backend the agent reports state-logs to.
	ManagerAddr string `yaml:"manager_addr"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the agent's full configuration file shape.
type Config struct {
	AgentID string              `yaml:"agent_id"`
	Salt    SaltConfig          `yaml:"salt"`
	Global  GlobalConfig        `yaml:"global"`
	Module  moduleset.Config    `yaml:"module"`
	RPC     RPCConfig           `yaml:"rpc"`
	Metrics MetricsConfig       `yaml:"metrics"`
}

// Default returns the conservative defaults Load starts from: no delay,
// local-only control surface, no metrics server. A missing config file is
// still an error from Load.
func Default() Config {
	return Config{
		AgentID: "",
		Salt:    SaltConfig{DelayMinutes: 0},
		Global:  GlobalConfig{Watch: "/var/lib/states-agent/checksums"},
		RPC:     RPCConfig{ListenAddr: "127.0.0.1:7373"},
		Metrics: MetricsConfig{Enabled: false, Port: 9090},
	}
}

// Load reads and parses path, starting from Default() so a partially
// specified file only overrides what it mentions.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
