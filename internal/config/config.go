package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"duelctl/internal/model"
)

const (
	DefaultListen            = ":5000"
	DefaultBeaconPort        = 5001
	DefaultTelemetrySec      = 1
	DefaultEventQueueDepth   = 64
	DefaultProbeTimeoutMs    = 100
	DefaultSilenceTimeoutSec = 30
	DefaultComparisonSec     = 120
	DefaultDispatchSkewMs    = 250
	DefaultGuidance          = 7.5
	DefaultResolution        = 768
)

// Config holds both node and coordinator settings.
type Config struct {
	Node        *NodeConfig        `yaml:"node,omitempty"`
	Coordinator *CoordinatorConfig `yaml:"coordinator,omitempty"`
}

// NodeConfig is used by the node control service process.
type NodeConfig struct {
	Name            string   `yaml:"name"`
	Listen          string   `yaml:"listen"`
	BeaconPort      int      `yaml:"beacon_port"`
	Platform        string   `yaml:"platform"` // override: snapdragon|intel|unknown, empty = detect
	ForceSimulation bool     `yaml:"force_simulation"`
	AssetsDir       string   `yaml:"assets_dir"`
	AcceleratorLibs []string `yaml:"accelerator_libs"` // runtime library paths probed by detection
	TelemetrySec    int      `yaml:"telemetry_sec"`
	EventQueueDepth int      `yaml:"event_queue_depth"`
	DefaultSteps    int      `yaml:"default_steps"`
	// BaseDurationsSec overrides the simulation timing model per platform.
	BaseDurationsSec map[string]float64 `yaml:"base_durations_sec,omitempty"`
}

// CoordinatorConfig is used by the control-point process.
type CoordinatorConfig struct {
	Subnet            string   `yaml:"subnet"`              // CIDR probed during discovery
	Addresses         []string `yaml:"addresses,omitempty"` // explicit node addrs, skips the scan
	BeaconPort        int      `yaml:"beacon_port"`
	ProbeTimeoutMs    int      `yaml:"probe_timeout_ms"`
	SilenceTimeoutSec int      `yaml:"silence_timeout_sec"`
	ComparisonSec     int      `yaml:"comparison_sec"`
	DispatchSkewMs    int      `yaml:"dispatch_skew_ms"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Node == nil && cfg.Coordinator == nil {
		return fmt.Errorf("config must contain node or coordinator section")
	}
	if cfg.Node != nil {
		if cfg.Node.Name == "" {
			return fmt.Errorf("node.name is required")
		}
		switch cfg.Node.Platform {
		case "", string(model.PlatformSnapdragon), string(model.PlatformIntel), string(model.PlatformUnknown):
		default:
			return fmt.Errorf("node.platform %q is not a known platform", cfg.Node.Platform)
		}
	}
	if cfg.Coordinator != nil {
		if cfg.Coordinator.Subnet == "" && len(cfg.Coordinator.Addresses) == 0 {
			return fmt.Errorf("coordinator.subnet or coordinator.addresses is required")
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Node != nil {
		n := cfg.Node
		if n.Listen == "" {
			n.Listen = DefaultListen
		}
		if n.BeaconPort == 0 {
			n.BeaconPort = DefaultBeaconPort
		}
		if n.TelemetrySec == 0 {
			n.TelemetrySec = DefaultTelemetrySec
		}
		if n.EventQueueDepth == 0 {
			n.EventQueueDepth = DefaultEventQueueDepth
		}
		if n.AssetsDir == "" {
			n.AssetsDir = "assets"
		}
		if n.DefaultSteps == 0 {
			n.DefaultSteps = defaultStepsFor(n.Platform)
		}
	}

	if cfg.Coordinator != nil {
		c := cfg.Coordinator
		if c.BeaconPort == 0 {
			c.BeaconPort = DefaultBeaconPort
		}
		if c.ProbeTimeoutMs == 0 {
			c.ProbeTimeoutMs = DefaultProbeTimeoutMs
		}
		if c.SilenceTimeoutSec == 0 {
			c.SilenceTimeoutSec = DefaultSilenceTimeoutSec
		}
		if c.ComparisonSec == 0 {
			c.ComparisonSec = DefaultComparisonSec
		}
		if c.DispatchSkewMs == 0 {
			c.DispatchSkewMs = DefaultDispatchSkewMs
		}
	}
}

// DefaultParams returns tuned generation parameters for a platform.
// Snapdragon runs more steps because its accelerated models step faster.
func DefaultParams(platform model.PlatformIdentity) model.GenParams {
	return model.GenParams{
		Steps:    defaultStepsFor(string(platform)),
		Width:    DefaultResolution,
		Height:   DefaultResolution,
		Guidance: DefaultGuidance,
	}
}

func defaultStepsFor(platform string) int {
	switch platform {
	case string(model.PlatformSnapdragon):
		return 30
	case string(model.PlatformIntel):
		return 25
	default:
		return 20
	}
}
