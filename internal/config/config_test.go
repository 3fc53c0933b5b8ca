package config

import (
	"os"
	"path/filepath"
	"testing"

	"duelctl/internal/model"
)

func TestLoadApplyDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "duelctl.yaml")
	raw := `
node:
  name: snapdragon-demo
  platform: snapdragon
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node == nil {
		t.Fatal("node section missing")
	}
	if cfg.Node.Listen != DefaultListen {
		t.Fatalf("listen=%q", cfg.Node.Listen)
	}
	if cfg.Node.BeaconPort != DefaultBeaconPort {
		t.Fatalf("beacon_port=%d", cfg.Node.BeaconPort)
	}
	if cfg.Node.TelemetrySec != DefaultTelemetrySec {
		t.Fatalf("telemetry_sec=%d", cfg.Node.TelemetrySec)
	}
	if cfg.Node.DefaultSteps != 30 {
		t.Fatalf("default_steps=%d", cfg.Node.DefaultSteps)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "duelctl.yaml")
	cfg := Config{
		Coordinator: &CoordinatorConfig{
			Subnet:    "192.168.1.0/24",
			Addresses: []string{"192.168.1.10"},
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Coordinator == nil {
		t.Fatal("coordinator section missing")
	}
	if loaded.Coordinator.Subnet != "192.168.1.0/24" {
		t.Fatalf("subnet=%q", loaded.Coordinator.Subnet)
	}
	if loaded.Coordinator.ProbeTimeoutMs != DefaultProbeTimeoutMs {
		t.Fatalf("probe_timeout_ms=%d", loaded.Coordinator.ProbeTimeoutMs)
	}
	if loaded.Coordinator.ComparisonSec != DefaultComparisonSec {
		t.Fatalf("comparison_sec=%d", loaded.Coordinator.ComparisonSec)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate(Config{}); err == nil {
		t.Fatal("empty config should not validate")
	}

	if err := Validate(Config{Node: &NodeConfig{}}); err == nil {
		t.Fatal("node without name should not validate")
	}

	if err := Validate(Config{Node: &NodeConfig{Name: "a", Platform: "m1"}}); err == nil {
		t.Fatal("unknown platform should not validate")
	}

	if err := Validate(Config{Coordinator: &CoordinatorConfig{}}); err == nil {
		t.Fatal("coordinator without targets should not validate")
	}

	ok := Config{
		Node:        &NodeConfig{Name: "a", Platform: "intel"},
		Coordinator: &CoordinatorConfig{Subnet: "10.0.0.0/24"},
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDefaultParams(t *testing.T) {
	t.Parallel()

	p := DefaultParams(model.PlatformSnapdragon)
	if p.Steps != 30 || p.Width != DefaultResolution || p.Height != DefaultResolution || p.Guidance != DefaultGuidance {
		t.Fatalf("params=%+v", p)
	}
	if DefaultParams(model.PlatformIntel).Steps != 25 {
		t.Fatal("intel steps")
	}
	if DefaultParams(model.PlatformUnknown).Steps != 20 {
		t.Fatal("unknown steps")
	}
}
