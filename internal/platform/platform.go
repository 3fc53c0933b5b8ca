package platform

import (
	"os"
	"runtime"
	"strings"

	"duelctl/internal/model"
)

// Capability is the outcome of local hardware detection: the highest
// viable execution tier plus the identity used for simulation assets.
type Capability struct {
	Tier     model.Tier
	Identity model.PlatformIdentity
	Accel    string // human-readable acceleration description
}

// Options tune detection. All fields are optional.
type Options struct {
	// Override forces a platform identity (config or test override).
	Override string
	// ForceSimulation pins the tier to simulation regardless of hardware.
	ForceSimulation bool
	// AcceleratorLibs are runtime library paths whose presence marks the
	// accelerated backend usable. Empty means "trust the identity".
	AcceleratorLibs []string
	// CPUInfoPath is the processor identity source, /proc/cpuinfo by default.
	CPUInfoPath string
}

// Env overrides, checked before everything else so tests and demo operators
// can pin behavior without editing config.
const (
	EnvPlatform = "DUELCTL_PLATFORM"
	EnvForceSim = "DUELCTL_FORCE_SIM"
)

// Detect inspects the local node and returns the highest viable capability
// for the hardware alone. It never fails: unrecognized hardware degrades to
// the generic tier. Whether a generate backend is actually provisioned for
// the tier is the node's call at admission, layered on top of this result.
// Safe to call repeatedly; it has no side effects on job state.
func Detect(opts Options) Capability {
	if v := os.Getenv(EnvForceSim); isTruthy(v) || opts.ForceSimulation {
		return Capability{Tier: model.TierSimulation, Identity: identityFromHints(opts), Accel: "simulation"}
	}

	identity := identityFromHints(opts)

	if identity == model.PlatformUnknown {
		return Capability{Tier: model.TierGeneric, Identity: identity, Accel: "generic compute"}
	}

	if len(opts.AcceleratorLibs) > 0 && !anyExists(opts.AcceleratorLibs) {
		// Known platform but the accelerated runtime is missing.
		return Capability{Tier: model.TierGeneric, Identity: identity, Accel: "generic compute"}
	}

	return Capability{Tier: model.TierAccelerated, Identity: identity, Accel: accelFor(identity)}
}

func identityFromHints(opts Options) model.PlatformIdentity {
	if v := os.Getenv(EnvPlatform); v != "" {
		return parseIdentity(v)
	}
	if opts.Override != "" {
		return parseIdentity(opts.Override)
	}

	if id := identityFromCPUInfo(opts.CPUInfoPath); id != model.PlatformUnknown {
		return id
	}

	// Architecture is a weaker signal than the processor string but still
	// distinguishes the two demo machines.
	if runtime.GOARCH == "arm64" {
		return model.PlatformSnapdragon
	}
	return model.PlatformUnknown
}

func identityFromCPUInfo(path string) model.PlatformIdentity {
	if path == "" {
		path = "/proc/cpuinfo"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PlatformUnknown
	}
	return classifyProcessor(string(data))
}

func classifyProcessor(info string) model.PlatformIdentity {
	lower := strings.ToLower(info)
	switch {
	case strings.Contains(lower, "snapdragon"), strings.Contains(lower, "qualcomm"):
		return model.PlatformSnapdragon
	case strings.Contains(lower, "intel"):
		return model.PlatformIntel
	default:
		return model.PlatformUnknown
	}
}

func parseIdentity(v string) model.PlatformIdentity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case string(model.PlatformSnapdragon):
		return model.PlatformSnapdragon
	case string(model.PlatformIntel):
		return model.PlatformIntel
	default:
		return model.PlatformUnknown
	}
}

func accelFor(identity model.PlatformIdentity) string {
	switch identity {
	case model.PlatformSnapdragon:
		return "NPU"
	case model.PlatformIntel:
		return "CPU+iGPU"
	default:
		return "generic compute"
	}
}

func anyExists(paths []string) bool {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
