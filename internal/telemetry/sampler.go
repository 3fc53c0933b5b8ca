// Package telemetry periodically samples local resource counters for a
// running job. Real runs read the host via gopsutil; simulated runs are fed
// a synthetic curve so the emitted shape matches a real run.
package telemetry

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"duelctl/internal/model"
)

// Sampler emits TelemetrySamples at a fixed cadence while a job runs.
type Sampler struct {
	Interval time.Duration
	Identity model.PlatformIdentity
	// Curve, when set, may supply synthetic (utilization, power, memory)
	// readings instead of host counters. Used on the simulation tier; a
	// false ok falls back to real counters.
	Curve func() (utilization, powerW, memoryGB float64, ok bool)
}

// Run ticks until ctx is cancelled, calling emit with each sample. It holds
// no locks and shares nothing with the executor beyond the emit sink.
func (s *Sampler) Run(ctx context.Context, jobID string, emit func(model.TelemetrySample)) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit(s.sample(jobID))
		}
	}
}

func (s *Sampler) sample(jobID string) model.TelemetrySample {
	now := time.Now().UTC()
	if s.Curve != nil {
		if util, power, memGB, ok := s.Curve(); ok {
			return model.TelemetrySample{JobID: jobID, Timestamp: now, Utilization: util, MemoryGB: memGB, PowerW: power}
		}
	}

	util := readCPUPercent()
	memGB := readMemoryGB()
	return model.TelemetrySample{
		JobID:       jobID,
		Timestamp:   now,
		Utilization: util,
		MemoryGB:    memGB,
		PowerW:      EstimatePower(s.Identity, util),
	}
}

func readCPUPercent() float64 {
	// Interval 0 measures since the previous call, which matches a ticker
	// driven sampler and avoids blocking inside the tick.
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return clampPct(percents[0])
}

func readMemoryGB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Used) / (1 << 30)
}

// EstimatePower approximates instantaneous draw from utilization using the
// per-platform base/peak profile. It is an estimate, not a measurement.
func EstimatePower(identity model.PlatformIdentity, utilization float64) float64 {
	utilization = clampPct(utilization)
	switch identity {
	case model.PlatformSnapdragon:
		return 8 + utilization/100*7
	case model.PlatformIntel:
		return 15 + utilization/100*13
	default:
		return 12 + utilization/100*10
	}
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
