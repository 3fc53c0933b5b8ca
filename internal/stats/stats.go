package stats

import (
	"math"
	"sort"
	"time"

	"duelctl/internal/model"
)

// Summary is a basic statistics snapshot over telemetry samples.
type Summary struct {
	Count           int
	From            time.Time
	To              time.Time
	AvgUtilization  float64
	P95Utilization  float64
	PeakUtilization float64
	PeakMemoryGB    float64
	AvgPowerW       float64
}

// Summarize computes summary metrics for samples taken at or after since.
// A zero since includes everything.
func Summarize(items []model.TelemetrySample, since time.Time) Summary {
	filtered := make([]model.TelemetrySample, 0, len(items))
	for _, s := range items {
		if since.IsZero() || s.Timestamp.After(since) || s.Timestamp.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	values := make([]float64, 0, len(filtered))
	var sumUtil, sumPower float64
	peakUtil := 0.0
	peakMem := 0.0
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp

	for _, s := range filtered {
		values = append(values, s.Utilization)
		sumUtil += s.Utilization
		sumPower += s.PowerW
		if s.Utilization > peakUtil {
			peakUtil = s.Utilization
		}
		if s.MemoryGB > peakMem {
			peakMem = s.MemoryGB
		}
		if s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if s.Timestamp.After(to) {
			to = s.Timestamp
		}
	}

	sort.Float64s(values)
	count := float64(len(filtered))

	return Summary{
		Count:           len(filtered),
		From:            from,
		To:              to,
		AvgUtilization:  sumUtil / count,
		P95Utilization:  percentile(values, 0.95),
		PeakUtilization: peakUtil,
		PeakMemoryGB:    peakMem,
		AvgPowerW:       sumPower / count,
	}
}

// Apply copies a summary into completion metrics.
func (s Summary) Apply(m *model.GenMetrics) {
	if m == nil || s.Count == 0 {
		return
	}
	m.AvgUtilization = s.AvgUtilization
	m.PeakUtilization = s.PeakUtilization
	m.PeakMemoryGB = s.PeakMemoryGB
	m.AvgPowerW = s.AvgPowerW
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
