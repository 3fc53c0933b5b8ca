package model

import "time"

// PlatformIdentity is the declared hardware class of a node.
type PlatformIdentity string

const (
	PlatformSnapdragon PlatformIdentity = "snapdragon"
	PlatformIntel      PlatformIdentity = "intel"
	PlatformUnknown    PlatformIdentity = "unknown"
)

// Tier is the acceleration capability a job executes under, highest first.
type Tier int

const (
	TierAccelerated Tier = iota // preferred hardware backend (NPU, DirectML, ...)
	TierGeneric                 // generic compute fallback
	TierSimulation              // no real backend, full software simulation
)

func (t Tier) String() string {
	switch t {
	case TierAccelerated:
		return "accelerated"
	case TierGeneric:
		return "generic"
	case TierSimulation:
		return "simulation"
	default:
		return "unknown"
	}
}

// Next returns the tier one step down. Simulation is the floor.
func (t Tier) Next() Tier {
	if t >= TierSimulation {
		return TierSimulation
	}
	return t + 1
}

// JobState is the lifecycle state of a job on a node.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobError     JobState = "error"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// GenParams are the generation parameters for one job.
type GenParams struct {
	Steps    int     `json:"steps" yaml:"steps"`
	Width    int     `json:"width" yaml:"width"`
	Height   int     `json:"height" yaml:"height"`
	Guidance float64 `json:"guidance" yaml:"guidance"`
}

// ImageRef points at a produced image. Simulated runs reference a
// pre-existing asset; real runs reference whatever the backend wrote.
type ImageRef struct {
	Path     string `json:"path"`
	Category string `json:"category,omitempty"`
	Variant  int    `json:"variant,omitempty"`
}

// GenMetrics summarizes one finished generation. Simulated is always set
// explicitly so no consumer can mistake synthetic numbers for measurements.
type GenMetrics struct {
	Backend         string  `json:"backend"`
	Simulated       bool    `json:"simulated"`
	DurationSec     float64 `json:"duration_sec"`
	MsPerStep       float64 `json:"ms_per_step"`
	Steps           int     `json:"steps"`
	Resolution      string  `json:"resolution"`
	AvgUtilization  float64 `json:"avg_utilization"`
	PeakUtilization float64 `json:"peak_utilization"`
	PeakMemoryGB    float64 `json:"peak_memory_gb"`
	AvgPowerW       float64 `json:"avg_power_w"`
}

// Job is one generation request and its lifecycle on a node.
type Job struct {
	ID        string           `json:"id"`
	Prompt    string           `json:"prompt"`
	Params    GenParams        `json:"params"`
	State     JobState         `json:"state"`
	Tier      Tier             `json:"-"`
	TierName  string           `json:"tier"`
	Platform  PlatformIdentity `json:"platform"`
	CreatedAt time.Time        `json:"created_at"`
	StartedAt time.Time        `json:"started_at,omitempty"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
	Image     *ImageRef        `json:"image,omitempty"`
	Metrics   *GenMetrics      `json:"metrics,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// TelemetrySample is one point-in-time resource reading for a running job.
type TelemetrySample struct {
	JobID       string    `json:"job_id"`
	Timestamp   time.Time `json:"timestamp"`
	Utilization float64   `json:"utilization"` // percent of the active compute resource
	MemoryGB    float64   `json:"memory_gb"`
	PowerW      float64   `json:"power_w"`
}

// Node is one discovered worker endpoint, owned by the coordinator registry.
type Node struct {
	Name       string           `json:"name" yaml:"name"`
	Addr       string           `json:"addr" yaml:"addr"` // host:port of the control service
	Platform   PlatformIdentity `json:"platform" yaml:"platform"`
	LastSeenAt time.Time        `json:"last_seen_at" yaml:"last_seen_at"`
	Reachable  bool             `json:"reachable" yaml:"reachable"`
	// Confidence is lowered for nodes that answered a discovery probe late.
	Confidence string `json:"confidence" yaml:"confidence"`
}

const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

// NodeOutcome is the terminal (or timed-out) result of one node's job
// within a comparison.
type NodeOutcome struct {
	Node        string           `json:"node"`
	Platform    PlatformIdentity `json:"platform"`
	JobID       string           `json:"job_id"`
	State       string           `json:"state"` // completed|error|incomplete
	Tier        string           `json:"tier"`
	Simulated   bool             `json:"simulated"`
	DurationSec float64          `json:"duration_sec"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Metrics     *GenMetrics      `json:"metrics,omitempty"`
}

// ComparisonResult pairs the outcomes of one synchronized run.
type ComparisonResult struct {
	Prompt   string        `json:"prompt"`
	Params   GenParams     `json:"params"`
	Outcomes []NodeOutcome `json:"outcomes"`
	// Winner is the name of the fastest completed node. Empty when fewer
	// than two nodes completed or any compared node errored.
	Winner string `json:"winner,omitempty"`
}
