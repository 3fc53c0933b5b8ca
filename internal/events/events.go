package events

import (
	"time"

	"duelctl/internal/model"
)

// Type names a job lifecycle event on the wire.
type Type string

const (
	TypeJobStarted Type = "job_started"
	TypeProgress   Type = "progress"
	TypeTelemetry  Type = "telemetry"
	TypeCompleted  Type = "completed"
	TypeError      Type = "error"
)

// Event is one pushed update. Fields are flat with omitempty so each event
// type serializes only what it carries; subscribers switch on Type.
type Event struct {
	Type  Type   `json:"type"`
	JobID string `json:"job_id"`

	// job_started
	Tier     string `json:"tier,omitempty"`
	Platform string `json:"platform,omitempty"`

	// progress
	Step       int     `json:"step,omitempty"`
	TotalSteps int     `json:"total_steps,omitempty"`
	ElapsedSec float64 `json:"elapsed_sec,omitempty"`

	// telemetry
	Utilization float64 `json:"utilization,omitempty"`
	MemoryGB    float64 `json:"memory_gb,omitempty"`
	PowerW      float64 `json:"power_w,omitempty"`

	// completed. Simulated stays explicit on the wire so a real run's
	// false is visible, not elided.
	Image       *model.ImageRef `json:"image,omitempty"`
	DurationSec float64         `json:"duration_sec,omitempty"`
	Simulated   bool            `json:"simulated"`

	// error
	Reason string `json:"reason,omitempty"`
	Fatal  bool   `json:"fatal,omitempty"`
}

// JobStarted builds the first event of a job's stream.
func JobStarted(jobID string, tier model.Tier, platform model.PlatformIdentity) Event {
	return Event{Type: TypeJobStarted, JobID: jobID, Tier: tier.String(), Platform: string(platform)}
}

// Progress builds a step-progress event.
func Progress(jobID string, step, total int, elapsed time.Duration) Event {
	return Event{Type: TypeProgress, JobID: jobID, Step: step, TotalSteps: total, ElapsedSec: elapsed.Seconds()}
}

// Telemetry builds a telemetry event from a sample.
func Telemetry(s model.TelemetrySample) Event {
	return Event{
		Type:        TypeTelemetry,
		JobID:       s.JobID,
		Utilization: s.Utilization,
		MemoryGB:    s.MemoryGB,
		PowerW:      s.PowerW,
	}
}

// Completed builds the successful terminal event.
func Completed(jobID string, image model.ImageRef, duration time.Duration, tier model.Tier, simulated bool) Event {
	img := image
	return Event{
		Type:        TypeCompleted,
		JobID:       jobID,
		Image:       &img,
		DurationSec: duration.Seconds(),
		Tier:        tier.String(),
		Simulated:   simulated,
	}
}

// Error builds the failed terminal event.
func Error(jobID, reason string, fatal bool) Event {
	return Event{Type: TypeError, JobID: jobID, Reason: reason, Fatal: fatal}
}
