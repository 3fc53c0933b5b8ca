package api

import "time"

// StartRequest asks a node to begin one generation job.
type StartRequest struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Guidance float64 `json:"guidance,omitempty"`
	// NotBefore delays execution so the coordinator can start several
	// nodes inside one skew budget. Zero means start immediately.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// StartResponse acknowledges an admitted job.
type StartResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse is the polled snapshot of a node. Polling is the degraded
// fallback; the event stream is the primary update path.
type StatusResponse struct {
	Node       string  `json:"node"`
	Platform   string  `json:"platform"`
	JobID      string  `json:"job_id,omitempty"`
	State      string  `json:"state"`
	Tier       string  `json:"tier,omitempty"`
	Simulated  bool    `json:"simulated"`
	Step       int     `json:"step,omitempty"`
	TotalSteps int     `json:"total_steps,omitempty"`
	ElapsedSec float64 `json:"elapsed_sec,omitempty"`
}

// InfoResponse describes a node independent of job state.
type InfoResponse struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Accel    string `json:"accel"`
	Tier     string `json:"tier"`
}

// Announcement is the discovery beacon reply: no request payload, the
// response carries identity and where the control service lives.
type Announcement struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	StatusURL string `json:"status_url"`
}
