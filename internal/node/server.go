package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"duelctl/internal/api"
	"duelctl/internal/backend"
	"duelctl/internal/config"
	"duelctl/internal/events"
	"duelctl/internal/model"
	"duelctl/internal/platform"
	"duelctl/internal/sim"
)

// Server is the per-node control service: command endpoints, health, a
// pushed event stream, and Prometheus metrics.
type Server struct {
	cfg     config.NodeConfig
	cap     platform.Capability
	jobs    *Jobs
	hub     *events.Hub
	exec    *Executor
	metrics *Collectors
}

// NewServer detects local capability and wires the executor. external
// carries the opaque generate operations for the real tiers; either may be
// nil on an unprovisioned node.
func NewServer(cfg config.NodeConfig, external backend.Set) *Server {
	detected := clampToBackends(platform.Detect(platform.Options{
		Override:        cfg.Platform,
		ForceSimulation: cfg.ForceSimulation,
		AcceleratorLibs: cfg.AcceleratorLibs,
	}), external)
	log.Printf("node %s: platform=%s tier=%s accel=%s", cfg.Name, detected.Identity, detected.Tier, detected.Accel)

	engine := external.Engine
	if engine == nil {
		engine = sim.New(cfg.AssetsDir, detected.Identity)
	}
	if len(cfg.BaseDurationsSec) > 0 {
		if base, ok := cfg.BaseDurationsSec[string(detected.Identity)]; ok {
			engine.BaseDurationSec = base
		}
	}
	external.Engine = engine
	if external.AccelName == "" {
		external.AccelName = detected.Accel
	}

	hub := events.NewHub(cfg.EventQueueDepth)
	jobs := NewJobs()
	metrics := NewCollectors(hub)
	exec := &Executor{
		Backends:          external,
		Identity:          detected.Identity,
		Jobs:              jobs,
		Hub:               hub,
		TelemetryInterval: time.Duration(cfg.TelemetrySec) * time.Second,
		Metrics:           metrics,
	}

	return &Server{cfg: cfg, cap: detected, jobs: jobs, hub: hub, exec: exec, metrics: metrics}
}

// Capability returns the detected capability, used by the beacon.
func (s *Server) Capability() platform.Capability { return s.cap }

// clampToBackends lowers a detected tier to the highest one the provisioned
// backends can actually run. A node without any external generate op is
// simulation-only no matter what the hardware looks like, so its jobs still
// complete instead of erroring through the downgrade chain.
func clampToBackends(detected platform.Capability, b backend.Set) platform.Capability {
	for detected.Tier != model.TierSimulation {
		if detected.Tier == model.TierAccelerated && b.Accelerated != nil {
			return detected
		}
		if detected.Tier == model.TierGeneric && b.Generic != nil {
			return detected
		}
		detected.Tier = detected.Tier.Next()
		switch detected.Tier {
		case model.TierGeneric:
			detected.Accel = "generic compute"
		case model.TierSimulation:
			detected.Accel = "simulation"
		}
	}
	return detected
}

// EnsureAssets materializes any missing simulation assets so a fresh node
// can fall back to the simulation tier without provisioning.
func (s *Server) EnsureAssets() error { return s.exec.Backends.Engine.EnsureAssets() }

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/events", s.handleEvents)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	log.Printf("node control service listening on %s", s.cfg.Listen)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.hub.Close()
		return ctx.Err()
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	params := config.DefaultParams(s.cap.Identity)
	if req.Steps > 0 {
		params.Steps = req.Steps
	}
	if req.Width > 0 {
		params.Width = req.Width
	}
	if req.Height > 0 {
		params.Height = req.Height
	}
	if req.Guidance > 0 {
		params.Guidance = req.Guidance
	}

	// Capability is re-detected per admission: it is side-effect free and
	// picks up environment overrides between jobs. The tier is then fixed
	// for the job's lifetime (modulo the single downgrade in the executor).
	detected := clampToBackends(platform.Detect(platform.Options{
		Override:        s.cfg.Platform,
		ForceSimulation: s.cfg.ForceSimulation,
		AcceleratorLibs: s.cfg.AcceleratorLibs,
	}), s.exec.Backends)

	job := model.Job{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		Params:    params,
		State:     model.JobIdle,
		Tier:      detected.Tier,
		TierName:  detected.Tier.String(),
		Platform:  detected.Identity,
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.jobs.Admit(job, cancel); err != nil {
		cancel()
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}

	go s.exec.Run(ctx, job.ID, detected.Tier, req.NotBefore)

	log.Printf("job %s admitted prompt=%q tier=%s", job.ID, req.Prompt, detected.Tier)
	writeJSON(w, http.StatusAccepted, api.StartResponse{JobID: job.ID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stopped := s.jobs.CancelActive()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed := s.jobs.Reset()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := api.StatusResponse{
		Node:     s.cfg.Name,
		Platform: string(s.cap.Identity),
		State:    string(model.JobIdle),
	}
	if job, step, total, elapsed, ok := s.jobs.Current(); ok {
		resp.JobID = job.ID
		resp.State = string(job.State)
		resp.Tier = job.TierName
		resp.Simulated = job.Tier == model.TierSimulation
		resp.Step = step
		resp.TotalSteps = total
		resp.ElapsedSec = elapsed.Seconds()
		if job.Metrics != nil {
			resp.Simulated = job.Metrics.Simulated
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reflects process liveness only, never job success.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, api.InfoResponse{
		Name:     s.cfg.Name,
		Platform: string(s.cap.Identity),
		Accel:    s.cap.Accel,
		Tier:     s.cap.Tier.String(),
	})
}

// handleEvents streams job lifecycle events as server-sent events. Multiple
// subscribers each get the full sequence; a slow one only hurts itself.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
