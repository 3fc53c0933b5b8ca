package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"duelctl/internal/backend"
	"duelctl/internal/events"
	"duelctl/internal/model"
	"duelctl/internal/sim"
)

func newTestExecutor(t *testing.T, set backend.Set) (*Executor, *events.Hub) {
	t.Helper()

	if set.Engine == nil {
		engine := sim.New(t.TempDir(), model.PlatformSnapdragon)
		engine.BaseDurationSec = 0.05
		if err := engine.EnsureAssets(); err != nil {
			t.Fatalf("EnsureAssets: %v", err)
		}
		set.Engine = engine
	}

	hub := events.NewHub(64)
	t.Cleanup(hub.Close)
	return &Executor{
		Backends:          set,
		Identity:          model.PlatformSnapdragon,
		Jobs:              NewJobs(),
		Hub:               hub,
		TelemetryInterval: time.Hour, // keep telemetry quiet in these tests
	}, hub
}

func admit(t *testing.T, exec *Executor, tier model.Tier) (string, context.Context, context.CancelFunc) {
	t.Helper()
	job := model.Job{ID: "job-1", Prompt: "a mountain landscape", Params: model.GenParams{Steps: 3}, State: model.JobIdle, Tier: tier}
	ctx, cancel := context.WithCancel(context.Background())
	if err := exec.Jobs.Admit(job, cancel); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return job.ID, ctx, cancel
}

func TestExecutor_DowngradesOnceToSimulation(t *testing.T) {
	t.Parallel()

	// Generic tier with no generic backend provisioned: the attempt reports
	// unavailable and the job finishes one tier down, on simulation.
	exec, hub := newTestExecutor(t, backend.Set{})
	sub, cancelSub := hub.Subscribe()
	defer cancelSub()

	id, ctx, cancel := admit(t, exec, model.TierGeneric)
	defer cancel()
	exec.Run(ctx, id, model.TierGeneric, time.Time{})

	job, ok := exec.Jobs.Snapshot(id)
	if !ok {
		t.Fatal("job missing")
	}
	if job.State != model.JobCompleted {
		t.Fatalf("state=%s reason=%q", job.State, job.Reason)
	}
	if job.TierName != "simulation" {
		t.Fatalf("tier=%q", job.TierName)
	}
	if job.Metrics == nil || !job.Metrics.Simulated {
		t.Fatalf("metrics=%+v", job.Metrics)
	}

	// The admission tier is announced, the final tier is in the terminal
	// event.
	first := <-sub
	if first.Type != events.TypeJobStarted || first.Tier != "generic" {
		t.Fatalf("first=%+v", first)
	}
	var terminal events.Event
	for ev := range sub {
		if ev.Type == events.TypeCompleted || ev.Type == events.TypeError {
			terminal = ev
			break
		}
	}
	if terminal.Type != events.TypeCompleted || terminal.Tier != "simulation" {
		t.Fatalf("terminal=%+v", terminal)
	}
}

func TestExecutor_NeverDowngradesTwice(t *testing.T) {
	t.Parallel()

	// Accelerated and generic are both unprovisioned. One downgrade lands
	// on generic, which fails too; the job must error, not slide on to
	// simulation.
	exec, hub := newTestExecutor(t, backend.Set{})
	sub, cancelSub := hub.Subscribe()
	defer cancelSub()

	id, ctx, cancel := admit(t, exec, model.TierAccelerated)
	defer cancel()
	exec.Run(ctx, id, model.TierAccelerated, time.Time{})

	job, _ := exec.Jobs.Snapshot(id)
	if job.State != model.JobError {
		t.Fatalf("state=%s", job.State)
	}
	if job.TierName != "generic" {
		t.Fatalf("tier=%q", job.TierName)
	}

	var terminal events.Event
	for ev := range sub {
		if ev.Type == events.TypeCompleted || ev.Type == events.TypeError {
			terminal = ev
			break
		}
	}
	if terminal.Type != events.TypeError || !terminal.Fatal {
		t.Fatalf("terminal=%+v", terminal)
	}
}

func TestExecutor_ExternalBackendSuccessIsNotSimulated(t *testing.T) {
	t.Parallel()

	generate := func(ctx context.Context, prompt string, params model.GenParams, onStep backend.StepFunc) (model.ImageRef, model.GenMetrics, error) {
		for i := 1; i <= params.Steps; i++ {
			onStep(i, params.Steps, time.Duration(i)*time.Millisecond)
		}
		return model.ImageRef{Path: "out.png"}, model.GenMetrics{DurationSec: 0.1, Steps: params.Steps}, nil
	}
	exec, hub := newTestExecutor(t, backend.Set{Accelerated: generate, AccelName: "NPU"})
	sub, cancelSub := hub.Subscribe()
	defer cancelSub()

	id, ctx, cancel := admit(t, exec, model.TierAccelerated)
	defer cancel()
	exec.Run(ctx, id, model.TierAccelerated, time.Time{})

	job, _ := exec.Jobs.Snapshot(id)
	if job.State != model.JobCompleted {
		t.Fatalf("state=%s reason=%q", job.State, job.Reason)
	}
	if job.Metrics == nil || job.Metrics.Simulated {
		t.Fatalf("metrics=%+v", job.Metrics)
	}
	if job.Metrics.Backend != "NPU" {
		t.Fatalf("backend=%q", job.Metrics.Backend)
	}

	var terminal events.Event
	for ev := range sub {
		if ev.Type == events.TypeCompleted || ev.Type == events.TypeError {
			terminal = ev
			break
		}
	}
	if terminal.Simulated {
		t.Fatal("external run flagged simulated")
	}
}

func TestExecutor_DowngradesOnFatalBackendError(t *testing.T) {
	t.Parallel()

	// A provisioned accelerated backend that crashes, not just one that is
	// missing, still gets the single downgrade: the healthy generic backend
	// finishes the job.
	genericCalled := false
	failing := func(ctx context.Context, prompt string, params model.GenParams, onStep backend.StepFunc) (model.ImageRef, model.GenMetrics, error) {
		return model.ImageRef{}, model.GenMetrics{}, errors.New("accelerator context creation failed")
	}
	healthy := func(ctx context.Context, prompt string, params model.GenParams, onStep backend.StepFunc) (model.ImageRef, model.GenMetrics, error) {
		genericCalled = true
		return model.ImageRef{Path: "out.png"}, model.GenMetrics{DurationSec: 0.1, Steps: params.Steps}, nil
	}
	exec, _ := newTestExecutor(t, backend.Set{Accelerated: failing, Generic: healthy, AccelName: "NPU"})

	id, ctx, cancel := admit(t, exec, model.TierAccelerated)
	defer cancel()
	exec.Run(ctx, id, model.TierAccelerated, time.Time{})

	job, _ := exec.Jobs.Snapshot(id)
	if job.State != model.JobCompleted {
		t.Fatalf("state=%s reason=%q", job.State, job.Reason)
	}
	if !genericCalled {
		t.Fatal("generic backend never tried")
	}
	if job.TierName != "generic" {
		t.Fatalf("tier=%q", job.TierName)
	}
	if job.Metrics == nil || job.Metrics.Simulated {
		t.Fatalf("metrics=%+v", job.Metrics)
	}
}

func TestExecutor_CancelBeforeNotBefore(t *testing.T) {
	t.Parallel()

	exec, hub := newTestExecutor(t, backend.Set{})
	sub, cancelSub := hub.Subscribe()
	defer cancelSub()

	id, ctx, cancel := admit(t, exec, model.TierSimulation)
	cancel()
	exec.Run(ctx, id, model.TierSimulation, time.Now().Add(time.Hour))

	job, _ := exec.Jobs.Snapshot(id)
	if job.State != model.JobError || job.Reason != ReasonCancelled {
		t.Fatalf("job=%+v", job)
	}

	// The job was announced before the skew wait, so the cancellation is a
	// cancellation of a started job, never an unannounced terminal event.
	first := <-sub
	if first.Type != events.TypeJobStarted {
		t.Fatalf("first event=%+v", first)
	}
	ev := <-sub
	if ev.Type != events.TypeError || ev.Reason != ReasonCancelled || ev.Fatal {
		t.Fatalf("event=%+v", ev)
	}
}
