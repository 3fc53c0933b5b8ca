package node

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"duelctl/internal/backend"
	"duelctl/internal/events"
	"duelctl/internal/model"
	"duelctl/internal/stats"
	"duelctl/internal/telemetry"
)

// ReasonCancelled is the error reason attached to a user-cancelled job,
// distinct from backend failures.
const ReasonCancelled = "cancelled"

// Executor drives one job at a time from Running to a terminal state.
type Executor struct {
	Backends          backend.Set
	Identity          model.PlatformIdentity
	Jobs              *Jobs
	Hub               *events.Hub
	TelemetryInterval time.Duration
	Metrics           *Collectors
}

// Run executes the admitted job to completion. It is the only goroutine
// that mutates the job. notBefore, when set, delays execution so several
// nodes can start inside one dispatch skew budget.
func (e *Executor) Run(ctx context.Context, jobID string, tier model.Tier, notBefore time.Time) {
	job, ok := e.Jobs.Snapshot(jobID)
	if !ok {
		return
	}

	// The job is Running from admission on; the not-before wait is part of
	// the run, so a cancel during it is an ordinary cancellation of a
	// started job.
	e.Jobs.SetRunning(jobID, tier)
	e.Hub.Publish(events.JobStarted(jobID, tier, e.Identity))
	if e.Metrics != nil {
		e.Metrics.JobsStarted.Inc()
		e.Metrics.ActiveJobs.Set(1)
		defer e.Metrics.ActiveJobs.Set(0)
	}

	if wait := time.Until(notBefore); wait > 0 {
		select {
		case <-ctx.Done():
			e.finishCancelled(jobID)
			return
		case <-time.After(wait):
		}
	}

	// Telemetry runs beside the (possibly blocking) backend call and is
	// stopped before the terminal event so ordering stays causal.
	var progress atomic.Int64 // step<<16 | total, for the sim curve
	var simulated atomic.Bool
	simulated.Store(tier == model.TierSimulation)

	samples := &sampleLog{}
	telemCtx, stopTelemetry := context.WithCancel(ctx)
	telemDone := make(chan struct{})
	go func() {
		defer close(telemDone)
		sampler := &telemetry.Sampler{
			Interval: e.TelemetryInterval,
			Identity: e.Identity,
			Curve:    e.curveFor(&simulated, &progress),
		}
		sampler.Run(telemCtx, jobID, func(s model.TelemetrySample) {
			samples.add(s)
			e.Hub.Publish(events.Telemetry(s))
			if e.Metrics != nil {
				e.Metrics.Utilization.Set(s.Utilization)
			}
		})
	}()
	stop := func() {
		stopTelemetry()
		<-telemDone
	}

	onStep := func(step, total int, elapsed time.Duration) {
		if ctx.Err() != nil {
			// Cancellation is cooperative at step boundaries; no
			// progress is emitted past it.
			return
		}
		progress.Store(int64(step)<<16 | int64(total))
		e.Jobs.SetProgress(jobID, step, total, elapsed)
		e.Hub.Publish(events.Progress(jobID, step, total, elapsed))
	}

	start := time.Now()
	image, metrics, err := e.attempt(ctx, tier, job, onStep)
	if err != nil && ctx.Err() == nil && tier != model.TierSimulation {
		// One automatic downgrade, never two. Any failure of the first
		// attempt, unavailable backend or a crash inside it, retries the
		// same job one tier down.
		next := tier.Next()
		log.Printf("job %s: %s tier failed (%v), stepping down to %s", jobID, tier, err, next)
		simulated.Store(next == model.TierSimulation)
		e.Jobs.SetTier(jobID, next)
		tier = next
		image, metrics, err = e.attempt(ctx, tier, job, onStep)
	}

	stop()

	if ctx.Err() != nil {
		e.finishCancelled(jobID)
		return
	}
	if err != nil {
		log.Printf("job %s failed: %v", jobID, err)
		e.Jobs.Fail(jobID, err.Error())
		e.Hub.Publish(events.Error(jobID, err.Error(), true))
		if e.Metrics != nil {
			e.Metrics.JobsFailed.Inc()
		}
		return
	}

	elapsed := time.Since(start)
	stats.Summarize(samples.snapshot(), time.Time{}).Apply(&metrics)
	e.Jobs.Complete(jobID, image, metrics)
	e.Hub.Publish(events.Completed(jobID, image, elapsed, tier, metrics.Simulated))
	if e.Metrics != nil {
		e.Metrics.JobsCompleted.Inc()
	}
	log.Printf("job %s completed in %.1fs tier=%s simulated=%v", jobID, elapsed.Seconds(), tier, metrics.Simulated)
}

func (e *Executor) attempt(ctx context.Context, tier model.Tier, job model.Job, onStep backend.StepFunc) (model.ImageRef, model.GenMetrics, error) {
	b := e.Backends.ForTier(tier)
	return b.Generate(ctx, job.Prompt, job.Params, onStep)
}

func (e *Executor) finishCancelled(jobID string) {
	e.Jobs.Fail(jobID, ReasonCancelled)
	e.Hub.Publish(events.Error(jobID, ReasonCancelled, false))
	if e.Metrics != nil {
		e.Metrics.JobsFailed.Inc()
	}
	log.Printf("job %s cancelled", jobID)
}

// curveFor feeds the sampler synthetic values while the job runs simulated;
// real tiers read host counters instead (nil curve).
func (e *Executor) curveFor(simulated *atomic.Bool, progress *atomic.Int64) func() (float64, float64, float64, bool) {
	engine := e.Backends.Engine
	if engine == nil {
		return nil
	}
	return func() (float64, float64, float64, bool) {
		if !simulated.Load() {
			return 0, 0, 0, false
		}
		v := progress.Load()
		step, total := v>>16, v&0xffff
		p := 0.0
		if total > 0 {
			p = float64(step) / float64(total)
		}
		util, power, memGB := engine.Curve(p)
		return util, power, memGB, true
	}
}

// sampleLog accumulates samples for the completion summary.
type sampleLog struct {
	mu      sync.Mutex
	samples []model.TelemetrySample
}

func (l *sampleLog) add(s model.TelemetrySample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func (l *sampleLog) snapshot() []model.TelemetrySample {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.TelemetrySample, len(l.samples))
	copy(out, l.samples)
	return out
}
