package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"duelctl/internal/model"
)

// ErrConflict rejects a start command while a job is active. Requests are
// never queued or silently dropped.
var ErrConflict = errors.New("a job is already active")

type entry struct {
	job     model.Job
	step    int
	total   int
	elapsed time.Duration
	cancel  context.CancelFunc
}

// Jobs is the in-memory job table. The admit check and the insert are one
// atomic operation so concurrent start commands can never admit two jobs.
type Jobs struct {
	mu     sync.Mutex
	byID   map[string]*entry
	active string
	last   string
}

// NewJobs creates an empty job table.
func NewJobs() *Jobs {
	return &Jobs{byID: make(map[string]*entry)}
}

// Admit inserts a new job if and only if no non-terminal job exists.
func (t *Jobs) Admit(job model.Job, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != "" {
		return ErrConflict
	}
	t.byID[job.ID] = &entry{job: job, cancel: cancel}
	t.active = job.ID
	t.last = job.ID
	return nil
}

// Snapshot returns a copy of the job with the given ID.
func (t *Jobs) Snapshot(id string) (model.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return model.Job{}, false
	}
	return e.job, true
}

// Current returns the active job if any, otherwise the most recent one.
func (t *Jobs) Current() (job model.Job, step, total int, elapsed time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.active
	if id == "" {
		id = t.last
	}
	e, found := t.byID[id]
	if !found {
		return model.Job{}, 0, 0, 0, false
	}
	return e.job, e.step, e.total, e.elapsed, true
}

// SetRunning transitions a job into Running at the given tier.
func (t *Jobs) SetRunning(id string, tier model.Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[id]; ok {
		e.job.State = model.JobRunning
		e.job.Tier = tier
		e.job.TierName = tier.String()
		e.job.StartedAt = time.Now().UTC()
	}
}

// SetTier records a downgrade decision on the running job.
func (t *Jobs) SetTier(id string, tier model.Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[id]; ok {
		e.job.Tier = tier
		e.job.TierName = tier.String()
	}
}

// SetProgress records the latest step for status queries.
func (t *Jobs) SetProgress(id string, step, total int, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[id]; ok {
		e.step, e.total, e.elapsed = step, total, elapsed
	}
}

// Complete transitions a job to Completed and releases the active slot.
func (t *Jobs) Complete(id string, image model.ImageRef, metrics model.GenMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return
	}
	e.job.State = model.JobCompleted
	e.job.EndedAt = time.Now().UTC()
	img := image
	m := metrics
	e.job.Image = &img
	e.job.Metrics = &m
	if t.active == id {
		t.active = ""
	}
}

// Fail transitions a job to Error with a reason and releases the active slot.
func (t *Jobs) Fail(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return
	}
	e.job.State = model.JobError
	e.job.Reason = reason
	e.job.EndedAt = time.Now().UTC()
	if t.active == id {
		t.active = ""
	}
}

// CancelActive requests cancellation of the active job. Returns false when
// nothing is running; cancellation of a terminal job is a no-op.
func (t *Jobs) CancelActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == "" {
		return false
	}
	e, ok := t.byID[t.active]
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Reset evicts terminal jobs from the table and returns how many were
// removed. The active job, if any, is left untouched.
func (t *Jobs) Reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.byID {
		if e.job.State.Terminal() {
			delete(t.byID, id)
			removed++
		}
	}
	if _, ok := t.byID[t.last]; !ok {
		t.last = ""
	}
	return removed
}
