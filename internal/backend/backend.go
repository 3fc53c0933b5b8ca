// Package backend hides platform branching behind a tagged-variant
// interface: the executor picks a Backend once per job and never swaps it
// mid-run.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duelctl/internal/model"
	"duelctl/internal/sim"
)

// ErrUnavailable marks a backend that is not provisioned on this node. The
// executor answers any first-attempt failure, this one included, with a
// single tier downgrade; the retried tier's failure is fatal.
var ErrUnavailable = errors.New("backend unavailable")

// StepFunc receives step-level progress during generation.
type StepFunc func(step, total int, elapsed time.Duration)

// GenerateFunc is the opaque external inference operation. It eventually
// calls onStep zero or more times, then returns or fails; nothing more is
// assumed about it.
type GenerateFunc func(ctx context.Context, prompt string, params model.GenParams, onStep StepFunc) (model.ImageRef, model.GenMetrics, error)

// Backend executes one generation request.
type Backend interface {
	Name() string
	Simulated() bool
	Generate(ctx context.Context, prompt string, params model.GenParams, onStep StepFunc) (model.ImageRef, model.GenMetrics, error)
}

// External wraps the opaque inference library for a real tier.
type External struct {
	name string
	fn   GenerateFunc
}

// NewExternal builds a backend around the external generate operation.
// A nil fn yields a backend whose Generate always reports ErrUnavailable,
// which is how an unprovisioned node degrades.
func NewExternal(name string, fn GenerateFunc) *External {
	return &External{name: name, fn: fn}
}

func (e *External) Name() string    { return e.name }
func (e *External) Simulated() bool { return false }

func (e *External) Generate(ctx context.Context, prompt string, params model.GenParams, onStep StepFunc) (model.ImageRef, model.GenMetrics, error) {
	if e.fn == nil {
		return model.ImageRef{}, model.GenMetrics{}, fmt.Errorf("%s: %w", e.name, ErrUnavailable)
	}
	ref, metrics, err := e.fn(ctx, prompt, params, onStep)
	if err != nil {
		return model.ImageRef{}, model.GenMetrics{}, err
	}
	metrics.Backend = e.name
	metrics.Simulated = false
	return ref, metrics, nil
}

// Simulated delegates to the simulation engine. It cannot fail for backend
// unavailability, only for asset IO, which is terminal.
type Simulated struct {
	Engine *sim.Engine
}

func (s *Simulated) Name() string    { return "simulation" }
func (s *Simulated) Simulated() bool { return true }

func (s *Simulated) Generate(ctx context.Context, prompt string, params model.GenParams, onStep StepFunc) (model.ImageRef, model.GenMetrics, error) {
	return s.Engine.Run(ctx, prompt, params, sim.StepFunc(onStep))
}

// Set holds the backends a node can offer, keyed by tier.
type Set struct {
	Accelerated GenerateFunc
	Generic     GenerateFunc
	Engine      *sim.Engine
	// AccelName describes the preferred backend (e.g. "NPU", "CPU+iGPU").
	AccelName string
}

// ForTier returns the backend a job at the given tier executes on.
func (s Set) ForTier(tier model.Tier) Backend {
	switch tier {
	case model.TierAccelerated:
		name := s.AccelName
		if name == "" {
			name = "accelerated"
		}
		return NewExternal(name, s.Accelerated)
	case model.TierGeneric:
		return NewExternal("generic", s.Generic)
	default:
		return &Simulated{Engine: s.Engine}
	}
}
