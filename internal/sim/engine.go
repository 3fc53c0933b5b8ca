// Package sim is the deterministic stand-in for real image generation.
// For a given (prompt, platform) pair it always selects the same image
// asset; only timing jitter and telemetry noise differ between runs, so a
// repeated demo looks consistent without being pixel-identical in pacing.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"duelctl/internal/model"
)

// FallbackCategory is used when no keyword matches the prompt.
const FallbackCategory = "generic"

// VariantsPerCategory is the number of pre-existing image variants held
// per category and platform.
const VariantsPerCategory = 3

// categories maps a semantic category to its trigger keywords. The table is
// fixed: changing it changes which asset a prompt resolves to.
var categories = map[string][]string{
	"landscape":    {"landscape", "mountain", "ocean", "forest", "nature", "scenic", "valley", "sunset", "sunrise"},
	"portrait":     {"person", "face", "human", "portrait", "character", "man", "woman", "child"},
	"abstract":     {"abstract", "pattern", "geometric", "colorful", "artistic", "modern"},
	"architecture": {"building", "house", "city", "urban", "structure", "architecture", "cityscape"},
	"fantasy":      {"dragon", "magic", "fantasy", "mythical", "unicorn", "castle", "fairy"},
	"technology":   {"robot", "futuristic", "sci-fi", "cyberpunk", "tech", "computer", "ai"},
	"animals":      {"cat", "dog", "bird", "animal", "wildlife", "pet", "horse", "elephant"},
	"vehicles":     {"car", "truck", "plane", "ship", "vehicle", "motorcycle", "train"},
	"food":         {"food", "meal", "cooking", "restaurant", "kitchen", "delicious"},
	"space":        {"space", "planet", "star", "galaxy", "astronaut", "cosmos", "universe"},
}

// Profile is the per-platform timing and telemetry shape.
type Profile struct {
	BaseDurationSec float64 // duration at DefaultSteps
	DefaultSteps    int
	PowerBaseW      float64
	PowerPeakW      float64
	UtilPlateau     float64 // utilization during the plateau phase
}

var profiles = map[model.PlatformIdentity]Profile{
	model.PlatformSnapdragon: {BaseDurationSec: 4.0, DefaultSteps: 30, PowerBaseW: 8, PowerPeakW: 15, UtilPlateau: 92},
	model.PlatformIntel:      {BaseDurationSec: 32.0, DefaultSteps: 25, PowerBaseW: 15, PowerPeakW: 28, UtilPlateau: 78},
	model.PlatformUnknown:    {BaseDurationSec: 45.0, DefaultSteps: 20, PowerBaseW: 12, PowerPeakW: 22, UtilPlateau: 70},
}

// ProfileFor returns the timing/telemetry profile for a platform.
func ProfileFor(identity model.PlatformIdentity) Profile {
	if p, ok := profiles[identity]; ok {
		return p
	}
	return profiles[model.PlatformUnknown]
}

// ExpectedRange returns the plausible duration window for a run on the
// given platform, bounded by the per-run jitter and the warmup slowdown.
// The coordinator shows it next to each node so the audience knows what a
// normal run looks like before the first step lands.
func ExpectedRange(identity model.PlatformIdentity, steps int) (lowSec, highSec float64) {
	profile := ProfileFor(identity)
	if steps <= 0 {
		steps = profile.DefaultSteps
	}
	total := profile.BaseDurationSec * float64(steps) / float64(profile.DefaultSteps)
	return total * 0.85, total * 1.15 * 1.2
}

// Engine simulates generation runs for one platform identity.
type Engine struct {
	AssetsDir string
	Identity  model.PlatformIdentity
	// BaseDurationSec overrides the profile timing when > 0 (config knob
	// for rehearsing a demo at a different pace).
	BaseDurationSec float64

	// rng drives run-scoped jitter and curve noise. The telemetry sampler
	// calls Curve concurrently with a run, hence the lock.
	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs an engine with run-scoped jitter seeded from the clock.
// Asset choice does not depend on the seed.
func New(assetsDir string, identity model.PlatformIdentity) *Engine {
	return &Engine{
		AssetsDir: assetsDir,
		Identity:  identity,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Choose resolves a prompt to its category and variant. Pure function of
// (prompt, identity): repeated calls always agree.
func (e *Engine) Choose(prompt string) (category string, variant int) {
	return Choose(prompt)
}

// Choose is the package-level deterministic prompt mapping.
func Choose(prompt string) (category string, variant int) {
	lower := strings.ToLower(prompt)

	best := FallbackCategory
	bestScore := 0
	for _, name := range categoryNames() {
		score := 0
		for _, kw := range categories[name] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best = name
			bestScore = score
		}
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	variant = int(h.Sum64() % VariantsPerCategory)
	return best, variant
}

// categoryNames returns the category keys in stable order so keyword-score
// ties always break the same way.
func categoryNames() []string {
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AssetPath returns the on-disk asset for a category/variant pair.
func (e *Engine) AssetPath(category string, variant int) string {
	name := fmt.Sprintf("sim_%s_%d_%s.png", category, variant, e.Identity)
	return filepath.Join(e.AssetsDir, name)
}

// StepFunc receives per-step progress during a simulated run.
type StepFunc func(step, total int, elapsed time.Duration)

// Run executes one simulated generation. The asset must already exist;
// a missing or unreadable asset is a terminal error. Cancellation is
// honored at step boundaries.
func (e *Engine) Run(ctx context.Context, prompt string, params model.GenParams, onStep StepFunc) (model.ImageRef, model.GenMetrics, error) {
	category, variant := Choose(prompt)
	asset := e.AssetPath(category, variant)
	if _, err := os.Stat(asset); err != nil {
		return model.ImageRef{}, model.GenMetrics{}, fmt.Errorf("simulation asset %s: %w", asset, err)
	}

	steps := params.Steps
	if steps <= 0 {
		steps = ProfileFor(e.Identity).DefaultSteps
	}

	timings := e.stepTimings(steps)
	start := time.Now()
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return model.ImageRef{}, model.GenMetrics{}, ctx.Err()
		case <-time.After(timings[i]):
		}
		if onStep != nil {
			onStep(i+1, steps, time.Since(start))
		}
	}

	elapsed := time.Since(start)
	profile := ProfileFor(e.Identity)
	metrics := model.GenMetrics{
		Backend:         "simulation",
		Simulated:       true,
		DurationSec:     elapsed.Seconds(),
		MsPerStep:       elapsed.Seconds() * 1000 / float64(steps),
		Steps:           steps,
		Resolution:      fmt.Sprintf("%dx%d", params.Width, params.Height),
		PeakUtilization: profile.UtilPlateau,
	}

	ref := model.ImageRef{Path: asset, Category: category, Variant: variant}
	return ref, metrics, nil
}

// stepTimings spreads the total run duration over steps: a bounded random
// jitter of +/-15 percent per run, with the first three steps 1.2x slower
// to mimic model-load warmup.
func (e *Engine) stepTimings(steps int) []time.Duration {
	profile := ProfileFor(e.Identity)
	base := profile.BaseDurationSec
	if e.BaseDurationSec > 0 {
		base = e.BaseDurationSec
	}

	total := base * float64(steps) / float64(profile.DefaultSteps)
	perStep := total / float64(steps)

	e.mu.Lock()
	defer e.mu.Unlock()
	timings := make([]time.Duration, steps)
	for i := range timings {
		variance := 0.85 + e.rng.Float64()*0.30
		if i < 3 {
			variance *= 1.2
		}
		timings[i] = time.Duration(perStep * variance * float64(time.Second))
	}
	return timings
}

// Curve returns the synthetic utilization/power/memory shape at a given
// progress in [0,1]: ramp-up, plateau, ramp-down, plus small noise. The
// utilization result is always within [0,100].
func (e *Engine) Curve(progress float64) (utilization, powerW, memoryGB float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	profile := ProfileFor(e.Identity)

	var shape float64
	switch {
	case progress < 0.1:
		shape = progress / 0.1 // ramp-up
	case progress > 0.9:
		shape = (1 - progress) / 0.1 // ramp-down
	default:
		shape = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	utilization = profile.UtilPlateau*shape + e.rng.Float64()*6 - 3
	if utilization < 0 {
		utilization = 0
	}
	if utilization > 100 {
		utilization = 100
	}

	powerW = profile.PowerBaseW + (profile.PowerPeakW-profile.PowerBaseW)*shape
	powerW *= 0.95 + e.rng.Float64()*0.10

	memoryGB = 3.5 + 2.0*progress + e.rng.Float64()*0.2
	return utilization, powerW, memoryGB
}

// EnsureAssets creates flat placeholder PNG assets for every category and
// variant that is missing. Real deployments ship curated assets; this keeps
// a bare checkout demo-able.
func (e *Engine) EnsureAssets() error {
	if err := os.MkdirAll(e.AssetsDir, 0o755); err != nil {
		return err
	}
	names := categoryNames()
	names = append(names, FallbackCategory)
	for _, category := range names {
		for v := 0; v < VariantsPerCategory; v++ {
			path := e.AssetPath(category, v)
			if _, err := os.Stat(path); err == nil {
				continue
			}
			if err := writePlaceholderPNG(path, category, v); err != nil {
				return fmt.Errorf("create asset %s: %w", path, err)
			}
		}
	}
	return nil
}
