package sim

import (
	"context"
	"testing"
	"time"

	"duelctl/internal/model"
)

func TestChoose_Deterministic(t *testing.T) {
	t.Parallel()

	prompt := "a dragon flying over a castle at sunset"
	cat1, var1 := Choose(prompt)
	cat2, var2 := Choose(prompt)
	if cat1 != cat2 || var1 != var2 {
		t.Fatalf("choose not stable: %s/%d vs %s/%d", cat1, var1, cat2, var2)
	}
	if var1 < 0 || var1 >= VariantsPerCategory {
		t.Fatalf("variant out of range: %d", var1)
	}
}

func TestChoose_KeywordMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prompt string
		want   string
	}{
		{"a robot in a cyberpunk city at night", "technology"},
		{"portrait of a woman", "portrait"},
		{"an astronaut drifting through the galaxy", "space"},
		{"qwerty asdf", FallbackCategory},
	}
	for _, tc := range cases {
		got, _ := Choose(tc.prompt)
		if got != tc.want {
			t.Errorf("Choose(%q)=%s want %s", tc.prompt, got, tc.want)
		}
	}
}

func TestChoose_TieBreaksStable(t *testing.T) {
	t.Parallel()

	// One keyword from two categories; the winner must not flap between
	// calls.
	prompt := "a cat next to a car"
	first, _ := Choose(prompt)
	for i := 0; i < 50; i++ {
		got, _ := Choose(prompt)
		if got != first {
			t.Fatalf("tie-break flapped: %s then %s", first, got)
		}
	}
}

func TestRun_MissingAssetIsTerminal(t *testing.T) {
	t.Parallel()

	e := New(t.TempDir(), model.PlatformSnapdragon)
	_, _, err := e.Run(context.Background(), "a mountain landscape", model.GenParams{Steps: 3}, nil)
	if err == nil {
		t.Fatal("expected error for missing asset")
	}
}

func TestRun_StepsAndMetrics(t *testing.T) {
	t.Parallel()

	e := New(t.TempDir(), model.PlatformSnapdragon)
	e.BaseDurationSec = 0.05
	if err := e.EnsureAssets(); err != nil {
		t.Fatalf("EnsureAssets: %v", err)
	}

	var steps []int
	ref, metrics, err := e.Run(context.Background(), "a mountain landscape", model.GenParams{Steps: 5, Width: 768, Height: 768},
		func(step, total int, elapsed time.Duration) {
			if total != 5 {
				t.Errorf("total=%d", total)
			}
			steps = append(steps, step)
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(steps) != 5 {
		t.Fatalf("steps=%v", steps)
	}
	for i, s := range steps {
		if s != i+1 {
			t.Fatalf("step %d reported as %d", i+1, s)
		}
	}
	if !metrics.Simulated {
		t.Fatal("metrics not flagged simulated")
	}
	if metrics.Backend != "simulation" {
		t.Fatalf("backend=%q", metrics.Backend)
	}
	if metrics.Resolution != "768x768" {
		t.Fatalf("resolution=%q", metrics.Resolution)
	}
	if ref.Category != "landscape" {
		t.Fatalf("category=%q", ref.Category)
	}
}

func TestRun_SamePromptSameAsset(t *testing.T) {
	t.Parallel()

	e := New(t.TempDir(), model.PlatformIntel)
	e.BaseDurationSec = 0.05
	if err := e.EnsureAssets(); err != nil {
		t.Fatalf("EnsureAssets: %v", err)
	}

	ref1, _, err := e.Run(context.Background(), "dragon magic", model.GenParams{Steps: 2}, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	ref2, _, err := e.Run(context.Background(), "dragon magic", model.GenParams{Steps: 2}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ref1.Path != ref2.Path {
		t.Fatalf("asset changed between runs: %s vs %s", ref1.Path, ref2.Path)
	}
}

func TestRun_Cancel(t *testing.T) {
	t.Parallel()

	e := New(t.TempDir(), model.PlatformIntel)
	e.BaseDurationSec = 30
	if err := e.EnsureAssets(); err != nil {
		t.Fatalf("EnsureAssets: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, _, err := e.Run(ctx, "a mountain landscape", model.GenParams{Steps: 20}, nil)
		done <- err
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not honor cancellation")
	}
}

func TestStepTimings_CoverAllSteps(t *testing.T) {
	t.Parallel()

	e := New(t.TempDir(), model.PlatformSnapdragon)
	timings := e.stepTimings(30)
	if len(timings) != 30 {
		t.Fatalf("len=%d", len(timings))
	}
	for i, d := range timings {
		if d <= 0 {
			t.Fatalf("timing %d not positive: %s", i, d)
		}
	}
}

func TestCurve_Bounds(t *testing.T) {
	t.Parallel()

	e := New(t.TempDir(), model.PlatformSnapdragon)
	for p := -0.5; p <= 1.5; p += 0.05 {
		util, power, memGB := e.Curve(p)
		if util < 0 || util > 100 {
			t.Fatalf("utilization %f out of range at progress %f", util, p)
		}
		if power <= 0 {
			t.Fatalf("power %f at progress %f", power, p)
		}
		if memGB <= 0 {
			t.Fatalf("memory %f at progress %f", memGB, p)
		}
	}
}

func TestProfileFor_UnknownFallsBack(t *testing.T) {
	t.Parallel()

	p := ProfileFor(model.PlatformIdentity("weird"))
	if p != profiles[model.PlatformUnknown] {
		t.Fatalf("profile=%+v", p)
	}
}

func TestExpectedRange(t *testing.T) {
	t.Parallel()

	lo, hi := ExpectedRange(model.PlatformSnapdragon, 30)
	if lo >= hi {
		t.Fatalf("lo=%f hi=%f", lo, hi)
	}
	// The window brackets the nominal 4s base duration.
	if lo > 4.0 || hi < 4.0 {
		t.Fatalf("lo=%f hi=%f", lo, hi)
	}

	// Half the steps, roughly half the window.
	halfLo, _ := ExpectedRange(model.PlatformSnapdragon, 15)
	if halfLo >= lo {
		t.Fatalf("halfLo=%f lo=%f", halfLo, lo)
	}

	// Zero steps falls back to the profile default.
	defLo, defHi := ExpectedRange(model.PlatformIntel, 0)
	atDefault, atDefaultHi := ExpectedRange(model.PlatformIntel, 25)
	if defLo != atDefault || defHi != atDefaultHi {
		t.Fatalf("default=%f-%f explicit=%f-%f", defLo, defHi, atDefault, atDefaultHi)
	}
}
