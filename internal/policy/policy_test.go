package policy

import (
	"testing"
	"time"

	"github.com/feederwatch/classifier/internal/classify"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func result(pairs ...interface{}) []classify.Class {
	if len(pairs)%2 != 0 {
		panic("result: label/score pairs required")
	}
	var r []classify.Class
	for i := 0; i < len(pairs); i += 2 {
		r = append(r, classify.Class{Label: pairs[i].(string), Score: pairs[i+1].(float64)})
	}
	return r
}

func kinds(effects []Effect) []EffectKind {
	ks := make([]EffectKind, len(effects))
	for i, e := range effects {
		ks[i] = e.Kind
	}
	return ks
}

func hasKind(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func newTestPolicy(mod func(*Config)) *Policy {
	cfg := DefaultConfig()
	cfg.AlertConfigured = true
	if mod != nil {
		mod(&cfg)
	}
	return New(cfg)
}

func TestFirstQualifyingFramePersistsAndAlerts(t *testing.T) {
	p := newTestPolicy(nil)

	effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)
	if !hasKind(effects, EffectPersist) {
		t.Fatalf("expected persist on first qualifying frame, got %v", kinds(effects))
	}
	if !hasKind(effects, EffectAlert) {
		t.Fatalf("expected alert on first qualifying frame, got %v", kinds(effects))
	}
}

func TestSecondFrameWithinCooldownsDoesNothing(t *testing.T) {
	p := newTestPolicy(nil)

	p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)
	effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base.Add(1*time.Second))
	if len(effects) != 0 {
		t.Fatalf("expected no effects at t+1s, got %v", kinds(effects))
	}
}

func TestActionTierExclusionSuppressesPersistAndAlert(t *testing.T) {
	excluded := []string{
		"patio, terrace",
		"picket fence, paling",
		"bannister, banister, balustrade, balusters, handrail",
		"lumbermill, sawmill",
	}
	for _, label := range excluded {
		p := newTestPolicy(nil)
		effects := p.Evaluate(result(label, 0.99), 10*time.Millisecond, base)
		if hasKind(effects, EffectPersist) || hasKind(effects, EffectAlert) {
			t.Errorf("label %q must not persist or alert, got %v", label, kinds(effects))
		}
	}
}

func TestPrintTierIsSmallerThanActionTier(t *testing.T) {
	// Railing-like backgrounds are suppressed from storage but still
	// printable.
	p := newTestPolicy(func(cfg *Config) { cfg.PrintEnabled = true })

	effects := p.Evaluate(result("lumbermill, sawmill", 0.95), 10*time.Millisecond, base)
	if !hasKind(effects, EffectPrint) {
		t.Fatalf("action-tier-only label should still print, got %v", kinds(effects))
	}
	if hasKind(effects, EffectPersist) {
		t.Fatalf("action-tier label must not persist, got %v", kinds(effects))
	}
}

func TestScoreAtActionThresholdNeverActs(t *testing.T) {
	p := newTestPolicy(nil)

	effects := p.Evaluate(result("squirrel", 0.70), 10*time.Millisecond, base)
	if hasKind(effects, EffectPersist) || hasKind(effects, EffectAlert) {
		t.Fatalf("score 0.70 must not persist or alert, got %v", kinds(effects))
	}
}

func TestPrintRequiresEnableFilterAndThreshold(t *testing.T) {
	cases := []struct {
		name    string
		enabled bool
		label   string
		score   float64
		want    bool
	}{
		{"qualifying", true, "squirrel", 0.66, true},
		{"disabled", false, "squirrel", 0.66, false},
		{"at threshold", true, "squirrel", 0.65, false},
		{"print-tier label", true, "patio, terrace", 0.99, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPolicy(func(cfg *Config) { cfg.PrintEnabled = tc.enabled })
			effects := p.Evaluate(result(tc.label, tc.score), 10*time.Millisecond, base)
			if got := hasKind(effects, EffectPrint); got != tc.want {
				t.Fatalf("print = %v, want %v (effects %v)", got, tc.want, kinds(effects))
			}
		})
	}
}

func TestPrintIsUnthrottled(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) { cfg.PrintEnabled = true })

	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, now)
		if !hasKind(effects, EffectPrint) {
			t.Fatalf("frame %d did not print", i)
		}
	}
}

func TestPersistCooldownBoundary(t *testing.T) {
	p := newTestPolicy(nil)

	p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)

	effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base.Add(1900*time.Millisecond))
	if hasKind(effects, EffectPersist) {
		t.Fatalf("persist at t+1.9s must not fire")
	}

	effects = p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base.Add(2100*time.Millisecond))
	if !hasKind(effects, EffectPersist) {
		t.Fatalf("persist at t+2.1s must fire, got %v", kinds(effects))
	}
}

func TestAlertCooldownBoundary(t *testing.T) {
	p := newTestPolicy(nil)

	p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)

	effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base.Add(899*time.Second))
	if hasKind(effects, EffectAlert) {
		t.Fatalf("alert at t+899s must not fire")
	}

	effects = p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base.Add(901*time.Second))
	if !hasKind(effects, EffectAlert) {
		t.Fatalf("alert at t+901s must fire, got %v", kinds(effects))
	}
}

func TestAlertRequiresConfiguredTransport(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) { cfg.AlertConfigured = false })

	effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)
	if hasKind(effects, EffectAlert) {
		t.Fatalf("alert must not fire without a configured transport")
	}
	if !hasKind(effects, EffectPersist) {
		t.Fatalf("persist should be unaffected by missing transport, got %v", kinds(effects))
	}
}

func TestFailedGateDoesNotAdvanceTimers(t *testing.T) {
	p := newTestPolicy(nil)

	// Below action threshold: timers must not move, so a later
	// qualifying frame fires immediately.
	p.Evaluate(result("squirrel", 0.5), 10*time.Millisecond, base)
	effects := p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base.Add(100*time.Millisecond))
	if !hasKind(effects, EffectPersist) || !hasKind(effects, EffectAlert) {
		t.Fatalf("qualifying frame after non-qualifying one should act, got %v", kinds(effects))
	}
}

func TestTrainingNoveltyIdenticalLabelsNotNovel(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) { cfg.TrainingMode = true })

	p.Evaluate(result("A", 0.5, "B", 0.3, "C", 0.2), 10*time.Millisecond, base)
	effects := p.Evaluate(result("A", 0.4, "B", 0.35, "C", 0.25), 10*time.Millisecond, base.Add(time.Second))
	if hasKind(effects, EffectMarkTraining) {
		t.Fatalf("identical label sets must not be novel")
	}
}

func TestTrainingNoveltyPartialOverlapIsNovel(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) { cfg.TrainingMode = true })

	p.Evaluate(result("A", 0.5, "B", 0.3, "C", 0.2), 10*time.Millisecond, base)
	effects := p.Evaluate(result("A", 0.5, "D", 0.3, "E", 0.2), 10*time.Millisecond, base.Add(time.Second))
	if !hasKind(effects, EffectMarkTraining) {
		t.Fatalf("intersection of size 1 with topK=3 must be novel, got %v", kinds(effects))
	}
}

func TestTrainingModeReplacesPersistAndAlert(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) { cfg.TrainingMode = true })

	effects := p.Evaluate(result("squirrel", 0.99), 10*time.Millisecond, base)
	if hasKind(effects, EffectPersist) || hasKind(effects, EffectAlert) {
		t.Fatalf("training mode must not persist or alert, got %v", kinds(effects))
	}
	if !hasKind(effects, EffectMarkTraining) {
		t.Fatalf("first frame in training mode should be novel, got %v", kinds(effects))
	}
}

func TestEmptyResultSkipsEffectsButUpdatesState(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) {
		cfg.PrintEnabled = true
		cfg.TrainingMode = true
	})

	p.Evaluate(result("A", 0.5, "B", 0.3, "C", 0.2), 10*time.Millisecond, base)

	effects := p.Evaluate(nil, 10*time.Millisecond, base.Add(time.Second))
	if len(effects) != 0 {
		t.Fatalf("empty result must produce no effects, got %v", kinds(effects))
	}

	// lastResult was overwritten by the empty frame, so the next frame
	// shares no labels with it and is novel again.
	effects = p.Evaluate(result("A", 0.5, "B", 0.3, "C", 0.2), 10*time.Millisecond, base.Add(2*time.Second))
	if !hasKind(effects, EffectMarkTraining) {
		t.Fatalf("frame after empty lastResult should be novel, got %v", kinds(effects))
	}
}

func TestPrintCarriesLatencyAndFPS(t *testing.T) {
	p := newTestPolicy(func(cfg *Config) { cfg.PrintEnabled = true })

	p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)
	effects := p.Evaluate(result("squirrel", 0.9), 25*time.Millisecond, base.Add(500*time.Millisecond))

	var print *Effect
	for i := range effects {
		if effects[i].Kind == EffectPrint {
			print = &effects[i]
		}
	}
	if print == nil {
		t.Fatalf("expected a print effect, got %v", kinds(effects))
	}
	if print.InferenceLatency != 25*time.Millisecond {
		t.Errorf("latency = %v, want 25ms", print.InferenceLatency)
	}
	if print.FPS < 1.99 || print.FPS > 2.01 {
		t.Errorf("fps = %.3f, want ~2.0", print.FPS)
	}
}

func TestSquirrelScenario(t *testing.T) {
	// topK=1, raw [(1, 0.9)] interpreted against "0 background / 1
	// squirrel": first call persists and alerts, an identical call one
	// second later does neither.
	cfg := DefaultConfig()
	cfg.TopK = 1
	cfg.AlertConfigured = true
	p := New(cfg)

	r := result("squirrel", 0.9)

	effects := p.Evaluate(r, 10*time.Millisecond, base)
	if !hasKind(effects, EffectPersist) || !hasKind(effects, EffectAlert) {
		t.Fatalf("t=0: want persist+alert, got %v", kinds(effects))
	}

	effects = p.Evaluate(r, 10*time.Millisecond, base.Add(time.Second))
	if len(effects) != 0 {
		t.Fatalf("t=1s: want no effects, got %v", kinds(effects))
	}
}

func TestStatusSnapshot(t *testing.T) {
	p := newTestPolicy(nil)

	p.Evaluate(result("squirrel", 0.9), 10*time.Millisecond, base)
	p.Evaluate(result("jay", 0.4), 10*time.Millisecond, base.Add(time.Second))

	s := p.Status()
	if s.FramesEvaluated != 2 {
		t.Errorf("frames evaluated = %d, want 2", s.FramesEvaluated)
	}
	if s.LastLabel != "jay" || s.LastScore != 0.4 {
		t.Errorf("last decision = (%q, %.2f), want (jay, 0.40)", s.LastLabel, s.LastScore)
	}
	if !s.LastPersist.Equal(base) {
		t.Errorf("last persist = %v, want %v", s.LastPersist, base)
	}
}
