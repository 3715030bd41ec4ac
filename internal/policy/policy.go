// Package policy decides, frame by frame, which side effects a
// classification result should produce: printing, image persistence,
// alert notification, or training-sample collection.
//
// The policy performs no I/O itself. Evaluate returns effect descriptors
// and the caller executes them, so the state machine can be tested with
// synthetic timestamps and without cameras, disks or network.
package policy

import (
	"sync"
	"time"

	"github.com/feederwatch/classifier/internal/classify"
)

// Default thresholds and cool-down intervals. The print/action thresholds
// are deliberately distinct from the display score threshold.
const (
	DefaultPrintThreshold  = 0.65
	DefaultActionThreshold = 0.70
	DefaultPersistInterval = 2 * time.Second
	DefaultAlertInterval   = 900 * time.Second
)

// DefaultPrintIgnore is the background tier suppressed from terminal output.
func DefaultPrintIgnore() []string {
	return []string{
		"patio, terrace",
		"picket fence, paling",
	}
}

// DefaultActionIgnore is the stricter background tier gating persistence
// and alerting.
func DefaultActionIgnore() []string {
	return append(DefaultPrintIgnore(),
		"bannister, banister, balustrade, balusters, handrail",
		"lumbermill, sawmill",
	)
}

// Config defines the runtime configuration of the policy.
type Config struct {
	TopK            int
	PrintEnabled    bool
	TrainingMode    bool
	AlertConfigured bool
	PrintThreshold  float64
	ActionThreshold float64
	PersistInterval time.Duration
	AlertInterval   time.Duration
	PrintIgnore     []string
	ActionIgnore    []string
}

// DefaultConfig returns a config matching the deterrent-mode defaults.
func DefaultConfig() Config {
	return Config{
		TopK:            3,
		PrintThreshold:  DefaultPrintThreshold,
		ActionThreshold: DefaultActionThreshold,
		PersistInterval: DefaultPersistInterval,
		AlertInterval:   DefaultAlertInterval,
		PrintIgnore:     DefaultPrintIgnore(),
		ActionIgnore:    DefaultActionIgnore(),
	}
}

// EffectKind identifies a side effect the caller should perform.
type EffectKind int

const (
	EffectPrint EffectKind = iota
	EffectPersist
	EffectAlert
	EffectMarkTraining
)

// String returns a human-readable effect name
func (k EffectKind) String() string {
	switch k {
	case EffectPrint:
		return "print"
	case EffectPersist:
		return "persist"
	case EffectAlert:
		return "alert"
	case EffectMarkTraining:
		return "mark-training"
	default:
		return "unknown"
	}
}

// Effect is a descriptor of one side effect to perform for a frame.
type Effect struct {
	Kind   EffectKind
	Top    classify.Class
	Result []classify.Class

	// Print-only fields
	InferenceLatency time.Duration
	FPS              float64
}

// Status is a snapshot of the policy state for the HTTP status surface.
type Status struct {
	FramesEvaluated uint64    `json:"frames_evaluated"`
	LastLabel       string    `json:"last_label"`
	LastScore       float64   `json:"last_score"`
	LastPersist     time.Time `json:"last_persist"`
	LastAlert       time.Time `json:"last_alert"`
	TrainingMode    bool      `json:"training_mode"`
}

// Policy is the debounce/alert state machine. Evaluate is called from a
// single goroutine, one frame at a time; the mutex only guards the
// Status snapshot read from the HTTP handlers.
type Policy struct {
	cfg          Config
	printIgnore  map[string]struct{}
	actionIgnore map[string]struct{}

	mu            sync.Mutex
	lastInference time.Time
	lastPersist   time.Time
	lastAlert     time.Time
	lastResult    []classify.Class
	framesSeen    uint64
}

// New creates a policy with the given configuration.
func New(cfg Config) *Policy {
	return &Policy{
		cfg:          cfg,
		printIgnore:  toSet(cfg.PrintIgnore),
		actionIgnore: toSet(cfg.ActionIgnore),
	}
}

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// Evaluate runs the per-frame rules against one classification result and
// returns the effects to perform, in rule order. A zero-value last
// timestamp means the effect has never fired, so its cool-down is
// considered elapsed. An empty result is "no decision": no effects, but
// lastResult and lastInference still advance.
func (p *Policy) Evaluate(result []classify.Class, inferenceLatency time.Duration, now time.Time) []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()

	defer func() {
		p.lastResult = result
		p.lastInference = now
		p.framesSeen++
	}()

	if len(result) == 0 {
		return nil
	}
	top := result[0]

	var effects []Effect

	if p.cfg.PrintEnabled && !p.ignoredForPrint(top.Label) && top.Score > p.cfg.PrintThreshold {
		effects = append(effects, Effect{
			Kind:             EffectPrint,
			Top:              top,
			Result:           result,
			InferenceLatency: inferenceLatency,
			FPS:              p.instantFPS(now),
		})
	}

	if p.cfg.TrainingMode {
		if p.isNovel(result) {
			effects = append(effects, Effect{Kind: EffectMarkTraining, Top: top, Result: result})
		}
		return effects
	}

	if !p.ignoredForAction(top.Label) && top.Score > p.cfg.ActionThreshold {
		if expired(p.lastPersist, now, p.cfg.PersistInterval) {
			effects = append(effects, Effect{Kind: EffectPersist, Top: top, Result: result})
			p.lastPersist = now
		}
		if p.cfg.AlertConfigured && expired(p.lastAlert, now, p.cfg.AlertInterval) {
			effects = append(effects, Effect{Kind: EffectAlert, Top: top, Result: result})
			p.lastAlert = now
		}
	}

	return effects
}

// expired reports whether the cool-down for an effect has elapsed.
func expired(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) > interval
}

// instantFPS is the instantaneous frame rate derived from the time since
// the previous frame. Zero until two frames have been seen.
func (p *Policy) instantFPS(now time.Time) float64 {
	if p.lastInference.IsZero() {
		return 0
	}
	dt := now.Sub(p.lastInference).Seconds()
	if dt <= 0 {
		return 0
	}
	return 1.0 / dt
}

// isNovel compares the label set of the current result against the
// previous frame's. Fewer than topK shared labels is treated as a scene
// change worth collecting. Pure set overlap, not a statistical test.
func (p *Policy) isNovel(result []classify.Class) bool {
	current := make(map[string]struct{}, len(result))
	for _, c := range result {
		current[c.Label] = struct{}{}
	}

	previous := make(map[string]struct{}, len(p.lastResult))
	for _, c := range p.lastResult {
		previous[c.Label] = struct{}{}
	}

	shared := 0
	for label := range previous {
		if _, ok := current[label]; ok {
			shared++
		}
	}
	return shared < p.cfg.TopK
}

func (p *Policy) ignoredForPrint(label string) bool {
	_, ok := p.printIgnore[label]
	return ok
}

func (p *Policy) ignoredForAction(label string) bool {
	_, ok := p.actionIgnore[label]
	return ok
}

// Status returns a snapshot of the policy state.
func (p *Policy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		FramesEvaluated: p.framesSeen,
		LastPersist:     p.lastPersist,
		LastAlert:       p.lastAlert,
		TrainingMode:    p.cfg.TrainingMode,
	}
	if len(p.lastResult) > 0 {
		s.LastLabel = p.lastResult[0].Label
		s.LastScore = p.lastResult[0].Score
	}
	return s
}
