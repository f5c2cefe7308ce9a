// Package trust implements the Trust Scoring subsystem (spec §4.9): a
// per-source scalar in [0,1], seeded from per-kind baselines and updated by
// bounded steps over a bounded rolling window.
package trust

import (
	"sync"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// defaultBaselines mirrors config.TrustConfig.Baselines' defaults so a
// Scorer constructed without explicit config still behaves sensibly.
var defaultBaselines = map[kmodel.SourceKind]float64{
	kmodel.SourceUser:     0.8,
	kmodel.SourceSystem:   0.9,
	kmodel.SourceLLM:      0.5,
	kmodel.SourcePlugin:   0.6,
	kmodel.SourceExternal: 0.3,
}

// Outcome is one observed result attributed to a source, used to update
// its trust score.
type Outcome struct {
	Success bool
	// Weight scales this observation's influence on the step size, in
	// [0,1]; zero defaults to 1.
	Weight float64
}

type scoreState struct {
	score  float64
	window []Outcome // ring buffer, oldest first
}

// Scorer tracks trust scores per source key.
type Scorer struct {
	mu         sync.RWMutex
	baselines  map[kmodel.SourceKind]float64
	maxStep    float64
	windowSize int
	scores     map[string]*scoreState
}

// Config configures a Scorer's bounds.
type Config struct {
	Baselines  map[string]float64
	MaxStep    float64
	WindowSize int
}

// New returns a Scorer. Zero-value Config fields fall back to the spec's
// defaults (step <= 0.05, window <= 100).
func New(cfg Config) *Scorer {
	maxStep := cfg.MaxStep
	if maxStep <= 0 || maxStep > 0.05 {
		maxStep = 0.05
	}
	windowSize := cfg.WindowSize
	if windowSize <= 0 || windowSize > 100 {
		windowSize = 100
	}
	baselines := make(map[kmodel.SourceKind]float64, len(defaultBaselines))
	for k, v := range defaultBaselines {
		baselines[k] = v
	}
	for k, v := range cfg.Baselines {
		baselines[kmodel.SourceKind(k)] = v
	}
	return &Scorer{
		baselines:  baselines,
		maxStep:    maxStep,
		windowSize: windowSize,
		scores:     make(map[string]*scoreState),
	}
}

// GetSourceTrust returns src's current trust score, seeding it from the
// source kind's baseline on first observation.
func (s *Scorer) GetSourceTrust(src kmodel.Source) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateFor(src).score
}

// Register seeds src with an explicit initial score, overriding the kind
// baseline. Used when a caller already knows a source's historical trust
// (e.g. restored from persistence).
func (s *Scorer) Register(src kmodel.Source, initialScore float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[src.Key()] = &scoreState{score: clamp01(initialScore)}
}

func (s *Scorer) stateFor(src kmodel.Source) *scoreState {
	key := src.Key()
	st, ok := s.scores[key]
	if !ok {
		st = &scoreState{score: s.baselines[src.Kind]}
		s.scores[key] = st
	}
	return st
}

// RecordOutcome folds outcome into src's rolling window and recomputes its
// score. The window is bounded to Scorer.windowSize observations, and each
// update moves the score by at most Scorer.maxStep toward the window's
// observed success rate.
func (s *Scorer) RecordOutcome(src kmodel.Source, outcome Outcome) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(src)
	st.window = append(st.window, outcome)
	if len(st.window) > s.windowSize {
		st.window = st.window[len(st.window)-s.windowSize:]
	}

	target := successRate(st.window)
	delta := target - st.score
	if delta > s.maxStep {
		delta = s.maxStep
	} else if delta < -s.maxStep {
		delta = -s.maxStep
	}
	st.score = clamp01(st.score + delta)
	return st.score
}

func successRate(window []Outcome) float64 {
	if len(window) == 0 {
		return 0
	}
	var weighted, total float64
	for _, o := range window {
		w := o.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		if o.Success {
			weighted += w
		}
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
