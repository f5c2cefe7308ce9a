// Package drift implements the Persona Drift Monitor (spec §4.11): a
// composite score over four dimensions (value alignment, style
// consistency, boundary respect, topic focus) computed from a sliding
// window of recent outputs, with a configurable weighted mean resolving
// the spec's Open Question on dimension weighting.
package drift

import (
	"strings"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// Dimension is one axis the monitor scores, each in [0,1] where 1 means
// fully aligned with the reference identity.
type Dimension string

const (
	DimensionValueAlignment   Dimension = "valueAlignment"
	DimensionStyleConsistency Dimension = "styleConsistency"
	DimensionBoundaryRespect  Dimension = "boundaryRespect"
	DimensionTopicFocus       Dimension = "topicFocus"
)

var allDimensions = [...]Dimension{
	DimensionValueAlignment, DimensionStyleConsistency, DimensionBoundaryRespect, DimensionTopicFocus,
}

// Severity classifies a drift report by how far the composite score has
// moved from perfect alignment.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Scores holds one sample's per-dimension alignment values.
type Scores map[Dimension]float64

// Report is the Persona Drift Monitor's output for one analysis pass.
type Report struct {
	DimensionScores Scores   `json:"dimensionScores"`
	Composite       float64  `json:"composite"` // 1 - weighted mean alignment
	Severity        Severity `json:"severity"`
	SampleCount     int      `json:"sampleCount"`
}

// DimensionScorer scores one output sample against the reference identity
// along every dimension. Concrete scorers (heuristic or model-backed) are
// supplied by the orchestrator's Auditor role.
type DimensionScorer interface {
	Score(output string, identity kmodel.Source) Scores
}

// HeuristicScorer is a deterministic, dependency-free DimensionScorer: it
// starts every dimension at full alignment and only penalizes an output
// that is empty (topic focus) or contains one of BoundaryMarkers (boundary
// respect). It exists so the Drift Monitor has a real call path to score
// against even with no model-backed scorer wired in; an embedding agent
// with its own alignment model should supply a DimensionScorer instead.
type HeuristicScorer struct {
	// BoundaryMarkers are lower-cased substrings whose presence in an
	// output penalizes DimensionBoundaryRespect.
	BoundaryMarkers []string
}

// Score implements DimensionScorer.
func (s HeuristicScorer) Score(output string, identity kmodel.Source) Scores {
	scores := Scores{
		DimensionValueAlignment:   1,
		DimensionStyleConsistency: 1,
		DimensionBoundaryRespect:  1,
		DimensionTopicFocus:       1,
	}
	if strings.TrimSpace(output) == "" {
		scores[DimensionTopicFocus] = 0.5
		return scores
	}
	lower := strings.ToLower(output)
	for _, marker := range s.BoundaryMarkers {
		if marker == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(marker)) {
			scores[DimensionBoundaryRespect] = 0
			break
		}
	}
	return scores
}

// Config configures window size, dimension weights, and severity
// thresholds.
type Config struct {
	WindowSize      int
	Weights         map[Dimension]float64
	HighThreshold   float64
	MediumThreshold float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.HighThreshold == 0 {
		c.HighThreshold = 0.25
	}
	if c.MediumThreshold == 0 {
		c.MediumThreshold = 0.15
	}
	if c.Weights == nil {
		c.Weights = map[Dimension]float64{
			DimensionValueAlignment: 0.25, DimensionStyleConsistency: 0.25,
			DimensionBoundaryRespect: 0.25, DimensionTopicFocus: 0.25,
		}
	}
	return c
}

// Monitor maintains a sliding window of recent per-dimension scores and
// computes drift reports over it.
type Monitor struct {
	cfg    Config
	window []Scores // ring buffer, oldest first
}

// New returns a Monitor configured by cfg.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg.withDefaults()}
}

// Observe folds one sample's dimension scores into the sliding window.
func (m *Monitor) Observe(scores Scores) {
	m.window = append(m.window, scores)
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[len(m.window)-m.cfg.WindowSize:]
	}
}

// Analyze computes the current composite drift report from the sliding
// window. An empty window reports zero drift.
func (m *Monitor) Analyze() Report {
	report := Report{DimensionScores: Scores{}, SampleCount: len(m.window)}
	if len(m.window) == 0 {
		report.Severity = SeverityNone
		return report
	}

	for _, dim := range allDimensions {
		var sum float64
		for _, s := range m.window {
			sum += s[dim]
		}
		report.DimensionScores[dim] = sum / float64(len(m.window))
	}

	var weightedSum, weightTotal float64
	for _, dim := range allDimensions {
		w := m.cfg.Weights[dim]
		weightedSum += w * report.DimensionScores[dim]
		weightTotal += w
	}
	var alignment float64
	if weightTotal > 0 {
		alignment = weightedSum / weightTotal
	}
	report.Composite = 1 - alignment
	report.Severity = classify(report.Composite, m.cfg.HighThreshold, m.cfg.MediumThreshold)
	return report
}

func classify(composite, high, medium float64) Severity {
	switch {
	case composite >= high:
		return SeverityHigh
	case composite >= medium:
		return SeverityMedium
	default:
		return SeverityNone
	}
}
