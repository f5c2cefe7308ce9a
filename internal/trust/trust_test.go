package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func TestGetSourceTrust_SeedsFromBaseline(t *testing.T) {
	s := New(Config{})
	score := s.GetSourceTrust(kmodel.Source{Kind: kmodel.SourceLLM})
	assert.Equal(t, 0.5, score)
}

func TestRecordOutcome_StepIsBounded(t *testing.T) {
	s := New(Config{MaxStep: 0.05})
	src := kmodel.Source{Kind: kmodel.SourceExternal}
	before := s.GetSourceTrust(src)
	after := s.RecordOutcome(src, Outcome{Success: true})
	assert.LessOrEqual(t, after-before, 0.05+1e-9)
}

func TestRecordOutcome_ConvergesTowardSuccessRate(t *testing.T) {
	s := New(Config{MaxStep: 0.05, WindowSize: 10})
	src := kmodel.Source{Kind: kmodel.SourcePlugin, Name: "git-ops"}
	var last float64
	for i := 0; i < 50; i++ {
		last = s.RecordOutcome(src, Outcome{Success: true})
	}
	assert.InDelta(t, 1.0, last, 0.01)
}

func TestRecordOutcome_WindowIsBounded(t *testing.T) {
	s := New(Config{WindowSize: 5})
	src := kmodel.Source{Kind: kmodel.SourceUser}
	for i := 0; i < 20; i++ {
		s.RecordOutcome(src, Outcome{Success: i%2 == 0})
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.LessOrEqual(t, len(s.scores[src.Key()].window), 5)
}

func TestRegister_OverridesBaseline(t *testing.T) {
	s := New(Config{})
	src := kmodel.Source{Kind: kmodel.SourceSystem}
	s.Register(src, 0.42)
	assert.Equal(t, 0.42, s.GetSourceTrust(src))
}

func TestScoreNeverLeavesUnitInterval(t *testing.T) {
	s := New(Config{MaxStep: 0.5})
	src := kmodel.Source{Kind: kmodel.SourceExternal}
	for i := 0; i < 10; i++ {
		score := s.RecordOutcome(src, Outcome{Success: false})
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}
