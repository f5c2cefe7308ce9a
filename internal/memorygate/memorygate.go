// Package memorygate implements the Memory Admission Gate (spec §4.10):
// trust-threshold-based admission of candidate memories into allow,
// quarantine, or reject, with a bounded quarantine queue and scheduled
// review, in the style of the reference repo's memory auto-capture hooks
// (internal/memory/hooks.go) — a default-applying config struct gating a
// single admission decision function.
package memorygate

import (
	"fmt"
	"sync"
	"time"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// Config configures the gate's admission thresholds and quarantine bounds.
type Config struct {
	// WriteThreshold is the trust score at or above which a candidate is
	// admitted outright. Default 0.7.
	WriteThreshold float64
	// QuarantineThreshold is the trust score at or above which a candidate
	// below WriteThreshold is quarantined rather than rejected outright.
	// Default 0.3. Must be strictly less than WriteThreshold.
	QuarantineThreshold float64
	// MaxQuarantineSize bounds the quarantine queue; once full, new
	// quarantine candidates are rejected instead. Default 1000.
	MaxQuarantineSize int
}

func (c Config) withDefaults() Config {
	if c.WriteThreshold == 0 {
		c.WriteThreshold = 0.7
	}
	if c.QuarantineThreshold == 0 {
		c.QuarantineThreshold = 0.3
	}
	if c.MaxQuarantineSize == 0 {
		c.MaxQuarantineSize = 1000
	}
	return c
}

// QuarantinedMemory pairs a candidate memory with when it entered
// quarantine, for the scheduled review sweep.
type QuarantinedMemory struct {
	Memory    kmodel.Memory
	EnteredAt time.Time
}

// Gate admits, quarantines, or rejects candidate memories.
type Gate struct {
	mu         sync.Mutex
	cfg        Config
	quarantine map[string]QuarantinedMemory
	seq        int64
}

// New returns a Gate configured by cfg.
func New(cfg Config) *Gate {
	return &Gate{
		cfg:        cfg.withDefaults(),
		quarantine: make(map[string]QuarantinedMemory),
	}
}

// Write evaluates candidate against the configured thresholds using
// trustScore (typically sourced from trust.Scorer.GetSourceTrust for
// candidate.Source) and returns the gate's decision.
func (g *Gate) Write(candidate kmodel.MemoryCandidate, trustScore float64) kmodel.GateDecision {
	switch {
	case trustScore >= g.cfg.WriteThreshold:
		return kmodel.GateDecision{
			Action:     kmodel.GateAllow,
			TrustScore: trustScore,
			Reason:     "trust score meets write threshold",
		}
	case trustScore >= g.cfg.QuarantineThreshold:
		return g.quarantineCandidate(candidate, trustScore)
	default:
		return kmodel.GateDecision{
			Action:     kmodel.GateReject,
			TrustScore: trustScore,
			Reason:     "trust score below quarantine threshold",
		}
	}
}

func (g *Gate) quarantineCandidate(candidate kmodel.MemoryCandidate, trustScore float64) kmodel.GateDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.quarantine) >= g.cfg.MaxQuarantineSize {
		return kmodel.GateDecision{
			Action:     kmodel.GateReject,
			TrustScore: trustScore,
			Reason:     "quarantine queue is at capacity",
		}
	}

	g.seq++
	id := fmt.Sprintf("quarantine_%d", g.seq)
	g.quarantine[id] = QuarantinedMemory{
		Memory: kmodel.Memory{
			MemoryCandidate: candidate,
			ID:              id,
			TrustScore:      trustScore,
		},
		EnteredAt: time.Now().UTC(),
	}
	return kmodel.GateDecision{
		Action:     kmodel.GateQuarantine,
		TrustScore: trustScore,
		Reason:     "trust score below write threshold, held for review",
	}
}

// PendingReview returns every quarantined memory currently held, for a
// scheduled reviewer (pkg/kernel registers this on an internal/schedule.Scheduler).
func (g *Gate) PendingReview() []QuarantinedMemory {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]QuarantinedMemory, 0, len(g.quarantine))
	for _, qm := range g.quarantine {
		out = append(out, qm)
	}
	return out
}

// ResolveQuarantine removes id from the quarantine queue after a reviewer
// has admitted or rejected it.
func (g *Gate) ResolveQuarantine(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.quarantine, id)
}

// QuarantineSize reports how many candidates are currently held.
func (g *Gate) QuarantineSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.quarantine)
}
