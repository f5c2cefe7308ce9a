package kmodel

import "time"

// MemoryType classifies an admitted memory's role in the agent's context.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryInstruction MemoryType = "instruction"
	MemoryPreference  MemoryType = "preference"
	MemoryObservation MemoryType = "observation"
	MemoryGoal        MemoryType = "goal"
	MemorySystem      MemoryType = "system"
)

// MemoryCandidate is content proposed for admission into long-term memory,
// before the Memory Gate has scored and classified it.
type MemoryCandidate struct {
	Content   string         `json:"content"`
	Source    Source         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Memory is a MemoryCandidate that the gate has admitted, carrying the
// trust score that justified admission and an inferred memory type.
type Memory struct {
	MemoryCandidate
	ID         string     `json:"id"`
	TrustScore float64    `json:"trustScore"`
	MemoryType MemoryType `json:"memoryType"`
}

// GateAction is what the Memory Gate decided to do with a candidate.
type GateAction string

const (
	GateAllow      GateAction = "allow"
	GateQuarantine GateAction = "quarantine"
	GateReject     GateAction = "reject"
)

// GateDecision is the result of running a MemoryCandidate through the gate.
type GateDecision struct {
	Action     GateAction `json:"action"`
	TrustScore float64    `json:"trustScore"`
	Reason     string     `json:"reason"`
}
