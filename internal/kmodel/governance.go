package kmodel

import "time"

// ApprovalRule maps a risk class to the requirement and optional trust
// floor a Governance Policy applies to it.
type ApprovalRule struct {
	Requirement ApprovalRequirement `json:"requirement" yaml:"requirement"`
	TrustFloor  *float64            `json:"trustFloor,omitempty" yaml:"trust_floor,omitempty"`
}

// RetentionPolicy configures how long events and audit records are kept
// and whether they must be exported before eviction.
type RetentionPolicy struct {
	EventMs             int64 `json:"eventMs" yaml:"event_ms"`
	AuditMs             int64 `json:"auditMs" yaml:"audit_ms"`
	ExportBeforeEviction bool  `json:"exportBeforeEviction" yaml:"export_before_eviction"`
}

// EventTTL returns the configured event retention window as a Duration.
func (r RetentionPolicy) EventTTL() time.Duration {
	return time.Duration(r.EventMs) * time.Millisecond
}

// AuditTTL returns the configured audit-record retention window.
func (r RetentionPolicy) AuditTTL() time.Duration {
	return time.Duration(r.AuditMs) * time.Millisecond
}

// ComplianceCheck is one domain-specific rule a Governance Policy evaluates
// in addition to the risk-class approval mapping.
type ComplianceCheck struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

// ComplianceResult is the outcome of evaluating one ComplianceCheck.
type ComplianceResult struct {
	CheckID  string `json:"checkId"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
}

// GovernancePolicy is a named bundle of approval rules, a retention policy,
// compliance checks, and reference material (spec §3).
type GovernancePolicy struct {
	ID              string                         `json:"id" yaml:"id"`
	ApprovalRules   map[RiskClass]ApprovalRule     `json:"approvalRules" yaml:"approval_rules"`
	Retention       RetentionPolicy                `json:"retention" yaml:"retention"`
	ComplianceChecks []ComplianceCheck             `json:"complianceChecks" yaml:"compliance_checks"`
	References      []string                       `json:"references,omitempty" yaml:"references,omitempty"`
}

// GovernanceDecision is the outcome of evaluating a proposed call against a
// policy (spec §4.13).
type GovernanceDecision struct {
	Approved            bool                `json:"approved"`
	ApprovalRequirement ApprovalRequirement `json:"approvalRequirement"`
	ComplianceResults   []ComplianceResult  `json:"complianceResults"`
	OverallCompliant    bool                `json:"overallCompliant"`
	Reasons             []string            `json:"reasons,omitempty"`
}

// GovernanceContext is the evaluation input passed to the Governance
// Engine: the proposed call's risk class and source trust, plus anything a
// ComplianceCheckFunc needs to decide.
type GovernanceContext struct {
	ToolName    string
	RiskClass   RiskClass
	Source      Source
	SourceTrust float64
	Params      map[string]any
}
