package kmodel

import (
	"encoding/json"
	"time"
)

// ToolContract is the immutable, typed schema catalog entry for one tool.
// Contracts are identified by (Name, Version) and never mutated after
// registration (spec §3, §4.1).
type ToolContract struct {
	Name             string        `json:"name"`
	Version          string        `json:"version"`
	Description      string        `json:"description"`
	RiskClass        RiskClass     `json:"riskClass"`
	ParamsSchema     json.RawMessage `json:"paramsSchema"`
	Permissions      []Permission  `json:"permissions"`
	SideEffects      []SideEffect  `json:"sideEffects"`
	ApprovalRequired bool          `json:"approvalRequired"`
	Timeout          time.Duration `json:"timeout"`
	Tags             []string      `json:"tags,omitempty"`
}

// Key returns the (name, version) identity used for registry lookups and
// duplicate-registration rejection.
func (c *ToolContract) Key() string {
	return c.Name + "@" + c.Version
}

// HasTag reports whether the contract carries the given free-form tag.
func (c *ToolContract) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate returns a non-empty, human-readable issue list if the contract
// is structurally unfit for registration. It never panics — callers use
// this the way the rest of the kernel uses issues[] resolvers.
func (c *ToolContract) Validate() []string {
	var issues []string
	if c.Name == "" {
		issues = append(issues, "name is required")
	}
	if c.Version == "" {
		issues = append(issues, "version is required")
	}
	if !c.RiskClass.Valid() {
		issues = append(issues, "riskClass must be one of read-only, reversible, irreversible")
	}
	if len(c.ParamsSchema) == 0 {
		issues = append(issues, "paramsSchema is required")
	}
	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be positive")
	}
	return issues
}

// ProposedToolCall is a caller's request to invoke a tool (spec §3).
type ProposedToolCall struct {
	Tool          string          `json:"tool"`
	Version       string          `json:"version,omitempty"`
	Params        json.RawMessage `json:"params"`
	Source        Source          `json:"source"`
	SourceTrust   *float64        `json:"sourceTrust,omitempty"`
	RequestID     string          `json:"requestId"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// ToolDescriptor synthesizes a custom tool contract from a handler type and
// a declared parameter list (spec §4.1). It is the input to
// registry.SynthesizeContract.
type ToolDescriptor struct {
	Name        string               `json:"name"`
	HandlerType HandlerType          `json:"handlerType"`
	Parameters  []DescriptorParam    `json:"parameters"`
	Description string               `json:"description,omitempty"`
	Timeout     time.Duration        `json:"timeout,omitempty"`
}

// DescriptorParam is one declared parameter of a custom tool descriptor,
// shaped so invopop/jsonschema can turn a slice of these into a JSON Schema
// document for the synthesized contract.
type DescriptorParam struct {
	Name        string `json:"name" jsonschema:"required"`
	Type        string `json:"type" jsonschema:"enum=string,enum=number,enum=boolean,enum=object,enum=array"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"-"`
}
