// Package registry implements the Tool Registry and Contract Validator
// (spec §4.1): a thread-safe catalog of immutable tool contracts keyed by
// name and version, and the JSON Schema machinery used to validate proposed
// parameters and synthesize contracts for custom tool descriptors.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// MaxToolNameLength bounds registered tool names, matching the reference
// repo's tool-registry resource-exhaustion guard.
const MaxToolNameLength = 256

// Registry is a thread-safe catalog of ToolContracts.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]kmodel.ToolContract // keyed by contract.Key()
	byName    map[string][]string            // name -> list of Key()s, newest last
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		contracts: make(map[string]kmodel.ToolContract),
		byName:    make(map[string][]string),
	}
}

// Register adds contract to the catalog. Re-registering the same
// (name, version) pair is rejected: contracts are immutable once published
// (spec §4.1).
func (r *Registry) Register(contract kmodel.ToolContract) error {
	if len(contract.Name) > MaxToolNameLength {
		return fmt.Errorf("registry: tool name exceeds %d characters", MaxToolNameLength)
	}
	if issues := contract.Validate(); len(issues) > 0 {
		return fmt.Errorf("registry: invalid contract: %s", strings.Join(issues, "; "))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := contract.Key()
	if _, exists := r.contracts[key]; exists {
		return fmt.Errorf("registry: contract %s is already registered", key)
	}
	r.contracts[key] = contract
	r.byName[contract.Name] = append(r.byName[contract.Name], key)
	return nil
}

// Get returns the contract for (name, version). If version is empty, the
// most recently registered version for name is returned.
func (r *Registry) Get(name, version string) (kmodel.ToolContract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version != "" {
		c, ok := r.contracts[name+"@"+version]
		return c, ok
	}
	keys := r.byName[name]
	if len(keys) == 0 {
		return kmodel.ToolContract{}, false
	}
	return r.contracts[keys[len(keys)-1]], true
}

// Has reports whether any version of name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name]) > 0
}

// GetByTag returns every contract (latest version per name) carrying tag.
func (r *Registry) GetByTag(tag string) []kmodel.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []kmodel.ToolContract
	for name, keys := range r.byName {
		c := r.contracts[keys[len(keys)-1]]
		if c.HasTag(tag) {
			out = append(out, c)
		}
		_ = name
	}
	return out
}

// List returns the latest-version contract for every registered tool name.
func (r *Registry) List() []kmodel.ToolContract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kmodel.ToolContract, 0, len(r.byName))
	for _, keys := range r.byName {
		out = append(out, r.contracts[keys[len(keys)-1]])
	}
	return out
}

// matchPattern supports the same "exact" and "prefix.*" wildcard matching
// the reference repo's tool-pattern matcher uses for policy lists.
func matchPattern(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

// MatchesAny reports whether name matches any of patterns, using the same
// wildcard semantics the Approval Gate and Governance Engine apply to
// tool-name pattern lists.
func MatchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}
