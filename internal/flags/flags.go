// Package flags provides feature flag support for optional server behaviour.
// Flags are read-only after initialization and provide safe defaults for unknown flags.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/beanserver/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagInvokeGetters lets Invoke reach methods shaped like attribute
	// accessors.
	FlagInvokeGetters = "invoke-getters"

	// FlagMergeDuplicateAccessors keeps the outermost accessor when an
	// embedded type declares another one for the same attribute, instead of
	// rejecting the type.
	FlagMergeDuplicateAccessors = "merge-duplicate-accessors"
)

// Known maps every flag the server reads to a short description.
var Known = map[string]string{
	FlagInvokeGetters:           "allow invoking accessor-shaped methods as operations",
	FlagMergeDuplicateAccessors: "resolve shadowed accessors to the outermost method",
}

// Registry holds feature flag state loaded from configuration.
// Flags are read-only after initialization.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map.
// If flags is nil, an empty registry is created (all flags disabled).
func New(flags map[string]bool) *Registry {
	copied := make(map[string]bool, len(flags))
	maps.Copy(copied, flags)
	r := &Registry{flags: copied}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(copied), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags and on a nil registry.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// Resolve returns explicit when it is set, otherwise the flag's value.
// Explicit configuration keys take precedence over the flag map.
func (r *Registry) Resolve(name string, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return r.Enabled(name)
}

// All returns a copy of all flags (for debugging/logging).
// Returns an empty map if the registry is nil.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}

// Unknown returns the configured flag names missing from Known, sorted.
// These are usually typos in the flags section of the config file.
func (r *Registry) Unknown() []string {
	var out []string
	for name := range r.All() {
		if _, ok := Known[name]; !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
