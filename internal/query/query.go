// Package query answers structural name queries against a registry.
package query

import (
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/registry"
	"github.com/zjrosen/beanserver/internal/wildcard"
)

// Store is the part of the registry the engine reads.
type Store interface {
	DefaultDomain() string
	Domains() []string
	Entry(name objname.Name) (*registry.Entry, bool)
	EntriesFunc(domain string, keep func(*registry.Entry) bool) []*registry.Entry
	All() []*registry.Entry
}

// Engine matches name patterns against a Store.
//
// Each matching domain is read under its own lock. The union across domains
// is not atomic: a domain created or dropped while a query runs may or may
// not be reflected in the result.
type Engine struct {
	store Store
}

// New creates an engine over store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Query returns the entries whose names match pattern. The zero Name and the
// universal pattern return everything. Result order is unspecified.
func (e *Engine) Query(pattern objname.Name) []*registry.Entry {
	switch {
	case pattern.IsUniversal() || pattern.Canonical() == "":
		return e.store.All()

	case !pattern.IsPattern():
		entry, ok := e.store.Entry(pattern)
		if !ok {
			return nil
		}
		return []*registry.Entry{entry}

	case pattern.Domain() == "":
		return e.store.EntriesFunc(e.store.DefaultDomain(), propertyFilter(pattern))
	}

	keep := propertyFilter(pattern)
	var out []*registry.Entry
	for _, domain := range e.store.Domains() {
		if !wildcard.Match(domain, pattern.Domain()) {
			continue
		}
		out = append(out, e.store.EntriesFunc(domain, keep)...)
	}

	log.Debug(log.CatQuery, "Pattern query", "pattern", pattern.Canonical(), "matches", len(out))
	return out
}

// Names is like Query but returns only the names.
func (e *Engine) Names(pattern objname.Name) []objname.Name {
	entries := e.Query(pattern)
	out := make([]objname.Name, len(entries))
	for i, entry := range entries {
		out[i] = entry.Name
	}
	return out
}

// Matches reports whether a concrete name matches pattern, using the same
// rules as Query. defaultDomain stands in for an empty pattern domain.
func Matches(name, pattern objname.Name, defaultDomain string) bool {
	if pattern.IsUniversal() {
		return true
	}
	if !pattern.IsPattern() {
		if pattern.Domain() == "" {
			pattern = pattern.WithDomain(defaultDomain)
		}
		return name.Equal(pattern)
	}

	domain := pattern.Domain()
	if domain == "" {
		domain = defaultDomain
	}
	if !wildcard.Match(name.Domain(), domain) {
		return false
	}
	return propertyFilter(pattern)(&registry.Entry{Name: name})
}

func propertyFilter(pattern objname.Name) func(*registry.Entry) bool {
	switch {
	case pattern.PropertyCount() == 0:
		return func(*registry.Entry) bool { return true }

	case pattern.IsPropertyPattern():
		return func(e *registry.Entry) bool { return e.Name.ContainsAll(pattern) }

	default:
		want := pattern.CanonicalProperties()
		count := pattern.PropertyCount()
		return func(e *registry.Entry) bool {
			return e.Name.PropertyCount() == count && e.Name.CanonicalProperties() == want
		}
	}
}
