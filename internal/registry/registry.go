// Package registry provides the name-keyed store of managed objects.
//
// Entries are grouped into per-domain buckets. One lock guards the
// domain-to-bucket map and each bucket has its own lock, so a change in one
// domain never blocks readers or writers of another. Locks are always taken
// in the order structure, then bucket.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
)

const (
	// DefaultDomain is used when no default domain is configured.
	DefaultDomain = "DefaultDomain"

	// ReservedDomain holds the server's own bookkeeping objects. It is created
	// by the first insert into it; later inserts are rejected.
	ReservedDomain = "Implementation"
)

// Entry is a registered object. The registry owns the entry, not the object.
type Entry struct {
	Name   objname.Name
	Object any
}

type bucket struct {
	mu      sync.RWMutex
	entries map[string]*Entry // keyed by canonical property string
	dropped bool
}

func newBucket() *bucket {
	return &bucket{entries: make(map[string]*Entry)}
}

// Registry is a thread-safe store of named objects.
type Registry struct {
	defaultDomain string

	mu      sync.RWMutex
	domains map[string]*bucket

	count atomic.Int64
}

// New creates a registry. An empty defaultDomain selects DefaultDomain.
func New(defaultDomain string) *Registry {
	if defaultDomain == "" {
		defaultDomain = DefaultDomain
	}
	return &Registry{
		defaultDomain: defaultDomain,
		domains:       map[string]*bucket{defaultDomain: newBucket()},
	}
}

// DefaultDomain returns the domain used for names with an empty domain.
func (r *Registry) DefaultDomain() string {
	return r.defaultDomain
}

// Resolve rewrites an empty domain to the default domain.
func (r *Registry) Resolve(name objname.Name) objname.Name {
	if name.Domain() == "" && !name.IsZero() {
		return name.WithDomain(r.defaultDomain)
	}
	return name
}

// Insert stores obj under name and returns the stored entry.
func (r *Registry) Insert(name objname.Name, obj any) (*Entry, error) {
	if obj == nil {
		return nil, faults.New(faults.KindInvalidArgument, "insert", name.String(), "object is nil")
	}
	if name.IsZero() {
		return nil, faults.New(faults.KindInvalidArgument, "insert", "", "name is empty")
	}
	name = r.Resolve(name)
	if name.IsPattern() {
		return nil, faults.New(faults.KindInvalidName, "insert", name.String(), "cannot register a pattern")
	}

	domain := name.Domain()
	key := name.CanonicalProperties()

	for {
		b, err := r.bucketForInsert(domain, name)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		if b.dropped {
			// Lost a race with Remove dropping this bucket; fetch a new one.
			b.mu.Unlock()
			continue
		}
		if _, exists := b.entries[key]; exists {
			b.mu.Unlock()
			return nil, faults.New(faults.KindAlreadyExists, "insert", name.Canonical(), "already registered")
		}
		entry := &Entry{Name: name, Object: obj}
		b.entries[key] = entry
		b.mu.Unlock()

		r.count.Add(1)
		log.Debug(log.CatRegistry, "Inserted", "name", name.Canonical())
		return entry, nil
	}
}

func (r *Registry) bucketForInsert(domain string, name objname.Name) (*bucket, error) {
	r.mu.RLock()
	b, ok := r.domains[domain]
	r.mu.RUnlock()

	if ok {
		if domain == ReservedDomain && domain != r.defaultDomain {
			return nil, faults.New(faults.KindInvalidName, "insert", name.Canonical(),
				"domain %s is reserved", ReservedDomain)
		}
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.domains[domain]; ok {
		if domain == ReservedDomain && domain != r.defaultDomain {
			return nil, faults.New(faults.KindInvalidName, "insert", name.Canonical(),
				"domain %s is reserved", ReservedDomain)
		}
		return b, nil
	}
	b = newBucket()
	r.domains[domain] = b
	log.Debug(log.CatRegistry, "Created domain", "domain", domain)
	return b, nil
}

func (r *Registry) bucket(domain string) *bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.domains[domain]
}

// Entry returns the stored entry for an exact name. Patterns never match.
func (r *Registry) Entry(name objname.Name) (*Entry, bool) {
	if name.IsZero() || name.IsPattern() {
		return nil, false
	}
	name = r.Resolve(name)

	b := r.bucket(name.Domain())
	if b == nil {
		return nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[name.CanonicalProperties()]
	return e, ok
}

// Lookup returns the object registered under an exact name.
func (r *Registry) Lookup(name objname.Name) (any, bool) {
	e, ok := r.Entry(name)
	if !ok {
		return nil, false
	}
	return e.Object, true
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name objname.Name) bool {
	_, ok := r.Entry(name)
	return ok
}

// Remove deletes the entry for name. A domain left empty is dropped, except
// the default domain which always remains.
func (r *Registry) Remove(name objname.Name) (*Entry, error) {
	if name.IsZero() || name.IsPattern() {
		return nil, faults.New(faults.KindNotFound, "remove", name.String(), "not registered")
	}
	name = r.Resolve(name)
	domain := name.Domain()
	key := name.CanonicalProperties()

	b := r.bucket(domain)
	if b == nil {
		return nil, faults.New(faults.KindNotFound, "remove", name.Canonical(), "not registered")
	}

	b.mu.Lock()
	entry, ok := b.entries[key]
	if !ok {
		b.mu.Unlock()
		return nil, faults.New(faults.KindNotFound, "remove", name.Canonical(), "not registered")
	}
	delete(b.entries, key)
	empty := len(b.entries) == 0
	b.mu.Unlock()

	r.count.Add(-1)
	log.Debug(log.CatRegistry, "Removed", "name", name.Canonical())

	if empty && domain != r.defaultDomain {
		r.dropIfEmpty(domain, b)
	}
	return entry, nil
}

func (r *Registry) dropIfEmpty(domain string, b *bucket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.domains[domain] != b {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) != 0 {
		return
	}
	b.dropped = true
	delete(r.domains, domain)
	log.Debug(log.CatRegistry, "Dropped domain", "domain", domain)
}

// Domains returns the sorted names of all domains. The default domain is
// always present.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Count returns the number of registered entries.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Entries returns a snapshot of one domain's entries taken under that
// domain's lock. Unknown domains yield nil.
func (r *Registry) Entries(domain string) []*Entry {
	b := r.bucket(domain)
	if b == nil {
		return nil
	}
	return b.snapshot(nil)
}

// EntriesFunc is like Entries but keeps only entries for which keep returns
// true. keep runs under the bucket's read lock and must not call back into
// the registry.
func (r *Registry) EntriesFunc(domain string, keep func(*Entry) bool) []*Entry {
	b := r.bucket(domain)
	if b == nil {
		return nil
	}
	return b.snapshot(keep)
}

// All returns every entry. Each domain is snapshotted separately, so the
// result is not atomic across domains.
func (r *Registry) All() []*Entry {
	var out []*Entry
	for _, d := range r.Domains() {
		out = append(out, r.Entries(d)...)
	}
	return out
}

func (b *bucket) snapshot(keep func(*Entry) bool) []*Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}
