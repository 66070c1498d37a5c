// Package capcache memoizes discovered capability models per Go type.
//
// Two independent caches are kept: one for models and one for the management
// interface a type resolves to. Entries expire when unused for the configured
// expiration, which lets models of types that are no longer registered be
// reclaimed. The first model computed for a type wins; a later computation
// never replaces it.
package capcache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/zjrosen/beanserver/internal/cachemanager"
	"github.com/zjrosen/beanserver/internal/introspect"
	"github.com/zjrosen/beanserver/internal/log"
)

type typeKey string

func keyOf(t, iface reflect.Type) typeKey {
	if iface == nil {
		return typeKey(fmt.Sprintf("%s@%p", t, t))
	}
	return typeKey(fmt.Sprintf("%s@%p|%s@%p", t, t, iface, iface))
}

// resolved wraps a possibly nil interface type so that "no interface" can be
// cached too.
type resolved struct {
	iface reflect.Type
}

type modelInput struct {
	typ   reflect.Type
	iface reflect.Type
}

// Config controls entry lifetimes.
type Config struct {
	Expiration      time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the default lifetimes.
func DefaultConfig() Config {
	return Config{
		Expiration:      cachemanager.DefaultExpiration,
		CleanupInterval: cachemanager.DefaultCleanupInterval,
	}
}

// Cache memoizes introspection results.
type Cache struct {
	intro *introspect.Introspector
	ttl   time.Duration

	modelStore cachemanager.CacheManager[typeKey, *introspect.Model]
	models     *cachemanager.ReadThroughCache[typeKey, *introspect.Model, modelInput]

	ifaceStore cachemanager.CacheManager[typeKey, resolved]
	ifaces     *cachemanager.ReadThroughCache[typeKey, resolved, any]
}

// New creates a cache backed by intro.
func New(intro *introspect.Introspector, cfg Config) *Cache {
	if cfg.Expiration <= 0 {
		cfg.Expiration = cachemanager.DefaultExpiration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cachemanager.DefaultCleanupInterval
	}

	c := &Cache{
		intro:      intro,
		ttl:        cfg.Expiration,
		modelStore: cachemanager.NewInMemoryCacheManager[typeKey, *introspect.Model]("models", cfg.Expiration, cfg.CleanupInterval),
		ifaceStore: cachemanager.NewInMemoryCacheManager[typeKey, resolved]("interfaces", cfg.Expiration, cfg.CleanupInterval),
	}
	c.models = cachemanager.NewReadThroughCache(c.modelStore, c.discover, false)
	c.ifaces = cachemanager.NewReadThroughCache(c.ifaceStore, resolveInterface, false)
	return c
}

// Introspector returns the introspector used on a miss.
func (c *Cache) Introspector() *introspect.Introspector {
	return c.intro
}

func (c *Cache) discover(_ context.Context, in modelInput) (*introspect.Model, error) {
	log.Debug(log.CatCache, "Computing model", "type", in.typ.String())
	if in.iface != nil {
		return c.intro.DiscoverInterface(in.typ, in.iface)
	}
	return c.intro.Discover(in.typ)
}

func resolveInterface(_ context.Context, obj any) (resolved, error) {
	iface, err := introspect.ResolveInterface(obj)
	if err != nil {
		return resolved{}, err
	}
	return resolved{iface: iface}, nil
}

// GetOrCompute returns the model for t reflecting over its full method set.
func (c *Cache) GetOrCompute(ctx context.Context, t reflect.Type) (*introspect.Model, error) {
	return c.models.GetWithRefresh(ctx, keyOf(t, nil), modelInput{typ: t}, c.ttl)
}

// Interface returns the management interface obj resolves to, nil when obj
// exposes its full method set.
func (c *Cache) Interface(ctx context.Context, obj any) (reflect.Type, error) {
	t := reflect.TypeOf(obj)
	if !introspect.ImplementsInterfaced(t) {
		return nil, nil
	}
	r, err := c.ifaces.GetWithRefresh(ctx, keyOf(t, nil), obj, c.ttl)
	if err != nil {
		return nil, err
	}
	return r.iface, nil
}

// ModelFor returns the model for obj's dynamic type, honouring a declared
// management interface.
func (c *Cache) ModelFor(ctx context.Context, obj any) (*introspect.Model, error) {
	t := reflect.TypeOf(obj)
	iface, err := c.Interface(ctx, obj)
	if err != nil {
		return nil, err
	}
	return c.models.GetWithRefresh(ctx, keyOf(t, iface), modelInput{typ: t, iface: iface}, c.ttl)
}

// Forget drops cached entries for t.
func (c *Cache) Forget(ctx context.Context, t reflect.Type) {
	key := keyOf(t, nil)
	if r, ok := c.ifaceStore.Get(ctx, key); ok && r.iface != nil {
		_ = c.modelStore.Delete(ctx, keyOf(t, r.iface))
	}
	_ = c.modelStore.Delete(ctx, key)
	_ = c.ifaceStore.Delete(ctx, key)
}

// Flush empties both caches.
func (c *Cache) Flush(ctx context.Context) {
	_ = c.modelStore.Flush(ctx)
	_ = c.ifaceStore.Flush(ctx)
}

// Len returns the number of cached models.
func (c *Cache) Len() int {
	return c.modelStore.Count()
}
