package server

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/beanserver/internal/capcache"
	"github.com/zjrosen/beanserver/internal/registry"
)

type options struct {
	defaultDomain   string
	cache           capcache.Config
	invokeGetters   bool
	mergeDuplicates bool
	tracer          trace.Tracer
	version         string
}

func defaultOptions() options {
	return options{
		defaultDomain: registry.DefaultDomain,
		cache:         capcache.DefaultConfig(),
		version:       "dev",
	}
}

// Option configures a Server.
type Option func(*options)

// WithDefaultDomain sets the domain names without one are registered in.
func WithDefaultDomain(domain string) Option {
	return func(o *options) {
		if domain != "" {
			o.defaultDomain = domain
		}
	}
}

// WithCacheConfig sets the capability cache lifetimes.
func WithCacheConfig(cfg capcache.Config) Option {
	return func(o *options) {
		o.cache = cfg
	}
}

// WithInvokeGetters allows getters and setters to be invoked as operations.
func WithInvokeGetters(enabled bool) Option {
	return func(o *options) {
		o.invokeGetters = enabled
	}
}

// WithMergeDuplicateAccessors resolves duplicate accessors instead of
// rejecting the type.
func WithMergeDuplicateAccessors(enabled bool) Option {
	return func(o *options) {
		o.mergeDuplicates = enabled
	}
}

// WithTracer sets the tracer for server and dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithVersion sets the implementation version reported by the delegate.
func WithVersion(version string) Option {
	return func(o *options) {
		if version != "" {
			o.version = version
		}
	}
}
