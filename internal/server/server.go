// Package server is the host facade over the registry, the query engine and
// the dispatcher. It drives the registration flow, publishes registration
// notifications and resolves names before dispatching.
package server

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/capcache"
	"github.com/zjrosen/beanserver/internal/dispatch"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/introspect"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/pubsub"
	"github.com/zjrosen/beanserver/internal/query"
	"github.com/zjrosen/beanserver/internal/registry"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// ObjectInstance identifies a registered object.
type ObjectInstance struct {
	Name      objname.Name
	ClassName string
}

// Notification announces a registration change.
type Notification struct {
	Type      pubsub.EventType
	Sequence  uint64
	Source    string // server ID
	Name      objname.Name
	Timestamp time.Time
}

// Server hosts managed objects.
type Server struct {
	id       string
	registry *registry.Registry
	queries  *query.Engine
	intro    *introspect.Introspector
	cache    *capcache.Cache
	dispatch *dispatch.Dispatcher
	tracer   trace.Tracer

	broker   *pubsub.Broker[objname.Name]
	locks    *nameLocks
	delegate *Delegate
}

// New creates a server and registers its delegate.
func New(opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = tracing.Noop()
	}

	reg := registry.New(o.defaultDomain)
	intro := introspect.New(introspect.WithMergeDuplicateAccessors(o.mergeDuplicates))
	cache := capcache.New(intro, o.cache)

	s := &Server{
		id:       uuid.New().String(),
		registry: reg,
		queries:  query.New(reg),
		intro:    intro,
		cache:    cache,
		dispatch: dispatch.New(cache, dispatch.WithInvokeGetters(o.invokeGetters), dispatch.WithTracer(o.tracer)),
		tracer:   o.tracer,
		broker:   pubsub.NewBroker[objname.Name](),
		locks:    newNameLocks(),
	}
	s.delegate = &Delegate{id: s.id, version: o.version, dropped: s.broker.Dropped}

	if _, err := reg.Insert(DelegateName, s.delegate); err != nil {
		return nil, err
	}

	log.Info(log.CatServer, "Server started", "id", s.id, "defaultDomain", o.defaultDomain)
	return s, nil
}

// ID returns the server's unique identifier.
func (s *Server) ID() string { return s.id }

// Introspector returns the introspector, for registering constructors.
func (s *Server) Introspector() *introspect.Introspector { return s.intro }

// Dispatcher returns the dispatcher.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatch }

// Close stops notification delivery and empties the capability cache.
func (s *Server) Close() {
	s.broker.Close()
	s.cache.Flush(context.Background())
	log.Info(log.CatServer, "Server closed", "id", s.id)
}

// Register adds obj under name. obj may choose a different name in its
// PreRegister hook. If the hook runs but the name is taken, PostRegister is
// told so and the fault is returned. A PostRegister failure after a
// successful insert is returned together with the instance; the object stays
// registered.
func (s *Server) Register(ctx context.Context, obj any, name objname.Name) (inst ObjectInstance, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, tracing.OpRegister, attribute.String(tracing.AttrObjectName, name.String()))
	defer func() { tracing.End(span, err) }()

	if err := s.dispatch.CheckCompliance(ctx, obj); err != nil {
		return ObjectInstance{}, err
	}

	name, err = s.dispatch.PreRegister(ctx, obj, name)
	if err != nil {
		return ObjectInstance{}, err
	}
	if name.IsZero() {
		return ObjectInstance{}, faults.New(faults.KindInvalidArgument, "register", "", "no name given")
	}
	ctx = tracing.ContextWithObjectName(ctx, s.registry.Resolve(name).String())

	entry, err := s.registry.Insert(name, obj)
	if err != nil {
		if perr := s.dispatch.PostRegister(ctx, obj, false); perr != nil {
			log.ErrorErr(log.CatLifecycle, "PostRegister failed after rejected registration", perr, "name", name.String())
		}
		return ObjectInstance{}, err
	}

	inst = s.instance(ctx, entry)
	seq := s.broker.Publish(pubsub.RegisteredEvent, entry.Name)
	span.AddEvent(tracing.EventNotified, trace.WithAttributes(attribute.Int64("sequence", int64(seq))))
	log.Debug(log.CatServer, "Registered", "name", entry.Name.Canonical(), "class", inst.ClassName)

	if err := s.dispatch.PostRegister(ctx, obj, true); err != nil {
		return inst, err
	}
	return inst, nil
}

// Unregister removes the object called name. The object's PreDeregister hook
// may veto. Concurrent calls for one name are serialised; all but the first
// fail with NotFound.
func (s *Server) Unregister(ctx context.Context, name objname.Name) (err error) {
	name = s.registry.Resolve(name)
	ctx, span := tracing.Start(ctx, s.tracer, tracing.OpUnregister, attribute.String(tracing.AttrObjectName, name.String()))
	defer func() { tracing.End(span, err) }()

	if name.Domain() == registry.ReservedDomain {
		return faults.New(faults.KindInvalidName, "unregister", name.String(),
			"objects in domain %s cannot be unregistered", registry.ReservedDomain)
	}
	if name.IsPattern() {
		return faults.New(faults.KindInvalidName, "unregister", name.String(), "cannot unregister a pattern")
	}

	release := s.locks.lock(name.Canonical())
	defer release()

	entry, ok := s.registry.Entry(name)
	if !ok {
		return faults.New(faults.KindNotFound, "unregister", name.String(), "not registered")
	}
	ctx = tracing.ContextWithObjectName(ctx, entry.Name.String())

	if err := s.dispatch.PreDeregister(ctx, entry.Object); err != nil {
		return err
	}
	if _, err := s.registry.Remove(entry.Name); err != nil {
		return err
	}

	seq := s.broker.Publish(pubsub.UnregisteredEvent, entry.Name)
	span.AddEvent(tracing.EventNotified, trace.WithAttributes(attribute.Int64("sequence", int64(seq))))
	log.Debug(log.CatServer, "Unregistered", "name", entry.Name.Canonical())

	return s.dispatch.PostDeregister(ctx, entry.Object)
}

func (s *Server) instance(ctx context.Context, entry *registry.Entry) ObjectInstance {
	className := reflect.TypeOf(entry.Object).String()
	if _, ok := entry.Object.(capability.Dynamic); ok {
		if desc, err := s.dispatch.Describe(ctx, entry.Object); err == nil {
			className = desc.ClassName
		}
	}
	return ObjectInstance{Name: entry.Name, ClassName: className}
}

func (s *Server) entry(op string, name objname.Name) (*registry.Entry, error) {
	if name.IsZero() {
		return nil, faults.New(faults.KindInvalidArgument, op, "", "name is empty")
	}
	entry, ok := s.registry.Entry(name)
	if !ok {
		return nil, faults.New(faults.KindNotFound, op, name.String(), "not registered")
	}
	return entry, nil
}

// GetObjectInstance returns the instance registered under name.
func (s *Server) GetObjectInstance(ctx context.Context, name objname.Name) (ObjectInstance, error) {
	entry, err := s.entry("getObjectInstance", name)
	if err != nil {
		return ObjectInstance{}, err
	}
	return s.instance(ctx, entry), nil
}

// IsRegistered reports whether name is registered.
func (s *Server) IsRegistered(name objname.Name) bool {
	return s.registry.Exists(name)
}

// Count returns the number of registered objects, the delegate included.
func (s *Server) Count() int {
	return s.registry.Count()
}

// Domains returns the sorted domain names.
func (s *Server) Domains() []string {
	return s.registry.Domains()
}

// DefaultDomain returns the default domain.
func (s *Server) DefaultDomain() string {
	return s.registry.DefaultDomain()
}

// GetAttribute reads attribute attr of the object called name.
func (s *Server) GetAttribute(ctx context.Context, name objname.Name, attr string) (any, error) {
	entry, err := s.entry("getAttribute", name)
	if err != nil {
		return nil, err
	}
	return s.dispatch.GetAttribute(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object, attr)
}

// SetAttribute writes attr on the object called name.
func (s *Server) SetAttribute(ctx context.Context, name objname.Name, attr capability.Attribute) error {
	entry, err := s.entry("setAttribute", name)
	if err != nil {
		return err
	}
	return s.dispatch.SetAttribute(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object, attr)
}

// GetAttributes reads attrs of the object called name, omitting failures.
func (s *Server) GetAttributes(ctx context.Context, name objname.Name, attrs []string) (capability.AttributeList, error) {
	entry, err := s.entry("getAttributes", name)
	if err != nil {
		return nil, err
	}
	return s.dispatch.GetAttributes(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object, attrs)
}

// SetAttributes writes attrs on the object called name and returns those set.
func (s *Server) SetAttributes(ctx context.Context, name objname.Name, attrs capability.AttributeList) (capability.AttributeList, error) {
	entry, err := s.entry("setAttributes", name)
	if err != nil {
		return nil, err
	}
	return s.dispatch.SetAttributes(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object, attrs)
}

// Invoke calls operation op on the object called name.
func (s *Server) Invoke(ctx context.Context, name objname.Name, op string, params []any, signature []string) (any, error) {
	entry, err := s.entry("invoke", name)
	if err != nil {
		return nil, err
	}
	return s.dispatch.Invoke(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object, op, params, signature)
}

// IsInstanceOf reports whether the object called name is a className.
func (s *Server) IsInstanceOf(ctx context.Context, name objname.Name, className string) (bool, error) {
	entry, err := s.entry("isInstanceOf", name)
	if err != nil {
		return false, err
	}
	return s.dispatch.IsInstanceOf(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object, className)
}

// GetDescriptor describes the object called name.
func (s *Server) GetDescriptor(ctx context.Context, name objname.Name) (*capability.Descriptor, error) {
	entry, err := s.entry("describe", name)
	if err != nil {
		return nil, err
	}
	return s.dispatch.Describe(tracing.ContextWithObjectName(ctx, entry.Name.String()), entry.Object)
}

// Subscribe returns registration notifications of the given types (all
// types when none are given) until ctx is done or the server is closed. Slow
// subscribers miss notifications rather than block registration; Sequence
// reveals the gaps.
func (s *Server) Subscribe(ctx context.Context, types ...pubsub.EventType) <-chan Notification {
	events := s.broker.Subscribe(ctx, types...)
	out := make(chan Notification, cap(events))

	go func() {
		defer close(out)
		for ev := range events {
			n := Notification{
				Type:      ev.Type,
				Sequence:  ev.Sequence,
				Source:    s.id,
				Name:      ev.Payload,
				Timestamp: ev.Timestamp,
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
