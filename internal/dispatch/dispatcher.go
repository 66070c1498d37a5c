// Package dispatch routes attribute reads and writes, operation invocations
// and registration lifecycle hooks to managed objects.
//
// Objects implementing capability.Dynamic are called directly. Everything
// else is dispatched reflectively through the model held by the capability
// cache. Either way the caller only ever sees *faults.Fault values that say
// whether the managed object or the dispatcher failed.
package dispatch

import (
	"context"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/capcache"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInvokeGetters allows Invoke to call getter and setter shaped methods.
func WithInvokeGetters(enabled bool) Option {
	return func(d *Dispatcher) {
		d.invokeGetters = enabled
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// Dispatcher holds no locks of its own. The context passed to its methods
// only carries spans; no call is ever cancelled.
type Dispatcher struct {
	cache         *capcache.Cache
	invokeGetters bool
	tracer        trace.Tracer
}

// New creates a Dispatcher resolving models through cache.
func New(cache *capcache.Cache, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cache:  cache,
		tracer: tracing.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cache returns the capability cache.
func (d *Dispatcher) Cache() *capcache.Cache {
	return d.cache
}

// InvokeGetters reports whether accessors may be invoked as operations.
func (d *Dispatcher) InvokeGetters() bool {
	return d.invokeGetters
}

func (d *Dispatcher) start(ctx context.Context, op string, obj any, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	mode := tracing.ModeReflective
	if _, ok := obj.(capability.Dynamic); ok {
		mode = tracing.ModeDirect
	}
	attrs = append(attrs,
		attribute.String(tracing.AttrObjectType, typeName(obj)),
		attribute.String(tracing.AttrDispatchMode, mode),
	)
	return tracing.Start(ctx, d.tracer, op, attrs...)
}

func (d *Dispatcher) reflective(ctx context.Context, obj any) (reflective, error) {
	model, err := d.cache.ModelFor(ctx, obj)
	if err != nil {
		return reflective{}, err
	}
	return reflective{model: model, recv: reflect.ValueOf(obj), invokeGetters: d.invokeGetters}, nil
}

// GetAttribute reads attribute name of obj.
func (d *Dispatcher) GetAttribute(ctx context.Context, obj any, name string) (value any, err error) {
	ctx, span := d.start(ctx, tracing.OpGetAttribute, obj, attribute.String(tracing.AttrAttributeName, name))
	defer func() { tracing.End(span, err) }()

	if err := checkObject("getAttribute", obj); err != nil {
		return nil, err
	}
	if dyn, ok := obj.(capability.Dynamic); ok {
		return guard("getAttribute", name, func() (any, error) { return dyn.GetAttribute(name) })
	}

	r, err := d.reflective(ctx, obj)
	if err != nil {
		return nil, err
	}
	return r.getAttribute(name)
}

// SetAttribute writes attr on obj.
func (d *Dispatcher) SetAttribute(ctx context.Context, obj any, attr capability.Attribute) (err error) {
	ctx, span := d.start(ctx, tracing.OpSetAttribute, obj, attribute.String(tracing.AttrAttributeName, attr.Name))
	defer func() { tracing.End(span, err) }()

	if err := checkObject("setAttribute", obj); err != nil {
		return err
	}
	if dyn, ok := obj.(capability.Dynamic); ok {
		_, err := guard("setAttribute", attr.Name, func() (struct{}, error) {
			return struct{}{}, dyn.SetAttribute(attr)
		})
		return err
	}

	r, err := d.reflective(ctx, obj)
	if err != nil {
		return err
	}
	return r.setAttribute(attr)
}

// GetAttributes reads each named attribute. Attributes that fail are left
// out of the result; the error is only set when obj cannot be dispatched
// to at all.
func (d *Dispatcher) GetAttributes(ctx context.Context, obj any, names []string) (list capability.AttributeList, err error) {
	ctx, span := d.start(ctx, tracing.OpGetAttributes, obj)
	defer func() { tracing.End(span, err) }()

	if err := checkObject("getAttributes", obj); err != nil {
		return nil, err
	}
	if dyn, ok := obj.(capability.Dynamic); ok {
		return guard("getAttributes", "", func() (capability.AttributeList, error) {
			return dyn.GetAttributes(names), nil
		})
	}

	r, err := d.reflective(ctx, obj)
	if err != nil {
		return nil, err
	}
	list = make(capability.AttributeList, 0, len(names))
	for _, name := range names {
		v, err := r.getAttribute(name)
		if err != nil {
			omitted(span, "getAttributes", name, err)
			continue
		}
		list = append(list, capability.Attribute{Name: name, Value: v})
	}
	return list, nil
}

// SetAttributes writes each attribute and returns those that were set, with
// the values written. Failed attributes are left out.
func (d *Dispatcher) SetAttributes(ctx context.Context, obj any, attrs capability.AttributeList) (list capability.AttributeList, err error) {
	ctx, span := d.start(ctx, tracing.OpSetAttributes, obj)
	defer func() { tracing.End(span, err) }()

	if err := checkObject("setAttributes", obj); err != nil {
		return nil, err
	}
	if dyn, ok := obj.(capability.Dynamic); ok {
		return guard("setAttributes", "", func() (capability.AttributeList, error) {
			return dyn.SetAttributes(attrs), nil
		})
	}

	r, err := d.reflective(ctx, obj)
	if err != nil {
		return nil, err
	}
	list = make(capability.AttributeList, 0, len(attrs))
	for _, attr := range attrs {
		if err := r.setAttribute(attr); err != nil {
			omitted(span, "setAttributes", attr.Name, err)
			continue
		}
		list = append(list, attr)
	}
	return list, nil
}

func omitted(span trace.Span, op, name string, err error) {
	log.Debug(log.CatDispatch, "Attribute omitted from batch", "op", op, "attribute", name, "error", err)
	span.AddEvent(tracing.EventAttributeFailed, trace.WithAttributes(
		attribute.String(tracing.AttrAttributeName, name),
		attribute.String(tracing.AttrFaultKind, string(faults.KindOf(err))),
	))
}

// Invoke calls operation op on obj. A nil signature selects the operation by
// parameter count; otherwise the signature's type names must match exactly.
func (d *Dispatcher) Invoke(ctx context.Context, obj any, op string, params []any, signature []string) (result any, err error) {
	ctx, span := d.start(ctx, tracing.OpInvoke, obj, attribute.String(tracing.AttrOperationName, op))
	defer func() { tracing.End(span, err) }()

	if err := checkObject("invoke", obj); err != nil {
		return nil, err
	}
	if dyn, ok := obj.(capability.Dynamic); ok {
		return guard("invoke", op, func() (any, error) { return dyn.Invoke(op, params, signature) })
	}

	r, err := d.reflective(ctx, obj)
	if err != nil {
		return nil, err
	}
	return r.invoke(op, params, signature)
}

// IsInstanceOf reports whether obj is an instance of the named type: its
// dynamic type, a type embedded in it, its management interface, or the
// class name a self-describing object reports.
func (d *Dispatcher) IsInstanceOf(ctx context.Context, obj any, name string) (ok bool, err error) {
	ctx, span := d.start(ctx, tracing.OpIsInstanceOf, obj)
	defer func() { tracing.End(span, err) }()

	if err := checkObject("isInstanceOf", obj); err != nil {
		return false, err
	}

	if typeMatches(reflect.TypeOf(obj), name, make(map[reflect.Type]bool)) {
		return true, nil
	}

	if dyn, ok := obj.(capability.Dynamic); ok {
		desc, err := describeDynamic(dyn)
		if err != nil {
			return false, err
		}
		return desc.ClassName == name, nil
	}

	iface, err := d.cache.Interface(ctx, obj)
	if err != nil {
		return false, err
	}
	return iface != nil && iface.String() == name, nil
}

func typeMatches(t reflect.Type, name string, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	if t.String() == name {
		return true
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		if t.String() == name {
			return true
		}
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.Anonymous && typeMatches(f.Type, name, seen) {
			return true
		}
	}
	return false
}

// Describe returns obj's capability descriptor. The result carries obj's own
// notification descriptors, deep-copied, and never aliases them.
func (d *Dispatcher) Describe(ctx context.Context, obj any) (desc *capability.Descriptor, err error) {
	ctx, span := d.start(ctx, tracing.OpDescribe, obj)
	defer func() { tracing.End(span, err) }()

	if err := checkObject("describe", obj); err != nil {
		return nil, err
	}

	if dyn, ok := obj.(capability.Dynamic); ok {
		desc, err = describeDynamic(dyn)
		if err != nil {
			return nil, err
		}
		return d.decorate(obj, desc)
	}

	model, err := d.cache.ModelFor(ctx, obj)
	if err != nil {
		return nil, err
	}
	out, err := d.decorate(obj, model.Descriptor())
	if err != nil {
		return nil, err
	}
	// Constructors may be registered after the model was cached.
	out.Constructors = d.cache.Introspector().Constructors(model.Type())
	return out, nil
}

func describeDynamic(dyn capability.Dynamic) (*capability.Descriptor, error) {
	desc, err := guard("describe", typeName(dyn), func() (*capability.Descriptor, error) {
		return dyn.Descriptor(), nil
	})
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, faults.New(faults.KindNotCompliant, "describe", typeName(dyn), "Descriptor returned nil")
	}
	return desc, nil
}

// decorate attaches per-instance notifications and description. The shared
// descriptor is copied, never modified.
func (d *Dispatcher) decorate(obj any, desc *capability.Descriptor) (*capability.Descriptor, error) {
	var notifs []capability.NotificationInfo
	if b, ok := obj.(capability.Broadcaster); ok {
		var err error
		notifs, err = guard("describe", typeName(obj), func() ([]capability.NotificationInfo, error) {
			return b.NotificationInfo(), nil
		})
		if err != nil {
			return nil, err
		}
	}
	out := desc.WithNotifications(notifs)

	if _, dynamic := obj.(capability.Dynamic); !dynamic {
		if describer, ok := obj.(capability.Describer); ok {
			text, err := guard("describe", typeName(obj), func() (string, error) {
				return describer.Description(), nil
			})
			if err != nil {
				return nil, err
			}
			out.Description = text
		}
	}
	return out, nil
}

// CheckCompliance verifies that obj can be managed: a self-describing object
// must return a descriptor, any other object must pass introspection.
func (d *Dispatcher) CheckCompliance(ctx context.Context, obj any) error {
	if err := checkObject("register", obj); err != nil {
		return err
	}
	if dyn, ok := obj.(capability.Dynamic); ok {
		_, err := describeDynamic(dyn)
		return err
	}
	_, err := d.cache.ModelFor(ctx, obj)
	return err
}

func checkObject(op string, obj any) error {
	if obj == nil {
		return faults.New(faults.KindInvalidArgument, op, "", "object is nil")
	}
	return nil
}

func typeName(obj any) string {
	if obj == nil {
		return "<nil>"
	}
	return reflect.TypeOf(obj).String()
}
