package dispatch

import (
	"reflect"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/introspect"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
)

// Standard exposes an implementation through a management interface chosen
// per instance. Two Standard values wrapping the same type may expose
// different interfaces, so Standard owns its model and never consults the
// shared cache.
//
// Standard forwards registration hooks and notification info to the
// implementation when it provides them.
type Standard struct {
	impl  any
	iface reflect.Type
	r     reflective
}

var _ capability.Dynamic = (*Standard)(nil)

// NewStandard wraps impl, exposing only the methods of iface. A nil iface
// exposes impl's whole method set.
func (d *Dispatcher) NewStandard(impl any, iface reflect.Type) (*Standard, error) {
	if impl == nil {
		return nil, faults.New(faults.KindInvalidArgument, "standard", "", "implementation is nil")
	}

	intro := d.cache.Introspector()
	t := reflect.TypeOf(impl)

	var (
		model *introspect.Model
		err   error
	)
	if iface != nil {
		model, err = intro.DiscoverInterface(t, iface)
	} else {
		model, err = intro.Discover(t)
	}
	if err != nil {
		return nil, err
	}

	log.Debug(log.CatDispatch, "Created standard wrapper", "type", t.String(), "interface", capability.TypeName(iface))
	return &Standard{
		impl:  impl,
		iface: iface,
		r:     reflective{model: model, recv: reflect.ValueOf(impl), invokeGetters: d.invokeGetters},
	}, nil
}

// Implementation returns the wrapped value.
func (s *Standard) Implementation() any { return s.impl }

// Interface returns the exposed interface, nil for the full method set.
func (s *Standard) Interface() reflect.Type { return s.iface }

func (s *Standard) GetAttribute(name string) (any, error) {
	return s.r.getAttribute(name)
}

func (s *Standard) SetAttribute(attr capability.Attribute) error {
	return s.r.setAttribute(attr)
}

func (s *Standard) GetAttributes(names []string) capability.AttributeList {
	out := make(capability.AttributeList, 0, len(names))
	for _, name := range names {
		if v, err := s.r.getAttribute(name); err == nil {
			out = append(out, capability.Attribute{Name: name, Value: v})
		}
	}
	return out
}

func (s *Standard) SetAttributes(attrs capability.AttributeList) capability.AttributeList {
	out := make(capability.AttributeList, 0, len(attrs))
	for _, attr := range attrs {
		if err := s.r.setAttribute(attr); err == nil {
			out = append(out, attr)
		}
	}
	return out
}

func (s *Standard) Invoke(op string, params []any, signature []string) (any, error) {
	return s.r.invoke(op, params, signature)
}

func (s *Standard) Descriptor() *capability.Descriptor {
	return s.r.model.Descriptor()
}

func (s *Standard) NotificationInfo() []capability.NotificationInfo {
	if b, ok := s.impl.(capability.Broadcaster); ok {
		return b.NotificationInfo()
	}
	return nil
}

func (s *Standard) PreRegister(name objname.Name) (objname.Name, error) {
	if reg, ok := s.impl.(capability.Registration); ok {
		return reg.PreRegister(name)
	}
	return name, nil
}

func (s *Standard) PostRegister(registered bool) {
	if reg, ok := s.impl.(capability.Registration); ok {
		reg.PostRegister(registered)
	}
}

func (s *Standard) PreDeregister() error {
	if reg, ok := s.impl.(capability.Registration); ok {
		return reg.PreDeregister()
	}
	return nil
}

func (s *Standard) PostDeregister() {
	if reg, ok := s.impl.(capability.Registration); ok {
		reg.PostDeregister()
	}
}
