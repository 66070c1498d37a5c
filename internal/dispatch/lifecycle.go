package dispatch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// PreRegister runs obj's PreRegister hook and returns the name to register
// under. Objects without registration hooks keep the requested name, as do
// hooks returning the zero Name. An error from the hook vetoes registration.
func (d *Dispatcher) PreRegister(ctx context.Context, obj any, name objname.Name) (result objname.Name, err error) {
	reg, ok := obj.(capability.Registration)
	if !ok {
		return name, nil
	}

	_, span := d.start(ctx, tracing.OpPreRegister, obj, attribute.String(tracing.AttrObjectName, name.String()))
	defer func() { tracing.End(span, err) }()

	renamed, err := guard(tracing.OpPreRegister, name.String(), func() (objname.Name, error) {
		n, err := reg.PreRegister(name)
		if err != nil {
			return objname.Name{}, faults.Checked(tracing.OpPreRegister, name.String(), err)
		}
		return n, nil
	})
	if err != nil {
		log.Debug(log.CatLifecycle, "PreRegister vetoed", "name", name.String(), "error", err)
		return objname.Name{}, err
	}
	if renamed.IsZero() {
		return name, nil
	}
	if !renamed.Equal(name) {
		log.Debug(log.CatLifecycle, "PreRegister renamed object", "from", name.String(), "to", renamed.String())
		span.AddEvent(tracing.EventNameRewritten, trace.WithAttributes(
			attribute.String(tracing.AttrObjectName, renamed.String()),
		))
	}
	return renamed, nil
}

// PostRegister tells obj whether registration happened.
func (d *Dispatcher) PostRegister(ctx context.Context, obj any, registered bool) (err error) {
	reg, ok := obj.(capability.Registration)
	if !ok {
		return nil
	}

	_, span := d.start(ctx, tracing.OpPostRegister, obj, attribute.Bool("registered", registered))
	defer func() { tracing.End(span, err) }()

	_, err = guard(tracing.OpPostRegister, typeName(obj), func() (struct{}, error) {
		reg.PostRegister(registered)
		return struct{}{}, nil
	})
	return err
}

// PreDeregister runs obj's PreDeregister hook. An error vetoes removal.
func (d *Dispatcher) PreDeregister(ctx context.Context, obj any) (err error) {
	reg, ok := obj.(capability.Registration)
	if !ok {
		return nil
	}

	_, span := d.start(ctx, tracing.OpPreDeregister, obj)
	defer func() { tracing.End(span, err) }()

	_, err = guard(tracing.OpPreDeregister, typeName(obj), func() (struct{}, error) {
		if err := reg.PreDeregister(); err != nil {
			return struct{}{}, faults.Checked(tracing.OpPreDeregister, typeName(obj), err)
		}
		return struct{}{}, nil
	})
	return err
}

// PostDeregister tells obj it has been removed.
func (d *Dispatcher) PostDeregister(ctx context.Context, obj any) (err error) {
	reg, ok := obj.(capability.Registration)
	if !ok {
		return nil
	}

	_, span := d.start(ctx, tracing.OpPostDeregister, obj)
	defer func() { tracing.End(span, err) }()

	_, err = guard(tracing.OpPostDeregister, typeName(obj), func() (struct{}, error) {
		reg.PostDeregister()
		return struct{}{}, nil
	})
	return err
}
