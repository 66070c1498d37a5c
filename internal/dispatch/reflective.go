package dispatch

import (
	"math"
	"reflect"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/introspect"
)

// guard runs fn, turning a panic raised by managed code into a fault.
func guard[T any](op, subject string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.FromPanic(op, subject, r)
		}
	}()
	return fn()
}

// call invokes inv on recv. Errors returned by the method become checked
// faults; panics are classified by faults.FromPanic. Failures to bind the
// method or its arguments are reflection failures.
func call(op, subject string, recv reflect.Value, inv *introspect.Invoker, args []reflect.Value, spread bool) (result any, err error) {
	if !recv.IsValid() || inv.Index < 0 || inv.Index >= recv.NumMethod() {
		return nil, faults.New(faults.KindReflectionFailure, op, subject, "method index %d out of range", inv.Index)
	}
	method := recv.Method(inv.Index)
	mt := method.Type()
	if mt.NumIn() != len(inv.Info.Params) {
		return nil, faults.New(faults.KindReflectionFailure, op, subject,
			"bound method takes %d arguments, descriptor declares %d", mt.NumIn(), len(inv.Info.Params))
	}

	var out []reflect.Value
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = faults.FromPanic(op, subject, r)
			}
		}()
		if spread {
			out = method.CallSlice(args)
		} else {
			out = method.Call(args)
		}
		return nil
	}()
	if err != nil {
		return nil, err
	}

	if inv.ReturnsError {
		if last := out[len(out)-1]; !last.IsNil() {
			return nil, faults.Checked(op, subject, last.Interface().(error))
		}
	}
	if inv.Info.ReturnType == nil || len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// bindArgs converts params to the invoker's parameter types. With spread the
// final parameter is passed as a ready-made slice to a variadic method.
func bindArgs(inv *introspect.Invoker, params []any, spread bool) ([]reflect.Value, bool) {
	decl := inv.Info.Params
	args := make([]reflect.Value, len(params))
	for i, p := range params {
		var target reflect.Type
		switch {
		case i < len(decl)-1 || (i == len(decl)-1 && (!inv.Info.Variadic || spread)):
			target = decl[i].Type
		case inv.Info.Variadic && len(decl) > 0:
			target = decl[len(decl)-1].Type.Elem()
		default:
			return nil, false
		}
		v, ok := convertValue(p, target)
		if !ok {
			return nil, false
		}
		args[i] = v
	}
	return args, true
}

// convertValue coerces v to t. Assignable values pass as is. Numeric values
// convert between integer kinds when they fit, and from integers or floats to
// floats. Values of another type with the same kind convert when Go allows
// it. nil converts to the zero value of nillable kinds.
func convertValue(v any, t reflect.Type) (reflect.Value, bool) {
	if v == nil {
		if nillable(t.Kind()) {
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, true
	}

	from, to := rv.Kind(), t.Kind()
	target := reflect.New(t).Elem()
	switch {
	case isSigned(from) && isSigned(to):
		n := rv.Int()
		if target.OverflowInt(n) {
			return reflect.Value{}, false
		}
		return rv.Convert(t), true
	case isSigned(from) && isUnsigned(to):
		n := rv.Int()
		if n < 0 || target.OverflowUint(uint64(n)) {
			return reflect.Value{}, false
		}
		return rv.Convert(t), true
	case isUnsigned(from) && isUnsigned(to):
		if target.OverflowUint(rv.Uint()) {
			return reflect.Value{}, false
		}
		return rv.Convert(t), true
	case isUnsigned(from) && isSigned(to):
		u := rv.Uint()
		if u > math.MaxInt64 || target.OverflowInt(int64(u)) {
			return reflect.Value{}, false
		}
		return rv.Convert(t), true
	case (isSigned(from) || isUnsigned(from)) && isFloat(to):
		return rv.Convert(t), true
	case isFloat(from) && isFloat(to):
		if target.OverflowFloat(rv.Float()) {
			return reflect.Value{}, false
		}
		return rv.Convert(t), true
	case from == to && rv.Type().ConvertibleTo(t):
		return rv.Convert(t), true
	}
	return reflect.Value{}, false
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// reflective implements the attribute and operation surface over a model.
// Both the Dispatcher and Standard use it.
type reflective struct {
	model         *introspect.Model
	recv          reflect.Value
	invokeGetters bool
}

func (r reflective) getAttribute(name string) (any, error) {
	inv, ok := r.model.Getter(name)
	if !ok {
		if r.model.HasAttribute(name) {
			return nil, faults.New(faults.KindAttributeNotFound, "getAttribute", name, "attribute is write-only")
		}
		return nil, faults.New(faults.KindAttributeNotFound, "getAttribute", name, "no such attribute")
	}
	return call("getAttribute", name, r.recv, inv, nil, false)
}

func (r reflective) setAttribute(attr capability.Attribute) error {
	inv, ok := r.model.Setter(attr.Name)
	if !ok {
		if r.model.HasAttribute(attr.Name) {
			return faults.New(faults.KindAttributeNotFound, "setAttribute", attr.Name, "attribute is read-only")
		}
		return faults.New(faults.KindAttributeNotFound, "setAttribute", attr.Name, "no such attribute")
	}
	want := inv.Info.Params[0].Type
	v, ok := convertValue(attr.Value, want)
	if !ok {
		return faults.New(faults.KindInvalidAttributeValue, "setAttribute", attr.Name,
			"cannot use %T as %s", attr.Value, want)
	}
	_, err := call("setAttribute", attr.Name, r.recv, inv, []reflect.Value{v}, false)
	return err
}

func (r reflective) invoke(op string, params []any, signature []string) (any, error) {
	if signature != nil && len(signature) != len(params) {
		return nil, faults.New(faults.KindReflectionFailure, "invoke", op,
			"signature has %d types for %d parameters", len(signature), len(params))
	}

	inv, ok := r.model.Operation(op, signature, len(params))
	if !ok {
		return nil, faults.New(faults.KindOperationNotFound, "invoke", op, "no operation matches %d parameters", len(params))
	}
	if !r.invokeGetters && inv.AccessorShaped {
		return nil, faults.New(faults.KindOperationNotFound, "invoke", op, "accessors cannot be invoked as operations")
	}

	spread := inv.Info.Variadic && signature != nil
	args, ok := bindArgs(inv, params, spread)
	if !ok {
		return nil, faults.New(faults.KindReflectionFailure, "invoke", op,
			"arguments do not match %v", inv.Info.Signature())
	}
	return call("invoke", op, r.recv, inv, args, spread)
}
