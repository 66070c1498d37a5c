package introspect

import (
	"reflect"
	"runtime"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/log"
)

type constructor struct {
	info capability.ConstructorInfo
}

// RegisterConstructor records a factory function for the type it returns.
// fn must be a func returning T or (T, error). Go has no constructors, so
// these factories stand in for them in descriptors.
func (i *Introspector) RegisterConstructor(fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return faults.New(faults.KindInvalidArgument, "registerConstructor", "", "%T is not a function", fn)
	}
	ft := v.Type()

	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
	case ft.NumOut() == 2 && ft.Out(0) != errorType && ft.Out(1) == errorType:
	default:
		return faults.New(faults.KindInvalidArgument, "registerConstructor", ft.String(),
			"constructor must return T or (T, error)")
	}

	produced := ft.Out(0)
	params := make([]capability.ParameterInfo, ft.NumIn())
	for p := 0; p < ft.NumIn(); p++ {
		params[p] = capability.ParameterInfo{Name: paramName(p), Type: ft.In(p)}
	}

	c := constructor{
		info: capability.ConstructorInfo{
			Name:   runtime.FuncForPC(v.Pointer()).Name(),
			Params: params,
		},
	}

	i.mu.Lock()
	i.constructors[produced] = append(i.constructors[produced], c)
	i.mu.Unlock()

	log.Debug(log.CatIntrospect, "Registered constructor", "type", produced.String(), "name", c.info.Name)
	return nil
}

// Constructors returns the constructors registered for t.
func (i *Introspector) Constructors(t reflect.Type) []capability.ConstructorInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()

	cs := i.constructors[t]
	out := make([]capability.ConstructorInfo, len(cs))
	for n, c := range cs {
		out[n] = c.info
	}
	return out
}

// CheckInstantiable fails with NotCompliant when t has no registered
// constructor.
func (i *Introspector) CheckInstantiable(t reflect.Type) error {
	if len(i.Constructors(t)) == 0 {
		return faults.New(faults.KindNotCompliant, "instantiate", t.String(), "no public constructor")
	}
	return nil
}
