package introspect

import (
	"reflect"
	"slices"
	"strconv"

	"github.com/zjrosen/beanserver/internal/capability"
)

// Invoker is a precomputed binding from an attribute or operation to a
// method of the model's type.
type Invoker struct {
	Info capability.OperationInfo
	// Index is the method's index in the method set of the model's type.
	Index        int
	ReturnsError bool
	// AccessorShaped marks getters and setters reachable through Invoke only
	// when invoking accessors is enabled.
	AccessorShaped bool
}

func newInvoker(t reflect.Type, m Method) *Invoker {
	rm, _ := t.MethodByName(m.Name)

	params := make([]capability.ParameterInfo, len(m.Params))
	for i, p := range m.Params {
		params[i] = capability.ParameterInfo{Name: paramName(i), Type: p}
	}
	return &Invoker{
		Info: capability.OperationInfo{
			Name:       m.Name,
			Params:     params,
			ReturnType: m.Result,
			Variadic:   m.Variadic,
		},
		Index:        rm.Index,
		ReturnsError: m.ReturnsError,
	}
}

func paramName(i int) string {
	return "p" + strconv.Itoa(i)
}

// Accepts reports whether the invoker matches a call with the given
// signature. A nil signature matches on arity alone.
func (inv *Invoker) Accepts(signature []string, arity int) bool {
	params := inv.Info.Params
	if signature != nil {
		return slices.Equal(signature, inv.Info.Signature())
	}
	if inv.Info.Variadic {
		return arity >= len(params)-1
	}
	return arity == len(params)
}

// Model is the discovered capability table of one type: its descriptor plus
// indexed invokers for every attribute and operation.
type Model struct {
	typ     reflect.Type
	desc    *capability.Descriptor
	getters map[string]*Invoker
	setters map[string]*Invoker
	ops     map[string][]*Invoker
}

// Type returns the type the model was built for.
func (m *Model) Type() reflect.Type { return m.typ }

// Descriptor returns the shared descriptor. It has no notifications; those
// are attached per instance.
func (m *Model) Descriptor() *capability.Descriptor { return m.desc }

// Getter returns the reader for attribute name.
func (m *Model) Getter(name string) (*Invoker, bool) {
	inv, ok := m.getters[name]
	return inv, ok
}

// Setter returns the writer for attribute name.
func (m *Model) Setter(name string) (*Invoker, bool) {
	inv, ok := m.setters[name]
	return inv, ok
}

// HasAttribute reports whether name is an attribute in either direction.
func (m *Model) HasAttribute(name string) bool {
	_, r := m.getters[name]
	_, w := m.setters[name]
	return r || w
}

// Operation resolves an operation by name and signature, falling back to
// arity when signature is nil.
func (m *Model) Operation(name string, signature []string, arity int) (*Invoker, bool) {
	for _, inv := range m.ops[name] {
		if inv.Accepts(signature, arity) {
			return inv, true
		}
	}
	return nil, false
}
