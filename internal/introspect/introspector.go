// Package introspect derives capability descriptors from Go types by
// reflecting over their exported methods.
//
// Accessors follow a naming convention: GetX() T and IsX() bool read
// attribute X, SetX(T) writes it. Each may additionally return an error as
// its last result. Every other exported method is an operation. A method on
// an outer type that shadows a method of an embedded type with the same
// parameters and an assignable result is treated as an override and the
// embedded method is ignored.
package introspect

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/log"
)

const (
	getPrefix = "Get"
	isPrefix  = "Is"
	setPrefix = "Set"
)

var interfacedType = reflect.TypeOf((*capability.Interfaced)(nil)).Elem()

// Option configures an Introspector.
type Option func(*Introspector)

// WithMergeDuplicateAccessors makes a second getter or setter for the same
// attribute resolve to the visible method instead of failing discovery.
func WithMergeDuplicateAccessors(enabled bool) Option {
	return func(i *Introspector) {
		i.mergeDuplicates = enabled
	}
}

// Introspector discovers capabilities of Go types.
type Introspector struct {
	mergeDuplicates bool

	mu           sync.RWMutex
	constructors map[reflect.Type][]constructor
}

// New creates an Introspector.
func New(opts ...Option) *Introspector {
	i := &Introspector{
		constructors: make(map[reflect.Type][]constructor),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MergeDuplicates reports whether duplicate accessors are merged.
func (i *Introspector) MergeDuplicates() bool {
	return i.mergeDuplicates
}

// accessorKind is the role a method plays for an attribute.
type accessorKind int

const (
	kindGetter accessorKind = iota
	kindIsGetter
	kindSetter
)

type accessorMethod struct {
	kind   accessorKind
	attr   string
	method Method
}

// classify returns the accessor role of m, or ok=false for an operation.
func classify(m Method) (accessorMethod, bool) {
	switch {
	case len(m.Params) == 0 && m.Result != nil && hasAttrPrefix(m.Name, getPrefix):
		return accessorMethod{kind: kindGetter, attr: m.Name[len(getPrefix):], method: m}, true
	case len(m.Params) == 0 && m.Result != nil && m.Result.Kind() == reflect.Bool && hasAttrPrefix(m.Name, isPrefix):
		return accessorMethod{kind: kindIsGetter, attr: m.Name[len(isPrefix):], method: m}, true
	case len(m.Params) == 1 && !m.Variadic && m.Result == nil && hasAttrPrefix(m.Name, setPrefix):
		return accessorMethod{kind: kindSetter, attr: m.Name[len(setPrefix):], method: m}, true
	}
	return accessorMethod{}, false
}

// hasAttrPrefix requires an upper-case letter after the prefix, so Issue and
// Settle stay operations.
func hasAttrPrefix(name, prefix string) bool {
	if len(name) <= len(prefix) || !strings.HasPrefix(name, prefix) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

// Discover builds the model for values of type t. If t implements
// capability.Interfaced, DiscoverInterface must be used instead; Discover
// always reflects over the full method set.
func (i *Introspector) Discover(t reflect.Type) (*Model, error) {
	if t == nil {
		return nil, faults.New(faults.KindInvalidArgument, "discover", "", "type is nil")
	}
	methods := eliminateOverridden(enumerate(t))
	methods = excludeHooks(t, methods)
	return i.build(t, t, methods)
}

// DiscoverInterface builds the model for values of type t restricted to the
// methods of iface.
func (i *Introspector) DiscoverInterface(t, iface reflect.Type) (*Model, error) {
	if t == nil || iface == nil {
		return nil, faults.New(faults.KindInvalidArgument, "discover", "", "type is nil")
	}
	if err := CheckInterface(t, iface); err != nil {
		return nil, err
	}
	methods := excludeHooks(t, enumerate(iface))
	return i.build(t, iface, methods)
}

// CheckInterface verifies that iface is an interface implemented by t.
func CheckInterface(t, iface reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return faults.New(faults.KindNotCompliant, "discover", t.String(),
			"management interface %s is not an interface type", iface)
	}
	if !t.Implements(iface) {
		return faults.New(faults.KindNotCompliant, "discover", t.String(),
			"does not implement management interface %s", iface)
	}
	return nil
}

// ResolveInterface returns the management interface declared by obj, or nil
// when obj reflects over its whole method set. A panicking
// ManagementInterface is reported as a managed fault.
func ResolveInterface(obj any) (iface reflect.Type, err error) {
	in, ok := obj.(capability.Interfaced)
	if !ok {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			iface, err = nil, faults.FromPanic("discover", reflect.TypeOf(obj).String(), r)
		}
	}()
	iface = in.ManagementInterface()
	if iface == nil {
		return nil, faults.New(faults.KindNotCompliant, "discover", reflect.TypeOf(obj).String(),
			"ManagementInterface returned nil")
	}
	if err := CheckInterface(reflect.TypeOf(obj), iface); err != nil {
		return nil, err
	}
	return iface, nil
}

// ImplementsInterfaced reports whether values of t declare a management
// interface.
func ImplementsInterfaced(t reflect.Type) bool {
	return t.Implements(interfacedType)
}

type attrAccum struct {
	getters   []accessorMethod
	isGetters []accessorMethod
	setters   []accessorMethod
}

func (i *Introspector) build(t, surface reflect.Type, methods []Method) (*Model, error) {
	attrs := make(map[string]*attrAccum)
	var ops []Method
	var accessorOps []Method

	for _, m := range methods {
		acc, ok := classify(m)
		if !ok {
			ops = append(ops, m)
			continue
		}
		a := attrs[acc.attr]
		if a == nil {
			a = &attrAccum{}
			attrs[acc.attr] = a
		}
		switch acc.kind {
		case kindGetter:
			a.getters = append(a.getters, acc)
		case kindIsGetter:
			a.isGetters = append(a.isGetters, acc)
		case kindSetter:
			a.setters = append(a.setters, acc)
		}
	}

	model := &Model{
		typ:     t,
		getters: make(map[string]*Invoker),
		setters: make(map[string]*Invoker),
		ops:     make(map[string][]*Invoker),
	}

	var problems []string
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &capability.Descriptor{
		ClassName:     t.String(),
		Notifications: []capability.NotificationInfo{},
	}

	for _, name := range names {
		info, getter, setter, problem := i.mergeAttribute(t, name, attrs[name])
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		if getter == nil && setter == nil {
			continue
		}
		if getter != nil {
			inv := newInvoker(t, *getter)
			model.getters[name] = inv
			accessorOps = append(accessorOps, *getter)
		}
		if setter != nil {
			inv := newInvoker(t, *setter)
			model.setters[name] = inv
			accessorOps = append(accessorOps, *setter)
		}
		desc.Attributes = append(desc.Attributes, info)
	}

	if len(problems) > 0 {
		return nil, faults.New(faults.KindNotCompliant, "discover", t.String(),
			"%s", strings.Join(problems, "; "))
	}

	sort.SliceStable(ops, func(a, b int) bool { return ops[a].Name < ops[b].Name })
	for _, m := range ops {
		if !visible(t, m) {
			log.Debug(log.CatIntrospect, "Skipping shadowed method",
				"type", t.String(), "method", m.Name, "declaring", m.Declaring.String())
			continue
		}
		inv := newInvoker(t, m)
		model.ops[m.Name] = append(model.ops[m.Name], inv)
		desc.Operations = append(desc.Operations, inv.Info)
	}
	for _, m := range accessorOps {
		inv := newInvoker(t, m)
		inv.AccessorShaped = true
		model.ops[m.Name] = append(model.ops[m.Name], inv)
	}

	desc.Constructors = i.Constructors(t)
	model.desc = desc

	log.Debug(log.CatIntrospect, "Discovered",
		"type", t.String(), "surface", surface.String(),
		"attributes", len(desc.Attributes), "operations", len(desc.Operations))
	return model, nil
}

// mergeAttribute applies the consistency rules and merges getter and setter
// into one descriptor. A non-empty problem string means the attribute is not
// compliant.
func (i *Introspector) mergeAttribute(t reflect.Type, name string, a *attrAccum) (capability.AttributeInfo, *Method, *Method, string) {
	info := capability.AttributeInfo{Name: name}

	if len(a.getters) > 0 && len(a.isGetters) > 0 {
		return info, nil, nil, fmt.Sprintf("attribute %s has both Get%s and Is%s getters", name, name, name)
	}

	readers := a.getters
	if len(a.isGetters) > 0 {
		readers = a.isGetters
		info.IsBooleanStyle = true
	}

	getter, problem := i.pick(t, name, "getter", readers)
	if problem != "" {
		return info, nil, nil, problem
	}
	setter, problem := i.pick(t, name, "setter", a.setters)
	if problem != "" {
		return info, nil, nil, problem
	}

	if getter != nil && setter != nil && getter.Result != setter.Params[0] {
		return info, nil, nil, fmt.Sprintf("attribute %s getter type %s does not match setter type %s",
			name, getter.Result, setter.Params[0])
	}

	if getter != nil {
		info.Readable = true
		info.Type = getter.Result
	}
	if setter != nil {
		info.Writable = true
		info.Type = setter.Params[0]
	}
	return info, getter, setter, ""
}

// pick selects the single accessor of one role. More than one candidate is a
// duplicate unless merging is enabled, in which case the visible method wins.
func (i *Introspector) pick(t reflect.Type, name, role string, candidates []accessorMethod) (*Method, string) {
	switch len(candidates) {
	case 0:
		return nil, ""
	case 1:
		m := candidates[0].method
		if !visible(t, m) {
			log.Debug(log.CatIntrospect, "Skipping shadowed accessor", "type", t.String(), "method", m.Name)
			return nil, ""
		}
		return &m, ""
	}

	if !i.mergeDuplicates {
		return nil, fmt.Sprintf("attribute %s has a duplicate %s", name, role)
	}
	for _, c := range candidates {
		if visible(t, c.method) {
			m := c.method
			log.Debug(log.CatIntrospect, "Merged duplicate accessor",
				"type", t.String(), "attribute", name, "role", role)
			return &m, ""
		}
	}
	return nil, ""
}
