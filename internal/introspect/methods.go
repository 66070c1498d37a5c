package introspect

import (
	"reflect"
	"slices"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/log"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// hookInterfaces are capability interfaces whose methods belong to the
// server contract rather than the managed surface.
var hookInterfaces = []reflect.Type{
	reflect.TypeOf((*capability.Registration)(nil)).Elem(),
	reflect.TypeOf((*capability.Broadcaster)(nil)).Elem(),
	reflect.TypeOf((*capability.Interfaced)(nil)).Elem(),
	reflect.TypeOf((*capability.Describer)(nil)).Elem(),
}

// Method is one exported method found while walking a type and its embedded
// fields.
type Method struct {
	Name string
	// Declaring is the type whose method set the method was taken from.
	Declaring reflect.Type
	// Path is the embedded field index path from the root to Declaring.
	Path []int

	Params       []reflect.Type
	Result       reflect.Type // nil when the method returns nothing but an optional error
	ReturnsError bool
	Variadic     bool
}

// Depth is the embedding depth of the declaring type; 0 is the root.
func (m Method) Depth() int { return len(m.Path) }

func (m Method) sameParams(o Method) bool {
	return m.Variadic == o.Variadic && slices.Equal(m.Params, o.Params)
}

// embeds reports whether o's declaring type is reached through m's.
func (m Method) embeds(o Method) bool {
	return len(m.Path) < len(o.Path) && slices.Equal(o.Path[:len(m.Path)], m.Path)
}

// overrides reports whether m eliminates o as a covariant override.
func (m Method) overrides(o Method) bool {
	if m.Name != o.Name || !m.embeds(o) || !m.sameParams(o) {
		return false
	}
	if m.ReturnsError != o.ReturnsError {
		return false
	}
	switch {
	case m.Result == nil && o.Result == nil:
		return true
	case m.Result == nil || o.Result == nil:
		return false
	default:
		return m.Result.AssignableTo(o.Result)
	}
}

// methodFromType converts a reflect method. ok is false when the result list
// cannot be mapped onto a single value plus optional error.
func methodFromType(rm reflect.Method, declaring reflect.Type, path []int, hasReceiver bool) (Method, bool) {
	ft := rm.Type
	start := 0
	if hasReceiver {
		start = 1
	}

	m := Method{
		Name:      rm.Name,
		Declaring: declaring,
		Path:      path,
		Variadic:  ft.IsVariadic(),
	}
	for i := start; i < ft.NumIn(); i++ {
		m.Params = append(m.Params, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			m.ReturnsError = true
		} else {
			m.Result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errorType {
			return Method{}, false
		}
		m.Result = ft.Out(0)
		m.ReturnsError = true
	default:
		return Method{}, false
	}
	return m, true
}

// enumerate lists the exported methods of t and of every type embedded in it,
// each attributed to the type whose method set it was found in.
func enumerate(t reflect.Type) []Method {
	var out []Method
	visited := make(map[reflect.Type]bool)
	walk(t, nil, visited, &out)
	return out
}

func walk(t reflect.Type, path []int, visited map[reflect.Type]bool, out *[]Method) {
	if visited[t] {
		return
	}
	visited[t] = true

	isIface := t.Kind() == reflect.Interface
	for i := 0; i < t.NumMethod(); i++ {
		rm := t.Method(i)
		if !rm.IsExported() {
			continue
		}
		m, ok := methodFromType(rm, t, path, !isIface)
		if !ok {
			log.Debug(log.CatIntrospect, "Skipping method with unsupported results",
				"type", t.String(), "method", rm.Name)
			continue
		}
		*out = append(*out, m)
	}

	st := t
	addressable := false
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
		addressable = true
	}
	if st.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Struct && addressable {
			ft = reflect.PointerTo(ft)
		}
		childPath := append(slices.Clone(path), i)
		walk(ft, childPath, visited, out)
	}
}

// eliminateOverridden drops every method that a shallower method overrides
// with an identical parameter list and an assignable result.
func eliminateOverridden(methods []Method) []Method {
	out := make([]Method, 0, len(methods))
	for i, b := range methods {
		overridden := false
		for j, a := range methods {
			if i != j && a.overrides(b) {
				overridden = true
				break
			}
		}
		if !overridden {
			out = append(out, b)
		}
	}
	return out
}

// excludeHooks removes methods belonging to capability interfaces that t
// implements.
func excludeHooks(t reflect.Type, methods []Method) []Method {
	hidden := make(map[string]bool)
	for _, iface := range hookInterfaces {
		if !t.Implements(iface) {
			continue
		}
		for i := 0; i < iface.NumMethod(); i++ {
			hidden[iface.Method(i).Name] = true
		}
	}
	if len(hidden) == 0 {
		return methods
	}
	return slices.DeleteFunc(methods, func(m Method) bool { return hidden[m.Name] })
}

// visible reports whether m is the method reachable through t's method set,
// as opposed to one shadowed by a shallower method of the same name.
func visible(t reflect.Type, m Method) bool {
	rm, ok := t.MethodByName(m.Name)
	if !ok {
		return false
	}
	hasReceiver := t.Kind() != reflect.Interface
	got, ok := methodFromType(rm, t, nil, hasReceiver)
	if !ok {
		return false
	}
	if !got.sameParams(m) || got.ReturnsError != m.ReturnsError {
		return false
	}
	return got.Result == m.Result
}
