package cmd

import (
	"fmt"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/beanserver/internal/capability"
)

// parseValue decodes a command line argument as YAML into a value of type t.
// A nil t yields whatever YAML infers.
func parseValue(raw string, t reflect.Type) (any, error) {
	if t == nil {
		var out any
		if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", raw, err)
		}
		return out, nil
	}

	ptr := reflect.New(t)
	if err := yaml.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
		return nil, fmt.Errorf("parsing %q as %s: %w", raw, capability.TypeName(t), err)
	}
	return ptr.Elem().Interface(), nil
}

// selectOperation picks the operation args are bound to. With an explicit
// signature the overload must match it exactly; otherwise the first overload
// accepting len(args) arguments wins.
func selectOperation(d *capability.Descriptor, op string, nargs int, signature []string) (capability.OperationInfo, error) {
	candidates := d.OperationsNamed(op)
	if len(candidates) == 0 {
		return capability.OperationInfo{}, fmt.Errorf("%s has no operation %q", d.ClassName, op)
	}
	for _, c := range candidates {
		if signature != nil {
			if slices.Equal(c.Signature(), signature) {
				return c, nil
			}
			continue
		}
		n := len(c.Params)
		if n == nargs || (c.Variadic && nargs >= n-1) {
			return c, nil
		}
	}
	if signature != nil {
		return capability.OperationInfo{}, fmt.Errorf("%s has no operation %s%v", d.ClassName, op, signature)
	}
	return capability.OperationInfo{}, fmt.Errorf("%s has no operation %q taking %d arguments", d.ClassName, op, nargs)
}

// argTypes returns the type each of nargs arguments decodes into. Without a
// signature, arguments past the last fixed parameter of a variadic operation
// decode into its element type.
func argTypes(o capability.OperationInfo, nargs int, spread bool) []reflect.Type {
	out := make([]reflect.Type, nargs)
	last := len(o.Params) - 1
	for i := range out {
		switch {
		case i < last || (i == last && (!o.Variadic || spread)):
			out[i] = o.Params[i].Type
		case o.Variadic && last >= 0:
			out[i] = o.Params[last].Type.Elem()
		}
	}
	return out
}
