package platform

import (
	"reflect"
	"runtime/debug"
	"sort"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/faults"
)

const buildInfoClass = "go.runtime.BuildInfo"

var (
	stringType    = reflect.TypeOf("")
	stringMapType = reflect.TypeOf(map[string]string{})
)

// BuildInfo describes itself rather than being reflected over: its
// attributes come from the build metadata embedded in the binary.
type BuildInfo struct {
	path      string
	version   string
	goVersion string
	settings  map[string]string
	desc      *capability.Descriptor
}

var _ capability.Dynamic = (*BuildInfo)(nil)

// NewBuildInfo reads the running binary's build information. Binaries built
// without module support report empty values.
func NewBuildInfo() *BuildInfo {
	b := &BuildInfo{settings: make(map[string]string)}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.path = info.Main.Path
		b.version = info.Main.Version
		b.goVersion = info.GoVersion
		for _, s := range info.Settings {
			b.settings[s.Key] = s.Value
		}
	}

	b.desc = &capability.Descriptor{
		ClassName:   buildInfoClass,
		Description: "Build metadata of the running binary",
		Attributes: []capability.AttributeInfo{
			{Name: "GoVersion", Type: stringType, Readable: true},
			{Name: "Path", Type: stringType, Readable: true},
			{Name: "Settings", Type: stringMapType, Readable: true},
			{Name: "Version", Type: stringType, Readable: true},
		},
		Operations: []capability.OperationInfo{{
			Name:        "Setting",
			Description: "Returns one build setting",
			Params:      []capability.ParameterInfo{{Name: "key", Type: stringType}},
			ReturnType:  stringType,
		}},
	}
	return b
}

func (b *BuildInfo) GetAttribute(name string) (any, error) {
	switch name {
	case "GoVersion":
		return b.goVersion, nil
	case "Path":
		return b.path, nil
	case "Version":
		return b.version, nil
	case "Settings":
		out := make(map[string]string, len(b.settings))
		for k, v := range b.settings {
			out[k] = v
		}
		return out, nil
	}
	return nil, faults.New(faults.KindAttributeNotFound, "getAttribute", name, "no such attribute")
}

func (b *BuildInfo) SetAttribute(attr capability.Attribute) error {
	if _, ok := b.desc.Attribute(attr.Name); ok {
		return faults.New(faults.KindAttributeNotFound, "setAttribute", attr.Name, "attribute is read-only")
	}
	return faults.New(faults.KindAttributeNotFound, "setAttribute", attr.Name, "no such attribute")
}

func (b *BuildInfo) GetAttributes(names []string) capability.AttributeList {
	out := make(capability.AttributeList, 0, len(names))
	for _, n := range names {
		if v, err := b.GetAttribute(n); err == nil {
			out = append(out, capability.Attribute{Name: n, Value: v})
		}
	}
	return out
}

func (b *BuildInfo) SetAttributes(capability.AttributeList) capability.AttributeList {
	return capability.AttributeList{}
}

func (b *BuildInfo) Invoke(op string, params []any, signature []string) (any, error) {
	if op != "Setting" || len(params) != 1 {
		return nil, faults.New(faults.KindOperationNotFound, "invoke", op, "no such operation")
	}
	if signature != nil && (len(signature) != 1 || signature[0] != "string") {
		return nil, faults.New(faults.KindOperationNotFound, "invoke", op, "signature %v does not match", signature)
	}
	key, ok := params[0].(string)
	if !ok {
		return nil, faults.New(faults.KindReflectionFailure, "invoke", op, "key must be a string, got %T", params[0])
	}
	return b.settings[key], nil
}

func (b *BuildInfo) Descriptor() *capability.Descriptor { return b.desc }

// SettingKeys returns the sorted setting keys.
func (b *BuildInfo) SettingKeys() []string {
	keys := make([]string, 0, len(b.settings))
	for k := range b.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
