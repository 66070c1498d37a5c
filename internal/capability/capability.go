// Package capability describes what a managed object exposes: its
// attributes, operations, constructors and notifications, plus the optional
// interfaces a managed object may implement to customise how it is handled.
package capability

import (
	"reflect"

	"github.com/zjrosen/beanserver/internal/objname"
)

// VoidType is the name used for operations without a result.
const VoidType = "void"

// AttributeInfo describes one logical attribute.
type AttributeInfo struct {
	Name        string
	Type        reflect.Type
	Description string
	Readable    bool
	Writable    bool
	// IsBooleanStyle is set when the getter follows the IsX convention.
	IsBooleanStyle bool
}

// TypeName returns the attribute's type name.
func (a AttributeInfo) TypeName() string {
	return TypeName(a.Type)
}

// Access returns "read-only", "write-only" or "read-write".
func (a AttributeInfo) Access() string {
	switch {
	case a.Readable && a.Writable:
		return "read-write"
	case a.Writable:
		return "write-only"
	default:
		return "read-only"
	}
}

// ParameterInfo describes one operation or constructor parameter.
type ParameterInfo struct {
	Name string
	Type reflect.Type
}

// OperationInfo describes an operation. ReturnType is nil for void.
type OperationInfo struct {
	Name        string
	Description string
	Params      []ParameterInfo
	ReturnType  reflect.Type
	Variadic    bool
}

// Signature returns the parameter type names.
func (o OperationInfo) Signature() []string {
	return paramTypeNames(o.Params)
}

// ReturnTypeName returns the result type name, VoidType when there is none.
func (o OperationInfo) ReturnTypeName() string {
	return TypeName(o.ReturnType)
}

// ConstructorInfo describes a registered factory.
type ConstructorInfo struct {
	Name   string
	Params []ParameterInfo
}

// Signature returns the parameter type names.
func (c ConstructorInfo) Signature() []string {
	return paramTypeNames(c.Params)
}

// NotificationInfo describes notifications an object may emit.
type NotificationInfo struct {
	Name        string
	Types       []string
	Description string
}

// Descriptor is the normalised capability description of a managed object.
// Descriptors are shared between callers and must not be modified.
type Descriptor struct {
	ClassName     string
	Description   string
	Attributes    []AttributeInfo
	Operations    []OperationInfo
	Constructors  []ConstructorInfo
	Notifications []NotificationInfo
}

// Attribute returns the attribute called name.
func (d *Descriptor) Attribute(name string) (AttributeInfo, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

// OperationsNamed returns every operation called name.
func (d *Descriptor) OperationsNamed(name string) []OperationInfo {
	var out []OperationInfo
	for _, o := range d.Operations {
		if o.Name == name {
			out = append(out, o)
		}
	}
	return out
}

// WithNotifications returns a shallow copy of d carrying a deep copy of
// notifs. d itself is not modified.
func (d *Descriptor) WithNotifications(notifs []NotificationInfo) *Descriptor {
	out := *d
	out.Notifications = CloneNotifications(notifs)
	return &out
}

// CloneNotifications deep-copies notification descriptors so the result
// never aliases the source slice or its Types slices.
func CloneNotifications(in []NotificationInfo) []NotificationInfo {
	if len(in) == 0 {
		return []NotificationInfo{}
	}
	out := make([]NotificationInfo, len(in))
	for i, n := range in {
		out[i] = NotificationInfo{
			Name:        n.Name,
			Description: n.Description,
			Types:       append([]string(nil), n.Types...),
		}
	}
	return out
}

// TypeName returns a printable name for t, VoidType for nil.
func TypeName(t reflect.Type) string {
	if t == nil {
		return VoidType
	}
	return t.String()
}

func paramTypeNames(params []ParameterInfo) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = TypeName(p.Type)
	}
	return out
}

// Attribute is a name/value pair used by batch get and set.
type Attribute struct {
	Name  string
	Value any
}

// AttributeList is an ordered list of attributes.
type AttributeList []Attribute

// Names returns the attribute names in order.
func (l AttributeList) Names() []string {
	out := make([]string, len(l))
	for i, a := range l {
		out[i] = a.Name
	}
	return out
}

// Get returns the value of the first attribute called name.
func (l AttributeList) Get(name string) (any, bool) {
	for _, a := range l {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Dynamic is implemented by managed objects that describe and dispatch
// themselves. The dispatcher calls these methods directly instead of using
// reflection.
type Dynamic interface {
	GetAttribute(name string) (any, error)
	SetAttribute(attr Attribute) error
	GetAttributes(names []string) AttributeList
	SetAttributes(attrs AttributeList) AttributeList
	Invoke(operation string, params []any, signature []string) (any, error)
	Descriptor() *Descriptor
}

// Broadcaster is implemented by objects that emit notifications.
type Broadcaster interface {
	NotificationInfo() []NotificationInfo
}

// Registration is implemented by objects that want to take part in their own
// registration. PreRegister may return a different name to register under;
// the zero Name keeps the requested one. A PreRegister or PreDeregister
// error vetoes the operation.
type Registration interface {
	PreRegister(name objname.Name) (objname.Name, error)
	PostRegister(registered bool)
	PreDeregister() error
	PostDeregister()
}

// Interfaced is implemented by objects that restrict their management surface
// to the methods of an interface type. ManagementInterface must return an
// interface type the object implements.
type Interfaced interface {
	ManagementInterface() reflect.Type
}

// Describer lets a reflectively managed object attach a description to its
// descriptor.
type Describer interface {
	Description() string
}
