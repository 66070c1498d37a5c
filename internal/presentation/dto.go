package presentation

import (
	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/server"
)

// ObjectDTO represents a registered object for presentation
type ObjectDTO struct {
	Name      string `json:"name" yaml:"name"`
	ClassName string `json:"class_name" yaml:"class_name"`
}

// FromInstance converts a registered instance to a DTO.
func FromInstance(inst server.ObjectInstance) ObjectDTO {
	return ObjectDTO{Name: inst.Name.String(), ClassName: inst.ClassName}
}

// FromInstances converts instances in order.
func FromInstances(insts []server.ObjectInstance) []ObjectDTO {
	out := make([]ObjectDTO, len(insts))
	for i, inst := range insts {
		out[i] = FromInstance(inst)
	}
	return out
}

// AttributeValueDTO is one attribute read. Error is set instead of Value
// when the read failed.
type AttributeValueDTO struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DescriptorDTO represents an object's capabilities
type DescriptorDTO struct {
	Name          string            `json:"name" yaml:"name"`
	ClassName     string            `json:"class_name" yaml:"class_name"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes    []AttributeDTO    `json:"attributes" yaml:"attributes"`
	Operations    []OperationDTO    `json:"operations" yaml:"operations"`
	Constructors  []OperationDTO    `json:"constructors,omitempty" yaml:"constructors,omitempty"`
	Notifications []NotificationDTO `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

type AttributeDTO struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Access      string `json:"access" yaml:"access"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type OperationDTO struct {
	Name        string   `json:"name" yaml:"name"`
	Signature   []string `json:"signature" yaml:"signature"`
	ReturnType  string   `json:"return_type,omitempty" yaml:"return_type,omitempty"`
	Variadic    bool     `json:"variadic,omitempty" yaml:"variadic,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

type NotificationDTO struct {
	Name        string   `json:"name" yaml:"name"`
	Types       []string `json:"types" yaml:"types"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// FromDescriptor converts a descriptor to a DTO. Slices are always non-nil so
// JSON output carries empty arrays rather than null.
func FromDescriptor(name string, d *capability.Descriptor) DescriptorDTO {
	dto := DescriptorDTO{
		Name:        name,
		ClassName:   d.ClassName,
		Description: d.Description,
		Attributes:  make([]AttributeDTO, len(d.Attributes)),
		Operations:  make([]OperationDTO, len(d.Operations)),
	}
	for i, a := range d.Attributes {
		dto.Attributes[i] = AttributeDTO{
			Name:        a.Name,
			Type:        a.TypeName(),
			Access:      a.Access(),
			Description: a.Description,
		}
	}
	for i, o := range d.Operations {
		dto.Operations[i] = OperationDTO{
			Name:        o.Name,
			Signature:   nonNil(o.Signature()),
			ReturnType:  o.ReturnTypeName(),
			Variadic:    o.Variadic,
			Description: o.Description,
		}
	}
	for _, c := range d.Constructors {
		dto.Constructors = append(dto.Constructors, OperationDTO{Name: c.Name, Signature: nonNil(c.Signature())})
	}
	for _, n := range d.Notifications {
		dto.Notifications = append(dto.Notifications, NotificationDTO{
			Name:        n.Name,
			Types:       nonNil(append([]string(nil), n.Types...)),
			Description: n.Description,
		})
	}
	return dto
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// InvokeResultDTO is the outcome of an operation call.
type InvokeResultDTO struct {
	Name      string `json:"name" yaml:"name"`
	Operation string `json:"operation" yaml:"operation"`
	Result    any    `json:"result" yaml:"result"`
}

// ServerDTO describes the server, read from its delegate object.
type ServerDTO struct {
	ID                    string `json:"id" yaml:"id"`
	SpecificationVersion  string `json:"specification_version" yaml:"specification_version"`
	ImplementationName    string `json:"implementation_name" yaml:"implementation_name"`
	ImplementationVersion string `json:"implementation_version" yaml:"implementation_version"`
}
