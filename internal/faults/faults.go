// Package faults defines the error taxonomy shared by the registry, the
// introspector and the dispatcher.
//
// Every fault carries a Kind, an Origin telling whether the bean server itself
// or the managed object misbehaved, and the underlying cause when there is
// one. Callers test for a kind with errors.Is against the sentinels below or
// with KindOf.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a fault.
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindAlreadyExists         Kind = "ALREADY_EXISTS"
	KindInvalidName           Kind = "INVALID_NAME"
	KindInvalidArgument       Kind = "INVALID_ARGUMENT"
	KindNotCompliant          Kind = "NOT_COMPLIANT"
	KindAttributeNotFound     Kind = "ATTRIBUTE_NOT_FOUND"
	KindInvalidAttributeValue Kind = "INVALID_ATTRIBUTE_VALUE"
	KindOperationNotFound     Kind = "OPERATION_NOT_FOUND"
	KindManagedChecked        Kind = "MANAGED_CHECKED"
	KindManagedUnchecked      Kind = "MANAGED_UNCHECKED"
	KindManagedFatal          Kind = "MANAGED_FATAL"
	KindReflectionFailure     Kind = "REFLECTION_FAILURE"
)

// Origin says which side of the dispatch boundary produced a fault.
type Origin string

const (
	OriginCore    Origin = "core"
	OriginManaged Origin = "managed"
)

// Sentinels for errors.Is. A *Fault matches the sentinel of its Kind.
var (
	ErrNotFound              = &Fault{Kind: KindNotFound}
	ErrAlreadyExists         = &Fault{Kind: KindAlreadyExists}
	ErrInvalidName           = &Fault{Kind: KindInvalidName}
	ErrInvalidArgument       = &Fault{Kind: KindInvalidArgument}
	ErrNotCompliant          = &Fault{Kind: KindNotCompliant}
	ErrAttributeNotFound     = &Fault{Kind: KindAttributeNotFound}
	ErrInvalidAttributeValue = &Fault{Kind: KindInvalidAttributeValue}
	ErrOperationNotFound     = &Fault{Kind: KindOperationNotFound}
	ErrManagedChecked        = &Fault{Kind: KindManagedChecked}
	ErrManagedUnchecked      = &Fault{Kind: KindManagedUnchecked}
	ErrManagedFatal          = &Fault{Kind: KindManagedFatal}
	ErrReflectionFailure     = &Fault{Kind: KindReflectionFailure}
)

// Fault is the error type returned by the core.
type Fault struct {
	Kind    Kind
	Origin  Origin
	Op      string // operation that failed, e.g. "getAttribute"
	Subject string // object name, attribute or operation involved
	Message string
	Cause   error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var b strings.Builder
	if f.Op != "" {
		b.WriteString(f.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(f.Kind), "_", " ")))
	if f.Subject != "" {
		b.WriteString(" [")
		b.WriteString(f.Subject)
		b.WriteString("]")
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Cause != nil {
		b.WriteString(": ")
		b.WriteString(f.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the cause.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// Is reports whether target is a sentinel (or fault) of the same kind.
// A target with an Origin set must also match on origin.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	if t.Kind != f.Kind {
		return false
	}
	return t.Origin == "" || t.Origin == f.Origin
}

// Managed reports whether the fault originated in managed code.
func (f *Fault) Managed() bool {
	return f.Origin == OriginManaged
}

// New creates a core fault.
func New(kind Kind, op, subject, format string, args ...any) *Fault {
	return &Fault{
		Kind:    kind,
		Origin:  OriginCore,
		Op:      op,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a core fault with a cause.
func Wrap(kind Kind, op, subject string, cause error) *Fault {
	return &Fault{
		Kind:    kind,
		Origin:  OriginCore,
		Op:      op,
		Subject: subject,
		Cause:   cause,
	}
}

// Checked wraps an error returned by managed code.
func Checked(op, subject string, cause error) *Fault {
	return &Fault{
		Kind:    KindManagedChecked,
		Origin:  OriginManaged,
		Op:      op,
		Subject: subject,
		Cause:   cause,
	}
}

// PanicError is the cause recorded for a panic whose value was not an error.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// FatalError marks a failure the managed object cannot recover from. Managed
// code panics with Fatal(err) to have the panic reported as MANAGED_FATAL.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal"
	}
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err in a FatalError.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// FromPanic classifies a recovered panic value. A value wrapping a
// FatalError is fatal, anything else, runtime errors such as nil
// dereferences included, is unchecked. The original value is kept as the
// cause.
func FromPanic(op, subject string, recovered any) *Fault {
	if f, ok := recovered.(*Fault); ok {
		return f
	}

	kind := KindManagedUnchecked
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = v
		var fatal *FatalError
		if errors.As(v, &fatal) {
			kind = KindManagedFatal
		}
	default:
		cause = &PanicError{Value: recovered}
	}

	return &Fault{
		Kind:    kind,
		Origin:  OriginManaged,
		Op:      op,
		Subject: subject,
		Message: "managed code panicked",
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Fault in err's chain, or "" if none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// As returns the first *Fault in err's chain.
func As(err error) (*Fault, bool) {
	var f *Fault
	ok := errors.As(err, &f)
	return f, ok
}

// IsManaged reports whether err carries a fault raised by managed code.
func IsManaged(err error) bool {
	f, ok := As(err)
	return ok && f.Managed()
}
