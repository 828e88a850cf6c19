// Package errors provides the error taxonomy of the bridge.
// Every typed error matches its kind sentinel through errors.Is and exposes
// its fields through errors.As.
package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/frontrow-dev/bridge/domain/entities"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrInitFailed          = stdErrors.New("managed runtime initialization failed")
	ErrUnknownType         = stdErrors.New("unknown type")
	ErrArityMismatch       = stdErrors.New("arity mismatch")
	ErrTypeMismatch        = stdErrors.New("type mismatch")
	ErrNotFound            = stdErrors.New("not found")
	ErrManagedRuntimeFault = stdErrors.New("managed runtime fault")
	ErrSessionClosed       = stdErrors.New("session closed")
	ErrInvalidState        = stdErrors.New("invalid session state")
	ErrAlreadyConnected    = stdErrors.New("already connected")
	ErrInvalidArgument     = stdErrors.New("invalid argument")
	ErrDuplicateName       = stdErrors.New("duplicate name")
	ErrContractViolation   = stdErrors.New("callback contract violation")
	ErrCallbackPanic       = stdErrors.New("callback panicked")
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is implemented by errors that can describe themselves as a
// structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to a structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	detail := &entities.ErrorDetail{Message: err.Error(), Type: "internal"}
	switch {
	case stdErrors.Is(err, ErrSessionClosed), stdErrors.Is(err, ErrAlreadyConnected):
		detail.Type = "state"
	case stdErrors.Is(err, ErrInvalidArgument):
		detail.Type = "argument"
	}
	return detail
}

// InitError reports a failure to start the managed runtime.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInitFailed, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInitFailed }

// ToErrorDetail implements DetailedError.
func (e *InitError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "init"}
}

// UnknownTypeError reports a type name outside the descriptor vocabulary.
type UnknownTypeError struct {
	Name string // type name as supplied
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type %q", e.Name)
}

func (e *UnknownTypeError) Is(target error) bool { return target == ErrUnknownType }

// ToErrorDetail implements DetailedError.
func (e *UnknownTypeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "type", Code: e.Name}
}

// ArityMismatchError reports an invocation with the wrong argument count.
type ArityMismatchError struct {
	Name string
	Want int
	Got  int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("%s expects %d arguments, got %d", e.Name, e.Want, e.Got)
}

func (e *ArityMismatchError) Is(target error) bool { return target == ErrArityMismatch }

// ToErrorDetail implements DetailedError.
func (e *ArityMismatchError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "arity",
		Details: map[string]any{"want": e.Want, "got": e.Got},
	}
}

// TypeMismatchError reports a managed value that cannot be coerced to the
// declared type of the argument at Index.
type TypeMismatchError struct {
	Err   error
	Value any
	Want  string
	Index int
}

func (e *TypeMismatchError) Error() string {
	msg := fmt.Sprintf("argument %d: cannot use %T as %s", e.Index, e.Value, e.Want)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TypeMismatchError) Unwrap() error { return e.Err }

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// ToErrorDetail implements DetailedError.
func (e *TypeMismatchError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "type",
		Code:    e.Want,
		Details: map[string]any{"index": e.Index},
	}
}

// NotFoundError reports an invocation for an unregistered name.
type NotFoundError struct {
	Kind entities.Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unrecognized %s %q", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ToErrorDetail implements DetailedError.
func (e *NotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "not_found", Code: string(e.Kind), IsNotFound: true}
}

// DuplicateNameError reports a repeated registration in strict mode.
type DuplicateNameError struct {
	Kind entities.Kind
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q is already registered", e.Kind, e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// ToErrorDetail implements DetailedError.
func (e *DuplicateNameError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "argument", Code: "duplicate_name"}
}

// RuntimeFaultError wraps a fault raised inside the managed runtime.
type RuntimeFaultError struct {
	Err       error
	Operation string
}

func (e *RuntimeFaultError) Error() string {
	return fmt.Sprintf("managed runtime %s failed: %v", e.Operation, e.Err)
}

func (e *RuntimeFaultError) Unwrap() error { return e.Err }

func (e *RuntimeFaultError) Is(target error) bool { return target == ErrManagedRuntimeFault }

// ToErrorDetail implements DetailedError.
func (e *RuntimeFaultError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "runtime", Code: e.Operation}
}

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Operation string
	State     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not allowed in state %s", e.Operation, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// ToErrorDetail implements DetailedError.
func (e *StateError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "state", Code: e.State}
}

// ContractViolationError reports a detectable breach of the callback ABI,
// such as an output array with a negative length.
type ContractViolationError struct {
	Name   string
	Reason string
	Index  int
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s output %d: %s", e.Name, e.Index, e.Reason)
}

func (e *ContractViolationError) Is(target error) bool { return target == ErrContractViolation }

// ToErrorDetail implements DetailedError.
func (e *ContractViolationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "contract",
		Details: map[string]any{"index": e.Index},
	}
}

// PanicError reports a native callback that panicked.
type PanicError struct {
	Value any
	Name  string
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback %s panicked: %v", e.Name, e.Value)
}

func (e *PanicError) Is(target error) bool { return target == ErrCallbackPanic }

// ToErrorDetail implements DetailedError.
func (e *PanicError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "panic", Code: e.Name}
}
