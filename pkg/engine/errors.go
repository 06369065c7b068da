package engine

import (
	"errors"
	"fmt"
)

// ErrorClass separates failures that abort a resolution pass from the ones
// that are collected and surfaced at a validation checkpoint.
type ErrorClass string

const (
	// ErrorClassHard aborts the current resolution pass immediately.
	ErrorClassHard ErrorClass = "hard"

	// ErrorClassSoft is accumulated during a pass and raised by Config.Validate.
	ErrorClassSoft ErrorClass = "soft"
)

// ErrorKind identifies the rule a configuration violated.
type ErrorKind string

const (
	KindDuplicateParameter       ErrorKind = "duplicate_parameter"
	KindInvalidPrefix            ErrorKind = "invalid_prefix"
	KindInvalidParameterName     ErrorKind = "invalid_parameter_name"
	KindScopeViolation           ErrorKind = "scope_violation"
	KindOverrideConflict         ErrorKind = "override_conflict"
	KindUndefinedParameter       ErrorKind = "undefined_parameter"
	KindUnsupportedFeature       ErrorKind = "unsupported_feature"
	KindMissingRequiredParameter ErrorKind = "missing_required_parameter"
	KindUnsupportedByTarget      ErrorKind = "unsupported_by_target"
	KindBootloaderNotFound       ErrorKind = "bootloader_not_found"
	KindBootloaderAddress        ErrorKind = "bootloader_address"
	KindRegionOverflow           ErrorKind = "region_overflow"
	KindInvalidMacro             ErrorKind = "invalid_macro"
	KindDuplicateLibrary         ErrorKind = "duplicate_library"
	KindInvalidTarget            ErrorKind = "invalid_target"
	KindInvalidDocument          ErrorKind = "invalid_document"
)

// ConfigError is the error type returned by every resolution component.
// nolint:revive // ConfigError reads better than Error at call sites
type ConfigError struct {
	// Kind is the violated rule.
	Kind ErrorKind `json:"kind"`

	// Class tells whether the error aborted the pass or was deferred.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Param is the offending parameter or attribute name, if any.
	Param string `json:"param,omitempty"`

	// Unit is the unit (and label) that triggered the failure.
	Unit string `json:"unit,omitempty"`

	// DefinedBy is the unit that originally defined the conflicting entity.
	DefinedBy string `json:"defined_by,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is matches on Kind so that errors.Is(err, ErrRegionOverflow) works for any
// region overflow regardless of the message.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewHardError creates an error that aborts the current pass.
func NewHardError(kind ErrorKind, message string) *ConfigError {
	return &ConfigError{
		Kind:    kind,
		Class:   ErrorClassHard,
		Message: message,
	}
}

// NewSoftError creates an error that is deferred to the validation checkpoint.
func NewSoftError(kind ErrorKind, message string) *ConfigError {
	return &ConfigError{
		Kind:    kind,
		Class:   ErrorClassSoft,
		Message: message,
	}
}

// Hardf is a formatting shorthand for NewHardError.
func Hardf(kind ErrorKind, format string, args ...interface{}) *ConfigError {
	return NewHardError(kind, fmt.Sprintf(format, args...))
}

// WithParam adds the offending parameter name.
func (e *ConfigError) WithParam(name string) *ConfigError {
	e.Param = name
	return e
}

// WithUnit adds the unit that triggered the failure.
func (e *ConfigError) WithUnit(unit Unit) *ConfigError {
	e.Unit = unit.String()
	return e
}

// WithDefinedBy adds the unit that defined the conflicting entity.
func (e *ConfigError) WithDefinedBy(unit Unit) *ConfigError {
	e.DefinedBy = unit.String()
	return e
}

// WithCause wraps an underlying error.
func (e *ConfigError) WithCause(err error) *ConfigError {
	e.Err = err
	return e
}

// Sentinels for errors.Is. Only Kind is compared.
var (
	ErrDuplicateParameter       = &ConfigError{Kind: KindDuplicateParameter}
	ErrInvalidPrefix            = &ConfigError{Kind: KindInvalidPrefix}
	ErrInvalidParameterName     = &ConfigError{Kind: KindInvalidParameterName}
	ErrScopeViolation           = &ConfigError{Kind: KindScopeViolation}
	ErrOverrideConflict         = &ConfigError{Kind: KindOverrideConflict}
	ErrUndefinedParameter       = &ConfigError{Kind: KindUndefinedParameter}
	ErrUnsupportedFeature       = &ConfigError{Kind: KindUnsupportedFeature}
	ErrMissingRequiredParameter = &ConfigError{Kind: KindMissingRequiredParameter}
	ErrUnsupportedByTarget      = &ConfigError{Kind: KindUnsupportedByTarget}
	ErrBootloaderNotFound       = &ConfigError{Kind: KindBootloaderNotFound}
	ErrBootloaderAddress        = &ConfigError{Kind: KindBootloaderAddress}
	ErrRegionOverflow           = &ConfigError{Kind: KindRegionOverflow}
	ErrInvalidMacro             = &ConfigError{Kind: KindInvalidMacro}
	ErrDuplicateLibrary         = &ConfigError{Kind: KindDuplicateLibrary}
	ErrInvalidTarget            = &ConfigError{Kind: KindInvalidTarget}
	ErrInvalidDocument          = &ConfigError{Kind: KindInvalidDocument}
)

// KindOf returns the kind of a ConfigError in the chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *ConfigError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsHard returns true if the error aborts a resolution pass.
func IsHard(err error) bool {
	var e *ConfigError
	if errors.As(err, &e) {
		return e.Class == ErrorClassHard
	}
	return false
}

// IsSoft returns true if the error was deferred to a validation checkpoint.
func IsSoft(err error) bool {
	var e *ConfigError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSoft
	}
	return false
}
