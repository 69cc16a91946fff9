/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperr provides the structured error taxonomy shared by every
// orchestrator component (spec §7): validation, conflict, integrity,
// configuration, dependency, external and infrastructure failures.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the seven error kinds closed over by spec §7.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindIntegrity      Kind = "integrity"
	KindConfiguration  Kind = "configuration"
	KindDependency     Kind = "dependency"
	KindExternal       Kind = "external"
	KindInfrastructure Kind = "infrastructure"
)

// Code is the machine-readable, closed error code set surfaced by
// façades (spec §6). The core returns an AppError; a façade maps it to
// one of these.
type Code string

const (
	CodeInvalidJSON           Code = "invalid_json"
	CodeValidationError       Code = "validation_error"
	CodeContextPackageMissing Code = "context_package_not_found"
	CodeWriteConflict         Code = "write_conflict"
	CodeSchemaUnavailable     Code = "schema_unavailable"
	CodeInternalError         Code = "internal_error"
)

var kindCodes = map[Kind]Code{
	KindValidation:     CodeValidationError,
	KindConflict:       CodeWriteConflict,
	KindIntegrity:      CodeInternalError,
	KindConfiguration:  CodeSchemaUnavailable,
	KindDependency:     CodeValidationError,
	KindExternal:       CodeInternalError,
	KindInfrastructure: CodeInternalError,
}

// AppError is the structured error type returned by every core
// operation that can fail. Mirrors the teacher's AppError shape
// (Type/Message/StatusCode/Details/Cause), generalized to the core's
// kind taxonomy rather than an HTTP status code.
type AppError struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

// New creates an AppError with no cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap creates an AppError that preserves an underlying cause.
func Wrap(cause error, kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, kind Kind, format string, args ...interface{}) *AppError {
	return Wrap(cause, kind, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails sets Details in place and returns the receiver for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Code returns the machine-readable code for this error's kind.
func (e *AppError) Code() Code {
	if code, ok := kindCodes[e.Kind]; ok {
		return code
	}
	return CodeInternalError
}

// Is reports whether err is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or KindInfrastructure for non-AppErrors
// (an unclassified failure is treated as the most severe kind).
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return CodeInternalError
}

// SafeMessage returns a message safe to surface to an external caller:
// validation messages pass through verbatim (they describe caller input),
// everything else collapses to a generic, kind-appropriate message so
// internal details never leak.
func SafeMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "an unexpected error occurred"
	}
	switch appErr.Kind {
	case KindValidation:
		return appErr.Message
	case KindConflict:
		return "the request conflicts with existing state"
	case KindConfiguration:
		return "a configuration error occurred"
	case KindDependency:
		return "the request could not be satisfied due to an unresolved dependency"
	default:
		return "an internal error occurred"
	}
}

// LogFields renders err as a flat field map suitable for structured
// logging, mirroring the teacher's LogFields helper.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fields
	}
	fields["error_kind"] = string(appErr.Kind)
	fields["error_code"] = string(appErr.Code())
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain concatenates the messages of any number of non-nil errors into
// a single error, filtering out nils. Returns nil if every input is nil,
// and returns the lone error unmodified if only one is non-nil.
func Chain(errs ...error) error {
	nonNil := make([]string, 0, len(errs))
	var first error
	count := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		count++
		if first == nil {
			first = err
		}
		nonNil = append(nonNil, err.Error())
	}
	switch count {
	case 0:
		return nil
	case 1:
		return first
	default:
		return errors.New(strings.Join(nonNil, " -> "))
	}
}

// Predefined constructors, mirroring the teacher's NewValidationError/
// NewDatabaseError/etc. family.

func NewValidation(message string) *AppError { return New(KindValidation, message) }

func NewConflict(message string) *AppError { return New(KindConflict, message) }

func NewIntegrity(message string) *AppError { return New(KindIntegrity, message) }

func NewConfiguration(message string) *AppError { return New(KindConfiguration, message) }

func NewDependency(message string) *AppError { return New(KindDependency, message) }

func NewExternal(cause error, operation string) *AppError {
	return Wrapf(cause, KindExternal, "external operation failed: %s", operation)
}

func NewInfrastructure(cause error, operation string) *AppError {
	return Wrapf(cause, KindInfrastructure, "infrastructure operation failed: %s", operation)
}
