// AegisTrader - Distributed Service Coordination Core
// Copyright 2026 AegisTrader Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/ryanflavor/aegis-trader

// Package errs defines the structured error envelope carried on RPC
// replies and the error taxonomy every component maps its failures
// into before it crosses a component boundary.
package errs

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/ryanflavor/aegis-trader/internal/bus"
)

// Code is one of the defined error-envelope codes. Names, not wire
// values, are what callers branch on.
type Code string

const (
	CodeNotActive        Code = "NOT_ACTIVE"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL"
	CodeUnavailable      Code = "UNAVAILABLE"
)

// Error is the structured error envelope: {code, message, details?}.
// It implements the standard error interface and is the only error
// type that crosses an RPC boundary — every handler translates
// whatever it catches into one of these before replying.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns a copy of e with one detail field set.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := &Error{Code: e.Code, Message: e.Message, Details: make(map[string]any, len(e.Details)+1)}
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return cp
}

// Is reports whether err is an *Error carrying the given code. It
// unwraps with errors.As, so a wrapped *Error still matches, and callers
// write Is(err, code) rather than a type assertion. *Error has no Is
// method of its own, so errors.Is does not match on a Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// NotActive is the typed error an RPC handler returns when the
// instance's election state is not ACTIVE. The message carries the
// caller-usable hint: retry with discovery.
func NotActive(service string) *Error {
	return New(CodeNotActive, "instance is not the active leader for "+service+"; retry with discovery")
}

// Unavailable is returned by the sticky RPC client when retries are
// exhausted without a successful call.
func Unavailable(service string) *Error {
	return Newf(CodeUnavailable, "no active instance of %s could be reached", service)
}

// knownCodes enumerates the defined envelope codes, so Decode can tell a
// genuine error envelope from a reply payload that merely happens to be
// a JSON object with a "code" field.
var knownCodes = map[Code]bool{
	CodeNotActive: true, CodeValidationFailed: true, CodeNotFound: true,
	CodeConflict: true, CodeTimeout: true, CodeInternal: true, CodeUnavailable: true,
}

// Decode attempts to parse data as an error envelope. It returns
// (nil, false) if data does not decode as JSON or its code field is not
// one of the defined codes — the caller's response type, not Error,
// should then own parsing it.
func Decode(data []byte) (*Error, bool) {
	var e Error
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	if !knownCodes[e.Code] {
		return nil, false
	}
	return &e, true
}

// FromBusError maps a bus-layer sentinel error (internal/bus) to the
// error-envelope taxonomy. Validation
// and fatal errors are never produced here — callers raise those
// directly with New/Newf at the point of detection.
func FromBusError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, bus.ErrTransportDisconnected):
		return Newf(CodeUnavailable, "transport disconnected: %v", err)
	case errors.Is(err, bus.ErrOpTimeout):
		return Newf(CodeTimeout, "operation timed out: %v", err)
	case errors.Is(err, bus.ErrRevisionMismatch):
		return Newf(CodeConflict, "revision mismatch: %v", err)
	case errors.Is(err, bus.ErrNotFound):
		return Newf(CodeNotFound, "not found: %v", err)
	case errors.Is(err, bus.ErrAlreadyExists):
		return Newf(CodeConflict, "already exists: %v", err)
	default:
		return Newf(CodeInternal, "internal error: %v", err)
	}
}
