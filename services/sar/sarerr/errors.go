// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sarerr defines the error taxonomy shared by the dataset,
// lifecycle, report and HTTP layers.
//
// Every failure surfaced to a client is an *Error whose Kind is one of the
// sentinels below, so callers classify with errors.Is:
//
//	if errors.Is(err, sarerr.ErrPrecondition) { ... }
//
// The message of an *Error is shown to the user verbatim.
package sarerr

import (
	"errors"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrPrecondition indicates a required prior state is missing,
	// for example no model has been created yet.
	ErrPrecondition = errors.New("precondition failed")

	// ErrParse indicates malformed input data.
	ErrParse = errors.New("parse error")

	// ErrGeneration indicates the engine produced a malformed or empty sample.
	ErrGeneration = errors.New("generation error")

	// ErrDomain indicates a sample lies outside the model's fitted domain.
	ErrDomain = errors.New("domain error")

	// ErrFit indicates the engine failed to fit a model.
	ErrFit = errors.New("fit error")

	// ErrIO indicates a file, network or subprocess failure.
	ErrIO = errors.New("io error")

	// ErrNotLoaded indicates an operation on an empty DataSet.
	ErrNotLoaded = errors.New("not loaded")
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a classified failure.
type Error struct {
	// Kind is one of the package sentinels.
	Kind error

	// Op names the operation that failed, e.g. "lifecycle.MakeModel".
	Op string

	// Msg is the user-facing message. Defaults to Kind's text.
	Msg string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// New returns an *Error of the given kind.
func New(kind error, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap returns an *Error of the given kind carrying cause.
func Wrap(kind error, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Cause: cause}
}

// Precondition is shorthand for New(ErrPrecondition, op, msg).
func Precondition(op, msg string) *Error {
	return New(ErrPrecondition, op, msg)
}

// NotLoaded is shorthand for New(ErrNotLoaded, op, msg).
func NotLoaded(op, msg string) *Error {
	return New(ErrNotLoaded, op, msg)
}

// Kind reports the sentinel err was classified with, or nil if err is not
// an *Error.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// Code returns a stable upper-case code for the kind of err, used in HTTP
// error bodies and metric labels. Unclassified errors are "INTERNAL".
func Code(err error) string {
	switch Kind(err) {
	case ErrPrecondition:
		return "PRECONDITION_FAILED"
	case ErrParse:
		return "PARSE_ERROR"
	case ErrGeneration:
		return "GENERATION_ERROR"
	case ErrDomain:
		return "DOMAIN_ERROR"
	case ErrFit:
		return "FIT_ERROR"
	case ErrIO:
		return "IO_ERROR"
	case ErrNotLoaded:
		return "NOT_LOADED"
	default:
		return "INTERNAL"
	}
}
