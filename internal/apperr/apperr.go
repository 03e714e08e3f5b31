// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package apperr defines the error kinds shared across the control-plane API,
// ban orchestrator, and auth subsystem. Kinds are modeled as a tagged
// variant rather than distinct Go types, matching spec.md §7 and §9's
// "Ok{data} | Err{kind, message}" boundary representation.
package apperr

import "fmt"

// Kind identifies the category of an Error for HTTP-status mapping and
// client-facing error_type fields.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindAuth          Kind = "AuthError"
	KindAlreadyBanned Kind = "AlreadyBanned"
	KindNotFound      Kind = "NotFound"
	KindKindMismatch  Kind = "KindMismatch"
	KindCoveredByCIDR Kind = "CoveredByCIDR"
	KindFirewall      Kind = "FirewallError"
	KindStore         Kind = "StoreError"
	KindUpstream      Kind = "UpstreamError"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
