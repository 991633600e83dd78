/*
Package core provides the central machinery of domclass: the bounded executor that guards candidate
extraction, the sharded scheduler used for parallel DNS validation, and the error taxonomy shared by
every stage of the classification pipeline.
*/
package core

/*
domclass — extract and classify Internet domains from raw text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Only KindConfiguration is surfaced to callers;
// every other kind is absorbed by the stage that produced it and treated as "no result".
type Kind int

const (
	// KindTimeout covers DNS query, origin lookup and extraction deadlines.
	KindTimeout Kind = iota + 1
	// KindNotFound covers NXDOMAIN and absent cache entries.
	KindNotFound
	// KindMalformedAnswer covers unexpected TXT or record formats and malformed service bodies.
	KindMalformedAnswer
	// KindSourceUnavailable covers an unreachable TLD list or reputation service.
	KindSourceUnavailable
	// KindConfiguration indicates caller misuse (bad resolver address, bad pattern). Fails fast.
	KindConfiguration
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindMalformedAnswer:
		return "malformed_answer"
	case KindSourceUnavailable:
		return "source_unavailable"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying the operation that failed.
// It implements the standard `error` interface and unwraps to the underlying cause.
type Error struct {
	Kind Kind   // Failure class.
	Op   string // Operation, e.g. "dns query foo.lu/A".
	Err  error  // Underlying cause, may be nil.
}

// NewError creates a classified error.
//
// Parameters:
//
//	kind: the failure class.
//	op: a short description of the failed operation.
//	err: the underlying cause (may be nil).
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the standard Go `error` interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is lets sentinel kinds match any Error of the same Kind, e.g. errors.Is(err, ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// IsRetryable reports whether the condition is transient. Timeouts and unavailable
// sources may clear up; configuration, not-found and malformed answers will not.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindSourceUnavailable
}

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable is a helper to check retryability without type-asserting.
// A nil or unclassified error is not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrMalformedAnswer   = &Error{Kind: KindMalformedAnswer}
	ErrSourceUnavailable = &Error{Kind: KindSourceUnavailable}
	ErrConfiguration     = &Error{Kind: KindConfiguration}

	// ErrQueueFull indicates that a worker's queue is at capacity. Retried by SubmitWait.
	ErrQueueFull = errors.New("queue full")
	// ErrWorkerShutdown indicates the scheduler no longer accepts work.
	ErrWorkerShutdown = errors.New("worker shutdown")
)
