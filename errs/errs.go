// Package errs defines the error-kind taxonomy shared by watchers, adapters,
// the executor, and the orchestrator. Every error that crosses a component
// boundary is wrapped as one of these kinds so callers can classify it
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error classes a component boundary may raise.
type Kind string

const (
	// KindVault covers filesystem operations: cross-device moves, permission
	// errors, missing directories. The vault never retries these itself.
	KindVault Kind = "vault_error"

	// KindPrecondition covers invariant violations: a plan file outside its
	// expected folder, a payload schema mismatch, an unrecognized action
	// type. Never retried; surfaced as failed with a remediation intake.
	KindPrecondition Kind = "precondition_error"

	// KindAuth covers missing, expired, or insufficiently scoped adapter
	// credentials. Not retried; watcher health moves to degraded, executor
	// moves the plan to failed.
	KindAuth Kind = "auth_error"

	// KindTransient covers network timeouts, 5xx responses, and 429s.
	// Retried per the executor's backoff policy unless the action is
	// tagged no-retry.
	KindTransient Kind = "transient_error"

	// KindPermanentUpstream covers 4xx responses not covered by transient
	// (validation rejections, not-found, conflict). Not retried.
	KindPermanentUpstream Kind = "permanent_upstream_error"

	// KindConcurrency covers contention or queue overflow. The plan is
	// rescheduled; this is not counted as a failure.
	KindConcurrency Kind = "concurrency_error"

	// KindCancelled covers cooperative cancellation observed before the
	// upstream call was dispatched.
	KindCancelled Kind = "cancelled"
)

// Error wraps an underlying error with a classification kind and a short
// human-readable detail, mirroring the wrap-don't-stringly-type idiom used
// throughout the codebase.
type Error struct {
	Kind   Kind
	Detail string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.err
}

// New wraps err as the given kind with a detail message. err may be nil, in
// which case Detail alone describes the failure.
func New(kind Kind, detail string, err error) error {
	return &Error{Kind: kind, Detail: detail, err: err}
}

// Vault wraps a filesystem error.
func Vault(detail string, err error) error { return New(KindVault, detail, err) }

// Precondition wraps an invariant violation.
func Precondition(detail string, err error) error { return New(KindPrecondition, detail, err) }

// Auth wraps an authentication/authorization failure.
func Auth(detail string, err error) error { return New(KindAuth, detail, err) }

// Transient wraps a retryable upstream failure.
func Transient(detail string, err error) error { return New(KindTransient, detail, err) }

// PermanentUpstream wraps a non-retryable upstream rejection.
func PermanentUpstream(detail string, err error) error {
	return New(KindPermanentUpstream, detail, err)
}

// Concurrency wraps a contention or backpressure condition.
func Concurrency(detail string, err error) error { return New(KindConcurrency, detail, err) }

// Cancelled wraps a cooperative-cancellation outcome.
func Cancelled(detail string, err error) error { return New(KindCancelled, detail, err) }

// As extracts the *Error wrapper and reports whether err is one of ours.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsRetryable reports whether the executor's retry layer should re-invoke
// the call that produced err. Only transient errors are retryable, and the
// caller must additionally honor any no-retry tag on the action type.
func IsRetryable(err error) bool {
	return Is(err, KindTransient)
}
