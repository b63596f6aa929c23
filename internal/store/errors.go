package store

import (
	"errors"
	"fmt"
)

// Kind classifies a store-level failure the way the service façade needs
// to map it onto an HTTP-friendly category (spec §7).
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalidInput
	KindUnavailable
)

// Error is a typed store failure. Component methods return *Error (or wrap
// one) instead of bare errors so the service façade can switch on Kind
// without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid input"
	case KindUnavailable:
		return "store unavailable"
	default:
		return "internal"
	}
}

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// New builds a typed store error of the given kind. Exported for callers
// outside the package (the service façade) that need to surface the same
// typed-error contract for their own validation failures (spec §7).
func New(kind Kind, op string, err error) error {
	return newErr(kind, op, err)
}

// NewInvalidInput is a convenience for the common KindInvalidInput case.
func NewInvalidInput(op string, err error) error {
	return newErr(KindInvalidInput, op, err)
}

// NotFound reports whether err is (or wraps) a not-found store error.
func NotFound(err error) bool { return hasKind(err, KindNotFound) }

// Conflict reports whether err is (or wraps) a conflict store error.
func Conflict(err error) bool { return hasKind(err, KindConflict) }

// InvalidInput reports whether err is (or wraps) an invalid-input store error.
func InvalidInput(err error) bool { return hasKind(err, KindInvalidInput) }

// Unavailable reports whether err is (or wraps) a store-unavailable error.
func Unavailable(err error) bool { return hasKind(err, KindUnavailable) }

func hasKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

var (
	// ErrNotFound is returned by lookups that found no matching row.
	ErrNotFound = newErr(KindNotFound, "store", errors.New("not found"))
	// ErrStaleReviewCount is the conflict error for a submit_review replayed
	// with a review_count that no longer matches the card (spec §4.7, §7).
	// Storage.SubmitReview does not return it: it reports such a replay as
	// applied=false with a nil error.
	ErrStaleReviewCount = newErr(KindConflict, "store", errors.New("stale review_count"))
)
