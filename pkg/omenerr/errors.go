// pkg/omenerr/errors.go
// Package omenerr defines the error-kind taxonomy shared by every storage
// core package: NotFound, AlreadyExists, Io, Corruption, InvalidArgument,
// Unavailable and Internal. Packages define plain sentinel errors
// (errors.New) for their own conditions and wrap them with a Kind via New
// where they return them, so callers can branch on Kind without
// depth-first type assertions through the call stack.
package omenerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller-visible handling, per the storage
// core's error taxonomy. Corruption and Internal are fatal for the engine
// instance; the rest are ordinary control flow.
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package's
	// constructors.
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindIo
	KindCorruption
	KindInvalidArgument
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindIo:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind leave the engine instance in a
// read-only or closed state for all subsequent operations.
func (k Kind) Fatal() bool {
	return k == KindCorruption || k == KindInternal
}

// Error wraps an underlying cause with a Kind and optional context.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "wal.append", "valuestore.get"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error for op, wrapping err under kind. If err is nil, New
// returns nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking wrapped errors. Returns
// KindUnknown if err does not carry a Kind (e.g. it is a bare sentinel
// error from a lower layer that the caller did not classify).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err classifies as kind, i.e. whether the first *Error
// in err's chain (see KindOf) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
