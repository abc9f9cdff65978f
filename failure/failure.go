// Package failure classifies the errors produced while fingerprinting files
// and persisting baselines.
package failure

import (
	"context"
	"errors"
	"os"
)

// Kind names a class of failure. Kinds are written verbatim into baselines
// and reports.
type Kind string

const (
	PathUnreadable       Kind = "PathUnreadable"
	ReadLimitExceeded    Kind = "ReadLimitExceeded"
	IdentityLookupFailed Kind = "IdentityLookupFailed"
	BaselineMissing      Kind = "BaselineMissing"
	BaselineCorrupt      Kind = "BaselineCorrupt"
	BaselineWriteFailed  Kind = "BaselineWriteFailed"
	AuxiliaryUnavailable Kind = "AuxiliaryUnavailable"
	ScanFailed           Kind = "ScanFailed"
)

// Error is a classified error, optionally tied to a path.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Path == "" && other.Err == nil && other.Kind == e.Kind
}

// New wraps err with a kind and path.
func New(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Classify maps an I/O error for path onto a kind: timeouts become
// ReadLimitExceeded, everything else (missing, permission denied, symlink
// loops, special files) is PathUnreadable. Classified errors keep their kind.
func Classify(path string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return New(ReadLimitExceeded, path, err)
	}
	return New(PathUnreadable, path, err)
}
