// Package syncerr defines the error kinds produced by a sync and how each of
// them is disposed of: fatal kinds abort the in-flight sync, every other kind
// degrades gracefully.
package syncerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindCacheInvalid            Kind = "cache-invalid"
	KindCacheCorrupt            Kind = "cache-corrupt"
	KindUnsupportedToolVersion  Kind = "unsupported-tool-version"
	KindDanglingModuleReference Kind = "dangling-module-reference"
	KindNoVariantsAvailable     Kind = "no-variants-available"
	KindVariantConflict         Kind = "variant-conflict"
	KindPersistFailure          Kind = "persist-failure"
	KindInvalidModel            Kind = "invalid-model"
	KindFetch                   Kind = "fetch"
	KindCancelled               Kind = "cancelled"
	KindModuleCycle             Kind = "module-cycle"
)

// Fatal reports whether an error of this kind aborts the sync.
func (k Kind) Fatal() bool {
	switch k {
	case KindUnsupportedToolVersion, KindDanglingModuleReference, KindInvalidModel, KindFetch, KindCancelled:
		return true
	}
	return false
}

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Newf(kind Kind, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal reports whether err aborts a sync. Errors that carry no kind are
// treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == "" || k.Fatal()
}
