// Package berr defines the typed error taxonomy shared across the core:
// structural, resource, transport, integrity, and invariant failures, per
// the behavioral classes the session protocol and checker both need to
// report without unwinding through the session loop.
package berr

import (
	"errors"
	"fmt"
)

// Class is the broad behavioral category of an error, used by the session
// protocol to decide how to respond and by the checker to decide whether to
// keep scanning.
type Class int

const (
	ClassStructural Class = iota
	ClassResource
	ClassTransport
	ClassIntegrity
	ClassInvariant
)

func (c Class) String() string {
	switch c {
	case ClassStructural:
		return "structural"
	case ClassResource:
		return "resource"
	case ClassTransport:
		return "transport"
	case ClassIntegrity:
		return "integrity"
	case ClassInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Code names a specific failure mode. Codes map 1:1 onto the error kinds
// named throughout spec.md.
type Code int

const (
	CodeUnknown Code = iota

	// Structural (EFC / DR)
	CodeBadMagic
	CodeTruncated
	CodeBlockIndexMismatch
	CodeUnknownEncoding
	CodeAttributesBlockCorrupt
	CodeDirectoryCorrupt

	// Resource (SC / AS)
	CodeAddedFileExceedsStorageLimit
	CodeNameAlreadyExistsInDirectory
	CodeCouldNotLockStoreAccount
	CodeOutOfSpace

	// Transport (SP)
	CodeConnectionClosed
	CodeTimeout

	// Integrity (SOS)
	CodeFileIsDamagedNotRecoverable
	CodeStripeDegraded

	// Invariant (internal sanity)
	CodeCacheInvariantViolation
	CodeCounterInvariantViolation

	// Generic
	CodeObjectNotFound
	CodeNotLoggedIn
	CodeReadOnlySession
)

var classOf = map[Code]Class{
	CodeBadMagic:                     ClassStructural,
	CodeTruncated:                    ClassStructural,
	CodeBlockIndexMismatch:           ClassStructural,
	CodeUnknownEncoding:              ClassStructural,
	CodeAttributesBlockCorrupt:       ClassStructural,
	CodeDirectoryCorrupt:             ClassStructural,
	CodeAddedFileExceedsStorageLimit: ClassResource,
	CodeNameAlreadyExistsInDirectory: ClassResource,
	CodeCouldNotLockStoreAccount:     ClassResource,
	CodeOutOfSpace:                   ClassResource,
	CodeConnectionClosed:             ClassTransport,
	CodeTimeout:                      ClassTransport,
	CodeFileIsDamagedNotRecoverable:  ClassIntegrity,
	CodeStripeDegraded:               ClassIntegrity,
	CodeCacheInvariantViolation:      ClassInvariant,
	CodeCounterInvariantViolation:    ClassInvariant,
	CodeObjectNotFound:               ClassStructural,
	CodeNotLoggedIn:                  ClassResource,
	CodeReadOnlySession:              ClassResource,
}

func (c Code) String() string {
	switch c {
	case CodeBadMagic:
		return "BadMagic"
	case CodeTruncated:
		return "Truncated"
	case CodeBlockIndexMismatch:
		return "BlockIndexMismatch"
	case CodeUnknownEncoding:
		return "UnknownEncoding"
	case CodeAttributesBlockCorrupt:
		return "AttributesBlockCorrupt"
	case CodeDirectoryCorrupt:
		return "DirectoryCorrupt"
	case CodeAddedFileExceedsStorageLimit:
		return "AddedFileExceedsStorageLimit"
	case CodeNameAlreadyExistsInDirectory:
		return "NameAlreadyExistsInDirectory"
	case CodeCouldNotLockStoreAccount:
		return "CouldNotLockStoreAccount"
	case CodeOutOfSpace:
		return "OutOfSpace"
	case CodeConnectionClosed:
		return "ConnectionClosed"
	case CodeTimeout:
		return "Timeout"
	case CodeFileIsDamagedNotRecoverable:
		return "FileIsDamagedNotRecoverable"
	case CodeStripeDegraded:
		return "StripeDegraded"
	case CodeCacheInvariantViolation:
		return "CacheInvariantViolation"
	case CodeCounterInvariantViolation:
		return "CounterInvariantViolation"
	case CodeObjectNotFound:
		return "ObjectNotFound"
	case CodeNotLoggedIn:
		return "NotLoggedIn"
	case CodeReadOnlySession:
		return "ReadOnlySession"
	default:
		return "Unknown"
	}
}

// Class returns the behavioral class for a code.
func (c Code) Class() Class {
	if cl, ok := classOf[c]; ok {
		return cl
	}
	return ClassStructural
}

// Error is a typed, wrapped error. Op names the failing operation
// ("efc.Verify", "sos.OpenRead") for log correlation.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, berr.New(code, "", nil)) match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *berr.Error, and CodeUnknown otherwise.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}

// Fatal marks the invariant class reserved for internal sanity violations —
// the session aborts and the checker recovers on next run (spec.md §7).
func Fatal(op string, err error) *Error {
	return New(CodeCacheInvariantViolation, op, err)
}
