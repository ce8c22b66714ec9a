// Package xapianerr defines the error taxonomy shared by every layer of
// the engine: block store, B-tree, table set, posting-list codec,
// inverter and matcher all report failures through a single Error type
// instead of ad-hoc sentinels, so that a caller several layers up can
// make one decision ("is this DatabaseCorrupt or DatabaseModified?")
// without knowing which layer raised it.
package xapianerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. These mirror the error kinds a caller needs
// to branch on; they are not Go types, just a closed enum, since the
// set is fixed and unlikely to grow.
type Kind int

const (
	// InvalidArgument: caller-supplied value out of range (term too
	// long, docid zero, unknown sort slot).
	InvalidArgument Kind = iota
	// InvalidOperation: operation disallowed in current state (write on
	// read-only handle, fetch documents from an MSet not derived from a
	// query).
	InvalidOperation
	// DatabaseOpening: path missing, permission denied, incompatible
	// version.
	DatabaseOpening
	// DatabaseVersion: correct magic but wrong format version.
	DatabaseVersion
	// DatabaseCorrupt: self-consistency check failed (missing root, bad
	// varint, checksum mismatch, chunk docid ordering violated).
	DatabaseCorrupt
	// DatabaseLock: another writer holds the lock.
	DatabaseLock
	// DatabaseModified: a reader detected its revision was recycled;
	// caller must reopen.
	DatabaseModified
	// DocNotFound: missing docid.
	DocNotFound
	// RangeError: index out of range.
	RangeError
	// NetworkError: only at the remote boundary; kept here so a
	// caller can branch on it uniformly even though this
	// package never raises it itself.
	NetworkError
	// Timeout: deadline/cancellation token expired or was cancelled.
	Timeout
	// Unimplemented: for deprecated or not-yet-supported features
	// invoked (e.g. sort-bands > 1).
	Unimplemented
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidOperation:
		return "InvalidOperation"
	case DatabaseOpening:
		return "DatabaseOpening"
	case DatabaseVersion:
		return "DatabaseVersion"
	case DatabaseCorrupt:
		return "DatabaseCorrupt"
	case DatabaseLock:
		return "DatabaseLock"
	case DatabaseModified:
		return "DatabaseModified"
	case DocNotFound:
		return "DocNotFound"
	case RangeError:
		return "RangeError"
	case NetworkError:
		return "NetworkError"
	case Timeout:
		return "Timeout"
	case Unimplemented:
		return "Unimplemented"
	default:
		return "Unknown"
	}
}

// Error is the engine's single error sum type. Table and Block are
// context filled in opportunistically by whichever layer detects the
// fault; both are zero-valued ("", 0) when not applicable.
type Error struct {
	Kind    Kind
	Table   string // e.g. "postlist", "termlist"; "" if not table-specific
	Block   uint32 // block number, 0 if not applicable
	Msg     string
	Errno   error // underlying OS error, if any
	wrapped error
}

func (e *Error) Error() string {
	s := e.Kind.String() + ": " + e.Msg
	if e.Table != "" {
		s += fmt.Sprintf(" (table=%s", e.Table)
		if e.Block != 0 {
			s += fmt.Sprintf(", block=%d", e.Block)
		}
		s += ")"
	}
	if e.Errno != nil {
		s += ": " + e.Errno.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	if e.wrapped != nil {
		return e.wrapped
	}
	return e.Errno
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithTable returns a copy of e annotated with a table name.
func (e *Error) WithTable(table string) *Error {
	c := *e
	c.Table = table
	return &c
}

// WithBlock returns a copy of e annotated with a block number.
func (e *Error) WithBlock(block uint32) *Error {
	c := *e
	c.Block = block
	return &c
}

// Wrap returns a copy of e with an underlying cause attached, visible
// via errors.Unwrap / errors.Is.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.wrapped = cause
	return &c
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == kind
	}
	return false
}

// Corrupt is a convenience constructor for the commonest error: a
// self-consistency check failing while decoding on-disk state.
func Corrupt(table string, format string, args ...interface{}) *Error {
	return Newf(DatabaseCorrupt, format, args...).WithTable(table)
}
