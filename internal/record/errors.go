package record

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a store failure.
type Kind int

const (
	// KindNotFound means no record matched the id or filter.
	KindNotFound Kind = iota + 1
	// KindIO means a file system operation failed.
	KindIO
	// KindSerialization means stored content is malformed or has an
	// incompatible shape.
	KindSerialization
	// KindBackend means the remote store was unreachable or a query failed.
	KindBackend
	// KindInvalid means the caller passed an unusable table name or record.
	KindInvalid
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindBackend:
		return "backend"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against *Error values.
var (
	ErrNotFound      = errors.New("record not found")
	ErrIO            = errors.New("store io failure")
	ErrSerialization = errors.New("malformed document")
	ErrBackend       = errors.New("remote backend failure")
	ErrInvalid       = errors.New("invalid input")
)

// Error is the typed failure returned by store operations.
type Error struct {
	Kind  Kind
	Op    string // store operation, e.g. "update"
	Table string
	ID    string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
		if e.ID != "" {
			b.WriteString("/")
			b.WriteString(e.ID)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrIO:
		return e.Kind == KindIO
	case ErrSerialization:
		return e.Kind == KindSerialization
	case ErrBackend:
		return e.Kind == KindBackend
	case ErrInvalid:
		return e.Kind == KindInvalid
	}
	return false
}

// NotFound builds a KindNotFound error.
func NotFound(op, table, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Table: table, ID: id}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, op, table string, err error) error {
	return &Error{Kind: kind, Op: op, Table: table, Err: err}
}

// Invalidf builds a KindInvalid error with a formatted message.
func Invalidf(op, table, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Table: table, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable returns true if the error is likely to succeed on retry.
// IO and backend failures can be transient; everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindIO, KindBackend:
		return true
	default:
		return false
	}
}
