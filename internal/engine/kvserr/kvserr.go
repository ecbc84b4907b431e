// Package kvserr defines the single flat error type shared by every engine,
// the wire protocol, and the server.
package kvserr

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong. Callers switch on Kind, never on the
// formatted message.
type Kind int

const (
	// NotFound means a remove targeted a key that isn't in the index.
	NotFound Kind = iota
	// CorruptState means the on-disk layout violates an invariant: an id
	// gap, a missing or extra file, a truncated record, a leftover
	// .compact-lock, or a position that decodes to the wrong variant.
	CorruptState
	// IoError wraps any filesystem or socket failure.
	IoError
	// CodecError is an encode/decode failure on a record or envelope.
	CodecError
	// ProtocolError is a ping/pong mismatch, unexpected response shape,
	// or version skew on the wire.
	ProtocolError
	// ConfigMismatch means the --engine flag disagrees with kvs.conf.
	ConfigMismatch
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case CorruptState:
		return "CorruptState"
	case IoError:
		return "IoError"
	case CodecError:
		return "CodecError"
	case ProtocolError:
		return "ProtocolError"
	case ConfigMismatch:
		return "ConfigMismatch"
	default:
		return "Unknown"
	}
}

// Error is the flat error type surfaced uniformly by every engine, the
// codec, the protocol layer, and the server.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a bare Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error that wraps an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
