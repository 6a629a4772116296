// Package failure defines the error taxonomy shared by every pipeline stage.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindParse    Kind = "parse_error"
	KindSchema   Kind = "schema_error"
	KindAuth     Kind = "auth_error"
	KindNotFound Kind = "not_found"
	KindNetwork  Kind = "network_error"
)

// Error is a classified failure. Op names the operation that failed and Item,
// when set, the record (submission id, row, file) it failed on.
type Error struct {
	Kind Kind
	Op   string
	Item string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Item != "" {
		msg += " [" + e.Item + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Parse(op string, err error) *Error    { return newError(KindParse, op, err) }
func Schema(op string, err error) *Error   { return newError(KindSchema, op, err) }
func Auth(op string, err error) *Error     { return newError(KindAuth, op, err) }
func NotFound(op string, err error) *Error { return newError(KindNotFound, op, err) }
func Network(op string, err error) *Error  { return newError(KindNetwork, op, err) }

// Parsef builds a parse error from a format string.
func Parsef(op, format string, args ...any) *Error {
	return Parse(op, fmt.Errorf(format, args...))
}

// Schemaf builds a schema error from a format string.
func Schemaf(op, format string, args ...any) *Error {
	return Schema(op, fmt.Errorf(format, args...))
}

// For attaches the record the failure applies to.
func (e *Error) For(item string) *Error {
	e.Item = item
	return e
}

// KindOf returns the kind of the first classified error in err's chain, or ""
// when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is a transient network failure.
func IsRetryable(err error) bool {
	return Is(err, KindNetwork)
}
