// Package apperrors defines the structured error type shared by stores,
// providers and the run coordinator.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error for callers and alerting.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUpstream   Kind = "upstream"
	KindStorage    Kind = "storage"
	KindDelivery   Kind = "delivery"
	KindInternal   Kind = "internal"
)

// ErrNotFound is wrapped by stores when a keyed lookup has no match.
var ErrNotFound = errors.New("not found")

// Error carries a kind, the failing operation and context fields.
type Error struct {
	Kind   Kind
	Op     string
	Fields map[string]any
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Fields[k])
		}
		b.WriteByte(']')
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind without a cause.
func New(kind Kind, op, msg string, fields map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Fields: fields, Err: errors.New(msg)}
}

// Wrap attaches a kind and context to err. A nil err stays nil.
func Wrap(err error, kind Kind, op string, fields map[string]any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Fields: fields, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldsOf returns the context fields of the outermost *Error, if any.
func FieldsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Message returns the cause text of the innermost *Error in err's chain,
// without ops or fields. Errors that carry no *Error are returned as is.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var inner *Error
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ae, ok := e.(*Error); ok {
			inner = ae
		}
	}
	if inner == nil || inner.Err == nil {
		return err.Error()
	}
	return inner.Err.Error()
}

// HTTPStatus maps an error kind to a response status code. Every failure
// that is not the caller's fault is a 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
