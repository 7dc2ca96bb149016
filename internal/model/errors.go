package model

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error produced by retrieval or a publisher wraps one of these,
// so callers can classify with errors.Is.
var (
	ErrRetrieval     = errors.New("retrieval failure")
	ErrAuth          = errors.New("auth failure")
	ErrTransfer      = errors.New("transfer failure")
	ErrProcessing    = errors.New("processing failure")
	ErrProtocol      = errors.New("protocol failure")
	ErrConfiguration = errors.New("configuration failure")
)

// Error is a classified failure. Msg is what ends up in the status report.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Op, e.Msg} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports which failure kind err carries, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrRetrieval, ErrAuth, ErrTransfer, ErrProcessing, ErrProtocol, ErrConfiguration} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
