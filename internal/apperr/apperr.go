package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindUnknownPackageMapping  Kind = "unknown_package_mapping"
	KindBlockedByOpenIncident  Kind = "blocked_by_open_incident"
	KindAlreadyCompleted       Kind = "already_completed"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindConcurrencyConflict    Kind = "concurrency_conflict"
	KindInternal               Kind = "internal"
)

// Error — типизированный отказ, который доходит до вызывающего как есть.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает только по Kind, если target — «голый» маркер вида ErrNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Msg == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrUnknownPackageMapping  = &Error{Kind: KindUnknownPackageMapping}
	ErrBlockedByOpenIncident  = &Error{Kind: KindBlockedByOpenIncident}
	ErrAlreadyCompleted       = &Error{Kind: KindAlreadyCompleted}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrConcurrencyConflict    = &Error{Kind: KindConcurrencyConflict}
)

func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf возвращает вид ошибки; всё нетипизированное считается internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
