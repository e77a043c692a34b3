// Package apperr defines the typed failures returned by the classroom
// market services. Expected conditions (not found, insufficient funds, ...)
// are *Error values; anything else coming out of storage is wrapped as
// KindStorage.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidAmount
	KindInvalidQuantity
	KindInvalidInput
	KindInsufficientFunds
	KindInsufficientShares
	KindDuplicateUsername
	KindDuplicateCode
	KindUnauthorized
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidAmount:
		return "InvalidAmount"
	case KindInvalidQuantity:
		return "InvalidQuantity"
	case KindInvalidInput:
		return "InvalidInput"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindInsufficientShares:
		return "InsufficientShares"
	case KindDuplicateUsername:
		return "DuplicateUsername"
	case KindDuplicateCode:
		return "DuplicateCode"
	case KindUnauthorized:
		return "Unauthorized"
	case KindStorage:
		return "StorageFailure"
	}
	return "Unknown"
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidAmount      = &Error{Kind: KindInvalidAmount}
	ErrInvalidQuantity    = &Error{Kind: KindInvalidQuantity}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientShares = &Error{Kind: KindInsufficientShares}
	ErrDuplicateUsername  = &Error{Kind: KindDuplicateUsername}
	ErrDuplicateCode      = &Error{Kind: KindDuplicateCode}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrStorage            = &Error{Kind: KindStorage}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// Storage wraps an unexpected persistence fault. An err that already is an
// *Error is returned untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown when err carries none
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}
