package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Callers switch on Kind rather than on
// message text.
type Kind int

// Failure kinds.
const (
	KindInternal Kind = iota
	KindInvalidStake
	KindAlreadyActive
	KindInsufficientBalance
	KindSessionNotFound
	KindAlreadyCompleted
	KindInvalidCashoutTime
	KindInconsistentState
)

var kindNames = map[Kind]string{
	KindInternal:            "internal",
	KindInvalidStake:        "invalid_stake",
	KindAlreadyActive:       "already_active",
	KindInsufficientBalance: "insufficient_balance",
	KindSessionNotFound:     "session_not_found",
	KindAlreadyCompleted:    "already_completed",
	KindInvalidCashoutTime:  "invalid_cashout_time",
	KindInconsistentState:   "inconsistent_state",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds lists every failure kind.
func Kinds() []Kind {
	return []Kind{
		KindInternal,
		KindInvalidStake,
		KindAlreadyActive,
		KindInsufficientBalance,
		KindSessionNotFound,
		KindAlreadyCompleted,
		KindInvalidCashoutTime,
		KindInconsistentState,
	}
}

// Error is the error type returned by Engine operations.
type Error struct {
	Kind      Kind
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInternal            = &Error{Kind: KindInternal}
	ErrInvalidStake        = &Error{Kind: KindInvalidStake}
	ErrAlreadyActive       = &Error{Kind: KindAlreadyActive}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrSessionNotFound     = &Error{Kind: KindSessionNotFound}
	ErrAlreadyCompleted    = &Error{Kind: KindAlreadyCompleted}
	ErrInvalidCashoutTime  = &Error{Kind: KindInvalidCashoutTime}
	ErrInconsistentState   = &Error{Kind: KindInconsistentState}
)

// KindOf returns the Kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, sessionID string, err error) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Err: err}
}
