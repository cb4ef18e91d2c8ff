package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Kind discriminates engine errors so callers can branch without string matching.
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindAlreadyFinalized Kind = "ALREADY_FINALIZED"
	KindConflict         Kind = "CONFLICT"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindNoActiveStep     Kind = "NO_ACTIVE_STEP"
	KindNoApprovers      Kind = "NO_APPROVERS"
	KindInvalidContext   Kind = "INVALID_CONTEXT"
	KindAmountOutOfTiers Kind = "AMOUNT_OUT_OF_TIERS"
	KindUnsupported      Kind = "UNSUPPORTED"
	KindAlreadyEscalated Kind = "ALREADY_ESCALATED"
	KindInternal         Kind = "INTERNAL"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyFinalized = &Error{Kind: KindAlreadyFinalized}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrNoActiveStep     = &Error{Kind: KindNoActiveStep}
	ErrNoApprovers      = &Error{Kind: KindNoApprovers}
	ErrInvalidContext   = &Error{Kind: KindInvalidContext}
	ErrAmountOutOfTiers = &Error{Kind: KindAmountOutOfTiers}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrAlreadyEscalated = &Error{Kind: KindAlreadyEscalated}
)

var userMessages = map[Kind]string{
	KindNotFound:         "workflow not found",
	KindAlreadyFinalized: "this workflow has already been finalized",
	KindConflict:         "this was already decided by someone else; refresh and try again",
	KindPermissionDenied: "you are not allowed to act on the current step",
	KindNoActiveStep:     "the workflow has no active step",
	KindNoApprovers:      "no approver could be found for a required step; assign the missing role and resubmit",
	KindInvalidContext:   "the request is missing or has invalid workflow data",
	KindAmountOutOfTiers: "the amount does not match any configured approval tier",
	KindUnsupported:      "this operation is not supported for the workflow type",
	KindAlreadyEscalated: "the step has already been escalated",
	KindInternal:         "internal error",
}

// Error is the typed error returned by workflow operations.
type Error struct {
	Kind       Kind
	Op         string
	InstanceID string
	Err        error
}

// NewError builds an *Error with a formatted detail message.
func NewError(kind Kind, op, instanceID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, InstanceID: instanceID, Err: fmt.Errorf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind Kind, op, instanceID string, err error) *Error {
	return &Error{Kind: kind, Op: op, InstanceID: instanceID, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.InstanceID != "" {
		msg += " (instance " + e.InstanceID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Message returns the user-facing text for the error's kind.
func (e *Error) Message() string {
	if m, ok := userMessages[e.Kind]; ok {
		return m
	}
	return userMessages[KindInternal]
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindInternal
}
