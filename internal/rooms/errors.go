package rooms

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies room errors for the client.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindState      ErrorKind = "state"
	KindContent    ErrorKind = "content"
	KindInternal   ErrorKind = "internal"
)

// Error is a non-fatal failure of a room operation. Code is a stable
// machine-readable identifier.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidPayload = &Error{KindValidation, "invalid-payload", "malformed request"}
	ErrRoomNotFound   = &Error{KindValidation, "room-not-found", "no room with that code"}
	ErrNotMember      = &Error{KindValidation, "not-member", "you are not in this room"}

	ErrRoomFull         = &Error{KindState, "room-full", "room is full"}
	ErrRaceInProgress   = &Error{KindState, "race-in-progress", "race already started"}
	ErrNotHost          = &Error{KindState, "not-host", "only the host can do that"}
	ErrSettingsLocked   = &Error{KindState, "settings-locked", "settings can only change while waiting"}
	ErrKicked           = &Error{KindState, "kicked", "you were removed from this room"}
	ErrNotEnoughPlayers = &Error{KindState, "not-enough-players", "need at least two players"}
	ErrNotAllReady      = &Error{KindState, "not-all-ready", "not every player is ready"}
	ErrNotTimed         = &Error{KindState, "not-timed", "room is not in timed mode"}
	ErrNotFinished      = &Error{KindState, "not-finished", "race has not finished"}
	ErrRaceNotRunning   = &Error{KindState, "race-not-running", "no race is running"}
	ErrRaceCompleted    = &Error{KindState, "race-completed", "race is over, start a new one"}
	ErrRoomClosed       = &Error{KindState, "room-closed", "room is closed"}

	ErrNoContent = &Error{KindContent, "no-content", "no text matches the requested filters"}
)

// invalid returns a validation error with a specific message.
func invalid(format string, args ...any) error {
	return &Error{KindValidation, ErrInvalidPayload.Code, fmt.Sprintf(format, args...)}
}

// KindOf classifies any error returned by this package.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindState
	}
	return KindInternal
}

// CodeOf returns the stable code for err.
func CodeOf(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "internal"
}
