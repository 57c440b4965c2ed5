// Package fault defines the closed set of error codes that travel from the
// vision engines up to the wire.
//
// Engines return *Error values. The orchestrator passes them through
// unchanged and the dispatcher turns them into response envelopes. Any error
// that is not an *Error is "unexpected" and is coerced to
// VISION_FAILED("internal") at the dispatcher boundary.
package fault

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Code categorizes a failure on the wire.
type Code string

const (
	// CodeBadRequest indicates malformed or invalid input. Never retried.
	CodeBadRequest Code = "BAD_REQUEST"

	// CodeBusy indicates another request is executing. Safe to retry.
	CodeBusy Code = "BUSY"

	// CodeTimeout indicates the command deadline was breached.
	CodeTimeout Code = "TIMEOUT"

	// CodeVisionFailed indicates a pipeline or hardware fault.
	CodeVisionFailed Code = "VISION_FAILED"

	// CodeStorageUnavailable indicates persistence is not mounted or writable.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeModelMissing indicates a required model is absent.
	CodeModelMissing Code = "MODEL_MISSING"
)

// MaxMessageLen is the longest message carried in an error envelope.
const MaxMessageLen = 24

var defaultMessages = map[Code]string{
	CodeBadRequest:         "bad_req",
	CodeBusy:               "busy",
	CodeTimeout:            "timeout",
	CodeVisionFailed:       "vision",
	CodeStorageUnavailable: "storage",
	CodeModelMissing:       "model",
}

// DefaultMessage returns the short fixed message for a code.
func DefaultMessage(code Code) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return "error"
}

// Error is a typed failure with a machine code and a short context tag.
type Error struct {
	Code    Code
	Message string
}

// New creates an Error. An empty message falls back to the code default.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.WireMessage())
}

// WireMessage returns the message as it is sent on the wire: clipped to
// MaxMessageLen runes, or the code default when empty.
func (e *Error) WireMessage() string {
	msg := ClipMessage(e.Message)
	if msg == "" {
		return DefaultMessage(e.Code)
	}
	return msg
}

// ClipMessage trims a message to MaxMessageLen runes.
func ClipMessage(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxMessageLen {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxMessageLen])
}

// As extracts an *Error from err. Uses errors.As to handle wrapped errors.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	fe, ok := As(err)
	return ok && fe.Code == code
}

// NeedsRecovery reports whether a failure implies hardware or session state
// may be corrupt. True for VISION_FAILED, TIMEOUT and any untyped error.
func NeedsRecovery(err error) bool {
	if err == nil {
		return false
	}
	fe, ok := As(err)
	if !ok {
		return true
	}
	return fe.Code == CodeVisionFailed || fe.Code == CodeTimeout
}

// Coerce returns err as an *Error, mapping untyped errors to
// VISION_FAILED("internal").
func Coerce(err error) *Error {
	if fe, ok := As(err); ok {
		return fe
	}
	return New(CodeVisionFailed, "internal")
}

// Timeout is the canonical deadline breach error.
func Timeout() *Error {
	return New(CodeTimeout, "timeout")
}

// CodeOf returns the code carried by err, or "" for nil and untyped errors.
func CodeOf(err error) Code {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}
