package engine

import (
	"errors"
	"fmt"
)

// Code is an engine status code.
type Code int

const (
	CodeOK Code = iota
	// CodeRequestDenied means the remote side refused a request.
	CodeRequestDenied
	// CodeFatal means the connection or handle is no longer usable.
	CodeFatal
	// CodeInterrupted means a blocking call was interrupted.
	CodeInterrupted
	// CodeInvalidArgument means the call was rejected before submission.
	CodeInvalidArgument
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeRequestDenied:
		return "request denied"
	case CodeFatal:
		return "fatal"
	case CodeInterrupted:
		return "interrupted"
	case CodeInvalidArgument:
		return "invalid argument"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// SFTP status codes as sent on the wire (draft-ietf-secsh-filexfer).
const (
	StatusOK                uint32 = 0
	StatusEOF               uint32 = 1
	StatusNoSuchFile        uint32 = 2
	StatusPermissionDenied  uint32 = 3
	StatusFailure           uint32 = 4
	StatusBadMessage        uint32 = 5
	StatusNoConnection      uint32 = 6
	StatusConnectionLost    uint32 = 7
	StatusOpUnsupported     uint32 = 8
	StatusInvalidHandle     uint32 = 9
	StatusNoSuchPath        uint32 = 10
	StatusFileAlreadyExists uint32 = 11
	StatusWriteProtect      uint32 = 12
	StatusNoMedia           uint32 = 13
)

// Error is the result of a failed engine call: the status code, the engine's
// last error text and, for SFTP calls, the protocol status.
type Error struct {
	Code    Code
	Message string
	Status  uint32
	Err     error
}

func (e *Error) Error() string {
	if e.Status != StatusOK {
		return fmt.Sprintf("%s (sftp status %d)", e.Message, e.Status)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusErrorf builds an *Error carrying an SFTP status.
func StatusErrorf(status uint32, format string, args ...any) *Error {
	return &Error{Code: CodeRequestDenied, Status: status, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the *Error from err, wrapping foreign errors as fatal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}

	return &Error{Code: CodeFatal, Message: err.Error(), Err: err}
}
