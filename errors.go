package sshkit

import (
	"errors"
	"fmt"

	"github.com/ruffel/sshkit/engine"
)

// ErrorKind classifies every error returned by a Session.
type ErrorKind int

const (
	// KindLibrary is a generic engine failure carrying the raw engine code.
	KindLibrary ErrorKind = iota
	// KindConnection is a failure to establish or keep the connection.
	KindConnection
	// KindAuthentication is a rejected authentication attempt.
	KindAuthentication
	// KindSFTP is an SFTP protocol error; see Error.SFTP for the sub-kind.
	KindSFTP
	// KindInvalidState is an operation on a closed session or unknown resource.
	KindInvalidState
)

func (k ErrorKind) String() string {
	switch k {
	case KindLibrary:
		return "library error"
	case KindConnection:
		return "connection error"
	case KindAuthentication:
		return "authentication error"
	case KindSFTP:
		return "sftp error"
	case KindInvalidState:
		return "invalid state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SFTPCode is the sub-kind of a KindSFTP error.
type SFTPCode uint32

const (
	SFTPEOF               = SFTPCode(engine.StatusEOF)
	SFTPNoSuchFile        = SFTPCode(engine.StatusNoSuchFile)
	SFTPPermissionDenied  = SFTPCode(engine.StatusPermissionDenied)
	SFTPFailure           = SFTPCode(engine.StatusFailure)
	SFTPBadMessage        = SFTPCode(engine.StatusBadMessage)
	SFTPNoConnection      = SFTPCode(engine.StatusNoConnection)
	SFTPConnectionLost    = SFTPCode(engine.StatusConnectionLost)
	SFTPOpUnsupported     = SFTPCode(engine.StatusOpUnsupported)
	SFTPInvalidHandle     = SFTPCode(engine.StatusInvalidHandle)
	SFTPNoSuchPath        = SFTPCode(engine.StatusNoSuchPath)
	SFTPFileAlreadyExists = SFTPCode(engine.StatusFileAlreadyExists)
	SFTPWriteProtect      = SFTPCode(engine.StatusWriteProtect)
	SFTPNoMedia           = SFTPCode(engine.StatusNoMedia)
)

func (c SFTPCode) String() string {
	switch c {
	case SFTPEOF:
		return "end of file"
	case SFTPNoSuchFile:
		return "no such file"
	case SFTPPermissionDenied:
		return "permission denied"
	case SFTPFailure:
		return "failure"
	case SFTPBadMessage:
		return "bad message"
	case SFTPNoConnection:
		return "no connection"
	case SFTPConnectionLost:
		return "connection lost"
	case SFTPOpUnsupported:
		return "operation unsupported"
	case SFTPInvalidHandle:
		return "invalid handle"
	case SFTPNoSuchPath:
		return "no such path"
	case SFTPFileAlreadyExists:
		return "file already exists"
	case SFTPWriteProtect:
		return "write protected"
	case SFTPNoMedia:
		return "no media"
	default:
		return fmt.Sprintf("sftp status %d", uint32(c))
	}
}

// Error is the single error type returned by Session operations.
type Error struct {
	Kind    ErrorKind
	SFTP    SFTPCode    // Set for KindSFTP
	Code    engine.Code // Raw engine code, meaningful for KindLibrary
	Op      string      // Operation that failed, e.g. "sftp.stat"
	Message string      // Engine error text
	Err     error
}

func (e *Error) Error() string {
	kind := e.Kind.String()
	if e.Kind == KindSFTP {
		kind = "sftp: " + e.SFTP.String()
	}

	if e.Kind == KindLibrary && e.Code != engine.CodeOK {
		kind = fmt.Sprintf("%s (%s)", kind, e.Code)
	}

	msg := kind
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	switch {
	case e.Message != "":
		return msg + ": " + e.Message
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel *Error values by kind, and by SFTP sub-kind when the
// sentinel names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	if t.Kind != e.Kind {
		return false
	}

	return t.SFTP == 0 || t.SFTP == e.SFTP
}

// Sentinels for errors.Is.
var (
	ErrLibrary        = &Error{Kind: KindLibrary}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrSFTP           = &Error{Kind: KindSFTP}
	ErrInvalidState   = &Error{Kind: KindInvalidState}

	ErrEOF               = &Error{Kind: KindSFTP, SFTP: SFTPEOF}
	ErrNoSuchFile        = &Error{Kind: KindSFTP, SFTP: SFTPNoSuchFile}
	ErrPermissionDenied  = &Error{Kind: KindSFTP, SFTP: SFTPPermissionDenied}
	ErrFailure           = &Error{Kind: KindSFTP, SFTP: SFTPFailure}
	ErrBadMessage        = &Error{Kind: KindSFTP, SFTP: SFTPBadMessage}
	ErrNoConnection      = &Error{Kind: KindSFTP, SFTP: SFTPNoConnection}
	ErrConnectionLost    = &Error{Kind: KindSFTP, SFTP: SFTPConnectionLost}
	ErrOpUnsupported     = &Error{Kind: KindSFTP, SFTP: SFTPOpUnsupported}
	ErrInvalidHandle     = &Error{Kind: KindSFTP, SFTP: SFTPInvalidHandle}
	ErrNoSuchPath        = &Error{Kind: KindSFTP, SFTP: SFTPNoSuchPath}
	ErrFileAlreadyExists = &Error{Kind: KindSFTP, SFTP: SFTPFileAlreadyExists}
	ErrWriteProtect      = &Error{Kind: KindSFTP, SFTP: SFTPWriteProtect}
	ErrNoMedia           = &Error{Kind: KindSFTP, SFTP: SFTPNoMedia}
)

// Causes wrapped inside KindInvalidState errors.
var (
	// ErrSessionClosed is returned for any call after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrUnknownResource is returned when a resource id is not registered,
	// typically because another goroutine closed it.
	ErrUnknownResource = errors.New("unknown resource id")

	// ErrChannelState is returned when a channel call does not fit the
	// channel's lifecycle state.
	ErrChannelState = errors.New("channel is not in the required state")
)

func invalidState(op string, cause error) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Err: cause}
}

// opClass selects how an engine failure is classified.
type opClass int

const (
	classOther opClass = iota
	classConnect
	classAuth
	classSFTP
)

// translate maps an engine failure into the taxonomy. The same engine error
// and op class always produce the same kind.
func translate(class opClass, op string, err error) error {
	if err == nil {
		return nil
	}

	var own *Error
	if errors.As(err, &own) {
		return err
	}

	ee := engine.AsError(err)
	out := &Error{Op: op, Code: ee.Code, Message: ee.Message, Err: ee}

	switch {
	case class == classConnect:
		out.Kind = KindConnection
	case class == classAuth:
		out.Kind = KindAuthentication
	case class == classSFTP && ee.Status != engine.StatusOK:
		out.Kind = KindSFTP
		out.SFTP = SFTPCode(ee.Status)
	default:
		out.Kind = KindLibrary
	}

	return out
}

// ExitError is returned by the Executor when a command exits non-zero.
type ExitError struct {
	Command *Command
	Status  ExitStatus
	Stderr  []byte
}

func (e *ExitError) Error() string {
	what := "command"
	if e.Command != nil {
		what = fmt.Sprintf("command %q", e.Command.String())
	}

	if code, ok := e.Status.ExitCode(); ok {
		return fmt.Sprintf("%s exited with code %d", what, code)
	}

	return fmt.Sprintf("%s killed by signal %s", what, e.Status.Signal)
}
