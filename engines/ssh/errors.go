package ssh

import (
	"errors"
	"io"
	"os"

	"github.com/pkg/sftp"
	"github.com/ruffel/sshkit/engine"
)

// statusErrors maps the errors pkg/sftp normalizes status replies into.
var statusErrors = []struct {
	err    error
	status uint32
}{
	{io.EOF, engine.StatusEOF},
	{os.ErrNotExist, engine.StatusNoSuchFile},
	{os.ErrPermission, engine.StatusPermissionDenied},
	{os.ErrExist, engine.StatusFileAlreadyExists},
	{sftp.ErrSSHFxFailure, engine.StatusFailure},
	{sftp.ErrSSHFxBadMessage, engine.StatusBadMessage},
	{sftp.ErrSSHFxNoConnection, engine.StatusNoConnection},
	{sftp.ErrSSHFxConnectionLost, engine.StatusConnectionLost},
	{sftp.ErrSSHFxOpUnsupported, engine.StatusOpUnsupported},
}

// sftpError converts a pkg/sftp error into an *engine.Error carrying the
// protocol status.
func sftpError(err error) error {
	if err == nil {
		return nil
	}

	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee
	}

	var se *sftp.StatusError
	if errors.As(err, &se) {
		return &engine.Error{Code: engine.CodeRequestDenied, Status: se.Code, Message: err.Error(), Err: err}
	}

	for _, m := range statusErrors {
		if errors.Is(err, m.err) {
			return &engine.Error{Code: engine.CodeRequestDenied, Status: m.status, Message: err.Error(), Err: err}
		}
	}

	return &engine.Error{Code: engine.CodeFatal, Message: err.Error(), Err: err}
}

func fatal(err error) error {
	if err == nil {
		return nil
	}

	return &engine.Error{Code: engine.CodeFatal, Message: err.Error(), Err: err}
}
