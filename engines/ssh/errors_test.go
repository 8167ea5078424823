package ssh

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/pkg/sftp"
	"github.com/ruffel/sshkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSFTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   engine.Code
		wantStatus uint32
	}{
		{"eof", io.EOF, engine.CodeRequestDenied, engine.StatusEOF},
		{"not exist", fmt.Errorf("open: %w", os.ErrNotExist), engine.CodeRequestDenied, engine.StatusNoSuchFile},
		{"permission", &os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, engine.CodeRequestDenied, engine.StatusPermissionDenied},
		{"exists", os.ErrExist, engine.CodeRequestDenied, engine.StatusFileAlreadyExists},
		{"failure", sftp.ErrSSHFxFailure, engine.CodeRequestDenied, engine.StatusFailure},
		{"unsupported", sftp.ErrSSHFxOpUnsupported, engine.CodeRequestDenied, engine.StatusOpUnsupported},
		{"status error", &sftp.StatusError{Code: engine.StatusWriteProtect}, engine.CodeRequestDenied, engine.StatusWriteProtect},
		{"transport", errors.New("connection reset"), engine.CodeFatal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := engine.AsError(sftpError(tt.err))
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestSFTPErrorPassThrough(t *testing.T) {
	t.Parallel()

	require.NoError(t, sftpError(nil))

	in := engine.StatusErrorf(engine.StatusInvalidHandle, "closed")
	assert.Same(t, in, sftpError(in))
}
