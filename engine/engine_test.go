package engine

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    KeyType
		wantErr bool
	}{
		{in: "ed25519", want: KeyEd25519},
		{in: " SSH-ED25519 ", want: KeyEd25519},
		{in: "rsa", want: KeyRSA},
		{in: "ssh-rsa", want: KeyRSA},
		{in: "ECDSA", want: KeyECDSA},
		{in: "dsa", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseKeyType(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "example.com", User: "root"}.WithDefaults()
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "example.com:22", cfg.Addr())
	require.NoError(t, cfg.Validate())

	kept := Config{Host: "::1", User: "root", Port: 2222, Timeout: time.Second}.WithDefaults()
	assert.Equal(t, 2222, kept.Port)
	assert.Equal(t, time.Second, kept.Timeout)
	assert.Equal(t, "[::1]:2222", kept.Addr())

	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"blank host", Config{Host: "  ", Port: 22, User: "u"}, "host"},
		{"port zero", Config{Host: "h", User: "u"}, "port 0"},
		{"port too large", Config{Host: "h", Port: 70000, User: "u"}, "port 70000"},
		{"no user", Config{Host: "h", Port: 22}, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestExitStatus(t *testing.T) {
	t.Parallel()

	ok := Exited(0)
	code, reported := ok.ExitCode()
	assert.True(t, reported)
	assert.Equal(t, 0, code)
	assert.True(t, ok.Success())

	failed := Exited(127)
	code, _ = failed.ExitCode()
	assert.Equal(t, 127, code)
	assert.False(t, failed.Success())

	killed := Signaled("KILL", true)
	_, reported = killed.ExitCode()
	assert.False(t, reported)
	assert.False(t, killed.Success())
	assert.Equal(t, "KILL", killed.Signal)
	assert.True(t, killed.CoreDumped)
}

func TestStreamString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stdout", Stdout.String())
	assert.Equal(t, "stderr", Stderr.String())
	assert.Equal(t, "stream(5)", Stream(5).String())
}

func TestAsError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, AsError(nil))

	native := StatusErrorf(StatusNoSuchFile, "no such file: %s", "/x")
	assert.Same(t, native, AsError(native))
	assert.Same(t, native, AsError(errors.Join(errors.New("ctx"), native)))

	foreign := errors.New("socket closed")
	got := AsError(foreign)
	assert.Equal(t, CodeFatal, got.Code)
	assert.Equal(t, "socket closed", got.Message)
	require.ErrorIs(t, got, foreign)
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "denied", Errorf(CodeRequestDenied, "denied").Error())
	assert.Equal(t, "gone (sftp status 2)", StatusErrorf(StatusNoSuchFile, "gone").Error())
	assert.Equal(t, "invalid argument", CodeInvalidArgument.String())
	assert.Equal(t, "code(42)", Code(42).String())
}

func TestFileModeConversion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		perm uint32
		mode fs.FileMode
		typ  FileType
	}{
		{"regular", 0o100644, 0o644, TypeRegular},
		{"directory", 0o040755, fs.ModeDir | 0o755, TypeDirectory},
		{"symlink", 0o120777, fs.ModeSymlink | 0o777, TypeSymlink},
		{"socket", 0o140600, fs.ModeSocket | 0o600, TypeSpecial},
		{"fifo", 0o010600, fs.ModeNamedPipe | 0o600, TypeSpecial},
		{"char device", 0o020600, fs.ModeDevice | fs.ModeCharDevice | 0o600, TypeSpecial},
		{"block device", 0o060600, fs.ModeDevice | 0o600, TypeSpecial},
		{"setuid", 0o104755, fs.ModeSetuid | 0o755, TypeRegular},
		{"sticky dir", 0o041777, fs.ModeDir | fs.ModeSticky | 0o777, TypeDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.mode, ToFileMode(tt.perm))
			assert.Equal(t, tt.perm, FromFileMode(tt.mode))
			assert.Equal(t, tt.typ, TypeFromMode(tt.perm))
		})
	}

	assert.Equal(t, TypeUnknown, TypeFromMode(0o644))
	assert.Equal(t, "unknown", TypeUnknown.String())
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	base := Attributes{Name: "report.csv", Type: TypeRegular}
	a := base.WithSize(2048).WithPermissions(0o640).WithOwner(1000, 100).WithTimes(mtime, mtime)

	assert.Zero(t, base.Flags, "With* methods copy")
	assert.True(t, a.Flags.Has(AttrSize|AttrPermissions|AttrUIDGID|AttrAccessTime|AttrModifyTime))
	assert.False(t, a.Flags.Has(AttrOwnerGroup))
	assert.True(t, a.IsRegular())
	assert.False(t, a.IsDir())

	fi := a.FileInfo()
	assert.Equal(t, "report.csv", fi.Name())
	assert.Equal(t, int64(2048), fi.Size())
	assert.Equal(t, fs.FileMode(0o640), fi.Mode())
	assert.Equal(t, mtime, fi.ModTime())
	assert.False(t, fi.IsDir())
	assert.Equal(t, a, fi.Sys())
}
