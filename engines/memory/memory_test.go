package memory

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/ruffel/sshkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func status(t *testing.T, err error) uint32 {
	t.Helper()

	require.Error(t, err)

	return engine.AsError(err).Status
}

func connected(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	e := New(append([]Option{WithPassword("alice", "secret")}, opts...)...)
	require.NoError(t, e.Configure(engine.Config{Host: "mem", Port: 22, User: "alice"}))
	require.NoError(t, e.Connect())
	require.NoError(t, e.AuthenticatePassword("secret"))

	return e
}

func TestFSOperations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(f *FS) error
		want uint32
	}{
		{"mkdir existing", func(f *FS) error { return f.mkdir("/a", 0o755) }, engine.StatusFileAlreadyExists},
		{"mkdir missing parent", func(f *FS) error { return f.mkdir("/x/y", 0o755) }, engine.StatusNoSuchFile},
		{"rmdir non-empty", func(f *FS) error { return f.rmdir("/a") }, engine.StatusFailure},
		{"rmdir missing", func(f *FS) error { return f.rmdir("/nope") }, engine.StatusNoSuchFile},
		{"remove directory", func(f *FS) error { return f.remove("/a") }, engine.StatusFailure},
		{"rename onto existing", func(f *FS) error { return f.rename("/a/b.txt", "/c.txt") }, engine.StatusFailure},
		{"readlink regular file", func(f *FS) error { _, err := f.readlink("/c.txt"); return err }, engine.StatusFailure},
		{"open missing", func(f *FS) error { _, err := f.open("/nope", os.O_RDONLY, 0); return err }, engine.StatusNoSuchFile},
		{"open exclusive existing", func(f *FS) error {
			_, err := f.open("/c.txt", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
			return err
		}, engine.StatusFileAlreadyExists},
		{"open directory", func(f *FS) error { _, err := f.open("/a", os.O_RDONLY, 0); return err }, engine.StatusFailure},
		{"write to read-only file", func(f *FS) error { _, err := f.open("/ro.txt", os.O_WRONLY, 0); return err }, engine.StatusPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := NewFS()
			f.WriteFile("/a/b.txt", []byte("b"), 0o644)
			f.WriteFile("/c.txt", []byte("c"), 0o644)
			f.WriteFile("/ro.txt", []byte("ro"), 0o444)

			assert.Equal(t, tt.want, status(t, tt.run(f)))
		})
	}
}

func TestFSSymlinks(t *testing.T) {
	t.Parallel()

	f := NewFS()
	f.WriteFile("/data/file.txt", []byte("hello"), 0o644)

	require.NoError(t, f.symlink("file.txt", "/data/link"))
	require.NoError(t, f.symlink("/data", "/alias"))

	a, err := f.stat("/data/link", true)
	require.NoError(t, err)
	assert.Equal(t, engine.TypeRegular, a.Type)
	assert.Equal(t, uint64(5), a.Size)

	a, err = f.stat("/data/link", false)
	require.NoError(t, err)
	assert.Equal(t, engine.TypeSymlink, a.Type)

	target, err := f.readlink("/data/link")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", target)

	p, err := f.realPath("/alias/./link")
	require.NoError(t, err)
	assert.Equal(t, "/data/file.txt", p)

	require.NoError(t, f.symlink("/loop", "/loop"))
	_, err = f.stat("/loop", true)
	assert.Equal(t, engine.StatusFailure, status(t, err))
}

func TestFSRenameMovesSubtree(t *testing.T) {
	t.Parallel()

	f := NewFS()
	f.WriteFile("/src/a/one.txt", []byte("1"), 0o644)
	f.WriteFile("/src/two.txt", []byte("2"), 0o644)

	require.NoError(t, f.rename("/src", "/dst"))

	assert.False(t, f.Exists("/src"))
	data, ok := f.ReadFile("/dst/a/one.txt")
	require.True(t, ok)
	assert.Equal(t, "1", string(data))
	assert.True(t, f.Exists("/dst/two.txt"))
}

func TestFSReadDir(t *testing.T) {
	t.Parallel()

	f := NewFS()
	f.WriteFile("/d/b", nil, 0o644)
	f.WriteFile("/d/a", nil, 0o644)
	f.MkdirAll("/d/sub")
	f.WriteFile("/d/sub/deep", nil, 0o644)

	entries, err := f.readdir("/d")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}

	assert.Equal(t, []string{".", "..", "a", "b", "sub"}, names)
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	e := New(WithPassword("alice", "secret"), WithRefusedHost("down"))

	require.NoError(t, e.Configure(engine.Config{Host: "down", Port: 22, User: "alice"}))
	assert.Equal(t, engine.CodeFatal, engine.AsError(e.Connect()).Code)

	require.NoError(t, e.Configure(engine.Config{Host: "up", Port: 22, User: "alice"}))
	require.NoError(t, e.Connect())
	assert.False(t, e.IsConnected())

	err := e.AuthenticatePassword("wrong")
	assert.Equal(t, engine.CodeRequestDenied, engine.AsError(err).Code)
	assert.Error(t, e.AuthenticateAgent())

	require.NoError(t, e.AuthenticatePassword("secret"))
	assert.True(t, e.IsConnected())

	assert.Error(t, e.Configure(engine.Config{Host: "other"}), "reconfigure while connected")
}

func TestKeyAuthentication(t *testing.T) {
	t.Parallel()

	e := New()

	k, err := e.GenerateKey(engine.KeyEd25519, 0)
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", k.Type())
	assert.Equal(t, 1, e.Live().Keys)

	e2 := New(WithAuthorizedKey("bob", k.AuthorizedKey()))
	require.NoError(t, e2.Configure(engine.Config{Host: "h", Port: 22, User: "bob"}))
	require.NoError(t, e2.Connect())
	require.NoError(t, e2.AuthenticateKey(k))

	k.Free()
	k.Free()
	assert.Zero(t, e.Live().Keys)
}

func run(t *testing.T, e *Engine, cmd string, stdin string) (string, string, engine.ExitStatus) {
	t.Helper()

	ch, err := e.NewChannel()
	require.NoError(t, err)

	defer ch.Free()

	require.NoError(t, ch.OpenSession())
	require.NoError(t, ch.Exec(cmd))

	if stdin != "" {
		_, err = ch.Write([]byte(stdin))
		require.NoError(t, err)
	}

	require.NoError(t, ch.SendEOF())

	read := func(s engine.Stream) string {
		var out []byte

		buf := make([]byte, 4)

		for {
			n, err := ch.Read(s, buf)
			require.NoError(t, err)

			if n == 0 {
				return string(out)
			}

			out = append(out, buf[:n]...)
		}
	}

	stdout, stderr := read(engine.Stdout), read(engine.Stderr)

	st, err := ch.ExitStatus()
	require.NoError(t, err)

	return stdout, stderr, st
}

func TestCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd    string
		stdin  string
		stdout string
		stderr string
		code   int
	}{
		{cmd: "echo hello world", stdout: "hello world\n"},
		{cmd: "echo -n x", stdout: "x"},
		{cmd: "cat", stdin: "piped input", stdout: "piped input"},
		{cmd: "cat /etc/motd", stdout: "welcome\n"},
		{cmd: "cat /missing", stderr: "cat: /missing: No such file or directory\n", code: 1},
		{cmd: "true"},
		{cmd: "false", code: 1},
		{cmd: "sh -c 'exit 3'", code: 3},
		{cmd: "sh -c 'echo out; echo err >&2; exit 4'", stdout: "out\n", stderr: "err\n", code: 4},
		{cmd: "nope", stderr: "sh: 1: nope: not found\n", code: 127},
		{cmd: "custom a b", stdout: "a,b", code: 9},
	}

	custom := WithCommand("custom", func(p *Process) engine.ExitStatus {
		_, _ = io.WriteString(p.Stdout, p.Args[1]+","+p.Args[2])

		return engine.Exited(9)
	})

	e := connected(t, custom)
	e.FS().WriteFile("/etc/motd", []byte("welcome\n"), 0o644)

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			stdout, stderr, st := run(t, e, tt.cmd, tt.stdin)

			assert.Equal(t, tt.stdout, stdout)
			assert.Equal(t, tt.stderr, stderr)

			code, ok := st.ExitCode()
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
		})
	}

	assert.Zero(t, e.Live().Channels)
}

func TestSignal(t *testing.T) {
	t.Parallel()

	e := connected(t)

	ch, err := e.NewChannel()
	require.NoError(t, err)

	defer ch.Free()

	require.NoError(t, ch.OpenSession())
	require.NoError(t, ch.Exec("sleep 30"))
	require.NoError(t, ch.Signal("TERM"))

	st, err := ch.ExitStatus()
	require.NoError(t, err)

	_, ok := st.ExitCode()
	assert.False(t, ok)
	assert.Equal(t, "TERM", st.Signal)
}

func TestChannelStateErrors(t *testing.T) {
	t.Parallel()

	e := connected(t)

	ch, err := e.NewChannel()
	require.NoError(t, err)

	defer ch.Free()

	assert.Error(t, ch.Exec("true"), "exec before open")
	require.NoError(t, ch.OpenSession())
	assert.Error(t, ch.OpenSession(), "open twice")

	_, err = ch.Read(engine.Stdout, make([]byte, 1))
	assert.Error(t, err, "read before exec")

	require.NoError(t, ch.Exec("sleep 30"))
	require.NoError(t, ch.Close(), "close kills the command")
}

func TestFileAndAio(t *testing.T) {
	t.Parallel()

	e := connected(t)

	s, err := e.NewSFTP()
	require.NoError(t, err)

	defer s.Free()

	f, err := s.Open("/out.bin", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	require.NoError(t, err)

	payload := []byte("0123456789")
	w, err := f.BeginWrite(payload)
	require.NoError(t, err)

	payload[0] = 'X'

	n, err := w.Wait(nil)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	w.Free()

	assert.Equal(t, int64(10), f.Tell())
	require.NoError(t, f.Seek(4))

	r1, err := f.BeginRead(4)
	require.NoError(t, err)
	r2, err := f.BeginRead(4)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Live().Aio)

	buf := make([]byte, 4)
	n, err = r1.Wait(buf)
	require.NoError(t, err)
	assert.Equal(t, "4567", string(buf[:n]))

	n, err = r2.Wait(buf)
	require.NoError(t, err)
	assert.Equal(t, "89", string(buf[:n]))

	_, err = r2.Wait(buf)
	assert.Error(t, err, "double wait")

	r1.Free()
	r2.Free()
	r2.Free()
	assert.Zero(t, e.Live().Aio)

	attrs, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), attrs.Size)
	assert.Equal(t, os.FileMode(0o600), attrs.Mode().Perm())

	require.NoError(t, f.Close())
	assert.Equal(t, engine.StatusInvalidHandle, status(t, f.Seek(0)))

	data, _ := e.FS().ReadFile("/out.bin")
	assert.Equal(t, "0123456789", string(data))
}

func TestFailureInjection(t *testing.T) {
	t.Parallel()

	e := connected(t)
	boom := errors.New("boom")

	e.Fail("channel.open_session", boom)

	ch, err := e.NewChannel()
	require.NoError(t, err)
	require.ErrorIs(t, ch.OpenSession(), boom)

	e.Recover("channel.open_session")
	require.NoError(t, ch.OpenSession())
	ch.Free()
}
