package sshkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/engines/memory"
	enginemock "github.com/ruffel/sshkit/engines/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newMemorySession returns an authenticated session over a fresh memory
// engine whose tree has /home/alice.
func newMemorySession(t *testing.T, opts ...memory.Option) (*Session, *memory.Engine) {
	t.Helper()

	eng := memory.New(append([]memory.Option{memory.WithPassword("alice", "secret")}, opts...)...)
	eng.FS().MkdirAll("/home/alice")

	s := NewSession(eng, WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = s.Close() })

	ctx := t.Context()
	require.NoError(t, s.Configure(ctx, engine.Config{Host: "mem", User: "alice"}))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.AuthenticatePassword(ctx, "secret"))

	return s, eng
}

func TestSessionSerializesEngineCalls(t *testing.T) {
	t.Parallel()

	s, eng := newMemorySession(t, memory.WithLatency(time.Millisecond))
	ctx := t.Context()

	const workers = 16

	var wg sync.WaitGroup

	errs := make(chan error, workers)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs <- s.WithSftp(ctx, func(c SftpClient) error {
				p := fmt.Sprintf("/home/alice/%d", i)

				return c.WithFile(ctx, p, os.O_RDWR|os.O_CREATE, 0o600, func(f File) error {
					_, err := f.Write(ctx, []byte("x"))

					return err
				})
			})
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, eng.PeakInFlight())
	assert.Positive(t, eng.Calls())
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	s, eng := newMemorySession(t)
	ctx := t.Context()

	_, err := s.OpenKey(ctx, KeySource{Generate: engine.KeyEd25519})
	require.NoError(t, err)

	_, err = s.OpenChannel(ctx)
	require.NoError(t, err)

	c, err := s.OpenSftp(ctx)
	require.NoError(t, err)

	f, err := c.Create(ctx, "/home/alice/f")
	require.NoError(t, err)

	_, err = f.BeginWrite(ctx, []byte("pending"))
	require.NoError(t, err)

	_, err = c.OpenDirectory(ctx, "/home/alice")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, memory.Counts{}, eng.Live())
	assert.True(t, eng.Freed())

	tests := []struct {
		name string
		call func() error
	}{
		{"configure", func() error { return s.Configure(ctx, engine.Config{Host: "x"}) }},
		{"connect", func() error { return s.Connect(ctx) }},
		{"open channel", func() error { _, err := s.OpenChannel(ctx); return err }},
		{"open sftp", func() error { _, err := s.OpenSftp(ctx); return err }},
		{"file write", func() error { _, err := f.Write(ctx, []byte("x")); return err }},
		{"close file", func() error { return f.Close(ctx) }},
		{"resources", func() error { _, err := s.Resources(ctx); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.call()
			require.ErrorIs(t, err, ErrInvalidState)
			require.ErrorIs(t, err, ErrSessionClosed)
		})
	}

	assert.False(t, s.IsConnected(ctx))
}

func TestSessionCancelledBeforeSubmission(t *testing.T) {
	t.Parallel()

	s, eng := newMemorySession(t)

	cause := errors.New("gave up")
	ctx, cancel := context.WithCancelCause(t.Context())
	cancel(cause)

	before := eng.Calls()

	_, err := s.OpenSftp(ctx)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, before, eng.Calls(), "a cancelled call must not reach the engine")

	counts, err := s.Resources(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
}

func TestSessionDisconnectKeepsKeys(t *testing.T) {
	t.Parallel()

	s, eng := newMemorySession(t)
	ctx := t.Context()

	k, err := s.OpenKey(ctx, KeySource{Generate: engine.KeyEd25519})
	require.NoError(t, err)

	_, err = s.OpenSftp(ctx)
	require.NoError(t, err)

	_, err = s.OpenChannel(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(ctx))

	counts, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResourceCounts{Keys: 1}, counts)
	assert.Equal(t, memory.Counts{Keys: 1}, eng.Live())

	fp, err := k.Fingerprint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, fp)

	_, err = s.OpenSftp(ctx)
	require.ErrorIs(t, err, ErrLibrary, "a disconnected engine refuses new subsystems")
}

func TestSessionConnectValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  engine.Config
		opts []memory.Option
		want error
	}{
		{"missing host", engine.Config{User: "alice"}, nil, ErrConnection},
		{"missing user", engine.Config{Host: "mem"}, nil, ErrConnection},
		{"refused", engine.Config{Host: "down", User: "alice"}, []memory.Option{memory.WithRefusedHost("down")}, ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewSession(memory.New(tt.opts...))
			t.Cleanup(func() { _ = s.Close() })

			require.NoError(t, s.Configure(t.Context(), tt.cfg))

			err := s.Connect(t.Context())
			require.ErrorIs(t, err, tt.want)

			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "session.connect", se.Op)
		})
	}
}

func TestSessionAuthentication(t *testing.T) {
	t.Parallel()

	ctx := t.Context()

	eng := memory.New(memory.WithPassword("alice", "secret"))
	s := NewSession(eng)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SetHost(ctx, "mem"))
	require.NoError(t, s.SetUser(ctx, "alice"))
	require.NoError(t, s.SetPort(ctx, 2222))
	require.NoError(t, s.Connect(ctx))

	err := s.AuthenticatePassword(ctx, "wrong")
	require.ErrorIs(t, err, ErrAuthentication)
	assert.False(t, s.IsConnected(ctx))

	err = s.AuthenticateAgent(ctx)
	require.ErrorIs(t, err, ErrAuthentication)

	k, err := s.OpenKey(ctx, KeySource{Generate: engine.KeyEd25519})
	require.NoError(t, err)

	err = s.AuthenticateKey(ctx, k)
	require.ErrorIs(t, err, ErrAuthentication)

	require.NoError(t, s.AuthenticatePassword(ctx, "secret"))
	assert.True(t, s.IsConnected(ctx))

	err = s.SetHost(ctx, "elsewhere")
	require.ErrorIs(t, err, ErrConnection, "a connected engine cannot be reconfigured")
}

func TestKeysBelongToTheirSession(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := NewSession(memory.New())
	t.Cleanup(func() { _ = s.Close() })

	k, err := s.OpenKey(ctx, KeySource{Generate: engine.KeyEd25519})
	require.NoError(t, err)

	pub, err := k.AuthorizedKey(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2 := NewSession(memory.New(memory.WithAuthorizedKey("alice", []byte(pub))))
	t.Cleanup(func() { _ = s2.Close() })

	require.NoError(t, s2.Configure(ctx, engine.Config{Host: "mem", User: "alice"}))
	require.NoError(t, s2.Connect(ctx))

	err = s2.AuthenticateKey(ctx, k)
	require.ErrorIs(t, err, ErrUnknownResource)
}

func TestSessionRecoversEnginePanics(t *testing.T) {
	t.Parallel()

	eng := enginemock.New()
	eng.On("NewSFTP").Panic("engine bug")
	eng.On("Free").Return()

	s := NewSession(eng, WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.OpenSftp(t.Context())
	require.ErrorIs(t, err, ErrLibrary)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "sftp.open", se.Op)
	assert.Contains(t, se.Message, "engine bug")

	counts, err := s.Resources(t.Context())
	require.NoError(t, err, "the actor survives a panic")
	assert.Equal(t, 0, counts.Total())
}

func TestOpenChannelFailureReleasesChannel(t *testing.T) {
	t.Parallel()

	ch := &enginemock.Channel{}
	ch.On("OpenSession").Return(engine.Errorf(engine.CodeRequestDenied, "administratively prohibited"))
	ch.On("Free").Return()

	eng := enginemock.New()
	eng.On("NewChannel").Return(ch, nil)
	eng.On("Free").Return()

	s := NewSession(eng)

	_, err := s.OpenChannel(t.Context())
	require.ErrorIs(t, err, ErrLibrary)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.CodeRequestDenied, se.Code)

	counts, err := s.Resources(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Channels)

	require.NoError(t, s.Close())

	ch.AssertExpectations(t)
	eng.AssertExpectations(t)
}

func TestSessionCloseReleaseOrder(t *testing.T) {
	t.Parallel()

	ctx := t.Context()

	aio := &enginemock.AIO{}
	file := &enginemock.File{}
	dir := &enginemock.Dir{}
	sftp := &enginemock.SFTP{}
	ch := &enginemock.Channel{}
	key := &enginemock.Key{}
	eng := enginemock.New()

	eng.On("GenerateKey", engine.KeyEd25519, 0).Return(key, nil)
	eng.On("NewChannel").Return(ch, nil)
	ch.On("OpenSession").Return(nil)
	eng.On("NewSFTP").Return(sftp, nil)
	sftp.On("Open", "/f", os.O_RDONLY, os.FileMode(0)).Return(file, nil)
	sftp.On("OpenDir", "/").Return(dir, nil)
	file.On("BeginRead", 8).Return(aio, nil)

	s := NewSession(eng)

	_, err := s.OpenKey(ctx, KeySource{Generate: engine.KeyEd25519})
	require.NoError(t, err)

	_, err = s.OpenChannel(ctx)
	require.NoError(t, err)

	c, err := s.OpenSftp(ctx)
	require.NoError(t, err)

	f, err := c.Open(ctx, "/f")
	require.NoError(t, err)

	_, err = c.OpenDirectory(ctx, "/")
	require.NoError(t, err)

	_, err = f.BeginRead(ctx, 8)
	require.NoError(t, err)

	mock.InOrder(
		aio.On("Free").Return(),
		file.On("Close").Return(nil),
		dir.On("Close").Return(nil),
		sftp.On("Free").Return(),
		ch.On("Close").Return(nil),
		ch.On("Free").Return(),
		key.On("Free").Return(),
		eng.On("Free").Return(),
	)

	require.NoError(t, s.Close())

	for _, m := range []interface{ AssertExpectations(mock.TestingT) bool }{aio, file, dir, sftp, ch, key, eng} {
		m.AssertExpectations(t)
	}
}

func TestWithReleasesWhenCloseFails(t *testing.T) {
	t.Parallel()

	ctx := t.Context()

	file := &enginemock.File{}
	file.On("Close").Return(engine.StatusErrorf(engine.StatusFailure, "flush failed"))

	sftp := &enginemock.SFTP{}
	sftp.On("Open", "/f", os.O_RDONLY, os.FileMode(0)).Return(file, nil)
	sftp.On("Free").Return()

	eng := enginemock.New()
	eng.On("NewSFTP").Return(sftp, nil)
	eng.On("Free").Return()

	s := NewSession(eng)
	t.Cleanup(func() { _ = s.Close() })

	boom := errors.New("boom")

	err := s.WithSftp(ctx, func(c SftpClient) error {
		return c.WithFile(ctx, "/f", os.O_RDONLY, 0, func(File) error { return boom })
	})
	require.ErrorIs(t, err, boom, "the body's error comes first")
	require.ErrorIs(t, err, ErrFailure, "the close error is kept")

	counts, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())

	err = s.WithSftp(ctx, func(c SftpClient) error {
		return c.WithFile(ctx, "/f", os.O_RDONLY, 0, func(File) error { return nil })
	})
	require.ErrorIs(t, err, ErrFailure)
}

func TestResourceIDsAreUniqueAcrossSessions(t *testing.T) {
	t.Parallel()

	a, _ := newMemorySession(t)
	b, _ := newMemorySession(t)
	ctx := t.Context()

	seen := make(map[ResourceID]bool)

	for range 5 {
		for _, s := range []*Session{a, b} {
			c, err := s.OpenSftp(ctx)
			require.NoError(t, err)

			assert.NotZero(t, c.ID())
			assert.False(t, seen[c.ID()], "id %s reused", c.ID())
			seen[c.ID()] = true

			require.NoError(t, c.Close(ctx))
		}
	}

	// Ids from one session mean nothing to another.
	c, err := a.OpenSftp(ctx)
	require.NoError(t, err)

	_, err = SftpClient{s: b, id: c.ID()}.Attributes(ctx, "/")
	require.ErrorIs(t, err, ErrUnknownResource)
}

func TestWithReleasesOnPanic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(ctx context.Context, s *Session)
	}{
		{"key", func(ctx context.Context, s *Session) {
			_ = s.WithKey(ctx, KeySource{Generate: engine.KeyEd25519}, func(Key) error { panic("boom") })
		}},
		{"channel", func(ctx context.Context, s *Session) {
			_ = s.WithChannel(ctx, func(Channel) error { panic("boom") })
		}},
		{"sftp", func(ctx context.Context, s *Session) {
			_ = s.WithSftp(ctx, func(SftpClient) error { panic("boom") })
		}},
		{"file", func(ctx context.Context, s *Session) {
			_ = s.WithSftp(ctx, func(c SftpClient) error {
				return c.WithFile(ctx, "/home/alice/f", os.O_WRONLY|os.O_CREATE, 0o600, func(File) error { panic("boom") })
			})
		}},
		{"directory", func(ctx context.Context, s *Session) {
			_ = s.WithSftp(ctx, func(c SftpClient) error {
				return c.WithDirectory(ctx, "/home/alice", func(Dir) error { panic("boom") })
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, eng := newMemorySession(t)
			ctx := t.Context()

			assert.PanicsWithValue(t, "boom", func() { tt.run(ctx, s) })

			counts, err := s.Resources(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, counts.Total())
			assert.Equal(t, memory.Counts{}, eng.Live())
		})
	}
}
