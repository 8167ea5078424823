package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

//nolint:funlen,maintidx // Contract registration function; complexity comes from many test cases.
func lifecycleContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryLifecycle,
			Name:        "with-releases-on-success",
			Description: "Scoped wrappers leave nothing registered",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				require.NoError(t, fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					if err := ch.Execute(ctx, "true"); err != nil {
						return err
					}

					_, err := ch.ExitStatus(ctx)

					return err
				}))

				withSftp(t, fx, func(c sshkit.SftpClient) {
					writeFile(t, c, remote(fx, "a.txt"), []byte("a"))
					_, err := c.ReadDir(ctx, fx.Root)
					require.NoError(t, err)
				})

				assert.Equal(t, 0, counts(t, fx.Session).Total())
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "with-releases-on-error",
			Description: "The body's error is returned and the resource is still released",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				boom := errors.New("boom")

				err := fx.Session.WithSftp(ctx, func(c sshkit.SftpClient) error {
					return c.WithFile(ctx, remote(fx, "f"), os.O_RDWR|os.O_CREATE, testPermissions, func(sshkit.File) error {
						return boom
					})
				})
				require.ErrorIs(t, err, boom)
				assert.Equal(t, 0, counts(t, fx.Session).Total())
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "with-releases-on-cancel",
			Description: "Release runs even when the body's context is cancelled",
			Run: func(t T, fx Fixture) {
				ctx, cancel := context.WithCancel(t.Context())

				err := fx.Session.WithSftp(ctx, func(c sshkit.SftpClient) error {
					_, err := c.Create(ctx, remote(fx, "f"))
					require.NoError(t, err)

					cancel()

					_, err = c.Attributes(ctx, fx.Root)

					return err
				})
				require.ErrorIs(t, err, context.Canceled)
				assert.Equal(t, 0, counts(t, fx.Session).Total())
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "sftp-close-closes-children",
			Description: "Closing an SFTP client closes its files and directories",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				c, err := fx.Session.OpenSftp(ctx)
				require.NoError(t, err)

				f, err := c.Create(ctx, remote(fx, "child"))
				require.NoError(t, err)

				_, err = c.OpenDirectory(ctx, fx.Root)
				require.NoError(t, err)

				_, err = f.BeginWrite(ctx, []byte("pending"))
				require.NoError(t, err)

				got := counts(t, fx.Session)
				assert.Equal(t, sshkit.ResourceCounts{Sftp: 1, Files: 1, Dirs: 1, Aio: 1}, got)

				require.NoError(t, c.Close(ctx))
				assert.Equal(t, 0, counts(t, fx.Session).Total())

				_, err = f.Write(ctx, []byte("x"))
				require.ErrorIs(t, err, sshkit.ErrInvalidState)
				require.ErrorIs(t, err, sshkit.ErrUnknownResource)
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "close-unknown-is-noop",
			Description: "Closing an id that is not registered succeeds",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				s := fx.Session

				const unknown = sshkit.ResourceID(1<<63 - 1)

				require.NoError(t, s.CloseKey(ctx, unknown))
				require.NoError(t, s.CloseChannel(ctx, unknown))
				require.NoError(t, s.CloseSftp(ctx, unknown))
				require.NoError(t, s.CloseFile(ctx, unknown))
				require.NoError(t, s.CloseDirectory(ctx, unknown))

				ch, err := s.OpenChannel(ctx)
				require.NoError(t, err)
				require.NoError(t, ch.Close(ctx))
				require.NoError(t, ch.Close(ctx))
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "session-close-idempotent",
			Description: "Close releases everything, may be repeated, and invalidates the session",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				s := fx.Session

				_, err := s.OpenKey(ctx, sshkit.KeySource{Generate: engine.KeyEd25519})
				require.NoError(t, err)

				c, err := s.OpenSftp(ctx)
				require.NoError(t, err)

				_, err = c.Create(ctx, remote(fx, "open-at-close"))
				require.NoError(t, err)

				require.NoError(t, s.Close())
				require.NoError(t, s.Close())

				_, err = s.Resources(ctx)
				require.ErrorIs(t, err, sshkit.ErrInvalidState)
				require.ErrorIs(t, err, sshkit.ErrSessionClosed)

				_, err = s.OpenChannel(ctx)
				require.ErrorIs(t, err, sshkit.ErrSessionClosed)

				assert.False(t, s.IsConnected(ctx))
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "disconnect",
			Description: "Disconnect drops the connection and is idempotent",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				s := fx.Session

				require.True(t, s.IsConnected(ctx))

				_, err := s.OpenSftp(ctx)
				require.NoError(t, err)

				require.NoError(t, s.Disconnect(ctx))
				require.NoError(t, s.Disconnect(ctx))

				assert.False(t, s.IsConnected(ctx))
				assert.Equal(t, 0, counts(t, s).Sftp)
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "keys",
			Description: "Generated keys expose their public half until closed",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				s := fx.Session

				err := s.WithKey(ctx, sshkit.KeySource{Generate: engine.KeyEd25519}, func(k sshkit.Key) error {
					typ, err := k.Type(ctx)
					require.NoError(t, err)
					assert.Equal(t, "ssh-ed25519", typ)

					fp, err := k.Fingerprint(ctx)
					require.NoError(t, err)
					assert.Contains(t, fp, "SHA256:")

					pub, err := k.AuthorizedKey(ctx)
					require.NoError(t, err)
					assert.Contains(t, pub, "ssh-ed25519 ")

					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, 0, counts(t, s).Keys)
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "concurrent-use",
			Description: "Many goroutines can share one session",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				s := fx.Session

				const workers = 8

				g, gctx := errgroup.WithContext(ctx)

				for i := range workers {
					g.Go(func() error {
						name := remote(fx, fmt.Sprintf("worker-%d", i))
						want := []byte(fmt.Sprintf("payload %d", i))

						return s.WithSftp(gctx, func(c sshkit.SftpClient) error {
							err := c.WithFile(gctx, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, testPermissions, func(f sshkit.File) error {
								if _, err := f.Write(gctx, want); err != nil {
									return err
								}

								got, err := f.ReadAt(gctx, 0, len(want))
								if err != nil {
									return err
								}

								if string(got) != string(want) {
									return fmt.Errorf("worker %d read %q", i, got)
								}

								return nil
							})
							if err != nil {
								return err
							}

							res, err := sshkit.NewExecutor(s).Run(gctx, sshkit.NewCommand("echo", name))
							if err != nil {
								return err
							}

							if string(res.Stdout) != name+"\n" {
								return fmt.Errorf("worker %d echoed %q", i, res.Stdout)
							}

							return nil
						})
					})
				}

				require.NoError(t, g.Wait())
				assert.Equal(t, 0, counts(t, s).Total())
			},
		},
	}
}
