package sessiontest

import (
	"errors"
	"os"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:funlen // Contract registration function; length comes from many test cases.
func errorContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryErrors,
			Name:        "missing-file",
			Description: "Opening or stating a missing path is an SFTP no-such-file error",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					_, err := c.Open(ctx, remote(fx, "does-not-exist"))
					require.ErrorIs(t, err, sshkit.ErrNoSuchFile)
					require.ErrorIs(t, err, sshkit.ErrSFTP)

					var se *sshkit.Error
					require.ErrorAs(t, err, &se)
					assert.Equal(t, sshkit.KindSFTP, se.Kind)
					assert.Equal(t, sshkit.SFTPNoSuchFile, se.SFTP)
					assert.NotEmpty(t, se.Op)

					_, err = c.LinkAttributes(ctx, remote(fx, "does-not-exist"))
					require.ErrorIs(t, err, sshkit.ErrNoSuchFile)

					assert.Equal(t, 0, counts(t, fx.Session).Files)
				})
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "write-read-only-handle",
			Description: "Writing through a read-only handle fails with an SFTP error",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "ro.txt")
					writeFile(t, c, p, []byte("data"))

					err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
						_, err := f.Write(ctx, []byte("nope"))

						return err
					})
					require.ErrorIs(t, err, sshkit.ErrSFTP)
					assert.Equal(t, "data", string(readFile(t, c, p)))
				})
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "use-after-close",
			Description: "Calls on a closed handle fail with invalid state",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					f, err := c.Create(ctx, remote(fx, "closed"))
					require.NoError(t, err)
					require.NoError(t, f.Close(ctx))

					_, err = f.Read(ctx, 10)
					require.ErrorIs(t, err, sshkit.ErrInvalidState)
					require.ErrorIs(t, err, sshkit.ErrUnknownResource)

					d, err := c.OpenDirectory(ctx, fx.Root)
					require.NoError(t, err)
					require.NoError(t, d.Close(ctx))

					_, _, err = d.Next(ctx)
					require.ErrorIs(t, err, sshkit.ErrInvalidState)
				})

				k, err := fx.Session.OpenKey(ctx, sshkit.KeySource{Generate: "ed25519"})
				require.NoError(t, err)
				require.NoError(t, k.Close(ctx))

				_, err = k.Fingerprint(ctx)
				require.ErrorIs(t, err, sshkit.ErrInvalidState)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "aio-wait-once",
			Description: "An AIO operation can be waited on once; later waits fail",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "aio.txt")
					writeFile(t, c, p, []byte("asynchronous"))

					err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
						op, err := f.BeginRead(ctx, 5)
						require.NoError(t, err)

						res, err := op.Wait(ctx)
						require.NoError(t, err)
						assert.Equal(t, 5, res.N)
						assert.Equal(t, "async", string(res.Data))

						_, err = op.Wait(ctx)
						require.ErrorIs(t, err, sshkit.ErrInvalidState)

						require.NoError(t, op.Free(ctx))

						other, err := f.BeginRead(ctx, 5)
						require.NoError(t, err)
						require.NoError(t, other.Free(ctx))

						_, err = other.Wait(ctx)
						require.ErrorIs(t, err, sshkit.ErrInvalidState)

						return nil
					})
					require.NoError(t, err)
					assert.Equal(t, 0, counts(t, fx.Session).Aio)
				})
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "channel-read-before-exec",
			Description: "Reading a channel that has not executed anything is rejected",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				err := fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					_, err := ch.Read(ctx, sshkit.Stdout, 10)
					require.ErrorIs(t, err, sshkit.ErrInvalidState)
					require.ErrorIs(t, err, sshkit.ErrChannelState)

					_, err = ch.ExitStatus(ctx)
					require.ErrorIs(t, err, sshkit.ErrChannelState)

					return nil
				})
				require.NoError(t, err)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "errors-are-typed",
			Description: "Every session failure unwraps to *sshkit.Error",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					for _, err := range []error{
						c.RemoveDirectory(ctx, remote(fx, "missing")),
						c.RemoveFile(ctx, remote(fx, "missing")),
						c.Move(ctx, remote(fx, "missing"), remote(fx, "other")),
					} {
						var se *sshkit.Error
						require.True(t, errors.As(err, &se), "%v", err)
						assert.Equal(t, sshkit.KindSFTP, se.Kind)
					}
				})
			},
		},
	}
}
