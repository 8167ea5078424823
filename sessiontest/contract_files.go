package sessiontest

import (
	"io"
	"os"
	"path"
	"slices"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:funlen,maintidx // Contract registration function; complexity comes from many test cases.
func fileContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryFilesystem,
			Name:        "write-read-roundtrip",
			Description: "Bytes written to a file read back unchanged",
			Run: func(t T, fx Fixture) {
				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "roundtrip.bin")
					data := pattern(70000)

					writeFile(t, c, p, data)
					assert.Equal(t, data, readFile(t, c, p))

					attrs, err := c.Attributes(t.Context(), p)
					require.NoError(t, err)
					assert.Equal(t, uint64(len(data)), attrs.Size)
					assert.True(t, attrs.IsRegular())
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "read-at-and-cursor",
			Description: "ReadAt reads from an offset and reports end of file",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "cursor.txt")
					writeFile(t, c, p, []byte("0123456789"))

					err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
						b, err := f.ReadAt(ctx, 3, 4)
						require.NoError(t, err)
						assert.Equal(t, "3456", string(b))

						pos, err := f.Tell(ctx)
						require.NoError(t, err)
						assert.Equal(t, int64(7), pos)

						b, err = f.ReadAt(ctx, 8, 100)
						require.NoError(t, err)
						assert.Equal(t, "89", string(b))

						_, err = f.ReadAt(ctx, 10, 1)
						require.ErrorIs(t, err, io.EOF)

						attrs, err := f.Attributes(ctx)
						require.NoError(t, err)
						assert.Equal(t, uint64(10), attrs.Size)

						return nil
					})
					require.NoError(t, err)
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "write-at-and-append",
			Description: "WriteAt overwrites in place and O_APPEND writes at the end",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "patch.txt")
					writeFile(t, c, p, []byte("hello world"))

					err := c.WithFile(ctx, p, os.O_WRONLY, 0, func(f sshkit.File) error {
						_, err := f.WriteAt(ctx, 6, []byte("WORLD"))

						return err
					})
					require.NoError(t, err)

					err = c.WithFile(ctx, p, os.O_WRONLY|os.O_APPEND, 0, func(f sshkit.File) error {
						_, err := f.Write(ctx, []byte("!"))

						return err
					})
					require.NoError(t, err)

					assert.Equal(t, "hello WORLD!", string(readFile(t, c, p)))
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "directories",
			Description: "Directories can be created, nested, listed and removed",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					dir := remote(fx, "d")
					require.NoError(t, c.CreateDirectory(ctx, dir, 0o755))

					err := c.CreateDirectory(ctx, dir, 0o755)
					require.ErrorIs(t, err, sshkit.ErrSFTP)

					require.NoError(t, c.MkdirAll(ctx, remote(fx, "d", "x", "y"), 0o755))
					require.NoError(t, c.MkdirAll(ctx, remote(fx, "d", "x", "y"), 0o755))

					writeFile(t, c, remote(fx, "d", "b.txt"), []byte("b"))
					writeFile(t, c, remote(fx, "d", "a.txt"), []byte("a"))

					entries, err := c.ReadDir(ctx, dir)
					require.NoError(t, err)

					var names []string
					for _, e := range entries {
						names = append(names, e.Name)
					}

					slices.Sort(names)
					assert.Equal(t, []string{"a.txt", "b.txt", "x"}, names)

					attrs, err := c.Attributes(ctx, remote(fx, "d", "x"))
					require.NoError(t, err)
					assert.True(t, attrs.IsDir())

					require.NoError(t, c.RemoveDirectory(ctx, remote(fx, "d", "x", "y")))

					_, err = c.Attributes(ctx, remote(fx, "d", "x", "y"))
					require.ErrorIs(t, err, sshkit.ErrNoSuchFile)

					err = c.RemoveDirectory(ctx, dir)
					require.ErrorIs(t, err, sshkit.ErrSFTP, "non-empty directory")
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "directory-iteration",
			Description: "Entries skips dot entries and stops when the loop breaks",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					for _, n := range []string{"one", "two", "three"} {
						writeFile(t, c, remote(fx, n), nil)
					}

					err := c.WithDirectory(ctx, fx.Root, func(d sshkit.Dir) error {
						seen := 0

						for a, err := range d.Entries(ctx) {
							require.NoError(t, err)
							assert.NotContains(t, []string{".", ".."}, a.Name)

							seen++
							if seen == 2 {
								break
							}
						}

						assert.Equal(t, 2, seen)

						return nil
					})
					require.NoError(t, err)
					assert.Equal(t, 0, counts(t, fx.Session).Dirs)
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "move-and-remove",
			Description: "Files can be renamed and removed",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					src, dst := remote(fx, "src"), remote(fx, "dst")
					writeFile(t, c, src, []byte("moved"))

					require.NoError(t, c.Move(ctx, src, dst))

					_, err := c.Attributes(ctx, src)
					require.ErrorIs(t, err, sshkit.ErrNoSuchFile)
					assert.Equal(t, "moved", string(readFile(t, c, dst)))

					require.NoError(t, c.RemoveFile(ctx, dst))

					_, err = c.Attributes(ctx, dst)
					require.ErrorIs(t, err, sshkit.ErrNoSuchFile)

					require.NoError(t, c.CreateDirectory(ctx, remote(fx, "dir"), 0o755))
					require.ErrorIs(t, c.RemoveFile(ctx, remote(fx, "dir")), sshkit.ErrSFTP)
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "set-attributes",
			Description: "Permissions and size can be changed",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "attrs")
					writeFile(t, c, p, []byte("0123456789"))

					require.NoError(t, c.Chmod(ctx, p, 0o640))
					require.NoError(t, c.SetAttributes(ctx, p, sshkit.Attributes{}.WithSize(4)))

					attrs, err := c.Attributes(ctx, p)
					require.NoError(t, err)
					assert.Equal(t, os.FileMode(0o640), attrs.Mode().Perm())
					assert.Equal(t, uint64(4), attrs.Size)
					assert.Equal(t, "0123", string(readFile(t, c, p)))
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "symlinks",
			Description: "Symlinks are created, read and distinguished by lstat",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					target, link := remote(fx, "target"), remote(fx, "link")
					writeFile(t, c, target, []byte("through the link"))

					require.NoError(t, c.Symlink(ctx, target, link))

					got, err := c.ReadLink(ctx, link)
					require.NoError(t, err)
					assert.Equal(t, target, got)

					lattrs, err := c.LinkAttributes(ctx, link)
					require.NoError(t, err)
					assert.Equal(t, engine.TypeSymlink, lattrs.Type)

					attrs, err := c.Attributes(ctx, link)
					require.NoError(t, err)
					assert.True(t, attrs.IsRegular())

					assert.Equal(t, "through the link", string(readFile(t, c, link)))
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "real-path",
			Description: "RealPath canonicalises dot segments",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					require.NoError(t, c.CreateDirectory(ctx, remote(fx, "sub"), 0o755))

					got, err := c.RealPath(ctx, fx.Root+"/sub/../sub/.")
					require.NoError(t, err)
					assert.Equal(t, path.Clean(remote(fx, "sub")), got)
				})
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "limits",
			Description: "The server reports usable transfer limits",
			Run: func(t T, fx Fixture) {
				withSftp(t, fx, func(c sshkit.SftpClient) {
					l, err := c.Limits(t.Context())
					require.NoError(t, err)
					assert.Positive(t, l.MaxReadLength)
					assert.Positive(t, l.MaxWriteLength)
				})
			},
		},
	}
}
