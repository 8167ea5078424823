package sessiontest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

//nolint:funlen,maintidx // Contract registration function; complexity comes from many test cases.
func streamContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryStreaming,
			Name:        "pipeline-roundtrip",
			Description: "A pipelined write then a pipelined read returns the same bytes",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				data := pattern(300_000)

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "pipeline.bin")

					err := c.WithFile(ctx, p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, testPermissions, func(f sshkit.File) error {
						w := f.Writer(ctx, sshkit.WithChunkSize(8192), sshkit.WithQueueDepth(4))

						n, err := w.Write(data)
						require.NoError(t, err)
						assert.Equal(t, len(data), n)
						require.NoError(t, w.Close())
						assert.Equal(t, int64(len(data)), w.Written())

						var got bytes.Buffer
						for chunk, err := range f.Stream(ctx, 0, -1, sshkit.WithChunkSize(8192)) {
							require.NoError(t, err)
							got.Write(chunk)
						}

						assert.Equal(t, data, got.Bytes())

						return nil
					})
					require.NoError(t, err)
				})

				assert.Equal(t, 0, counts(t, fx.Session).Aio)
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "stream-range",
			Description: "A bounded stream returns exactly the requested range",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				data := pattern(50_000)

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "range.bin")
					writeFile(t, c, p, data)

					err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
						var got bytes.Buffer
						for chunk, err := range f.Stream(ctx, 1000, 20_000, sshkit.WithChunkSize(4096)) {
							require.NoError(t, err)
							got.Write(chunk)
						}

						assert.Equal(t, data[1000:21_000], got.Bytes())

						got.Reset()
						for chunk, err := range f.Stream(ctx, 49_990, 100) {
							require.NoError(t, err)
							got.Write(chunk)
						}

						assert.Equal(t, data[49_990:], got.Bytes())

						return nil
					})
					require.NoError(t, err)
				})
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "stream-early-break",
			Description: "Breaking out of a stream frees every queued request",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "break.bin")
					writeFile(t, c, p, pattern(100_000))

					err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
						for chunk, err := range f.Stream(ctx, 0, -1, sshkit.WithChunkSize(1024), sshkit.WithQueueDepth(8)) {
							require.NoError(t, err)
							require.Len(t, chunk, 1024)

							break
						}

						assert.Equal(t, 0, counts(t, fx.Session).Aio)

						return nil
					})
					require.NoError(t, err)
				})
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "stream-cancelled",
			Description: "A cancelled file stream yields the cause and leaves nothing queued",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				withSftp(t, fx, func(c sshkit.SftpClient) {
					p := remote(fx, "cancel.bin")
					writeFile(t, c, p, pattern(100_000))

					err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
						cctx, cancel := context.WithCancelCause(ctx)

						var (
							chunks int
							errs   []error
						)

						for _, err := range f.Stream(cctx, 0, -1, sshkit.WithChunkSize(1024)) {
							if err != nil {
								errs = append(errs, err)

								continue
							}

							chunks++
							if chunks == 3 {
								cancel(errStop)
							}
						}

						assert.Equal(t, 3, chunks)
						require.Len(t, errs, 1)
						require.ErrorIs(t, errs[0], errStop)
						assert.Equal(t, 0, counts(t, fx.Session).Aio)

						return nil
					})
					require.NoError(t, err)
				})
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "transfer-file",
			Description: "Upload then download a single file with progress",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				data := pattern(123_457)

				local := filepath.Join(t.TempDir(), "in.bin")
				require.NoError(t, os.WriteFile(local, data, 0o600))

				withSftp(t, fx, func(c sshkit.SftpClient) {
					var last, total int64

					progress := sshkit.WithProgress(func(current, tot int64) {
						last, total = current, tot
					})

					target := remote(fx, "nested", "out.bin")
					require.NoError(t, c.Upload(ctx, local, target, progress, sshkit.WithPermissions(0o640)))
					assert.Equal(t, int64(len(data)), last)
					assert.Equal(t, int64(len(data)), total)

					attrs, err := c.Attributes(ctx, target)
					require.NoError(t, err)
					assert.Equal(t, os.FileMode(0o640), attrs.Mode().Perm())

					back := filepath.Join(t.TempDir(), "back.bin")
					require.NoError(t, c.Download(ctx, target, back))

					got, err := os.ReadFile(back)
					require.NoError(t, err)
					assert.Equal(t, data, got)
				})
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "transfer-directory",
			Description: "Directory trees upload and download recursively",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				src := t.TempDir()
				files := map[string]string{
					"a.txt":         "alpha",
					"sub/b.txt":     "bravo",
					"sub/deep/c.md": "charlie",
				}

				for name, content := range files {
					p := filepath.Join(src, filepath.FromSlash(name))
					require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
					require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
				}

				withSftp(t, fx, func(c sshkit.SftpClient) {
					tree := remote(fx, "tree")
					require.NoError(t, c.Upload(ctx, src, tree, sshkit.WithConcurrency(2)))

					assert.Equal(t, "bravo", string(readFile(t, c, remote(fx, "tree", "sub", "b.txt"))))

					dst := filepath.Join(t.TempDir(), "copy")
					require.NoError(t, c.Download(ctx, tree, dst))

					for name, content := range files {
						got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
						require.NoError(t, err, name)
						assert.Equal(t, content, string(got), name)
					}
				})

				assert.Equal(t, 0, counts(t, fx.Session).Total())
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "concurrent-streams",
			Description: "Streaming two files at once yields the same bytes as streaming them in turn",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()
				names := []string{remote(fx, "left.bin"), remote(fx, "right.bin")}

				withSftp(t, fx, func(c sshkit.SftpClient) {
					contents := [][]byte{pattern(150_000), bytes.Repeat([]byte("right side\n"), 12_000)}
					for i, p := range names {
						writeFile(t, c, p, contents[i])
					}

					stream := func(ctx context.Context, p string) ([]byte, error) {
						var got bytes.Buffer

						err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
							for chunk, err := range f.Stream(ctx, 0, -1, sshkit.WithChunkSize(4096)) {
								if err != nil {
									return err
								}

								got.Write(chunk)
							}

							return nil
						})

						return got.Bytes(), err
					}

					want := make([][]byte, len(names))

					for i, p := range names {
						b, err := stream(ctx, p)
						require.NoError(t, err)
						require.True(t, bytes.Equal(contents[i], b), p)

						want[i] = b
					}

					got := make([][]byte, len(names))
					g, gctx := errgroup.WithContext(ctx)

					for i, p := range names {
						g.Go(func() error {
							b, err := stream(gctx, p)
							got[i] = b

							return err
						})
					}

					require.NoError(t, g.Wait())

					for i := range names {
						assert.Equal(t, len(want[i]), len(got[i]), names[i])
						assert.True(t, bytes.Equal(want[i], got[i]), names[i])
					}
				})

				assert.Equal(t, 0, counts(t, fx.Session).Total())
			},
		},
	}
}
