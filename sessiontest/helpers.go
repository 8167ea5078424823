package sessiontest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/require"
)

const testPermissions = 0o600

func remote(fx Fixture, parts ...string) string {
	return path.Join(append([]string{fx.Root}, parts...)...)
}

func withSftp(t T, fx Fixture, fn func(c sshkit.SftpClient)) {
	err := fx.Session.WithSftp(t.Context(), func(c sshkit.SftpClient) error {
		fn(c)

		return nil
	})
	require.NoError(t, err)
}

func writeFile(t T, c sshkit.SftpClient, p string, data []byte) {
	ctx := t.Context()

	err := c.WithFile(ctx, p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, testPermissions, func(f sshkit.File) error {
		_, err := f.Write(ctx, data)

		return err
	})
	require.NoError(t, err)
}

func readFile(t T, c sshkit.SftpClient, p string) []byte {
	ctx := t.Context()

	var buf bytes.Buffer

	err := c.WithFile(ctx, p, os.O_RDONLY, 0, func(f sshkit.File) error {
		for {
			b, err := f.Read(ctx, 4096)
			if errors.Is(err, io.EOF) {
				return nil
			}

			if err != nil {
				return err
			}

			buf.Write(b)
		}
	})
	require.NoError(t, err)

	return buf.Bytes()
}

func collect(ctx context.Context, ch sshkit.Channel, stream sshkit.Stream) ([]byte, error) {
	var buf bytes.Buffer

	for chunk, err := range ch.Stream(ctx, stream) {
		if err != nil {
			return buf.Bytes(), err
		}

		buf.Write(chunk)
	}

	return buf.Bytes(), nil
}

func counts(t T, s *sshkit.Session) sshkit.ResourceCounts {
	c, err := s.Resources(t.Context())
	require.NoError(t, err)

	return c
}

// pattern returns n deterministic, non-repeating-looking bytes.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + i/251) % 256)
	}

	return b
}
