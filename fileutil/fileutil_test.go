package fileutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPathTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		root      string
		target    string
		expectErr bool
	}{
		{name: "Safe child", root: "/tmp/safe", target: "/tmp/safe/child.txt"},
		{name: "Safe deep child", root: "/tmp/safe", target: "/tmp/safe/dir/child.txt"},
		{name: "Root itself", root: "/tmp/safe", target: "/tmp/safe"},
		{name: "Traversal attempt", root: "/tmp/safe", target: "/tmp/safe/../evil.txt", expectErr: true},
		{name: "Direct parent traversal", root: "/tmp/safe", target: "/tmp/evil.txt", expectErr: true},
		{name: "Root prefix but not child", root: "/tmp/safe", target: "/tmp/safe_suffix_is_not_child", expectErr: true},
		{name: "Relative paths safe", root: "safe", target: "safe/child"},
		{name: "Relative paths unsafe", root: "safe", target: "safe/../evil", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := CheckPathTraversal(filepath.FromSlash(tt.root), filepath.FromSlash(tt.target))
			if tt.expectErr {
				require.ErrorIs(t, err, ErrPathTraversal)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckRemotePathTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		root      string
		target    string
		expectErr bool
	}{
		{name: "Safe child", root: "/home/user/data", target: "/home/user/data/file.txt"},
		{name: "Root itself", root: "/home/user/data", target: "/home/user/data"},
		{name: "Traversal attempt", root: "/home/user/data", target: "/home/user/data/../evil.txt", expectErr: true},
		{name: "Root prefix but not child", root: "/home/user/data", target: "/home/user/data_suffix", expectErr: true},
		{name: "Trailing slash root", root: "/home/user/data/", target: "/home/user/data/file.txt"},
		{name: "Filesystem root", root: "/", target: "/etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := CheckRemotePathTraversal(tt.root, tt.target)
			if tt.expectErr {
				require.ErrorIs(t, err, ErrPathTraversal)
				assert.Contains(t, err.Error(), "remote")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	got, err := RemoteJoin("/srv/data", "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/a/b.txt", got)

	_, err = RemoteJoin("/srv/data", "../../etc/passwd")
	require.ErrorIs(t, err, ErrPathTraversal)

	root := t.TempDir()

	got, err = LocalJoin(root, "x/y")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "x", "y"), got)

	_, err = LocalJoin(root, "../escape")
	require.ErrorIs(t, err, ErrPathTraversal)
}

func TestProgress(t *testing.T) {
	t.Parallel()

	var calls [][2]int64

	fn := func(cur, total int64) { calls = append(calls, [2]int64{cur, total}) }

	pr := &ProgressReader{Reader: strings.NewReader("hello world"), Total: 11, Fn: fn}

	var out bytes.Buffer

	pw := &ProgressWriter{Writer: &out, Total: 11}

	n, err := io.Copy(pw, pr)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, int64(11), pr.Current)
	assert.Equal(t, int64(11), pw.Current)
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int64{11, 11}, calls[len(calls)-1])
	assert.Equal(t, "hello world", out.String())
}

func TestContextReader(t *testing.T) {
	t.Parallel()

	cause := errors.New("stop")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	cr := &ContextReader{Ctx: ctx, Reader: strings.NewReader("data")}

	_, err := cr.Read(make([]byte, 4))
	require.ErrorIs(t, err, cause)
}
