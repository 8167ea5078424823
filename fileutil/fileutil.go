// Package fileutil holds the helpers sshkit's transfers share: progress
// counting on either side of a copy, cancellable readers, and path
// containment checks for recursive downloads and uploads.
package fileutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is wrapped by every containment check failure.
var ErrPathTraversal = errors.New("illegal file path")

// ProgressFunc receives the cumulative byte count and the expected total, 0
// when unknown.
type ProgressFunc func(current, total int64)

// ProgressReader reports bytes as they are read from Reader.
type ProgressReader struct {
	io.Reader

	Total   int64
	Current int64
	Fn      ProgressFunc
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.add(n)

	return n, err
}

func (pr *ProgressReader) add(n int) {
	if n <= 0 {
		return
	}

	pr.Current += int64(n)
	if pr.Fn != nil {
		pr.Fn(pr.Current, pr.Total)
	}
}

// ProgressWriter reports bytes as they are written to Writer.
type ProgressWriter struct {
	io.Writer

	Total   int64
	Current int64
	Fn      ProgressFunc
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.Current += int64(n)
		if pw.Fn != nil {
			pw.Fn(pw.Current, pw.Total)
		}
	}

	return n, err
}

// ContextReader fails reads once Ctx is done, so io.Copy loops stop between
// chunks.
type ContextReader struct {
	Ctx    context.Context //nolint:containedctx
	Reader io.Reader
}

func (cr *ContextReader) Read(p []byte) (int, error) {
	if cr.Ctx.Err() != nil {
		return 0, context.Cause(cr.Ctx)
	}

	return cr.Reader.Read(p)
}

// CheckPathTraversal fails unless target is root or lies beneath it, using
// local path rules.
func CheckPathTraversal(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve root %s: %w", ErrPathTraversal, root, err)
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve target %s: %w", ErrPathTraversal, target, err)
	}

	if absRoot == absTarget || strings.HasPrefix(absTarget, absRoot+string(os.PathSeparator)) {
		return nil
	}

	return fmt.Errorf("%w: %s is not within %s", ErrPathTraversal, target, root)
}

// CheckRemotePathTraversal is CheckPathTraversal for slash-separated remote
// paths.
func CheckRemotePathTraversal(root, target string) error {
	cleanRoot := path.Clean(root)
	cleanTarget := path.Clean(target)

	if cleanRoot == cleanTarget || cleanRoot == "/" && strings.HasPrefix(cleanTarget, "/") {
		return nil
	}

	if !strings.HasPrefix(cleanTarget, cleanRoot+"/") {
		return fmt.Errorf("%w: remote %s is not within %s", ErrPathTraversal, target, root)
	}

	return nil
}

// LocalJoin joins a slash-separated relative name onto a local root and
// checks that the result stays inside it.
func LocalJoin(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))

	if err := CheckPathTraversal(root, target); err != nil {
		return "", err
	}

	return target, nil
}

// RemoteJoin joins a relative name onto a remote root and checks that the
// result stays inside it.
func RemoteJoin(root, rel string) (string, error) {
	target := path.Join(root, filepath.ToSlash(rel))

	if err := CheckRemotePathTraversal(root, target); err != nil {
		return "", err
	}

	return target, nil
}
