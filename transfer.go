package sshkit

import (
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/kr/fs"
	"github.com/ruffel/sshkit/fileutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newTransferConfig(opts []TransferOption) TransferConfig {
	cfg := DefaultTransferConfig()
	for _, o := range opts {
		o(&cfg)
	}

	return cfg
}

// Download streams the whole file into w and returns the bytes copied.
func (f File) Download(ctx context.Context, w io.Writer, opts ...TransferOption) (int64, error) {
	cfg := newTransferConfig(opts)

	var total int64
	if cfg.Progress != nil {
		if attrs, err := f.Attributes(ctx); err == nil {
			total = int64(attrs.Size) //nolint:gosec // sizes beyond 2^63 do not occur
		}
	}

	dst := &fileutil.ProgressWriter{Writer: w, Total: total, Fn: fileutil.ProgressFunc(cfg.Progress)}

	for chunk, err := range f.Stream(ctx, 0, -1, cfg.Stream...) {
		if err != nil {
			return dst.Current, err
		}

		if _, err := dst.Write(chunk); err != nil {
			return dst.Current, err
		}
	}

	return dst.Current, nil
}

// Upload copies r into the file from offset zero and returns the bytes the
// server confirmed.
func (f File) Upload(ctx context.Context, r io.Reader, opts ...TransferOption) (int64, error) {
	cfg := newTransferConfig(opts)

	if err := f.Seek(ctx, 0); err != nil {
		return 0, err
	}

	var total int64
	if st, ok := r.(interface{ Stat() (os.FileInfo, error) }); ok {
		if info, err := st.Stat(); err == nil {
			total = info.Size()
		}
	}

	src := &fileutil.ContextReader{
		Ctx:    ctx,
		Reader: &fileutil.ProgressReader{Reader: r, Total: total, Fn: fileutil.ProgressFunc(cfg.Progress)},
	}

	w := f.Writer(ctx, cfg.Stream...)

	_, err := io.Copy(w, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}

	return w.Written(), err
}

// Download copies a remote file or directory tree to localPath, creating
// missing local parents. Directory trees are copied with up to
// cfg.Concurrency files in flight.
func (c SftpClient) Download(ctx context.Context, remotePath, localPath string, opts ...TransferOption) error {
	cfg := newTransferConfig(opts)

	attrs, err := c.Attributes(ctx, remotePath)
	if err != nil {
		return err
	}

	if !attrs.IsDir() {
		mode := attrs.Mode().Perm()
		if cfg.Permissions != 0 {
			mode = cfg.Permissions
		}

		return c.downloadFile(ctx, remotePath, localPath, mode, cfg.Stream, cfg.Progress)
	}

	type job struct {
		remote, local string
		mode          os.FileMode
	}

	var (
		jobs  []job
		total int64
	)

	walker := fs.WalkFS(remotePath, remoteFS{ctx: ctx, c: c})
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return err
		}

		local, err := fileutil.LocalJoin(localPath, filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		info := walker.Stat()

		switch {
		case info.IsDir():
			if err := os.MkdirAll(local, 0o755); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			mode := info.Mode().Perm()
			if cfg.Permissions != 0 {
				mode = cfg.Permissions
			}

			jobs = append(jobs, job{remote: walker.Path(), local: local, mode: mode})
			total += info.Size()
		default:
			c.s.log.Debug("skipping non-regular file", zap.String("path", walker.Path()))
		}
	}

	progress := newSharedProgress(cfg.Progress, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, j := range jobs {
		g.Go(func() error {
			return c.downloadFile(gctx, j.remote, j.local, j.mode, cfg.Stream, progress.forFile())
		})
	}

	return g.Wait()
}

func (c SftpClient) downloadFile(ctx context.Context, remotePath, localPath string, mode os.FileMode, stream []StreamOption, progress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	defer func() { _ = dst.Close() }()

	if err := os.Chmod(localPath, mode); err != nil {
		return fmt.Errorf("failed to chmod local file: %w", err)
	}

	return c.WithFile(ctx, remotePath, os.O_RDONLY, 0, func(f File) error {
		_, err := f.Download(ctx, dst, WithStreamOptions(stream...), WithProgress(progress))

		return err
	})
}

// Upload copies a local file or directory tree to remotePath, creating
// missing remote directories.
func (c SftpClient) Upload(ctx context.Context, localPath, remotePath string, opts ...TransferOption) error {
	cfg := newTransferConfig(opts)

	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		mode := info.Mode().Perm()
		if cfg.Permissions != 0 {
			mode = cfg.Permissions
		}

		if err := c.MkdirAll(ctx, path.Dir(remotePath), 0o755); err != nil {
			return err
		}

		return c.uploadFile(ctx, localPath, remotePath, mode, cfg.Stream, cfg.Progress)
	}

	type job struct {
		local, remote string
		mode          os.FileMode
	}

	var (
		jobs  []job
		total int64
	)

	err = filepath.WalkDir(localPath, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}

		remote, err := fileutil.RemoteJoin(remotePath, filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		mode := info.Mode().Perm()
		if cfg.Permissions != 0 {
			mode = cfg.Permissions
		}

		switch {
		case d.IsDir():
			return c.MkdirAll(ctx, remote, mode|0o700)
		case info.Mode().IsRegular():
			jobs = append(jobs, job{local: p, remote: remote, mode: mode})
			total += info.Size()
		}

		return nil
	})
	if err != nil {
		return err
	}

	progress := newSharedProgress(cfg.Progress, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for _, j := range jobs {
		g.Go(func() error {
			return c.uploadFile(gctx, j.local, j.remote, j.mode, cfg.Stream, progress.forFile())
		})
	}

	return g.Wait()
}

func (c SftpClient) uploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode, stream []StreamOption, progress ProgressFunc) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}

	defer func() { _ = src.Close() }()

	return c.WithFile(ctx, remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode, func(f File) error {
		if _, err := f.Upload(ctx, src, WithStreamOptions(stream...), WithProgress(progress)); err != nil {
			return err
		}

		// Creation modes are filtered by the server's umask.
		return c.Chmod(ctx, remotePath, mode)
	})
}

// sharedProgress folds per-file progress from concurrent transfers into one
// cumulative callback.
type sharedProgress struct {
	mu    sync.Mutex
	fn    ProgressFunc
	total int64
	done  int64
}

func newSharedProgress(fn ProgressFunc, total int64) *sharedProgress {
	return &sharedProgress{fn: fn, total: total}
}

func (p *sharedProgress) forFile() ProgressFunc {
	if p.fn == nil {
		return nil
	}

	var last int64

	return func(current, _ int64) {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.done += current - last
		last = current
		p.fn(p.done, p.total)
	}
}

// remoteFS lets kr/fs walk a remote tree through an SftpClient.
type remoteFS struct {
	ctx context.Context //nolint:containedctx // fs.FileSystem has no context parameter
	c   SftpClient
}

func (r remoteFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := r.c.ReadDir(r.ctx, dirname)
	if err != nil {
		return nil, err
	}

	out := make([]os.FileInfo, len(entries))
	for i, e := range entries {
		out[i] = e.FileInfo()
	}

	return out, nil
}

func (r remoteFS) Lstat(name string) (os.FileInfo, error) {
	attrs, err := r.c.LinkAttributes(r.ctx, name)
	if err != nil {
		return nil, err
	}

	if attrs.Name == "" {
		attrs.Name = path.Base(name)
	}

	return attrs.FileInfo(), nil
}

func (r remoteFS) Join(elem ...string) string {
	return path.Join(elem...)
}
