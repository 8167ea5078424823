package ssh

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/ruffel/sshkit/engine"
)

type sftpClient struct {
	c         *sftp.Client
	maxPacket int
}

var _ engine.SFTP = (*sftpClient)(nil)

func (s *sftpClient) Mkdir(p string, mode fs.FileMode) error {
	if err := s.c.Mkdir(p); err != nil {
		return sftpError(err)
	}

	if mode == 0 {
		return nil
	}

	// Creation modes are filtered by the server's umask.
	return sftpError(s.c.Chmod(p, mode))
}

func (s *sftpClient) Rmdir(p string) error {
	return sftpError(s.c.RemoveDirectory(p))
}

func (s *sftpClient) Stat(p string) (engine.Attributes, error) {
	fi, err := s.c.Stat(p)
	if err != nil {
		return engine.Attributes{}, sftpError(err)
	}

	return attributes(fi), nil
}

func (s *sftpClient) Lstat(p string) (engine.Attributes, error) {
	fi, err := s.c.Lstat(p)
	if err != nil {
		return engine.Attributes{}, sftpError(err)
	}

	return attributes(fi), nil
}

func (s *sftpClient) SetStat(p string, a engine.Attributes) error {
	if a.Flags.Has(engine.AttrSize) {
		if err := s.c.Truncate(p, int64(a.Size)); err != nil { //nolint:gosec // sizes beyond 2^63 do not occur
			return sftpError(err)
		}
	}

	if a.Flags.Has(engine.AttrUIDGID) {
		if err := s.c.Chown(p, int(a.UID), int(a.GID)); err != nil {
			return sftpError(err)
		}
	}

	if a.Flags.Has(engine.AttrPermissions) {
		if err := s.c.Chmod(p, a.Mode()); err != nil {
			return sftpError(err)
		}
	}

	if a.Flags.Has(engine.AttrAccessTime) || a.Flags.Has(engine.AttrModifyTime) {
		atime, mtime := a.AccessTime, a.ModifyTime
		if atime.IsZero() || mtime.IsZero() {
			fi, err := s.c.Stat(p)
			if err != nil {
				return sftpError(err)
			}

			cur := attributes(fi)
			if atime.IsZero() {
				atime = cur.AccessTime
			}

			if mtime.IsZero() {
				mtime = cur.ModifyTime
			}
		}

		if err := s.c.Chtimes(p, atime, mtime); err != nil {
			return sftpError(err)
		}
	}

	return nil
}

func (s *sftpClient) Rename(oldpath, newpath string) error {
	return sftpError(s.c.Rename(oldpath, newpath))
}

// Remove deletes a non-directory. pkg/sftp falls back to RMDIR on failure, so
// directories are rejected up front.
func (s *sftpClient) Remove(p string) error {
	fi, err := s.c.Lstat(p)
	if err != nil {
		return sftpError(err)
	}

	if fi.IsDir() {
		return engine.StatusErrorf(engine.StatusFailure, "is a directory: %s", p)
	}

	return sftpError(s.c.Remove(p))
}

func (s *sftpClient) Symlink(target, link string) error {
	return sftpError(s.c.Symlink(target, link))
}

func (s *sftpClient) ReadLink(p string) (string, error) {
	target, err := s.c.ReadLink(p)

	return target, sftpError(err)
}

func (s *sftpClient) RealPath(p string) (string, error) {
	resolved, err := s.c.RealPath(p)

	return resolved, sftpError(err)
}

// Limits reports the negotiated packet size. pkg/sftp does not query the
// limits@openssh.com extension.
func (s *sftpClient) Limits() (engine.Limits, error) {
	n := uint64(s.maxPacket) //nolint:gosec // validated non-negative

	return engine.Limits{
		MaxPacketLength: n,
		MaxReadLength:   n,
		MaxWriteLength:  n,
	}, nil
}

func (s *sftpClient) Open(p string, flag int, mode fs.FileMode) (engine.File, error) {
	created := false

	if flag&os.O_CREATE != 0 && mode != 0 {
		_, err := s.c.Lstat(p)
		created = errors.Is(err, os.ErrNotExist)
	}

	f, err := s.c.OpenFile(p, flag)
	if err != nil {
		return nil, sftpError(err)
	}

	if created {
		if err := f.Chmod(mode); err != nil {
			_ = f.Close()

			return nil, sftpError(err)
		}
	}

	h := &file{f: f}
	if flag&os.O_APPEND != 0 {
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()

			return nil, sftpError(err)
		}

		h.off = fi.Size()
	}

	return h, nil
}

// OpenDir fetches the whole listing up front. pkg/sftp v1 exposes no
// incremental readdir, so Next hands out entries from the fetched slice.
func (s *sftpClient) OpenDir(p string) (engine.Dir, error) {
	entries, err := s.c.ReadDir(p)
	if err != nil {
		return nil, sftpError(err)
	}

	d := &dir{entries: make([]engine.Attributes, 0, len(entries))}
	for _, fi := range entries {
		d.entries = append(d.entries, attributes(fi))
	}

	return d, nil
}

func (s *sftpClient) Free() {
	_ = s.c.Close()
}

// attributes converts the FileInfo pkg/sftp returns. Sys carries the raw
// *sftp.FileStat with POSIX mode bits.
func attributes(fi fs.FileInfo) engine.Attributes {
	a := engine.Attributes{
		Name:       fi.Name(),
		Flags:      engine.AttrSize | engine.AttrPermissions | engine.AttrModifyTime,
		Size:       uint64(fi.Size()), //nolint:gosec // sizes are never negative
		ModifyTime: fi.ModTime(),
	}

	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		a.Flags |= engine.AttrUIDGID | engine.AttrAccessTime
		a.Permissions = st.Mode
		a.UID, a.GID = st.UID, st.GID
		a.AccessTime = unixTime(st.Atime)
		a.ExtendedCount = uint32(len(st.Extended)) //nolint:gosec // bounded by packet size
	} else {
		a.Permissions = engine.FromFileMode(fi.Mode())
	}

	a.Type = engine.TypeFromMode(a.Permissions)

	return a
}

// file tracks its own cursor and issues positional requests, so AIO requests
// can run concurrently on pkg/sftp's pipelined client.
type file struct {
	f   *sftp.File
	off int64
	wg  sync.WaitGroup
}

var _ engine.File = (*file)(nil)

func (f *file) Seek(offset int64) error {
	if offset < 0 {
		return engine.Errorf(engine.CodeInvalidArgument, "negative offset %d", offset)
	}

	f.off = offset

	return nil
}

func (f *file) Tell() int64 {
	return f.off
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.f.ReadAt(p, f.off)
	f.off += int64(n)

	if errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, sftpError(err)
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.f.WriteAt(p, f.off)
	f.off += int64(n)

	return n, sftpError(err)
}

func (f *file) Stat() (engine.Attributes, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return engine.Attributes{}, sftpError(err)
	}

	return attributes(fi), nil
}

func (f *file) BeginRead(n int) (engine.AIO, error) {
	if n <= 0 {
		return nil, engine.Errorf(engine.CodeInvalidArgument, "read length must be positive, got %d", n)
	}

	off := f.off
	f.off += int64(n)

	return f.start(func() ([]byte, int, error) {
		buf := make([]byte, n)

		got, err := f.f.ReadAt(buf, off)
		if errors.Is(err, io.EOF) {
			err = nil
		}

		return buf[:got], got, err
	}), nil
}

func (f *file) BeginWrite(p []byte) (engine.AIO, error) {
	data := slices.Clone(p)
	off := f.off
	f.off += int64(len(p))

	return f.start(func() ([]byte, int, error) {
		n, err := f.f.WriteAt(data, off)

		return nil, n, err
	}), nil
}

func (f *file) start(fn func() ([]byte, int, error)) *aio {
	a := &aio{done: make(chan struct{})}

	f.wg.Add(1)

	go func() {
		defer f.wg.Done()
		defer close(a.done)

		a.data, a.n, a.err = fn()
	}()

	return a
}

// Close waits for outstanding requests before closing the handle.
func (f *file) Close() error {
	f.wg.Wait()

	return sftpError(f.f.Close())
}

type aio struct {
	done chan struct{}
	data []byte
	n    int
	err  error
}

var _ engine.AIO = (*aio)(nil)

func (a *aio) Wait(p []byte) (int, error) {
	<-a.done

	if a.err != nil {
		return 0, sftpError(a.err)
	}

	if a.data != nil {
		return copy(p, a.data), nil
	}

	return a.n, nil
}

func (a *aio) Free() {}

type dir struct {
	entries []engine.Attributes
}

var _ engine.Dir = (*dir)(nil)

func (d *dir) Next() (*engine.Attributes, error) {
	if len(d.entries) == 0 {
		return nil, nil //nolint:nilnil // End of listing.
	}

	a := d.entries[0]
	d.entries = d.entries[1:]

	return &a, nil
}

func (d *dir) Close() error {
	return nil
}

func unixTime(sec uint32) time.Time {
	return time.Unix(int64(sec), 0)
}
