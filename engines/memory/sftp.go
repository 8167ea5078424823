package memory

import (
	"io/fs"
	"os"
	"path"
	"slices"

	"github.com/ruffel/sshkit/engine"
)

type sftpSession struct {
	e     *Engine
	freed bool
}

var _ engine.SFTP = (*sftpSession)(nil)

func (s *sftpSession) call(op string) (func(), error) {
	done, err := s.e.enter("sftp." + op)
	if err != nil {
		return done, err
	}

	if s.freed {
		return done, engine.Errorf(engine.CodeFatal, "sftp session has been freed")
	}

	return done, nil
}

func (s *sftpSession) Mkdir(p string, mode fs.FileMode) error {
	done, err := s.call("mkdir")
	defer done()

	if err != nil {
		return err
	}

	return s.e.fs.mkdir(p, mode)
}

func (s *sftpSession) Rmdir(p string) error {
	done, err := s.call("rmdir")
	defer done()

	if err != nil {
		return err
	}

	return s.e.fs.rmdir(p)
}

func (s *sftpSession) Stat(p string) (engine.Attributes, error) {
	done, err := s.call("stat")
	defer done()

	if err != nil {
		return engine.Attributes{}, err
	}

	return s.e.fs.stat(p, true)
}

func (s *sftpSession) Lstat(p string) (engine.Attributes, error) {
	done, err := s.call("lstat")
	defer done()

	if err != nil {
		return engine.Attributes{}, err
	}

	return s.e.fs.stat(p, false)
}

func (s *sftpSession) SetStat(p string, attrs engine.Attributes) error {
	done, err := s.call("setstat")
	defer done()

	if err != nil {
		return err
	}

	return s.e.fs.setstat(p, attrs)
}

func (s *sftpSession) Rename(oldpath, newpath string) error {
	done, err := s.call("rename")
	defer done()

	if err != nil {
		return err
	}

	return s.e.fs.rename(oldpath, newpath)
}

func (s *sftpSession) Remove(p string) error {
	done, err := s.call("remove")
	defer done()

	if err != nil {
		return err
	}

	return s.e.fs.remove(p)
}

func (s *sftpSession) Symlink(target, link string) error {
	done, err := s.call("symlink")
	defer done()

	if err != nil {
		return err
	}

	return s.e.fs.symlink(target, link)
}

func (s *sftpSession) ReadLink(p string) (string, error) {
	done, err := s.call("readlink")
	defer done()

	if err != nil {
		return "", err
	}

	return s.e.fs.readlink(p)
}

func (s *sftpSession) RealPath(p string) (string, error) {
	done, err := s.call("realpath")
	defer done()

	if err != nil {
		return "", err
	}

	return s.e.fs.realPath(p)
}

func (s *sftpSession) Limits() (engine.Limits, error) {
	done, err := s.call("limits")
	defer done()

	if err != nil {
		return engine.Limits{}, err
	}

	return s.e.limits, nil
}

func (s *sftpSession) Open(p string, flag int, mode fs.FileMode) (engine.File, error) {
	done, err := s.call("open")
	defer done()

	if err != nil {
		return nil, err
	}

	n, err := s.e.fs.open(p, flag, mode)
	if err != nil {
		return nil, err
	}

	s.e.track(func(c *Counts) { c.Files++ })

	f := &file{e: s.e, n: n, name: path.Base(p), flag: flag}
	if flag&os.O_APPEND != 0 {
		f.off = int64(len(s.e.fs.snapshot(n)))
	}

	return f, nil
}

func (s *sftpSession) OpenDir(p string) (engine.Dir, error) {
	done, err := s.call("opendir")
	defer done()

	if err != nil {
		return nil, err
	}

	entries, err := s.e.fs.readdir(p)
	if err != nil {
		return nil, err
	}

	s.e.track(func(c *Counts) { c.Dirs++ })

	return &dir{e: s.e, entries: entries}, nil
}

func (s *sftpSession) Free() {
	done, _ := s.e.enter("sftp.free")
	defer done()

	if !s.freed {
		s.freed = true
		s.e.track(func(c *Counts) { c.Sftp-- })
	}
}

type file struct {
	e      *Engine
	n      *node
	name   string
	flag   int
	off    int64
	closed bool
}

var _ engine.File = (*file)(nil)

func (f *file) call(op string) (func(), error) {
	done, err := f.e.enter("file." + op)
	if err != nil {
		return done, err
	}

	if f.closed {
		return done, engine.StatusErrorf(engine.StatusInvalidHandle, "file is closed")
	}

	return done, nil
}

func (f *file) canRead() error {
	if writeOnly(f.flag) {
		return engine.StatusErrorf(engine.StatusPermissionDenied, "file not open for reading")
	}

	return nil
}

func (f *file) canWrite() error {
	if !writable(f.flag) {
		return engine.StatusErrorf(engine.StatusPermissionDenied, "file not open for writing")
	}

	return nil
}

func (f *file) Seek(offset int64) error {
	done, err := f.call("seek")
	defer done()

	if err != nil {
		return err
	}

	if offset < 0 {
		return engine.Errorf(engine.CodeInvalidArgument, "negative offset %d", offset)
	}

	f.off = offset

	return nil
}

func (f *file) Tell() int64 {
	done, _ := f.call("tell")
	defer done()

	return f.off
}

func (f *file) Read(p []byte) (int, error) {
	done, err := f.call("read")
	defer done()

	if err != nil {
		return 0, err
	}

	if err := f.canRead(); err != nil {
		return 0, err
	}

	n := f.e.fs.readAt(f.n, p, f.off)
	f.off += int64(n)

	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	done, err := f.call("write")
	defer done()

	if err != nil {
		return 0, err
	}

	if err := f.canWrite(); err != nil {
		return 0, err
	}

	n := f.e.fs.writeAt(f.n, p, f.off)
	f.off += int64(n)

	return n, nil
}

func (f *file) Stat() (engine.Attributes, error) {
	done, err := f.call("fstat")
	defer done()

	if err != nil {
		return engine.Attributes{}, err
	}

	return f.e.fs.nodeAttrs(f.n, f.name), nil
}

// BeginRead performs the read immediately and hands the result to Wait.
func (f *file) BeginRead(n int) (engine.AIO, error) {
	done, err := f.call("begin_read")
	defer done()

	if err != nil {
		return nil, err
	}

	if err := f.canRead(); err != nil {
		return nil, err
	}

	if n <= 0 {
		return nil, engine.Errorf(engine.CodeInvalidArgument, "read length must be positive, got %d", n)
	}

	buf := make([]byte, n)
	got := f.e.fs.readAt(f.n, buf, f.off)
	f.off += int64(n)

	f.e.track(func(c *Counts) { c.Aio++ })

	return &aio{e: f.e, data: buf[:got], n: got}, nil
}

func (f *file) BeginWrite(p []byte) (engine.AIO, error) {
	done, err := f.call("begin_write")
	defer done()

	if err != nil {
		return nil, err
	}

	if err := f.canWrite(); err != nil {
		return nil, err
	}

	n := f.e.fs.writeAt(f.n, p, f.off)
	f.off += int64(n)

	f.e.track(func(c *Counts) { c.Aio++ })

	return &aio{e: f.e, n: n}, nil
}

func (f *file) Close() error {
	done, err := f.call("close")
	defer done()

	if err != nil {
		return err
	}

	f.closed = true
	f.e.track(func(c *Counts) { c.Files-- })

	return nil
}

type aio struct {
	e      *Engine
	data   []byte
	n      int
	waited bool
	freed  bool
}

var _ engine.AIO = (*aio)(nil)

func (a *aio) Wait(p []byte) (int, error) {
	done, err := a.e.enter("aio.wait")
	defer done()

	if err != nil {
		return 0, err
	}

	if a.waited || a.freed {
		return 0, engine.Errorf(engine.CodeInvalidArgument, "aio request already completed")
	}

	a.waited = true

	if a.data != nil {
		return copy(p, a.data), nil
	}

	return a.n, nil
}

func (a *aio) Free() {
	done, _ := a.e.enter("aio.free")
	defer done()

	if !a.freed {
		a.freed = true
		a.e.track(func(c *Counts) { c.Aio-- })
	}
}

type dir struct {
	e       *Engine
	entries []engine.Attributes
	closed  bool
}

var _ engine.Dir = (*dir)(nil)

func (d *dir) Next() (*engine.Attributes, error) {
	done, err := d.e.enter("dir.next")
	defer done()

	if err != nil {
		return nil, err
	}

	if d.closed {
		return nil, engine.StatusErrorf(engine.StatusInvalidHandle, "directory is closed")
	}

	if len(d.entries) == 0 {
		return nil, nil //nolint:nilnil // End of listing.
	}

	a := d.entries[0]
	d.entries = slices.Delete(d.entries, 0, 1)

	return &a, nil
}

func (d *dir) Close() error {
	done, err := d.e.enter("dir.close")
	defer done()

	if err != nil {
		return err
	}

	if !d.closed {
		d.closed = true
		d.e.track(func(c *Counts) { c.Dirs-- })
	}

	return nil
}
