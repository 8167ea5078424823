package sshkit

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"

	"github.com/ruffel/sshkit/engine"
	"go.uber.org/zap"
)

// SftpClient is an SFTP sub-session registered with a Session. Files and
// directories opened through it are closed when it is.
type SftpClient struct {
	s  *Session
	id ResourceID
}

// ID returns the client's resource id.
func (c SftpClient) ID() ResourceID { return c.id }

// OpenSftp starts the SFTP subsystem.
func (s *Session) OpenSftp(ctx context.Context) (SftpClient, error) {
	const op = "sftp.open"

	id, err := query(ctx, s, op, func() (ResourceID, error) {
		h, err := s.eng.NewSFTP()
		if err != nil {
			return 0, translate(classSFTP, op, err)
		}

		id := s.reg.sftp.add(&sftpEntry{
			h:     h,
			files: make(map[ResourceID]struct{}),
			dirs:  make(map[ResourceID]struct{}),
		})
		s.logOpened(FamilySftp, id)

		return id, nil
	})
	if err != nil {
		return SftpClient{}, err
	}

	return SftpClient{s: s, id: id}, nil
}

// WithSftp opens an SFTP client, passes it to fn and closes it afterwards.
func (s *Session) WithSftp(ctx context.Context, fn func(SftpClient) error) (err error) {
	c, err := s.OpenSftp(ctx)
	if err != nil {
		return err
	}

	defer release(ctx, &err, c.Close)

	return fn(c)
}

// CloseSftp releases an SFTP client together with its open files and
// directories. Unknown ids are ignored.
func (s *Session) CloseSftp(ctx context.Context, id ResourceID) error {
	return s.do(ctx, "sftp.close", func() error {
		return s.releaseSftp(id)
	})
}

func (s *Session) releaseSftp(id ResourceID) error {
	e, ok := s.reg.sftp.remove(id)
	if !ok {
		return nil
	}

	var errs []error

	for _, fid := range sortedIDs(e.files) {
		errs = append(errs, s.releaseFile(fid))
	}

	for _, did := range sortedIDs(e.dirs) {
		errs = append(errs, s.releaseDir(did))
	}

	e.h.Free()
	s.logClosed(FamilySftp, id)

	return errors.Join(errs...)
}

// Close releases the client and everything opened through it.
func (c SftpClient) Close(ctx context.Context) error {
	return c.s.CloseSftp(ctx, c.id)
}

// CreateDirectory creates a directory with the given permissions.
func (c SftpClient) CreateDirectory(ctx context.Context, p string, perm fs.FileMode) error {
	return c.exec(ctx, "sftp.mkdir", func(h engine.SFTP) error { return h.Mkdir(p, perm) })
}

// MkdirAll creates p and any missing parents. Existing directories are
// accepted.
func (c SftpClient) MkdirAll(ctx context.Context, p string, perm fs.FileMode) error {
	p = path.Clean(p)

	attrs, err := c.Attributes(ctx, p)
	if err == nil {
		if attrs.IsDir() {
			return nil
		}

		return &Error{Kind: KindSFTP, SFTP: SFTPFailure, Op: "sftp.mkdir", Message: p + " exists and is not a directory"}
	}

	if !errors.Is(err, ErrNoSuchFile) && !errors.Is(err, ErrNoSuchPath) {
		return err
	}

	if parent := path.Dir(p); parent != p && parent != "." && parent != "/" {
		if err := c.MkdirAll(ctx, parent, perm); err != nil {
			return err
		}
	}

	err = c.CreateDirectory(ctx, p, perm)
	if errors.Is(err, ErrFileAlreadyExists) {
		return nil
	}

	return err
}

// RemoveDirectory removes an empty directory.
func (c SftpClient) RemoveDirectory(ctx context.Context, p string) error {
	return c.exec(ctx, "sftp.rmdir", func(h engine.SFTP) error { return h.Rmdir(p) })
}

// Attributes returns the attributes of p, following symbolic links.
func (c SftpClient) Attributes(ctx context.Context, p string) (Attributes, error) {
	return sftpQuery(ctx, c, "sftp.stat", func(h engine.SFTP) (Attributes, error) { return h.Stat(p) })
}

// LinkAttributes returns the attributes of p without following a final
// symbolic link.
func (c SftpClient) LinkAttributes(ctx context.Context, p string) (Attributes, error) {
	return sftpQuery(ctx, c, "sftp.lstat", func(h engine.SFTP) (Attributes, error) { return h.Lstat(p) })
}

// SetAttributes applies the flagged fields of attrs to p.
func (c SftpClient) SetAttributes(ctx context.Context, p string, attrs Attributes) error {
	return c.exec(ctx, "sftp.setstat", func(h engine.SFTP) error { return h.SetStat(p, attrs) })
}

// Chmod changes the permission bits of p.
func (c SftpClient) Chmod(ctx context.Context, p string, perm fs.FileMode) error {
	return c.SetAttributes(ctx, p, Attributes{}.WithPermissions(perm))
}

// Move renames oldpath to newpath.
func (c SftpClient) Move(ctx context.Context, oldpath, newpath string) error {
	return c.exec(ctx, "sftp.rename", func(h engine.SFTP) error { return h.Rename(oldpath, newpath) })
}

// RemoveFile removes a file or symbolic link.
func (c SftpClient) RemoveFile(ctx context.Context, p string) error {
	return c.exec(ctx, "sftp.remove", func(h engine.SFTP) error { return h.Remove(p) })
}

// Symlink creates link pointing at target.
func (c SftpClient) Symlink(ctx context.Context, target, link string) error {
	return c.exec(ctx, "sftp.symlink", func(h engine.SFTP) error { return h.Symlink(target, link) })
}

// ReadLink returns the target of a symbolic link.
func (c SftpClient) ReadLink(ctx context.Context, p string) (string, error) {
	return sftpQuery(ctx, c, "sftp.readlink", func(h engine.SFTP) (string, error) { return h.ReadLink(p) })
}

// RealPath canonicalises p on the server.
func (c SftpClient) RealPath(ctx context.Context, p string) (string, error) {
	return sftpQuery(ctx, c, "sftp.realpath", func(h engine.SFTP) (string, error) { return h.RealPath(p) })
}

// Limits returns the server's transfer limits. They are fetched once per
// client.
func (c SftpClient) Limits(ctx context.Context) (Limits, error) {
	const op = "sftp.limits"

	return query(ctx, c.s, op, func() (Limits, error) {
		e, err := c.s.reg.sftp.get(c.id)
		if err != nil {
			return Limits{}, invalidState(op, err)
		}

		return c.s.limits(e)
	})
}

func (s *Session) limits(e *sftpEntry) (Limits, error) {
	if e.limits == nil {
		l, err := e.h.Limits()
		if err != nil {
			return Limits{}, translate(classSFTP, "sftp.limits", err)
		}

		e.limits = &l
	}

	return *e.limits, nil
}

// ReadDir lists a directory, skipping "." and "..".
func (c SftpClient) ReadDir(ctx context.Context, p string) ([]Attributes, error) {
	var out []Attributes

	err := c.WithDirectory(ctx, p, func(d Dir) error {
		for attrs, err := range d.Entries(ctx) {
			if err != nil {
				return err
			}

			out = append(out, attrs)
		}

		return nil
	})

	return out, err
}

// OpenFile opens p with os.O_* flags. perm applies to created files.
func (c SftpClient) OpenFile(ctx context.Context, p string, flag int, perm fs.FileMode) (File, error) {
	const op = "sftp.open_file"

	id, err := query(ctx, c.s, op, func() (ResourceID, error) {
		e, err := c.s.reg.sftp.get(c.id)
		if err != nil {
			return 0, invalidState(op, err)
		}

		h, err := e.h.Open(p, flag, perm)
		if err != nil {
			return 0, translate(classSFTP, op, err)
		}

		id := c.s.reg.files.add(&fileEntry{h: h, sftp: c.id, path: p})
		e.files[id] = struct{}{}
		c.s.logOpened(FamilyFile, id, zap.String("path", p))

		return id, nil
	})
	if err != nil {
		return File{}, err
	}

	return File{s: c.s, id: id, sftp: c.id}, nil
}

// Open opens p for reading.
func (c SftpClient) Open(ctx context.Context, p string) (File, error) {
	return c.OpenFile(ctx, p, os.O_RDONLY, 0)
}

// Create creates or truncates p for writing with mode 0644.
func (c SftpClient) Create(ctx context.Context, p string) (File, error) {
	return c.OpenFile(ctx, p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// WithFile opens a file, passes it to fn and closes it afterwards.
func (c SftpClient) WithFile(ctx context.Context, p string, flag int, perm fs.FileMode, fn func(File) error) (err error) {
	f, err := c.OpenFile(ctx, p, flag, perm)
	if err != nil {
		return err
	}

	defer release(ctx, &err, f.Close)

	return fn(f)
}

// OpenDirectory opens p for listing.
func (c SftpClient) OpenDirectory(ctx context.Context, p string) (Dir, error) {
	const op = "sftp.opendir"

	id, err := query(ctx, c.s, op, func() (ResourceID, error) {
		e, err := c.s.reg.sftp.get(c.id)
		if err != nil {
			return 0, invalidState(op, err)
		}

		h, err := e.h.OpenDir(p)
		if err != nil {
			return 0, translate(classSFTP, op, err)
		}

		id := c.s.reg.dirs.add(&dirEntry{h: h, sftp: c.id, path: p})
		e.dirs[id] = struct{}{}
		c.s.logOpened(FamilyDir, id, zap.String("path", p))

		return id, nil
	})
	if err != nil {
		return Dir{}, err
	}

	return Dir{s: c.s, id: id}, nil
}

// WithDirectory opens a directory, passes it to fn and closes it afterwards.
func (c SftpClient) WithDirectory(ctx context.Context, p string, fn func(Dir) error) (err error) {
	d, err := c.OpenDirectory(ctx, p)
	if err != nil {
		return err
	}

	defer release(ctx, &err, d.Close)

	return fn(d)
}

func (c SftpClient) exec(ctx context.Context, op string, fn func(engine.SFTP) error) error {
	_, err := sftpQuery(ctx, c, op, func(h engine.SFTP) (struct{}, error) {
		return struct{}{}, fn(h)
	})

	return err
}

func sftpQuery[T any](ctx context.Context, c SftpClient, op string, fn func(engine.SFTP) (T, error)) (T, error) {
	return query(ctx, c.s, op, func() (T, error) {
		var zero T

		e, err := c.s.reg.sftp.get(c.id)
		if err != nil {
			return zero, invalidState(op, err)
		}

		v, err := fn(e.h)
		if err != nil {
			return zero, translate(classSFTP, op, err)
		}

		return v, nil
	})
}
