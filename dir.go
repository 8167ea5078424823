package sshkit

import (
	"context"
	"iter"
)

// Dir is an open remote directory listing.
type Dir struct {
	s  *Session
	id ResourceID
}

// ID returns the directory's resource id.
func (d Dir) ID() ResourceID { return d.id }

// CloseDirectory closes a directory listing. Unknown ids are ignored.
func (s *Session) CloseDirectory(ctx context.Context, id ResourceID) error {
	return s.do(ctx, "dir.close", func() error {
		return s.releaseDir(id)
	})
}

func (s *Session) releaseDir(id ResourceID) error {
	e, ok := s.reg.dirs.remove(id)
	if !ok {
		return nil
	}

	if parent, err := s.reg.sftp.get(e.sftp); err == nil {
		delete(parent.dirs, id)
	}

	err := e.h.Close()
	s.logClosed(FamilyDir, id)

	return translate(classSFTP, "dir.close", err)
}

// Close closes the listing.
func (d Dir) Close(ctx context.Context) error {
	return d.s.CloseDirectory(ctx, d.id)
}

// Next returns the next raw entry, including "." and "..". ok is false once
// the listing is exhausted.
func (d Dir) Next(ctx context.Context) (attrs Attributes, ok bool, err error) {
	const op = "dir.next"

	err = d.s.do(ctx, op, func() error {
		e, err := d.s.reg.dirs.get(d.id)
		if err != nil {
			return invalidState(op, err)
		}

		a, err := e.h.Next()
		if err != nil {
			return translate(classSFTP, op, err)
		}

		if a != nil {
			attrs, ok = *a, true
		}

		return nil
	})

	return attrs, ok, err
}

// Entries iterates the remaining entries, skipping "." and "..". Each entry
// is fetched with its own engine call, and ctx is checked before each one.
// On failure or cancellation the error is yielded once and iteration stops.
func (d Dir) Entries(ctx context.Context) iter.Seq2[Attributes, error] {
	return func(yield func(Attributes, error) bool) {
		for {
			if ctx.Err() != nil {
				yield(Attributes{}, context.Cause(ctx))

				return
			}

			a, ok, err := d.Next(ctx)
			if err != nil {
				yield(Attributes{}, err)

				return
			}

			if !ok {
				return
			}

			if a.Name == "." || a.Name == ".." {
				continue
			}

			if !yield(a, nil) {
				return
			}
		}
	}
}
