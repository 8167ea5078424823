package sshkit

import (
	"context"
	"fmt"
	"io"

	"github.com/ruffel/sshkit/engine"
	"go.uber.org/zap"
)

// File is an open remote file registered with a Session. The file has a
// cursor shared by Read, Write and the AIO calls; ReadAt and WriteAt move it.
type File struct {
	s    *Session
	id   ResourceID
	sftp ResourceID
}

// ID returns the file's resource id.
func (f File) ID() ResourceID { return f.id }

// CloseFile frees the file's pending AIO operations, then closes it. Unknown
// ids are ignored.
func (s *Session) CloseFile(ctx context.Context, id ResourceID) error {
	return s.do(ctx, "file.close", func() error {
		return s.releaseFile(id)
	})
}

func (s *Session) releaseFile(id ResourceID) error {
	e, ok := s.reg.files.remove(id)
	if !ok {
		return nil
	}

	pending := s.reg.aio.drain(id)
	for _, op := range pending {
		op.h.Free()
	}

	if len(pending) > 0 {
		s.log.Debug("freed pending aio", zap.Stringer("file", id), zap.Int("count", len(pending)))
	}

	if parent, err := s.reg.sftp.get(e.sftp); err == nil {
		delete(parent.files, id)
	}

	err := e.h.Close()
	s.logClosed(FamilyFile, id)

	return translate(classSFTP, "file.close", err)
}

// Close closes the file.
func (f File) Close(ctx context.Context) error {
	return f.s.CloseFile(ctx, f.id)
}

// Seek moves the cursor to an absolute offset.
func (f File) Seek(ctx context.Context, offset int64) error {
	return f.exec(ctx, "file.seek", func(h engine.File) error { return h.Seek(offset) })
}

// Tell returns the cursor position.
func (f File) Tell(ctx context.Context) (int64, error) {
	return fileQuery(ctx, f, "file.tell", func(e *fileEntry) (int64, error) {
		return e.h.Tell(), nil
	})
}

// Attributes returns the attributes of the open file.
func (f File) Attributes(ctx context.Context) (Attributes, error) {
	return fileQuery(ctx, f, "file.fstat", func(e *fileEntry) (Attributes, error) {
		a, err := e.h.Stat()

		return a, translate(classSFTP, "file.fstat", err)
	})
}

// Read reads up to size bytes at the cursor. It returns io.EOF when the
// cursor is at the end of the file.
func (f File) Read(ctx context.Context, size int) ([]byte, error) {
	const op = "file.read"

	return fileQuery(ctx, f, op, func(e *fileEntry) ([]byte, error) {
		return readFull(e.h, size, op)
	})
}

// ReadAt reads up to length bytes starting at offset, leaving the cursor
// after the last byte read. It returns io.EOF when offset is at or past the
// end of the file.
func (f File) ReadAt(ctx context.Context, offset int64, length int) ([]byte, error) {
	const op = "file.read_at"

	return fileQuery(ctx, f, op, func(e *fileEntry) ([]byte, error) {
		if err := e.h.Seek(offset); err != nil {
			return nil, translate(classSFTP, op, err)
		}

		return readFull(e.h, length, op)
	})
}

func readFull(h engine.File, size int, op string) ([]byte, error) {
	switch {
	case size < 0:
		return nil, &Error{
			Kind:    KindLibrary,
			Code:    engine.CodeInvalidArgument,
			Op:      op,
			Message: fmt.Sprintf("negative read size %d", size),
		}
	case size == 0:
		return []byte{}, nil
	}

	buf := make([]byte, size)
	n := 0

	for n < size {
		m, err := h.Read(buf[n:])
		if err != nil {
			return nil, translate(classSFTP, op, err)
		}

		if m == 0 {
			break
		}

		n += m
	}

	if n == 0 {
		return nil, io.EOF
	}

	return buf[:n], nil
}

// Write writes p at the cursor.
func (f File) Write(ctx context.Context, p []byte) (int, error) {
	const op = "file.write"

	return fileQuery(ctx, f, op, func(e *fileEntry) (int, error) {
		return writeFull(e.h, p, op)
	})
}

// WriteAt writes p starting at offset, leaving the cursor after it.
func (f File) WriteAt(ctx context.Context, offset int64, p []byte) (int, error) {
	const op = "file.write_at"

	return fileQuery(ctx, f, op, func(e *fileEntry) (int, error) {
		if err := e.h.Seek(offset); err != nil {
			return 0, translate(classSFTP, op, err)
		}

		return writeFull(e.h, p, op)
	})
}

func writeFull(h engine.File, p []byte, op string) (int, error) {
	n := 0

	for n < len(p) {
		m, err := h.Write(p[n:])
		if err != nil {
			return n, translate(classSFTP, op, err)
		}

		if m == 0 {
			return n, translate(classSFTP, op, io.ErrShortWrite)
		}

		n += m
	}

	return n, nil
}

func (f File) exec(ctx context.Context, op string, fn func(engine.File) error) error {
	_, err := fileQuery(ctx, f, op, func(e *fileEntry) (struct{}, error) {
		return struct{}{}, translate(classSFTP, op, fn(e.h))
	})

	return err
}

func fileQuery[T any](ctx context.Context, f File, op string, fn func(*fileEntry) (T, error)) (T, error) {
	return query(ctx, f.s, op, func() (T, error) {
		e, err := f.s.reg.files.get(f.id)
		if err != nil {
			var zero T

			return zero, invalidState(op, err)
		}

		return fn(e)
	})
}

// AioOperation is a submitted file request whose reply has not been
// collected yet. It is freed by Wait, by Free, or when its file closes.
type AioOperation struct {
	s    *Session
	file ResourceID
	id   ResourceID
}

// ID returns the operation's resource id.
func (a AioOperation) ID() ResourceID { return a.id }

// AioResult is the outcome of a completed AIO operation.
type AioResult struct {
	N    int    // Bytes read or written; 0 on a read means end of file
	Data []byte // Read data, nil for writes
}

// BeginRead submits a read of n bytes at the cursor and advances the cursor
// by n.
func (f File) BeginRead(ctx context.Context, n int) (AioOperation, error) {
	const op = "file.begin_read"

	return f.begin(ctx, op, func(e *fileEntry) (*aioEntry, error) {
		h, err := e.h.BeginRead(n)
		if err != nil {
			return nil, err
		}

		return &aioEntry{h: h, kind: aioRead, size: n}, nil
	})
}

// BeginWrite submits a write of p at the cursor and advances the cursor by
// len(p).
func (f File) BeginWrite(ctx context.Context, p []byte) (AioOperation, error) {
	const op = "file.begin_write"

	return f.begin(ctx, op, func(e *fileEntry) (*aioEntry, error) {
		h, err := e.h.BeginWrite(p)
		if err != nil {
			return nil, err
		}

		return &aioEntry{h: h, kind: aioWrite, size: len(p)}, nil
	})
}

func (f File) begin(ctx context.Context, op string, fn func(*fileEntry) (*aioEntry, error)) (AioOperation, error) {
	id, err := fileQuery(ctx, f, op, func(e *fileEntry) (ResourceID, error) {
		a, err := fn(e)
		if err != nil {
			return 0, translate(classSFTP, op, err)
		}

		return f.s.reg.aio.add(f.id, a), nil
	})
	if err != nil {
		return AioOperation{}, err
	}

	return AioOperation{s: f.s, file: f.id, id: id}, nil
}

// Wait blocks until the operation completes, then frees it. Waiting on a
// freed operation fails with ErrInvalidState.
func (a AioOperation) Wait(ctx context.Context) (AioResult, error) {
	const op = "aio.wait"

	return query(ctx, a.s, op, func() (AioResult, error) {
		e, err := a.s.reg.aio.get(a.file, a.id)
		if err != nil {
			return AioResult{}, invalidState(op, err)
		}

		a.s.reg.aio.remove(a.file, a.id)

		defer e.h.Free()

		var buf []byte
		if e.kind == aioRead {
			buf = make([]byte, e.size)
		}

		n, err := e.h.Wait(buf)
		if err != nil {
			return AioResult{}, translate(classSFTP, op, err)
		}

		res := AioResult{N: n}
		if e.kind == aioRead {
			res.Data = buf[:n]
		}

		return res, nil
	})
}

// Free releases the operation without collecting its reply. Freeing an
// operation that is already gone is a no-op.
func (a AioOperation) Free(ctx context.Context) error {
	return a.s.freeAio(ctx, a.file, a.id)
}

// freeAio releases several operations of one file in a single actor turn.
func (s *Session) freeAio(ctx context.Context, file ResourceID, ids ...ResourceID) error {
	if len(ids) == 0 {
		return nil
	}

	return s.do(ctx, "aio.free", func() error {
		for _, id := range ids {
			if e, ok := s.reg.aio.remove(file, id); ok {
				e.h.Free()
			}
		}

		return nil
	})
}
