package sshkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Stream reads length bytes starting at offset through a pipeline of
// asynchronous read requests, yielding chunks in file order. A negative
// length reads to the end of the file.
//
// Up to QueueDepth requests are kept in flight. ctx is checked before every
// engine call; when the sequence ends for any reason, including the caller
// breaking out of the loop, every request still queued is freed.
func (f File) Stream(ctx context.Context, offset, length int64, opts ...StreamOption) iter.Seq2[[]byte, error] {
	cfg := newStreamConfig(opts)

	return func(yield func([]byte, error) bool) {
		chunk, err := f.chunkSize(ctx, cfg, false)
		if err != nil {
			yield(nil, err)

			return
		}

		if err := f.Seek(ctx, offset); err != nil {
			yield(nil, err)

			return
		}

		var queue []AioOperation

		defer func() { f.freeQueue(ctx, queue) }()

		remaining := length

		for {
			for len(queue) < cfg.QueueDepth && remaining != 0 && ctx.Err() == nil {
				n := int64(chunk)
				if remaining > 0 && remaining < n {
					n = remaining
				}

				op, err := f.BeginRead(ctx, int(n))
				if err != nil {
					yield(nil, err)

					return
				}

				queue = append(queue, op)

				if remaining > 0 {
					remaining -= n
				}
			}

			if ctx.Err() != nil {
				yield(nil, context.Cause(ctx))

				return
			}

			if len(queue) == 0 {
				return
			}

			// A failed Wait stays queued so the deferred free covers it.
			res, err := queue[0].Wait(ctx)
			if err != nil {
				yield(nil, err)

				return
			}

			queue = queue[1:]

			// Reads are only short at the end of the file.
			if res.N == 0 {
				return
			}

			if !yield(res.Data, nil) {
				return
			}

			if res.N < chunk && remaining < 0 {
				return
			}
		}
	}
}

func (f File) freeQueue(ctx context.Context, queue []AioOperation) {
	if len(queue) == 0 {
		return
	}

	ids := make([]ResourceID, len(queue))
	for i, op := range queue {
		ids[i] = op.id
	}

	_ = f.s.freeAio(context.WithoutCancel(ctx), f.id, ids...)
}

// chunkSize picks the request size: the configured size if any, otherwise
// the server's limit capped at DefaultChunkSize.
func (f File) chunkSize(ctx context.Context, cfg StreamConfig, write bool) (int, error) {
	if cfg.ChunkSize > 0 {
		return cfg.ChunkSize, nil
	}

	const op = "file.limits"

	return query(ctx, f.s, op, func() (int, error) {
		if _, err := f.s.reg.files.get(f.id); err != nil {
			return 0, invalidState(op, err)
		}

		e, err := f.s.reg.sftp.get(f.sftp)
		if err != nil {
			return 0, invalidState(op, err)
		}

		l, err := f.s.limits(e)
		if err != nil {
			f.s.log.Debug("limits unavailable, using default chunk size")

			return DefaultChunkSize, nil //nolint:nilerr // Limits are advisory
		}

		limit := l.MaxReadLength
		if write {
			limit = l.MaxWriteLength
		}

		if limit == 0 || limit > DefaultChunkSize {
			return DefaultChunkSize, nil
		}

		return int(limit), nil
	})
}

// AioWriter writes to a File through a pipeline of asynchronous write
// requests. Writes are acknowledged once submitted; Flush and Close wait for
// every outstanding request. The first failure is sticky.
type AioWriter struct {
	ctx   context.Context //nolint:containedctx // io.Writer has no context parameter
	f     File
	cfg   StreamConfig
	chunk int

	queue   []AioOperation
	pending []int // Sizes of queued requests
	written int64
	err     error
	closed  bool
}

// Writer returns an AioWriter writing at the file's cursor.
func (f File) Writer(ctx context.Context, opts ...StreamOption) *AioWriter {
	return &AioWriter{ctx: ctx, f: f, cfg: newStreamConfig(opts)}
}

// Write submits p in chunk-sized requests, waiting for the oldest request
// whenever the queue is full.
func (w *AioWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, invalidState("aio.write", errors.New("writer is closed"))
	}

	if w.err != nil {
		return 0, w.err
	}

	if w.chunk == 0 {
		chunk, err := w.f.chunkSize(w.ctx, w.cfg, true)
		if err != nil {
			return 0, w.fail(err)
		}

		w.chunk = chunk
	}

	n := 0

	for n < len(p) {
		if w.ctx.Err() != nil {
			return n, w.fail(context.Cause(w.ctx))
		}

		if len(w.queue) >= w.cfg.QueueDepth {
			if err := w.waitOldest(); err != nil {
				return n, err
			}
		}

		end := min(n+w.chunk, len(p))

		op, err := w.f.BeginWrite(w.ctx, p[n:end])
		if err != nil {
			return n, w.fail(err)
		}

		w.queue = append(w.queue, op)
		w.pending = append(w.pending, end-n)
		n = end
	}

	return n, nil
}

func (w *AioWriter) waitOldest() error {
	res, err := w.queue[0].Wait(w.ctx)
	if err != nil {
		return w.fail(err)
	}

	size := w.pending[0]
	w.queue, w.pending = w.queue[1:], w.pending[1:]

	w.written += int64(res.N)

	if res.N != size {
		return w.fail(fmt.Errorf("aio write: %w (%d of %d bytes)", io.ErrShortWrite, res.N, size))
	}

	return nil
}

// fail records err and frees everything still queued.
func (w *AioWriter) fail(err error) error {
	if w.err == nil {
		w.err = err
	}

	w.f.freeQueue(w.ctx, w.queue)
	w.queue, w.pending = nil, nil

	return w.err
}

// Flush waits for every outstanding request.
func (w *AioWriter) Flush() error {
	if w.err != nil {
		return w.err
	}

	for len(w.queue) > 0 {
		if w.ctx.Err() != nil {
			return w.fail(context.Cause(w.ctx))
		}

		if err := w.waitOldest(); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes the writer. It does not close the file.
func (w *AioWriter) Close() error {
	if w.closed {
		return w.err
	}

	err := w.Flush()
	w.closed = true

	return err
}

// Written returns the number of bytes the server has confirmed.
func (w *AioWriter) Written() int64 {
	return w.written
}
