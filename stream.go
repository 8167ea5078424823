package sshkit

import (
	"context"
	"errors"
	"io"
	"iter"
)

// Stream yields the channel's output on one stream as a sequence of chunks.
// Every chunk is a fresh slice the caller may keep. ctx is checked before
// each read; on cancellation or failure the error is yielded once and the
// sequence ends. Breaking out of the loop stops reading.
func (c Channel) Stream(ctx context.Context, stream Stream, opts ...StreamOption) iter.Seq2[[]byte, error] {
	cfg := newStreamConfig(opts)

	size := cfg.ChunkSize
	if size <= 0 {
		size = DefaultReadSize
	}

	return func(yield func([]byte, error) bool) {
		for {
			if ctx.Err() != nil {
				yield(nil, context.Cause(ctx))

				return
			}

			b, err := c.Read(ctx, stream, size)
			if errors.Is(err, io.EOF) {
				return
			}

			if err != nil {
				yield(nil, err)

				return
			}

			if !yield(b, nil) {
				return
			}
		}
	}
}

// Reader adapts one of the channel's streams to an io.Reader.
func (c Channel) Reader(ctx context.Context, stream Stream) io.Reader {
	return &channelReader{ctx: ctx, ch: c, stream: stream}
}

type channelReader struct {
	ctx    context.Context //nolint:containedctx // io.Reader has no context parameter
	ch     Channel
	stream Stream
	buf    []byte
	err    error
}

func (r *channelReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(r.buf) == 0 && r.err == nil {
		r.buf, r.err = r.ch.Read(r.ctx, r.stream, max(len(p), DefaultReadSize))
	}

	if len(r.buf) > 0 {
		n := copy(p, r.buf)
		r.buf = r.buf[n:]

		return n, nil
	}

	return 0, r.err
}

// Stdin adapts the channel's standard input to an io.WriteCloser. Close
// sends EOF; it does not close the channel.
func (c Channel) Stdin(ctx context.Context) io.WriteCloser {
	return &channelWriter{ctx: ctx, ch: c}
}

type channelWriter struct {
	ctx context.Context //nolint:containedctx // io.Writer has no context parameter
	ch  Channel
}

func (w *channelWriter) Write(p []byte) (int, error) {
	return w.ch.Write(w.ctx, p)
}

func (w *channelWriter) Close() error {
	return w.ch.SendEOF(w.ctx)
}
