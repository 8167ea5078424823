package sshkit

import (
	"context"
	"fmt"
	"io"

	"github.com/ruffel/sshkit/engine"
	"go.uber.org/zap"
)

// Channel is a command execution channel registered with a Session.
//
// A channel runs exactly one command: it is opened, executes, is read until
// both streams end, then closed.
type Channel struct {
	s  *Session
	id ResourceID
}

// ID returns the channel's resource id.
func (c Channel) ID() ResourceID { return c.id }

// OpenChannel allocates a channel and opens a session on it. If the session
// cannot be opened the channel is released and nothing is registered.
func (s *Session) OpenChannel(ctx context.Context) (Channel, error) {
	const op = "channel.open"

	id, err := query(ctx, s, op, func() (ResourceID, error) {
		h, err := s.eng.NewChannel()
		if err != nil {
			return 0, translate(classOther, op, err)
		}

		if err := h.OpenSession(); err != nil {
			h.Free()

			return 0, translate(classOther, op, err)
		}

		id := s.reg.channels.add(&channelEntry{h: h, state: channelOpened})
		s.logOpened(FamilyChannel, id)

		return id, nil
	})
	if err != nil {
		return Channel{}, err
	}

	return Channel{s: s, id: id}, nil
}

// WithChannel opens a channel, passes it to fn and closes it when fn returns.
func (s *Session) WithChannel(ctx context.Context, fn func(Channel) error) (err error) {
	ch, err := s.OpenChannel(ctx)
	if err != nil {
		return err
	}

	defer release(ctx, &err, ch.Close)

	return fn(ch)
}

// CloseChannel closes and releases a channel. Unknown ids are ignored.
func (s *Session) CloseChannel(ctx context.Context, id ResourceID) error {
	return s.do(ctx, "channel.close", func() error {
		return s.releaseChannel(id)
	})
}

func (s *Session) releaseChannel(id ResourceID) error {
	e, ok := s.reg.channels.remove(id)
	if !ok {
		return nil
	}

	err := e.h.Close()
	e.h.Free()
	e.state = channelClosed
	s.logClosed(FamilyChannel, id)

	return translate(classOther, "channel.close", err)
}

// Close closes and releases the channel.
func (c Channel) Close(ctx context.Context) error {
	return c.s.CloseChannel(ctx, c.id)
}

// Execute runs cmd on the channel. A channel executes at most one command.
func (c Channel) Execute(ctx context.Context, cmd string) error {
	const op = "channel.exec"

	return c.with(ctx, op, channelOpened, func(e *channelEntry) error {
		if err := e.h.Exec(cmd); err != nil {
			return translate(classOther, op, err)
		}

		e.state = channelExecuting
		c.s.log.Debug("executing", zap.Stringer("channel", c.id), zap.String("command", cmd))

		return nil
	})
}

// ExecuteCommand validates cmd and executes its rendered command line.
func (c Channel) ExecuteCommand(ctx context.Context, cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return &Error{Kind: KindLibrary, Code: engine.CodeInvalidArgument, Op: "channel.exec", Err: err}
	}

	return c.Execute(ctx, cmd.Line())
}

// Read performs one bounded read of at most size bytes from stream. It
// returns io.EOF once the stream has ended.
func (c Channel) Read(ctx context.Context, stream Stream, size int) ([]byte, error) {
	const op = "channel.read"

	if size <= 0 {
		size = DefaultReadSize
	}

	var out []byte

	err := c.with(ctx, op, channelExecuting, func(e *channelEntry) error {
		buf := make([]byte, size)

		n, err := e.h.Read(stream, buf)
		if err != nil {
			return translate(classOther, op, err)
		}

		if n == 0 {
			return io.EOF
		}

		out = buf[:n]

		return nil
	})

	return out, err
}

// Write sends p to the remote process's standard input.
func (c Channel) Write(ctx context.Context, p []byte) (int, error) {
	const op = "channel.write"

	var n int

	err := c.with(ctx, op, channelExecuting, func(e *channelEntry) error {
		var err error

		n, err = e.h.Write(p)

		return translate(classOther, op, err)
	})

	return n, err
}

// SendEOF closes the remote process's standard input.
func (c Channel) SendEOF(ctx context.Context) error {
	const op = "channel.send_eof"

	return c.with(ctx, op, channelExecuting, func(e *channelEntry) error {
		return translate(classOther, op, e.h.SendEOF())
	})
}

// Signal delivers a signal by name, without the SIG prefix.
func (c Channel) Signal(ctx context.Context, name string) error {
	const op = "channel.signal"

	return c.with(ctx, op, channelExecuting, func(e *channelEntry) error {
		return translate(classOther, op, e.h.Signal(name))
	})
}

// ExitStatus waits for the remote process to terminate and returns how it
// did. The result is cached, so later calls do not touch the engine.
func (c Channel) ExitStatus(ctx context.Context) (ExitStatus, error) {
	const op = "channel.exit_status"

	var out ExitStatus

	err := c.with(ctx, op, channelExecuting, func(e *channelEntry) error {
		if e.exit == nil {
			st, err := e.h.ExitStatus()
			if err != nil {
				return translate(classOther, op, err)
			}

			e.exit = &st
		}

		out = *e.exit

		return nil
	})

	return out, err
}

func (c Channel) with(ctx context.Context, op string, want channelState, fn func(*channelEntry) error) error {
	return c.s.do(ctx, op, func() error {
		e, err := c.s.reg.channels.get(c.id)
		if err != nil {
			return invalidState(op, err)
		}

		if e.state != want {
			return invalidState(op, fmt.Errorf("%w: %s is %s, want %s", ErrChannelState, c.id, e.state, want))
		}

		return fn(e)
	})
}
