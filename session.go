package sshkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruffel/sshkit/engine"
	"go.uber.org/zap"
)

// Session is the single owner of an engine connection and of every handle
// derived from it. All engine calls run one at a time on the session's actor
// goroutine, so any number of goroutines may share a Session.
//
// A call that has been handed to the actor always runs to completion; context
// cancellation is observed before submission and between engine calls, never
// during one.
type Session struct {
	reqs chan *request
	done chan struct{}
	log  *zap.Logger

	// Owned by the actor goroutine.
	eng engine.Engine
	cfg engine.Config
	reg *registry
}

type request struct {
	op    string
	fn    func() error
	reply chan error
}

// NewSession starts a session actor around eng. The caller must Close the
// session to release the engine and stop the actor.
func NewSession(eng engine.Engine, opts ...Option) *Session {
	cfg := sessionConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Session{
		reqs: make(chan *request),
		done: make(chan struct{}),
		log:  cfg.logger,
		eng:  eng,
		reg:  newRegistry(),
	}

	go s.loop()

	return s
}

func (s *Session) loop() {
	defer close(s.done)

	s.log.Debug("session actor started")

	for {
		req := <-s.reqs
		req.reply <- s.run(req)

		if s.eng == nil {
			s.log.Debug("session actor stopped")

			return
		}
	}
}

func (s *Session) run(req *request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("engine call panicked", zap.String("op", req.op), zap.Any("panic", r))
			err = &Error{Kind: KindLibrary, Code: engine.CodeFatal, Op: req.op, Message: fmt.Sprint(r)}
		}
	}()

	return req.fn()
}

// do runs fn on the actor goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, op string, fn func() error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	req := &request{op: op, fn: fn, reply: make(chan error, 1)}

	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-s.done:
		return invalidState(op, ErrSessionClosed)
	}

	return <-req.reply
}

// query is do for calls that produce a value.
func query[T any](ctx context.Context, s *Session, op string, fn func() (T, error)) (T, error) {
	var out T

	err := s.do(ctx, op, func() error {
		v, err := fn()
		out = v

		return err
	})

	return out, err
}

// Configure replaces the connection parameters.
func (s *Session) Configure(ctx context.Context, cfg engine.Config) error {
	return s.do(ctx, "session.configure", func() error {
		s.cfg = cfg

		return translate(classConnect, "session.configure", s.eng.Configure(cfg))
	})
}

// SetHost sets the remote host.
func (s *Session) SetHost(ctx context.Context, host string) error {
	return s.update(ctx, "session.set_host", func(c *engine.Config) { c.Host = host })
}

// SetPort sets the remote port.
func (s *Session) SetPort(ctx context.Context, port int) error {
	return s.update(ctx, "session.set_port", func(c *engine.Config) { c.Port = port })
}

// SetUser sets the user to authenticate as.
func (s *Session) SetUser(ctx context.Context, user string) error {
	return s.update(ctx, "session.set_user", func(c *engine.Config) { c.User = user })
}

func (s *Session) update(ctx context.Context, op string, fn func(*engine.Config)) error {
	return s.do(ctx, op, func() error {
		next := s.cfg
		fn(&next)

		if err := s.eng.Configure(next); err != nil {
			return translate(classConnect, op, err)
		}

		s.cfg = next

		return nil
	})
}

// Connect validates the configuration and establishes the transport.
func (s *Session) Connect(ctx context.Context) error {
	const op = "session.connect"

	return s.do(ctx, op, func() error {
		cfg := s.cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return translate(classConnect, op, &engine.Error{
				Code:    engine.CodeInvalidArgument,
				Message: err.Error(),
				Err:     err,
			})
		}

		if err := s.eng.Configure(cfg); err != nil {
			return translate(classConnect, op, err)
		}

		s.cfg = cfg

		if err := s.eng.Connect(); err != nil {
			return translate(classConnect, op, err)
		}

		s.log.Debug("connected", zap.String("addr", cfg.Addr()), zap.String("user", cfg.User))

		return nil
	})
}

// AuthenticatePassword authenticates with a password.
func (s *Session) AuthenticatePassword(ctx context.Context, password string) error {
	const op = "session.auth_password"

	return s.do(ctx, op, func() error {
		return s.authenticated(op, s.eng.AuthenticatePassword(password))
	})
}

// AuthenticateKey authenticates with a key previously opened on this session.
func (s *Session) AuthenticateKey(ctx context.Context, key Key) error {
	const op = "session.auth_key"

	return s.do(ctx, op, func() error {
		h, err := s.reg.keys.get(key.id)
		if err != nil {
			return invalidState(op, err)
		}

		return s.authenticated(op, s.eng.AuthenticateKey(h))
	})
}

// AuthenticateAgent authenticates with the keys offered by the local agent.
func (s *Session) AuthenticateAgent(ctx context.Context) error {
	const op = "session.auth_agent"

	return s.do(ctx, op, func() error {
		return s.authenticated(op, s.eng.AuthenticateAgent())
	})
}

func (s *Session) authenticated(op string, err error) error {
	if err != nil {
		s.log.Debug("authentication failed", zap.String("op", op), zap.Error(err))

		return translate(classAuth, op, err)
	}

	s.log.Debug("authenticated", zap.String("op", op), zap.String("user", s.cfg.User))

	return nil
}

// IsConnected reports whether the engine has an authenticated connection.
// A closed session is never connected.
func (s *Session) IsConnected(ctx context.Context) bool {
	ok, err := query(ctx, s, "session.is_connected", func() (bool, error) {
		return s.eng.IsConnected(), nil
	})

	return err == nil && ok
}

// Disconnect releases every connection-bound resource and drops the
// connection. Keys survive. Calling it again is a no-op.
func (s *Session) Disconnect(ctx context.Context) error {
	const op = "session.disconnect"

	return s.do(ctx, op, func() error {
		s.releaseConnectionResources()

		return translate(classConnect, op, s.eng.Disconnect())
	})
}

// Close releases every registered handle, then the engine, and stops the
// actor. Every later call fails with ErrInvalidState. Close is idempotent.
func (s *Session) Close() error {
	const op = "session.close"

	err := s.do(context.Background(), op, func() error {
		s.releaseConnectionResources()

		for _, id := range s.reg.keys.ids() {
			s.releaseKey(id)
		}

		s.eng.Free()
		s.eng = nil

		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}

	return err
}

// Free is Close.
func (s *Session) Free() error {
	return s.Close()
}

// Resources returns how many handles of each family are registered.
func (s *Session) Resources(ctx context.Context) (ResourceCounts, error) {
	return query(ctx, s, "session.resources", func() (ResourceCounts, error) {
		return s.reg.counts(), nil
	})
}

// releaseConnectionResources frees, in dependency order, everything that
// cannot outlive the connection. Errors are logged and swallowed.
func (s *Session) releaseConnectionResources() {
	for _, id := range s.reg.sftp.ids() {
		if err := s.releaseSftp(id); err != nil {
			s.log.Warn("closing sftp client failed", zap.Stringer("id", id), zap.Error(err))
		}
	}

	for _, id := range s.reg.channels.ids() {
		if err := s.releaseChannel(id); err != nil {
			s.log.Warn("closing channel failed", zap.Stringer("id", id), zap.Error(err))
		}
	}
}

func (s *Session) logOpened(f Family, id ResourceID, fields ...zap.Field) {
	s.log.Debug("resource opened", append([]zap.Field{zap.Stringer("family", f), zap.Stringer("id", id)}, fields...)...)
}

func (s *Session) logClosed(f Family, id ResourceID) {
	s.log.Debug("resource closed", zap.Stringer("family", f), zap.Stringer("id", id))
}
