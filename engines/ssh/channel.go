package ssh

import (
	"errors"
	"io"

	"github.com/ruffel/sshkit/engine"
	"golang.org/x/crypto/ssh"
)

// channel is one SSH session channel. Its streams are the session's pipes, so
// reads block until the remote side produces data or closes the stream.
type channel struct {
	client  *ssh.Client
	session *ssh.Session

	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	started bool
	exited  bool
	status  engine.ExitStatus
}

var _ engine.Channel = (*channel)(nil)

func (c *channel) OpenSession() error {
	if c.session != nil {
		return engine.Errorf(engine.CodeRequestDenied, "session already open")
	}

	s, err := c.client.NewSession()
	if err != nil {
		return &engine.Error{Code: engine.CodeRequestDenied, Message: "failed to create ssh session: " + err.Error(), Err: err}
	}

	if c.stdin, err = s.StdinPipe(); err == nil {
		if c.stdout, err = s.StdoutPipe(); err == nil {
			c.stderr, err = s.StderrPipe()
		}
	}

	if err != nil {
		_ = s.Close()

		return fatal(err)
	}

	c.session = s

	return nil
}

func (c *channel) Exec(command string) error {
	if c.session == nil || c.started {
		return engine.Errorf(engine.CodeRequestDenied, "exec requires a fresh session")
	}

	if err := c.session.Start(command); err != nil {
		return &engine.Error{Code: engine.CodeRequestDenied, Message: "exec request failed: " + err.Error(), Err: err}
	}

	c.started = true

	return nil
}

func (c *channel) Read(s engine.Stream, p []byte) (int, error) {
	if !c.started {
		return 0, engine.Errorf(engine.CodeRequestDenied, "no command running")
	}

	r := c.stdout
	if s == engine.Stderr {
		r = c.stderr
	}

	n, err := r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, fatal(err)
}

func (c *channel) Write(p []byte) (int, error) {
	if !c.started {
		return 0, engine.Errorf(engine.CodeRequestDenied, "no command running")
	}

	n, err := c.stdin.Write(p)

	return n, fatal(err)
}

func (c *channel) SendEOF() error {
	if !c.started {
		return engine.Errorf(engine.CodeRequestDenied, "no command running")
	}

	// The server may already have closed a channel whose command exited.
	if err := c.stdin.Close(); err != nil && !errors.Is(err, io.EOF) {
		return fatal(err)
	}

	return nil
}

func (c *channel) Signal(name string) error {
	if !c.started {
		return engine.Errorf(engine.CodeRequestDenied, "no command running")
	}

	return fatal(c.session.Signal(ssh.Signal(name)))
}

// ExitStatus waits for the exit-status or exit-signal request. The wire
// carries a core-dumped flag but x/crypto/ssh does not expose it, so
// CoreDumped is always false.
func (c *channel) ExitStatus() (engine.ExitStatus, error) {
	if !c.started {
		return engine.ExitStatus{}, engine.Errorf(engine.CodeRequestDenied, "no command running")
	}

	if c.exited {
		return c.status, nil
	}

	err := c.session.Wait()

	var (
		exitErr *ssh.ExitError
		missing *ssh.ExitMissingError
	)

	switch {
	case err == nil:
		c.status = engine.Exited(0)
	case errors.As(err, &exitErr):
		if sig := exitErr.Signal(); sig != "" {
			c.status = engine.Signaled(sig, false)
		} else {
			c.status = engine.Exited(exitErr.ExitStatus())
		}
	case errors.As(err, &missing):
		return engine.ExitStatus{}, &engine.Error{Code: engine.CodeFatal, Message: "remote command exited without exit status", Err: err}
	default:
		return engine.ExitStatus{}, fatal(err)
	}

	c.exited = true

	return c.status, nil
}

func (c *channel) Close() error {
	if c.session == nil {
		return nil
	}

	err := c.session.Close()
	c.session, c.started = nil, false

	if err != nil && !errors.Is(err, io.EOF) {
		return fatal(err)
	}

	return nil
}

func (c *channel) Free() {
	_ = c.Close()
}
