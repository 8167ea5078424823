package memory

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/google/shlex"
	"github.com/ruffel/sshkit/engine"
)

type channelState int

const (
	channelNew channelState = iota
	channelOpen
	channelRunning
	channelClosed
)

type channel struct {
	e     *Engine
	state channelState
	freed bool

	stdin   *bufPipe
	stdout  *bufPipe
	stderr  *bufPipe
	signals chan string
	exited  chan struct{}
	status  engine.ExitStatus
}

var _ engine.Channel = (*channel)(nil)

func (c *channel) call(op string, want ...channelState) (func(), error) {
	done, err := c.e.enter("channel." + op)
	if err != nil {
		return done, err
	}

	for _, s := range want {
		if c.state == s {
			return done, nil
		}
	}

	return done, engine.Errorf(engine.CodeRequestDenied, "channel.%s not allowed in this state", op)
}

func (c *channel) OpenSession() error {
	done, err := c.call("open_session", channelNew)
	defer done()

	if err != nil {
		return err
	}

	c.state = channelOpen

	return nil
}

func (c *channel) Exec(command string) error {
	done, err := c.call("exec", channelOpen)
	defer done()

	if err != nil {
		return err
	}

	args, err := shlex.Split(command)
	if err != nil {
		return engine.Errorf(engine.CodeInvalidArgument, "parse command: %v", err)
	}

	if len(args) == 0 {
		return engine.Errorf(engine.CodeInvalidArgument, "empty command")
	}

	c.stdin, c.stdout, c.stderr = newBufPipe(), newBufPipe(), newBufPipe()
	c.signals = make(chan string, 8)
	c.exited = make(chan struct{})
	c.state = channelRunning

	p := &Process{
		Args:    args,
		Stdin:   c.stdin,
		Stdout:  c.stdout,
		Stderr:  c.stderr,
		FS:      c.e.fs,
		Signals: c.signals,
		run:     c.e.run,
	}

	go func() {
		defer close(c.exited)

		c.status = p.run(p)
		c.stdout.Close()
		c.stderr.Close()
	}()

	return nil
}

func (c *channel) Read(s engine.Stream, p []byte) (int, error) {
	done, err := c.call("read", channelRunning)
	defer done()

	if err != nil {
		return 0, err
	}

	pipe := c.stdout
	if s == engine.Stderr {
		pipe = c.stderr
	}

	n, err := pipe.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, err
}

func (c *channel) Write(p []byte) (int, error) {
	done, err := c.call("write", channelRunning)
	defer done()

	if err != nil {
		return 0, err
	}

	n, err := c.stdin.Write(p)
	if err != nil {
		return n, engine.Errorf(engine.CodeRequestDenied, "write after eof")
	}

	return n, nil
}

func (c *channel) SendEOF() error {
	done, err := c.call("send_eof", channelRunning)
	defer done()

	if err != nil {
		return err
	}

	c.stdin.Close()

	return nil
}

func (c *channel) Signal(name string) error {
	done, err := c.call("signal", channelRunning)
	defer done()

	if err != nil {
		return err
	}

	select {
	case c.signals <- name:
	default:
	}

	return nil
}

func (c *channel) ExitStatus() (engine.ExitStatus, error) {
	done, err := c.call("exit_status", channelRunning)
	defer done()

	if err != nil {
		return engine.ExitStatus{}, err
	}

	<-c.exited

	return c.status, nil
}

// Close kills a still running command and waits for it to exit.
func (c *channel) Close() error {
	done, err := c.e.enter("channel.close")
	defer done()

	if err != nil {
		return err
	}

	if c.state == channelRunning {
		select {
		case c.signals <- "KILL":
		default:
		}

		c.stdin.Close()
		<-c.exited
	}

	c.state = channelClosed

	return nil
}

func (c *channel) Free() {
	done, _ := c.e.enter("channel.free")
	defer done()

	if c.freed {
		return
	}

	if c.state == channelRunning {
		c.stdin.Close()

		select {
		case c.signals <- "KILL":
		default:
		}
	}

	c.freed = true
	c.state = channelClosed
	c.e.track(func(n *Counts) { n.Channels-- })
}

// bufPipe is an unbounded pipe. Writes never block; reads block until data
// arrives or the pipe is closed.
type bufPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBufPipe() *bufPipe {
	p := &bufPipe{}
	p.cond = sync.NewCond(&p.mu)

	return p
}

func (p *bufPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}

	if p.buf.Len() == 0 {
		return 0, io.EOF
	}

	return p.buf.Read(b)
}

func (p *bufPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}

	n, _ := p.buf.Write(b)
	p.cond.Broadcast()

	return n, nil
}

func (p *bufPipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()
}
