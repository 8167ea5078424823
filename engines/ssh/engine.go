package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/internal/sshkey"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

var _ engine.Engine = (*Engine)(nil)

// Engine implements engine.Engine over golang.org/x/crypto/ssh and
// github.com/pkg/sftp. Like every engine it is not safe for concurrent use;
// drive it through sshkit.Session.
//
// The TCP connection is made by Connect; the SSH handshake, including user
// authentication, happens on the first Authenticate* call. A failed attempt
// costs the connection, so the next attempt redials.
type Engine struct {
	cfg Config
	log *zap.Logger

	conn   net.Conn
	client *ssh.Client
	dialed bool
}

// New creates an engine from options. Host, port, user and timeout may be
// overridden later through Configure.
func New(opts ...Option) *Engine {
	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}

	cfg = cfg.WithDefaults()

	return &Engine{cfg: cfg, log: cfg.Logger}
}

// Client returns the authenticated client, or nil.
func (e *Engine) Client() *ssh.Client {
	return e.client
}

func (e *Engine) Configure(cfg engine.Config) error {
	if e.dialed {
		return engine.Errorf(engine.CodeRequestDenied, "cannot reconfigure a connected engine")
	}

	e.cfg.Host, e.cfg.Port, e.cfg.User = cfg.Host, cfg.Port, cfg.User
	if cfg.Timeout > 0 {
		e.cfg.Timeout = cfg.Timeout
	}

	return nil
}

func (e *Engine) Connect() error {
	if e.dialed {
		return nil
	}

	if err := e.dial(); err != nil {
		return err
	}

	e.dialed = true

	return nil
}

func (e *Engine) dial() error {
	addr := e.cfg.EngineConfig().Addr()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return &engine.Error{Code: engine.CodeFatal, Message: fmt.Sprintf("failed to dial ssh at %s: %v", addr, err), Err: err}
	}

	e.log.Debug("dialed", zap.String("addr", addr))
	e.conn = conn

	return nil
}

func (e *Engine) IsConnected() bool {
	return e.client != nil
}

func (e *Engine) Disconnect() error {
	var err error

	switch {
	case e.client != nil:
		err = e.client.Close()
	case e.conn != nil:
		err = e.conn.Close()
	}

	e.client, e.conn, e.dialed = nil, nil, false

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fatal(err)
	}

	return nil
}

// handshake runs the SSH handshake offering the given authentication methods.
func (e *Engine) handshake(method string, auth ...ssh.AuthMethod) error {
	if !e.dialed {
		return engine.Errorf(engine.CodeFatal, "not connected")
	}

	if e.client != nil {
		return nil
	}

	if e.conn == nil {
		if err := e.dial(); err != nil {
			return err
		}
	}

	hostKeys, err := e.cfg.hostKeyCallback()
	if err != nil {
		return &engine.Error{Code: engine.CodeInvalidArgument, Message: err.Error(), Err: err}
	}

	cc := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         e.cfg.Timeout,
	}

	addr := e.cfg.EngineConfig().Addr()

	_ = e.conn.SetDeadline(time.Now().Add(e.cfg.Timeout))

	c, chans, reqs, err := ssh.NewClientConn(e.conn, addr, cc)
	if err != nil {
		// NewClientConn closes the connection on failure.
		e.conn = nil

		code := engine.CodeFatal
		if strings.Contains(err.Error(), "unable to authenticate") {
			code = engine.CodeRequestDenied
		}

		e.log.Debug("authentication failed", zap.String("method", method), zap.Error(err))

		return &engine.Error{Code: code, Message: err.Error(), Err: err}
	}

	_ = e.conn.SetDeadline(time.Time{})

	e.client = ssh.NewClient(c, chans, reqs)
	e.log.Debug("authenticated", zap.String("method", method), zap.String("server", string(c.ServerVersion())))

	return nil
}

func (e *Engine) AuthenticatePassword(password string) error {
	interactive := ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}

		return answers, nil
	})

	return e.handshake("password", ssh.Password(password), interactive)
}

func (e *Engine) AuthenticateKey(key engine.Key) error {
	signer, err := sshkey.From(key)
	if err != nil {
		return err
	}

	return e.handshake("publickey", ssh.PublicKeys(signer))
}

func (e *Engine) AuthenticateAgent() error {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return engine.Errorf(engine.CodeRequestDenied, "SSH_AUTH_SOCK is not set")
	}

	conn, err := (&net.Dialer{Timeout: 500 * time.Millisecond}).DialContext(context.Background(), "unix", socket)
	if err != nil {
		return &engine.Error{Code: engine.CodeRequestDenied, Message: "failed to reach ssh agent: " + err.Error(), Err: err}
	}

	defer func() { _ = conn.Close() }()

	return e.handshake("agent", ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
}

func (e *Engine) ImportKey(pem, passphrase []byte) (engine.Key, error) {
	return sshkey.Import(pem, passphrase)
}

func (e *Engine) GenerateKey(kind engine.KeyType, bits int) (engine.Key, error) {
	return sshkey.Generate(kind, bits)
}

func (e *Engine) NewChannel() (engine.Channel, error) {
	if e.client == nil {
		return nil, engine.Errorf(engine.CodeFatal, "session is not authenticated")
	}

	return &channel{client: e.client}, nil
}

func (e *Engine) NewSFTP() (engine.SFTP, error) {
	if e.client == nil {
		return nil, engine.Errorf(engine.CodeFatal, "session is not authenticated")
	}

	c, err := sftp.NewClient(e.client, sftp.MaxPacket(e.cfg.MaxPacket))
	if err != nil {
		return nil, &engine.Error{Code: engine.CodeFatal, Message: "failed to start sftp subsystem: " + err.Error(), Err: err}
	}

	e.log.Debug("sftp subsystem started", zap.Int("max_packet", e.cfg.MaxPacket))

	return &sftpClient{c: c, maxPacket: e.cfg.MaxPacket}, nil
}

func (e *Engine) Free() {
	_ = e.Disconnect()
}
