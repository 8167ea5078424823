// Package sshtest runs an SSH server in-process for tests.
//
// The server accepts one user with a password or any authorized public key,
// runs exec requests through the local sh inside Root, and serves the sftp
// subsystem with github.com/pkg/sftp rooted at Root for relative paths.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
)

// Server is a running test server.
type Server struct {
	User     string
	Password string
	Root     string

	listener net.Listener
	hostKey  ssh.Signer
	log      *zap.Logger

	mu         sync.Mutex
	authorized map[string]bool
	conns      map[net.Conn]struct{}
	closed     bool
	wg         sync.WaitGroup
}

// New starts a server on 127.0.0.1 and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		User:       "tester",
		Password:   "hunter2",
		Root:       t.TempDir(),
		listener:   l,
		hostKey:    hostKey,
		log:        zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)),
		authorized: make(map[string]bool),
		conns:      make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)

	go s.serve()

	t.Cleanup(s.Close)

	return s
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())

	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)

	return n
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey { return s.hostKey.PublicKey() }

// HostKeyCallback accepts only this server's host key.
func (s *Server) HostKeyCallback() ssh.HostKeyCallback {
	return ssh.FixedHostKey(s.hostKey.PublicKey())
}

// Authorize accepts the public key given as an authorized_keys line.
func (s *Server) Authorize(authorizedKey []byte) error {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(authorizedKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authorized[string(pub.Marshal())] = true

	return nil
}

// Close stops accepting, drops every connection and waits for handlers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true
	_ = s.listener.Close()

	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) config() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == s.User && string(password) == s.Password {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.mu.Lock()
			ok := s.authorized[string(key.Marshal())]
			s.mu.Unlock()

			if meta.User() == s.User && ok {
				return &ssh.Permissions{}, nil
			}

			return nil, errors.New("public key rejected")
		},
	}

	cfg.AddHostKey(s.hostKey)

	return cfg
}

func (s *Server) serve() {
	defer s.wg.Done()

	cfg := s.config()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()

			return
		}

		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()

				_ = conn.Close()
			}()

			s.handleConn(conn, cfg)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		s.log.Debug("handshake failed", zap.Error(err))

		return
	}

	defer func() { _ = sc.Close() }()

	s.log.Debug("client connected", zap.String("user", sc.User()), zap.Stringer("remote", sc.RemoteAddr()))

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only session channels are supported")

			continue
		}

		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			s.handleSession(ch, requests)
		}()
	}

	wg.Wait()
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	var (
		signals = make(chan string, 4)
		done    = make(chan struct{})
		started bool
	)

	for {
		select {
		case <-done:
			return
		case req, ok := <-reqs:
			if !ok {
				return
			}

			switch req.Type {
			case "exec":
				var payload struct{ Command string }
				if started || ssh.Unmarshal(req.Payload, &payload) != nil {
					_ = req.Reply(false, nil)

					continue
				}

				started = true
				_ = req.Reply(true, nil)

				go func() {
					defer close(done)

					s.log.Debug("exec", zap.String("command", payload.Command))
					s.exec(ch, payload.Command, signals)
				}()
			case "subsystem":
				var payload struct{ Name string }
				if started || ssh.Unmarshal(req.Payload, &payload) != nil || payload.Name != "sftp" {
					_ = req.Reply(false, nil)

					continue
				}

				started = true
				_ = req.Reply(true, nil)

				go func() {
					defer close(done)

					s.serveSFTP(ch)
				}()
			case "signal":
				var payload struct{ Signal string }
				if ssh.Unmarshal(req.Payload, &payload) == nil {
					select {
					case signals <- payload.Signal:
					default:
					}
				}

				if req.WantReply {
					_ = req.Reply(true, nil)
				}
			default:
				if req.WantReply {
					_ = req.Reply(req.Type == "env", nil)
				}
			}
		}
	}
}

func (s *Server) serveSFTP(ch ssh.Channel) {
	srv, err := sftp.NewServer(ch, sftp.WithServerWorkingDirectory(s.Root))
	if err != nil {
		s.log.Warn("sftp server", zap.Error(err))

		return
	}

	if err := srv.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("sftp session ended", zap.Error(err))
	}

	_ = srv.Close()
}

type exitStatusMsg struct {
	Status uint32
}

type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Error      string
	Lang       string
}

func sendExit(ch ssh.Channel, code int, signal string, core bool) {
	if signal != "" {
		_, _ = ch.SendRequest("exit-signal", false, ssh.Marshal(&exitSignalMsg{Signal: signal, CoreDumped: core}))

		return
	}

	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: uint32(code)})) //nolint:gosec // exit codes are 0..255
}
