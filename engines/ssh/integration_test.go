package ssh_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/engine"
	sshengine "github.com/ruffel/sshkit/engines/ssh"
	"github.com/ruffel/sshkit/engines/ssh/sshtest"
	"github.com/ruffel/sshkit/sessiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func serverConfig(t *testing.T, srv *sshtest.Server) sshengine.Config {
	t.Helper()

	cfg := sshengine.NewConfig(srv.Host(), srv.User)
	cfg.Port = srv.Port()
	cfg.HostKeyCheck = srv.HostKeyCallback()
	cfg.Timeout = 5 * time.Second
	cfg.Logger = zaptest.NewLogger(t)

	return cfg
}

func TestContracts(t *testing.T) {
	t.Parallel()

	sessiontest.Verify(t, func(t *testing.T) sessiontest.Fixture {
		t.Helper()

		srv := sshtest.New(t)

		cfg := serverConfig(t, srv)
		cfg.Password = srv.Password

		s, err := sshengine.Dial(t.Context(), cfg)
		require.NoError(t, err)

		t.Cleanup(func() { _ = s.Close() })

		return sessiontest.Fixture{Session: s, Root: srv.Root}
	})
}

func TestDialPrivateKey(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	require.NoError(t, srv.Authorize(ssh.MarshalAuthorizedKey(signer.PublicKey())))

	cfg := serverConfig(t, srv)
	cfg.PrivateKey = string(pem.EncodeToMemory(block))

	s, err := sshengine.Dial(t.Context(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	res, err := sshkit.NewExecutor(s).Run(t.Context(), sshkit.NewCommand("echo", "key auth"))
	require.NoError(t, err)
	assert.Equal(t, "key auth\n", string(res.Stdout))

	counts, err := s.Resources(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Keys, "the dial key is released after authenticating")
}

func TestDialGeneratedKey(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	ctx := t.Context()

	s := sshkit.NewSession(sshengine.New(
		sshengine.WithHostKeyCallback(srv.HostKeyCallback()),
		sshengine.WithLogger(zaptest.NewLogger(t)),
	))

	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Configure(ctx, engine.Config{Host: srv.Host(), Port: srv.Port(), User: srv.User}))
	require.NoError(t, s.Connect(ctx))

	k, err := s.OpenKey(ctx, sshkit.KeySource{Generate: engine.KeyECDSA})
	require.NoError(t, err)

	pub, err := k.AuthorizedKey(ctx)
	require.NoError(t, err)

	err = s.AuthenticateKey(ctx, k)
	require.ErrorIs(t, err, sshkit.ErrAuthentication)

	require.NoError(t, srv.Authorize([]byte(pub)))
	require.NoError(t, s.AuthenticateKey(ctx, k))
	require.NoError(t, k.Close(ctx))

	assert.True(t, s.IsConnected(ctx))
}

func TestDialWrongPassword(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)

	cfg := serverConfig(t, srv)
	cfg.Password = "wrong"

	s, err := sshengine.Dial(t.Context(), cfg)
	require.ErrorIs(t, err, sshkit.ErrAuthentication)
	assert.Nil(t, s)
}

func TestDialUnknownHostKey(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	other := sshtest.New(t)

	cfg := serverConfig(t, srv)
	cfg.Password = srv.Password
	cfg.HostKeyCheck = other.HostKeyCallback()

	// The handshake runs with the first authentication attempt.
	_, err := sshengine.Dial(t.Context(), cfg)
	require.ErrorIs(t, err, sshkit.ErrAuthentication)
	assert.Contains(t, err.Error(), "host key")
}

func TestDialRefused(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	cfg := serverConfig(t, srv)
	cfg.Password = srv.Password
	srv.Close()

	_, err := sshengine.Dial(t.Context(), cfg)
	require.ErrorIs(t, err, sshkit.ErrConnection)
}

func TestDialProfile(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	dir := t.TempDir()

	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.Addr())}, srv.HostKey())
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	profile := filepath.Join(dir, "test.toml")
	content := fmt.Sprintf(`host = %q
port = %d
user = %q
password = %q
known_hosts = %q
timeout = "5s"
`, srv.Host(), srv.Port(), srv.User, srv.Password, knownHosts)
	require.NoError(t, os.WriteFile(profile, []byte(content), 0o600))

	cfg, err := sshengine.LoadProfile(profile)
	require.NoError(t, err)

	s, err := sshengine.Dial(t.Context(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	err = s.WithSftp(t.Context(), func(c sshkit.SftpClient) error {
		_, err := c.Attributes(t.Context(), srv.Root)

		return err
	})
	require.NoError(t, err)
}

func TestEngineLimitsFollowMaxPacket(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)

	cfg := serverConfig(t, srv)
	cfg.Password = srv.Password
	cfg.MaxPacket = 16384

	s, err := sshengine.Dial(t.Context(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	err = s.WithSftp(t.Context(), func(c sshkit.SftpClient) error {
		l, err := c.Limits(t.Context())
		require.NoError(t, err)
		assert.Equal(t, uint64(16384), l.MaxReadLength)

		return nil
	})
	require.NoError(t, err)
}

func TestQuickCommandsWithoutStdin(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)

	cfg := serverConfig(t, srv)
	cfg.Password = srv.Password

	s, err := sshengine.Dial(t.Context(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	exec := sshkit.NewExecutor(s)

	for i := range 20 {
		res, err := exec.Run(t.Context(), sshkit.NewCommand("echo", "hello"))
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, "hello\n", string(res.Stdout))
	}

	res, err := exec.Run(t.Context(), sshkit.NewCommand("sshkit-no-such-command"))

	var exitErr *sshkit.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 127, res.ExitCode())

	counts, err := s.Resources(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Channels)
}
