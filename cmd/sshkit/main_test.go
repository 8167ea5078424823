package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/engines/memory"
	"github.com/ruffel/sshkit/internal/sshkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPrecedence(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	dir := t.TempDir()
	profile := filepath.Join(dir, "prod.toml")
	require.NoError(t, os.WriteFile(profile, []byte(`
host = "10.0.0.5"
port = 2200
user = "deploy"
known_hosts = "/etc/ssh/known_hosts"
`), 0o600))

	f := connFlags{profile: profile, user: "ops", timeout: 3 * time.Second}

	cfg, err := f.config()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 2200, cfg.Port)
	assert.Equal(t, "ops", cfg.User, "flags override the profile")
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, "/etc/ssh/known_hosts", cfg.KnownHostsPath)
	assert.False(t, cfg.UseAgent)
}

func TestConfigFromAlias(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "/tmp/agent.sock")

	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(`
Host bastion
  HostName bastion.internal
  User jump
  Port 2022
  StrictHostKeyChecking no
`), 0o600))

	f := connFlags{alias: "bastion", sshConfig: path}

	cfg, err := f.config()
	require.NoError(t, err)
	assert.Equal(t, "bastion.internal", cfg.Host)
	assert.Equal(t, "jump", cfg.User)
	assert.Equal(t, 2022, cfg.Port)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.True(t, cfg.UseAgent, "the agent is used when nothing else is configured")
}

func TestConfigRejectsProfileAndAlias(t *testing.T) {
	t.Parallel()

	f := connFlags{profile: "a.toml", alias: "b"}
	_, err := f.config()
	require.Error(t, err)
}

func TestList(t *testing.T) {
	t.Parallel()

	eng := memory.New(memory.WithPassword("alice", "pw"))
	eng.FS().MkdirAll("/srv/www/assets")

	s := sshkit.NewSession(eng)
	t.Cleanup(func() { _ = s.Close() })

	ctx := t.Context()
	require.NoError(t, s.Configure(ctx, engine.Config{Host: "mem", User: "alice"}))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.AuthenticatePassword(ctx, "pw"))

	var out bytes.Buffer

	err := s.WithSftp(ctx, func(sc sshkit.SftpClient) error {
		for _, name := range []string{"index.html", ".htaccess"} {
			err := sc.WithFile(ctx, "/srv/www/"+name, os.O_WRONLY|os.O_CREATE, 0o644, func(f sshkit.File) error {
				_, err := f.Write(ctx, []byte("<html></html>"))

				return err
			})
			if err != nil {
				return err
			}
		}

		if err := list(ctx, sc, "/srv/www", false, &out); err != nil {
			return err
		}

		assert.Contains(t, out.String(), "index.html")
		assert.Contains(t, out.String(), "assets/")
		assert.NotContains(t, out.String(), ".htaccess")

		out.Reset()

		return list(ctx, sc, "/srv/www", true, &out)
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), ".htaccess")

	err = s.WithSftp(ctx, func(sc sshkit.SftpClient) error {
		return list(ctx, sc, "/missing", false, &out)
	})
	require.ErrorIs(t, err, sshkit.ErrSFTP)
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()

	a := sshkit.Attributes{Name: "backup.tar", Type: engine.TypeRegular}.
		WithSize(3 << 20).
		WithPermissions(0o640)

	line := formatEntry(a)
	assert.True(t, strings.HasPrefix(line, "-rw-r-----"))
	assert.Contains(t, line, "3.0 MiB")
	assert.Contains(t, line, "backup.tar")
}

func TestKeyGen(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "id_test")

	code := run(t.Context(), []string{"key", "gen", "--type", "ecdsa", "--comment", "ci@build", out})
	require.Equal(t, 0, code)

	priv, err := os.ReadFile(out)
	require.NoError(t, err)

	pub, err := os.ReadFile(out + ".pub")
	require.NoError(t, err)

	k, err := sshkey.Import(priv, nil)
	require.NoError(t, err)
	assert.Equal(t, string(k.AuthorizedKey())+" ci@build\n", string(pub))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Equal(t, 0, run(t.Context(), []string{"key", "show", out}))
	assert.Equal(t, 1, run(t.Context(), []string{"key", "gen", "--type", "dsa", out}))
}
