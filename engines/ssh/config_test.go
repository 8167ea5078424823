package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSH_NewFromSSHConfig(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ssh_config")

	configContent := `
Host myalias
    HostName 1.2.3.4
    User testuser
    Port 2222
    IdentityFile ~/.ssh/id_ed25519
    UserKnownHostsFile /etc/ssh/test_known_hosts
    StrictHostKeyChecking no
    ConnectTimeout 3
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Run("custom path", func(t *testing.T) {
		t.Parallel()

		cfg, err := NewFromSSHConfig("myalias", configPath)
		require.NoError(t, err)

		assert.Equal(t, "1.2.3.4", cfg.Host)
		assert.Equal(t, "testuser", cfg.User)
		assert.Equal(t, 2222, cfg.Port)
		assert.True(t, cfg.InsecureSkipVerify)
		assert.True(t, filepath.IsAbs(cfg.PrivateKeyPath))
		assert.Contains(t, cfg.PrivateKeyPath, "id_ed25519")
		assert.Equal(t, "/etc/ssh/test_known_hosts", cfg.KnownHostsPath)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
		assert.Equal(t, DefaultMaxPacket, cfg.MaxPacket)
	})

	t.Run("unknown alias falls back to the alias", func(t *testing.T) {
		t.Parallel()

		cfg, err := NewFromSSHConfigReader("other.example", strings.NewReader(configContent))
		require.NoError(t, err)

		assert.Equal(t, "other.example", cfg.Host)
		assert.Equal(t, 22, cfg.Port)
		assert.False(t, cfg.InsecureSkipVerify)
	})

	t.Run("non-existent path", func(t *testing.T) {
		t.Parallel()

		_, err := NewFromSSHConfig("myalias", filepath.Join(tmpDir, "non_existent"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open ssh config")
	})
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	c := Config{Host: "example.com", User: "root", InsecureSkipVerify: true}.WithDefaults()

	assert.Equal(t, 22, c.Port)
	assert.Equal(t, 10*time.Second, c.Timeout)
	assert.Equal(t, DefaultMaxPacket, c.MaxPacket)
	assert.NotNil(t, c.HostKeyCheck)
	assert.NotNil(t, c.Logger)

	strict := Config{Host: "example.com", User: "root"}.WithDefaults()
	assert.Nil(t, strict.HostKeyCheck)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid",
			config: Config{Host: "example.com", User: "root", InsecureSkipVerify: true}.WithDefaults(),
		},
		{
			name:   "known hosts path",
			config: Config{Host: "example.com", User: "root", KnownHostsPath: "/tmp/known_hosts"}.WithDefaults(),
		},
		{
			name:    "missing host",
			config:  Config{User: "root", InsecureSkipVerify: true}.WithDefaults(),
			wantErr: "host address",
		},
		{
			name:    "missing user",
			config:  Config{Host: "example.com", InsecureSkipVerify: true}.WithDefaults(),
			wantErr: "user",
		},
		{
			name:    "port out of range",
			config:  Config{Host: "example.com", User: "root", Port: 70000, InsecureSkipVerify: true}.WithDefaults(),
			wantErr: "port",
		},
		{
			name:    "no host key verification",
			config:  Config{Host: "example.com", User: "root"}.WithDefaults(),
			wantErr: "HostKeyCheck",
		},
		{
			name:    "negative max packet",
			config:  Config{Host: "example.com", User: "root", InsecureSkipVerify: true, MaxPacket: -1}.WithDefaults(),
			wantErr: "max packet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()

	e := New(
		WithHost("example.com"),
		WithUser("deploy"),
		WithPort(2200),
		WithPassword("pw"),
		WithAgent(),
		WithTimeout(5*time.Second),
		WithMaxPacket(16384),
		WithInsecureSkipVerify(true),
	)

	assert.Equal(t, "example.com", e.cfg.Host)
	assert.Equal(t, "deploy", e.cfg.User)
	assert.Equal(t, 2200, e.cfg.Port)
	assert.Equal(t, "pw", e.cfg.Password)
	assert.True(t, e.cfg.UseAgent)
	assert.Equal(t, 5*time.Second, e.cfg.Timeout)
	assert.Equal(t, 16384, e.cfg.MaxPacket)
	assert.NotNil(t, e.cfg.HostKeyCheck)
	assert.False(t, e.IsConnected())
}

func TestHostKeyCallback(t *testing.T) {
	t.Parallel()

	_, err := Config{}.hostKeyCallback()
	require.Error(t, err)

	_, err = Config{KnownHostsPath: filepath.Join(t.TempDir(), "missing")}.hostKeyCallback()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts")

	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cb, err := Config{KnownHostsPath: path}.hostKeyCallback()
	require.NoError(t, err)
	assert.NotNil(t, cb)
}
