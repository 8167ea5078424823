package ssh

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/ruffel/sshkit/engine"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultMaxPacket is the SFTP packet size requested when none is configured.
const DefaultMaxPacket = 32768

// Config holds all parameters required to establish an SSH connection.
type Config struct {
	// Connection details
	Host string // Hostname or IP address
	Port int    // Port number (default 22)
	User string // Username to authenticate as

	// Authentication methods (tried in order by Dial)
	PrivateKey     string // PEM encoded private key content (string)
	PrivateKeyPath string // Path to private key file (e.g. "~/.ssh/id_rsa")
	Passphrase     string // Passphrase for an encrypted private key
	Password       string // Password for authentication (use sparingly)
	UseAgent       bool   // If true, attempt to connect to SSH_AUTH_SOCK

	// Connection settings
	Timeout            time.Duration       // Connection timeout (default 10s)
	HostKeyCheck       ssh.HostKeyCallback // Callback to verify host key. You normally generate this from known_hosts.
	KnownHostsPath     string              // known_hosts file used when HostKeyCheck is nil
	InsecureSkipVerify bool                // If true, disables strict host key checking. Use ONLY for testing.
	MaxPacket          int                 // SFTP packet size (default 32768)

	Logger *zap.Logger
}

// NewConfig creates a Config with safe defaults.
// Note: It does NOT set a default HostKeyCheck. You must provide one, name a
// known_hosts file, or set InsecureSkipVerify=true.
func NewConfig(host, username string) Config {
	return Config{
		Host:      host,
		User:      username,
		Port:      22,
		Timeout:   10 * time.Second,
		MaxPacket: DefaultMaxPacket,
	}
}

// NewFromSSHConfig loads configuration from an SSH config file (e.g. ~/.ssh/config).
// logic mirrors OpenSSH: reads specific path or default ~/.ssh/config.
func NewFromSSHConfig(alias, path string) (Config, error) {
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open ssh config: %w", err)
	}

	defer func() { _ = f.Close() }()

	return NewFromSSHConfigReader(alias, f)
}

// NewFromSSHConfigReader parses configuration config data.
// It resolves the alias to the actual HostName, User, Port, and IdentityFile.
func NewFromSSHConfigReader(alias string, r io.Reader) (Config, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse ssh config: %w", err)
	}

	hostName, err := cfg.Get(alias, "HostName")
	if err != nil || hostName == "" {
		hostName = alias // Fallback if no HostName defined
	}

	username, _ := cfg.Get(alias, "User")
	if username == "" {
		// Use current system user if not specified in config
		u, _ := user.Current()
		if u != nil {
			username = u.Username
		}
	}

	portStr, _ := cfg.Get(alias, "Port")

	port := 22
	if portStr != "" {
		_, _ = fmt.Sscanf(portStr, "%d", &port)
	}

	c := NewConfig(hostName, username)
	c.Port = port
	c.PrivateKeyPath = expandHome(must(cfg.Get(alias, "IdentityFile")))
	c.KnownHostsPath = expandHome(must(cfg.Get(alias, "UserKnownHostsFile")))

	// Map StrictHostKeyChecking
	strict, _ := cfg.Get(alias, "StrictHostKeyChecking")
	if strict == "no" {
		c.InsecureSkipVerify = true
	}

	if timeout, _ := cfg.Get(alias, "ConnectTimeout"); timeout != "" {
		var secs int
		if _, err := fmt.Sscanf(timeout, "%d", &secs); err == nil && secs > 0 {
			c.Timeout = time.Duration(secs) * time.Second
		}
	}

	return c, nil
}

func must(v string, _ error) string { return v }

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), p[2:])
	}

	return p
}

// WithDefaults sets default values for zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.MaxPacket == 0 {
		c.MaxPacket = DefaultMaxPacket
	}

	// If insecure is requested and no callback provided, use insecure ignore.
	if c.InsecureSkipVerify && c.HostKeyCheck == nil {
		c.HostKeyCheck = ssh.InsecureIgnoreHostKey() //nolint:gosec // Explicitly requested by the caller.
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return c
}

// Validate ensures all required fields are present.
func (c Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}

	if c.HostKeyCheck == nil && c.KnownHostsPath == "" {
		return errors.New("configuration error: HostKeyCheck is missing; you must provide a callback, a known_hosts path, or set InsecureSkipVerify=true (testing only)")
	}

	if c.MaxPacket < 0 {
		return fmt.Errorf("configuration error: max packet %d must not be negative", c.MaxPacket)
	}

	return nil
}

// EngineConfig returns the engine-neutral subset used by sshkit.Session.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Host:    c.Host,
		Port:    c.Port,
		User:    c.User,
		Timeout: c.Timeout,
	}
}

// hostKeyCallback resolves the host key check, loading KnownHostsPath when no
// callback was supplied.
func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.HostKeyCheck != nil {
		return c.HostKeyCheck, nil
	}

	if c.KnownHostsPath == "" {
		return nil, errors.New("no host key verification configured")
	}

	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}

	return cb, nil
}

// DefaultKnownHosts returns a HostKeyCallback that verifies the host key against
// strict entries in the user's ~/.ssh/known_hosts file.
func DefaultKnownHosts() (ssh.HostKeyCallback, error) {
	return knownhosts.New(DefaultKnownHostsPath())
}

// DefaultKnownHostsPath returns ~/.ssh/known_hosts.
func DefaultKnownHostsPath() string {
	return filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
}
