package ssh

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Option defines a functional option for the SSH engine.
type Option func(*Config)

// WithConfig returns an Option that sets multiple fields from a Config struct.
// Useful for legacy compatibility or bulk configuration.
func WithConfig(c Config) Option {
	return func(cfg *Config) {
		*cfg = c
	}
}

// WithHost sets the target hostname.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithUser sets the SSH user.
func WithUser(user string) Option {
	return func(c *Config) {
		c.User = user
	}
}

// WithPort sets the SSH port.
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithPassword sets the SSH password.
func WithPassword(password string) Option {
	return func(c *Config) {
		c.Password = password
	}
}

// WithKeyPath sets the path to the private key file.
func WithKeyPath(path string) Option {
	return func(c *Config) {
		c.PrivateKeyPath = path
	}
}

// WithPrivateKey sets PEM encoded private key content and its passphrase, if
// any.
func WithPrivateKey(pem, passphrase string) Option {
	return func(c *Config) {
		c.PrivateKey = pem
		c.Passphrase = passphrase
	}
}

// WithAgent enables authentication through SSH_AUTH_SOCK.
func WithAgent() Option {
	return func(c *Config) {
		c.UseAgent = true
	}
}

// WithInsecureSkipVerify enables/disables strict host key checking.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.InsecureSkipVerify = skip
	}
}

// WithHostKeyCallback sets the host key verification callback.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Config) {
		c.HostKeyCheck = cb
	}
}

// WithKnownHosts verifies host keys against the given known_hosts file.
func WithKnownHosts(path string) Option {
	return func(c *Config) {
		c.KnownHostsPath = path
	}
}

// WithTimeout sets the dial and handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithMaxPacket sets the SFTP packet size.
func WithMaxPacket(n int) Option {
	return func(c *Config) {
		c.MaxPacket = n
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
