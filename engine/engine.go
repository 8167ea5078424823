// Package engine defines the boundary between sshkit and the synchronous
// SSH/SFTP implementation it drives.
//
// An Engine and every handle it returns are bound to one connection and are
// NOT safe for concurrent use. sshkit.Session is the only intended caller: it
// serializes every method call below through a single goroutine.
//
// Failures are reported as *Error values carrying the engine's status code,
// its last error text and, for SFTP operations, the protocol status code.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"
)

// Engine is one connection to a remote host.
type Engine interface {
	// Configure replaces the connection parameters. It fails once connected.
	Configure(cfg Config) error

	// Connect establishes the transport to the configured host.
	Connect() error

	// IsConnected reports whether an authenticated connection is up.
	IsConnected() bool

	// Disconnect tears the connection down. Calling it twice is a no-op.
	Disconnect() error

	AuthenticatePassword(password string) error
	AuthenticateKey(key Key) error
	AuthenticateAgent() error

	// ImportKey parses a PEM encoded private key. passphrase may be nil.
	ImportKey(pem, passphrase []byte) (Key, error)

	// GenerateKey creates a new private key of the given type.
	GenerateKey(kind KeyType, bits int) (Key, error)

	// NewChannel allocates a channel that is not yet open.
	NewChannel() (Channel, error)

	// NewSFTP starts the SFTP subsystem on a fresh channel.
	NewSFTP() (SFTP, error)

	// Free releases the connection handle. The Engine is unusable afterwards.
	Free()
}

// Key is a private key held by the engine.
type Key interface {
	Type() string

	// AuthorizedKey returns the public half in authorized_keys format.
	AuthorizedKey() []byte

	// Fingerprint returns the SHA256 fingerprint of the public half.
	Fingerprint() string

	Free()
}

// Stream selects one of a channel's output streams.
type Stream int

const (
	// Stdout is the primary output stream.
	Stdout Stream = iota
	// Stderr is the auxiliary (extended data) stream.
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Channel is a command execution channel.
type Channel interface {
	OpenSession() error
	Exec(command string) error

	// Read fills p from the selected stream. It returns 0, nil once the
	// stream has ended.
	Read(s Stream, p []byte) (int, error)

	// Write sends p to the remote standard input.
	Write(p []byte) (int, error)

	SendEOF() error

	// Signal delivers a signal by name (without the SIG prefix).
	Signal(name string) error

	// ExitStatus blocks until the remote process has terminated.
	ExitStatus() (ExitStatus, error)

	Close() error
	Free()
}

// SFTP is a protocol sub-session layered on the connection.
type SFTP interface {
	Mkdir(path string, mode fs.FileMode) error
	Rmdir(path string) error
	Stat(path string) (Attributes, error)
	Lstat(path string) (Attributes, error)

	// SetStat applies the fields of attrs whose flags are set.
	SetStat(path string, attrs Attributes) error

	Rename(oldpath, newpath string) error
	Remove(path string) error
	Symlink(target, link string) error
	ReadLink(path string) (string, error)
	RealPath(path string) (string, error)
	Limits() (Limits, error)

	// Open opens a file. flag takes the os.O_* values; mode applies to files
	// created by the call.
	Open(path string, flag int, mode fs.FileMode) (File, error)

	OpenDir(path string) (Dir, error)

	Free()
}

// File is an open remote file with an implicit cursor.
type File interface {
	Seek(offset int64) error
	Tell() int64

	// Read reads at the cursor and advances it. It returns 0, nil at EOF.
	Read(p []byte) (int, error)

	// Write writes at the cursor and advances it.
	Write(p []byte) (int, error)

	Stat() (Attributes, error)

	// BeginRead submits a read of up to n bytes at the cursor and advances
	// the cursor by n without waiting for the reply.
	BeginRead(n int) (AIO, error)

	// BeginWrite submits a write of p at the cursor and advances the cursor
	// by len(p) without waiting for the reply. p is copied before returning.
	BeginWrite(p []byte) (AIO, error)

	Close() error
}

// AIO is one submitted but not yet completed file request.
type AIO interface {
	// Wait blocks until the request completes. Reads copy their data into p
	// and return the number of bytes, zero meaning EOF. Writes ignore p and
	// return the number of bytes written.
	Wait(p []byte) (int, error)

	// Free releases the request. It is safe to call on a request that was
	// never waited on.
	Free()
}

// Dir is an open directory listing.
type Dir interface {
	// Next returns the next entry, or nil, nil at the end of the listing.
	Next() (*Attributes, error)
	Close() error
}

// KeyType names a private key algorithm.
type KeyType string

const (
	KeyEd25519 KeyType = "ed25519"
	KeyRSA     KeyType = "rsa"
	KeyECDSA   KeyType = "ecdsa"
)

// ParseKeyType converts a user supplied algorithm name to a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ed25519", "ssh-ed25519":
		return KeyEd25519, nil
	case "rsa", "ssh-rsa":
		return KeyRSA, nil
	case "ecdsa":
		return KeyECDSA, nil
	default:
		return "", fmt.Errorf("unknown key type %q", s)
	}
}

// Config holds the connection parameters shared by every engine.
type Config struct {
	Host    string
	Port    int
	User    string
	Timeout time.Duration
}

// WithDefaults fills zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	return c
}

// Validate checks that the configuration can be used to connect.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("configuration error: host address cannot be empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("configuration error: port %d out of range", c.Port)
	}

	if c.User == "" {
		return errors.New("configuration error: user cannot be empty")
	}

	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
