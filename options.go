package sshkit

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	logger *zap.Logger
}

// WithLogger sets the session's logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *sessionConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

const (
	// DefaultQueueDepth is the number of AIO requests kept in flight.
	DefaultQueueDepth = 16

	// DefaultChunkSize caps the size of a single read or write request.
	DefaultChunkSize = 32 * 1024

	// DefaultReadSize is the bounded read size used by channel streams.
	DefaultReadSize = 32 * 1024
)

// StreamConfig holds settings for streams and pipelines.
type StreamConfig struct {
	QueueDepth int // Outstanding AIO requests (pipelines only)
	ChunkSize  int // Bytes per Engine request
}

// StreamOption configures a stream or pipeline.
type StreamOption func(*StreamConfig)

// WithQueueDepth sets how many AIO requests a pipeline keeps in flight.
// Values below 1 are treated as 1.
func WithQueueDepth(n int) StreamOption {
	return func(c *StreamConfig) {
		if n < 1 {
			n = 1
		}

		c.QueueDepth = n
	}
}

// WithChunkSize sets the size of each Engine read or write request.
func WithChunkSize(n int) StreamOption {
	return func(c *StreamConfig) {
		if n > 0 {
			c.ChunkSize = n
		}
	}
}

func newStreamConfig(opts []StreamOption) StreamConfig {
	cfg := StreamConfig{QueueDepth: DefaultQueueDepth}
	for _, o := range opts {
		o(&cfg)
	}

	return cfg
}

// ProgressFunc is a callback for tracking file transfer progress. current is
// the cumulative number of bytes transferred; total is 0 when unknown.
type ProgressFunc func(current, total int64)

// TransferConfig holds configuration for file transfers.
type TransferConfig struct {
	Permissions os.FileMode // Destination mode override (0 means preserve/default)
	Concurrency int         // Files transferred in parallel by directory transfers
	Progress    ProgressFunc
	Stream      []StreamOption
}

// DefaultTransferConfig returns defaults.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		Concurrency: 4,
	}
}

// TransferOption defines a functional option for file transfers.
type TransferOption func(*TransferConfig)

// WithPermissions forces a specific destination file mode.
func WithPermissions(mode os.FileMode) TransferOption {
	return func(c *TransferConfig) {
		c.Permissions = mode
	}
}

// WithProgress calls fn with cumulative progress updates.
func WithProgress(fn ProgressFunc) TransferOption {
	return func(c *TransferConfig) {
		c.Progress = fn
	}
}

// WithConcurrency bounds how many files a directory transfer moves at once.
func WithConcurrency(n int) TransferOption {
	return func(c *TransferConfig) {
		if n < 1 {
			n = 1
		}

		c.Concurrency = n
	}
}

// WithStreamOptions forwards pipeline options to the underlying stream.
func WithStreamOptions(opts ...StreamOption) TransferOption {
	return func(c *TransferConfig) {
		c.Stream = append(c.Stream, opts...)
	}
}

// ExecConfig holds configuration derived from options.
type ExecConfig struct {
	SudoConfig    *SudoConfig
	RetryAttempts int
	RetryDelay    time.Duration
}

// SudoConfig defines privilege escalation options.
type SudoConfig struct {
	User        string   // Target user (-u)
	PreserveEnv bool     // Preserve environment (-E)
	CustomFlags []string // Additional flags
}

// ExecOption defines a functional option for execution.
type ExecOption func(*ExecConfig)

// SudoOption defines a functional option for sudo configuration.
type SudoOption func(*SudoConfig)

// WithSudo wraps the command in non-interactive sudo.
func WithSudo(opts ...SudoOption) ExecOption {
	return func(c *ExecConfig) {
		if c.SudoConfig == nil {
			c.SudoConfig = &SudoConfig{}
		}

		for _, o := range opts {
			o(c.SudoConfig)
		}
	}
}

// WithSudoUser sets the target user.
func WithSudoUser(user string) SudoOption {
	return func(s *SudoConfig) {
		s.User = user
	}
}

// WithSudoPreserveEnv preserves the environment.
func WithSudoPreserveEnv() SudoOption {
	return func(s *SudoConfig) {
		s.PreserveEnv = true
	}
}

// WithRetry enables retry logic using a fixed delay between attempts.
// attempts is the total number of attempts including the first; values
// below 1 are treated as 1.
func WithRetry(attempts int, delay time.Duration) ExecOption {
	return func(c *ExecConfig) {
		if attempts < 1 {
			attempts = 1
		}

		c.RetryAttempts = attempts
		c.RetryDelay = delay
	}
}
