package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ruffel/sshkit"
	sshengine "github.com/ruffel/sshkit/engines/ssh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// connFlags are the connection settings shared by every remote subcommand.
type connFlags struct {
	host        string
	port        int
	user        string
	identity    string
	askPassword bool
	agent       bool
	knownHosts  string
	insecure    bool
	profile     string
	alias       string
	sshConfig   string
	timeout     time.Duration
	verbose     bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.host, "host", "H", "", "Remote host")
	pf.IntVarP(&f.port, "port", "p", 0, "Remote port (default 22)")
	pf.StringVarP(&f.user, "user", "u", "", "Remote user (default: current user)")
	pf.StringVarP(&f.identity, "identity", "i", "", "Private key file")
	pf.BoolVar(&f.askPassword, "ask-password", false, "Prompt for a password")
	pf.BoolVar(&f.agent, "agent", false, "Authenticate with the SSH agent")
	pf.StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	pf.BoolVar(&f.insecure, "insecure", false, "Skip host key verification")
	pf.StringVar(&f.profile, "profile", "", "Connection profile (.toml, .yaml)")
	pf.StringVarP(&f.alias, "alias", "A", "", "Host alias resolved through ssh_config")
	pf.StringVar(&f.sshConfig, "ssh-config", "", "ssh_config file used with --alias (default ~/.ssh/config)")
	pf.DurationVar(&f.timeout, "timeout", 0, "Connect timeout (default 10s)")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Log session activity to stderr")
}

func (f *connFlags) logger() (*zap.Logger, error) {
	if !f.verbose {
		return zap.NewNop(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}

// config layers the sources in increasing precedence: profile or ssh_config
// alias, then explicit flags.
func (f *connFlags) config() (sshengine.Config, error) {
	var (
		cfg sshengine.Config
		err error
	)

	switch {
	case f.profile != "" && f.alias != "":
		return cfg, errors.New("--profile and --alias are mutually exclusive")
	case f.profile != "":
		cfg, err = sshengine.LoadProfile(f.profile)
	case f.alias != "":
		cfg, err = sshengine.NewFromSSHConfig(f.alias, f.sshConfig)
	default:
		cfg = sshengine.NewConfig("", "")
	}

	if err != nil {
		return cfg, err
	}

	if f.host != "" {
		cfg.Host = f.host
	}

	if f.port != 0 {
		cfg.Port = f.port
	}

	if f.user != "" {
		cfg.User = f.user
	}

	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}

	if f.identity != "" {
		cfg.PrivateKeyPath = f.identity
	}

	if f.agent {
		cfg.UseAgent = true
	}

	if f.knownHosts != "" {
		cfg.KnownHostsPath = f.knownHosts
	}

	if f.insecure {
		cfg.InsecureSkipVerify = true
	}

	if f.timeout != 0 {
		cfg.Timeout = f.timeout
	}

	if !cfg.InsecureSkipVerify && cfg.KnownHostsPath == "" && cfg.HostKeyCheck == nil {
		cfg.KnownHostsPath = sshengine.DefaultKnownHostsPath()
	}

	if f.askPassword {
		pw, err := prompt(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host))
		if err != nil {
			return cfg, err
		}

		cfg.Password = pw
	}

	if cfg.Password == "" && cfg.PrivateKey == "" && cfg.PrivateKeyPath == "" && !cfg.UseAgent {
		cfg.UseAgent = os.Getenv("SSH_AUTH_SOCK") != ""
	}

	return cfg, nil
}

// dial opens a session for one subcommand. The caller closes it.
func (f *connFlags) dial(ctx context.Context) (*sshkit.Session, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}

	log, err := f.logger()
	if err != nil {
		return nil, err
	}

	cfg.Logger = log

	return sshengine.Dial(ctx, cfg)
}

// withSession dials, runs fn and closes the session.
func (f *connFlags) withSession(ctx context.Context, fn func(*sshkit.Session) error) error {
	s, err := f.dial(ctx)
	if err != nil {
		return err
	}

	err = fn(s)
	if cerr := s.Close(); err == nil {
		err = cerr
	}

	return err
}

// withSftp dials and runs fn inside a scoped SFTP client.
func (f *connFlags) withSftp(ctx context.Context, fn func(sshkit.SftpClient) error) error {
	return f.withSession(ctx, func(s *sshkit.Session) error {
		return s.WithSftp(ctx, fn)
	})
}

// prompt reads a secret from the terminal without echo.
func prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", errors.New("cannot prompt: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, label)

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return string(b), nil
}
