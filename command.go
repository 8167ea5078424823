package sshkit

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

// Command is a structured remote command. Line renders it into the single
// string an SSH exec request carries.
type Command struct {
	Cmd  string   // Binary name or path to executable
	Args []string // Arguments to pass to the binary
	Env  []string // Environment variables in "KEY=VALUE" format
	Dir  string   // Working directory for execution

	// Stdin, when set, is copied to the remote standard input by the
	// Executor, followed by EOF.
	Stdin io.Reader
}

// NewCommand creates a new Command with the given binary and arguments.
func NewCommand(binary string, args ...string) *Command {
	return &Command{
		Cmd:  binary,
		Args: args,
	}
}

// ParseCommand splits a shell command string into a Command using shlex.
func ParseCommand(cmdStr string) (*Command, error) {
	parts, err := shlex.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	if len(parts) == 0 {
		return nil, errors.New("empty command")
	}

	return &Command{
		Cmd:  parts[0],
		Args: parts[1:],
	}, nil
}

// Validate checks that the command is well-formed.
func (c *Command) Validate() error {
	if c == nil {
		return errors.New("command cannot be nil")
	}

	if strings.TrimSpace(c.Cmd) == "" {
		return errors.New("command binary cannot be empty")
	}

	return nil
}

// String returns a readable form of the command for logs and errors.
func (c *Command) String() string {
	if len(c.Args) == 0 {
		return c.Cmd
	}

	var b strings.Builder
	b.WriteString(c.Cmd)

	for _, arg := range c.Args {
		b.WriteString(" ")

		if strings.ContainsAny(arg, " \t\n") {
			fmt.Fprintf(&b, "%q", arg)
		} else {
			b.WriteString(arg)
		}
	}

	return b.String()
}

// Line renders the command for a POSIX shell: exported environment first,
// then a cd into Dir, then the quoted binary and arguments.
//
// OpenSSH defaults PermitUserEnvironment=no, so variables are exported inline
// rather than sent as env requests.
func (c *Command) Line() string {
	var b strings.Builder

	for _, env := range c.Env {
		k, v, found := strings.Cut(env, "=")
		if !found {
			continue
		}

		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(v))
	}

	if c.Dir != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(c.Dir))
	}

	b.WriteString(shellQuote(c.Cmd))

	for _, arg := range c.Args {
		b.WriteString(" ")
		b.WriteString(shellQuote(arg))
	}

	return b.String()
}

// shellQuote wraps s in single quotes, escaping embedded quotes as '\''.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
