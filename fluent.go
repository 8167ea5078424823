package sshkit

import (
	"context"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/google/shlex"
)

// Builder assembles a Command step by step. Errors from ArgLine are held
// until Build or Run.
type Builder struct {
	cmd Command
	err error
}

// Cmd starts a Builder for binary.
func Cmd(binary string) *Builder {
	return &Builder{cmd: Command{Cmd: binary}}
}

// Shell starts a Builder that runs script through sh -c.
func Shell(script string) *Builder {
	return Cmd("sh").Args("-c", script)
}

func (b *Builder) Arg(arg string) *Builder {
	b.cmd.Args = append(b.cmd.Args, arg)

	return b
}

func (b *Builder) Args(args ...string) *Builder {
	b.cmd.Args = append(b.cmd.Args, args...)

	return b
}

// ArgLine splits line with shell quoting rules and appends the words.
func (b *Builder) ArgLine(line string) *Builder {
	words, err := shlex.Split(line)
	if err != nil {
		b.err = err

		return b
	}

	return b.Args(words...)
}

// Env exports key=value before the command runs.
func (b *Builder) Env(key, value string) *Builder {
	b.cmd.Env = append(b.cmd.Env, key+"="+value)

	return b
}

// Envs exports every entry of vars, in key order so the rendered line is
// stable.
func (b *Builder) Envs(vars map[string]string) *Builder {
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		b.Env(k, vars[k])
	}

	return b
}

// Dir sets the remote working directory.
func (b *Builder) Dir(dir string) *Builder {
	b.cmd.Dir = dir

	return b
}

func (b *Builder) Stdin(r io.Reader) *Builder {
	b.cmd.Stdin = r

	return b
}

// Input feeds s to the remote standard input.
func (b *Builder) Input(s string) *Builder {
	return b.Stdin(strings.NewReader(s))
}

// Build returns a copy of the assembled Command. It panics if ArgLine
// failed; use Run or Err to handle that case.
func (b *Builder) Build() *Command {
	if b.err != nil {
		panic("sshkit: " + b.err.Error())
	}

	cmd := b.cmd
	cmd.Args = slices.Clone(b.cmd.Args)
	cmd.Env = slices.Clone(b.cmd.Env)

	return &cmd
}

// Err reports the first ArgLine failure.
func (b *Builder) Err() error {
	return b.err
}

// Run builds the command and runs it on e.
func (b *Builder) Run(ctx context.Context, e *Executor, opts ...ExecOption) (*Result, error) {
	if b.err != nil {
		return nil, b.err
	}

	return e.Run(ctx, b.Build(), opts...)
}
