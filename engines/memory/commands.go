package memory

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/ruffel/sshkit/engine"
)

// CommandFunc implements one command. It must return once Stdin is exhausted
// or a signal arrives if it waits on either.
type CommandFunc func(p *Process) engine.ExitStatus

// Process is a running command.
type Process struct {
	Args    []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	FS      *FS
	Signals <-chan string

	run func(*Process) engine.ExitStatus
}

// Run executes another command with the same streams, as a shell would.
func (p *Process) Run(args ...string) engine.ExitStatus {
	child := *p
	child.Args = args

	return p.run(&child)
}

func (e *Engine) run(p *Process) engine.ExitStatus {
	fn, ok := e.cmds[p.Args[0]]
	if !ok {
		fmt.Fprintf(p.Stderr, "sh: 1: %s: not found\n", p.Args[0])

		return engine.Exited(127)
	}

	return fn(p)
}

func builtins() map[string]CommandFunc {
	return map[string]CommandFunc{
		"true":  func(*Process) engine.ExitStatus { return engine.Exited(0) },
		"false": func(*Process) engine.ExitStatus { return engine.Exited(1) },
		"echo":  echo,
		"cat":   cat,
		"sleep": sleep,
		"sh":    shell,
	}
}

func echo(p *Process) engine.ExitStatus {
	args, newline := p.Args[1:], "\n"
	if len(args) > 0 && args[0] == "-n" {
		args, newline = args[1:], ""
	}

	fmt.Fprint(p.Stdout, strings.Join(args, " ")+newline)

	return engine.Exited(0)
}

func cat(p *Process) engine.ExitStatus {
	if len(p.Args) == 1 {
		if _, err := io.Copy(p.Stdout, p.Stdin); err != nil {
			fmt.Fprintf(p.Stderr, "cat: %v\n", err)

			return engine.Exited(1)
		}

		return engine.Exited(0)
	}

	status := 0

	for _, name := range p.Args[1:] {
		data, ok := p.FS.ReadFile(name)
		if !ok {
			fmt.Fprintf(p.Stderr, "cat: %s: No such file or directory\n", name)

			status = 1

			continue
		}

		_, _ = p.Stdout.Write(data)
	}

	return engine.Exited(status)
}

func sleep(p *Process) engine.ExitStatus {
	if len(p.Args) != 2 {
		fmt.Fprintln(p.Stderr, "sleep: missing operand")

		return engine.Exited(1)
	}

	secs, err := strconv.ParseFloat(p.Args[1], 64)
	if err != nil {
		fmt.Fprintf(p.Stderr, "sleep: invalid time interval '%s'\n", p.Args[1])

		return engine.Exited(1)
	}

	t := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer t.Stop()

	select {
	case <-t.C:
		return engine.Exited(0)
	case sig := <-p.Signals:
		return engine.Signaled(sig, false)
	}
}

// shell understands `sh -c` scripts made of ';' separated simple commands,
// each optionally ending in '>&2', plus 'exit N'.
func shell(p *Process) engine.ExitStatus {
	if len(p.Args) != 3 || p.Args[1] != "-c" {
		fmt.Fprintln(p.Stderr, "sh: only -c is supported")

		return engine.Exited(2)
	}

	status := engine.Exited(0)

	for stmt := range strings.SplitSeq(p.Args[2], ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		child := *p

		if rest, ok := strings.CutSuffix(stmt, ">&2"); ok {
			rest = strings.TrimSpace(rest)
			if r, ok := strings.CutSuffix(rest, " 1"); ok {
				rest = r
			}

			stmt = rest
			child.Stdout = p.Stderr
		}

		args, err := shlex.Split(stmt)
		if err != nil || len(args) == 0 {
			fmt.Fprintf(p.Stderr, "sh: syntax error: %s\n", stmt)

			return engine.Exited(2)
		}

		if args[0] == "exit" {
			code := 0
			if len(args) > 1 {
				if code, err = strconv.Atoi(args[1]); err != nil {
					code = 2
				}
			}

			return engine.Exited(code)
		}

		child.Args = args
		status = p.run(&child)
	}

	return status
}
