package sshkit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of a command run by the Executor.
type Result struct {
	Status   ExitStatus
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
}

// ExitCode returns the exit code, or -1 if the process was killed by a signal.
func (r *Result) ExitCode() int {
	if code, ok := r.Status.ExitCode(); ok {
		return code
	}

	return -1
}

// Executor runs whole commands on a Session: one channel per attempt, output
// buffered, optional retries and sudo.
//
// Stdout is drained before stderr. A command that writes more than the
// channel window to stderr while stdout is still open stalls until the window
// frees; use RunLineStream or a Channel directly for such commands.
type Executor struct {
	s *Session
}

// NewExecutor creates an Executor on s.
func NewExecutor(s *Session) *Executor {
	return &Executor{s: s}
}

// Run executes cmd, retrying per the options while it fails. A non-zero exit
// on the last attempt is reported as *ExitError alongside the Result.
func (e *Executor) Run(ctx context.Context, cmd *Command, opts ...ExecOption) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	cfg := ExecConfig{RetryAttempts: 1}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.SudoConfig != nil {
		cmd = applySudo(cmd, cfg.SudoConfig)
	}

	var (
		res *Result
		err error
	)

	for i := range cfg.RetryAttempts {
		if i > 0 {
			e.s.log.Debug("retrying command", zap.Stringer("command", cmd), zap.Int("attempt", i+1), zap.Error(err))

			if werr := wait(ctx, cfg.RetryDelay); werr != nil {
				return res, werr
			}
		}

		res, err = e.runOnce(ctx, cmd)
		if err == nil && res.Status.Success() {
			return res, nil
		}

		if errors.Is(err, ErrInvalidState) || ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		return res, fmt.Errorf("command execution failed after %d attempts: %w", cfg.RetryAttempts, err)
	}

	return res, &ExitError{Command: cmd, Status: res.Status, Stderr: res.Stderr}
}

func (e *Executor) runOnce(ctx context.Context, cmd *Command) (*Result, error) {
	start := time.Now()
	res := &Result{}

	err := e.s.WithChannel(ctx, func(ch Channel) error {
		if err := ch.ExecuteCommand(ctx, cmd); err != nil {
			return err
		}

		if err := feedStdin(ctx, ch, cmd.Stdin); err != nil {
			return err
		}

		var err error

		if res.Stdout, err = drain(ctx, ch, Stdout); err != nil {
			return err
		}

		if res.Stderr, err = drain(ctx, ch, Stderr); err != nil {
			return err
		}

		res.Status, err = ch.ExitStatus(ctx)

		return err
	})

	res.Duration = time.Since(start)

	return res, err
}

func feedStdin(ctx context.Context, ch Channel, r io.Reader) error {
	if r == nil {
		return ch.SendEOF(ctx)
	}

	stdin := ch.Stdin(ctx)

	if _, err := io.Copy(stdin, r); err != nil {
		return err
	}

	return stdin.Close()
}

func drain(ctx context.Context, ch Channel, stream Stream) ([]byte, error) {
	var buf bytes.Buffer

	for chunk, err := range ch.Stream(ctx, stream) {
		if err != nil {
			return buf.Bytes(), err
		}

		buf.Write(chunk)
	}

	return buf.Bytes(), nil
}

// RunShell executes script with sh -c.
func (e *Executor) RunShell(ctx context.Context, script string, opts ...ExecOption) (*Result, error) {
	return e.Run(ctx, NewCommand("sh", "-c", script), opts...)
}

// RunLineStream runs cmd and calls onLine for each line of stdout as it
// arrives. Stderr is discarded. A non-zero exit is reported as *ExitError.
func (e *Executor) RunLineStream(ctx context.Context, cmd *Command, onLine func(string), opts ...ExecOption) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	cfg := ExecConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.SudoConfig != nil {
		cmd = applySudo(cmd, cfg.SudoConfig)
	}

	return e.s.WithChannel(ctx, func(ch Channel) error {
		if err := ch.ExecuteCommand(ctx, cmd); err != nil {
			return err
		}

		if err := feedStdin(ctx, ch, cmd.Stdin); err != nil {
			return err
		}

		scanner := bufio.NewScanner(ch.Reader(ctx, Stdout))
		for scanner.Scan() {
			onLine(scanner.Text())
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("scan error: %w", err)
		}

		stderr, err := drain(ctx, ch, Stderr)
		if err != nil {
			return err
		}

		st, err := ch.ExitStatus(ctx)
		if err != nil {
			return err
		}

		if !st.Success() {
			return &ExitError{Command: cmd, Status: st, Stderr: stderr}
		}

		return nil
	})
}

func applySudo(cmd *Command, cfg *SudoConfig) *Command {
	args := []string{"-n"}

	if cfg.User != "" {
		args = append(args, "-u", cfg.User)
	}

	if cfg.PreserveEnv {
		args = append(args, "-E")
	}

	args = append(args, cfg.CustomFlags...)
	args = append(args, "--", cmd.Cmd)

	newCmd := *cmd
	newCmd.Cmd = "sudo"
	newCmd.Args = append(args, cmd.Args...)

	return &newCmd
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
