package sessiontest

import (
	"context"
	"errors"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:funlen // Contract registration function; length comes from many test cases.
func coreContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryCore,
			Name:        "exec-stdout",
			Description: "Command output is readable on stdout and the exit code is zero",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				err := fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					require.NoError(t, ch.ExecuteCommand(ctx, sshkit.NewCommand("echo", "hello")))

					out, err := collect(ctx, ch, sshkit.Stdout)
					require.NoError(t, err)
					assert.Equal(t, "hello\n", string(out))

					st, err := ch.ExitStatus(ctx)
					require.NoError(t, err)
					assert.True(t, st.Success())

					return nil
				})
				require.NoError(t, err)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exec-stderr-and-exit-code",
			Description: "Both streams are captured and a non-zero exit is reported",
			Run: func(t T, fx Fixture) {
				res, err := sshkit.NewExecutor(fx.Session).RunShell(t.Context(), "echo out; echo err >&2; exit 3")

				var exitErr *sshkit.ExitError
				require.ErrorAs(t, err, &exitErr)
				require.NotNil(t, res)

				assert.Equal(t, "out\n", string(res.Stdout))
				assert.Equal(t, "err\n", string(res.Stderr))
				assert.Equal(t, 3, res.ExitCode())
				assert.Contains(t, exitErr.Error(), "exited with code 3")
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exec-stdin",
			Description: "Data written to stdin reaches the remote process",
			Run: func(t T, fx Fixture) {
				cmd := sshkit.Cmd("cat").Input("ping\npong\n").Build()

				res, err := sshkit.NewExecutor(fx.Session).Run(t.Context(), cmd)
				require.NoError(t, err)
				assert.Equal(t, "ping\npong\n", string(res.Stdout))
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exec-line-stream",
			Description: "Stdout lines are delivered in order as they arrive",
			Run: func(t T, fx Fixture) {
				var lines []string

				err := sshkit.NewExecutor(fx.Session).RunLineStream(t.Context(),
					sshkit.NewCommand("sh", "-c", "echo one; echo two; echo three"),
					func(line string) { lines = append(lines, line) })
				require.NoError(t, err)
				assert.Equal(t, []string{"one", "two", "three"}, lines)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exit-status-cached",
			Description: "Fetching the exit status twice returns the same value",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				err := fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					require.NoError(t, ch.Execute(ctx, "false"))

					first, err := ch.ExitStatus(ctx)
					require.NoError(t, err)

					second, err := ch.ExitStatus(ctx)
					require.NoError(t, err)

					code, ok := first.ExitCode()
					assert.True(t, ok)
					assert.Equal(t, 1, code)
					assert.Equal(t, first, second)

					return nil
				})
				require.NoError(t, err)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "command-not-found",
			Description: "An unknown command exits with 127",
			Run: func(t T, fx Fixture) {
				res, err := sshkit.NewExecutor(fx.Session).Run(t.Context(), sshkit.NewCommand("sshkit-no-such-command"))

				var exitErr *sshkit.ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 127, res.ExitCode())
			},
		},
		{
			Category:    CategoryCore,
			Name:        "signal-terminates",
			Description: "A signalled process reports the signal and no exit code",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				err := fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					require.NoError(t, ch.Execute(ctx, "sleep 30"))

					// Give the remote side a moment to start the process.
					time.Sleep(100 * time.Millisecond)
					require.NoError(t, ch.Signal(ctx, "KILL"))

					st, err := ch.ExitStatus(ctx)
					require.NoError(t, err)

					_, ok := st.ExitCode()
					assert.False(t, ok)
					assert.Equal(t, "KILL", st.Signal)
					assert.False(t, st.Success())

					return nil
				})
				require.NoError(t, err)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "channel-runs-one-command",
			Description: "A second Execute on the same channel is rejected",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				err := fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					require.NoError(t, ch.Execute(ctx, "true"))

					err := ch.Execute(ctx, "true")
					require.ErrorIs(t, err, sshkit.ErrInvalidState)
					require.ErrorIs(t, err, sshkit.ErrChannelState)

					_, err = ch.ExitStatus(ctx)

					return err
				})
				require.NoError(t, err)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "stream-cancelled",
			Description: "A cancelled stream yields the cancellation cause once",
			Run: func(t T, fx Fixture) {
				ctx := t.Context()

				err := fx.Session.WithChannel(ctx, func(ch sshkit.Channel) error {
					require.NoError(t, ch.Execute(ctx, "echo hi"))

					cctx, cancel := context.WithCancelCause(ctx)
					cancel(errStop)

					var errs []error
					for _, err := range ch.Stream(cctx, sshkit.Stdout) {
						errs = append(errs, err)
					}

					require.Len(t, errs, 1)
					assert.ErrorIs(t, errs[0], errStop)

					_, err := collect(ctx, ch, sshkit.Stdout)

					return err
				})
				require.NoError(t, err)
			},
		},
	}
}

var errStop = errors.New("stopped by test")
