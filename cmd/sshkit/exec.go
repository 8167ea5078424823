package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ruffel/sshkit"
	"github.com/spf13/cobra"
)

func newExecCmd(f *connFlags) *cobra.Command {
	var (
		shell      bool
		follow     bool
		sudo       bool
		sudoUser   string
		retries    int
		retryDelay time.Duration
		stdin      bool
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run a command on the remote host",
		Long: `Runs one command on a fresh channel and relays its output. The process
exit code becomes sshkit's exit code.

With --shell the arguments are joined and passed to sh -c.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			var command *sshkit.Command
			if shell {
				command = sshkit.NewCommand("sh", "-c", strings.Join(args, " "))
			} else {
				command = sshkit.NewCommand(args[0], args[1:]...)
			}

			if stdin {
				command.Stdin = os.Stdin
			}

			var opts []sshkit.ExecOption
			if sudo || sudoUser != "" {
				var so []sshkit.SudoOption
				if sudoUser != "" {
					so = append(so, sshkit.WithSudoUser(sudoUser))
				}

				opts = append(opts, sshkit.WithSudo(so...))
			}

			if retries > 1 {
				opts = append(opts, sshkit.WithRetry(retries, retryDelay))
			}

			return f.withSession(ctx, func(s *sshkit.Session) error {
				exec := sshkit.NewExecutor(s)

				if follow {
					return exec.RunLineStream(ctx, command, func(line string) {
						fmt.Fprintln(os.Stdout, line)
					}, opts...)
				}

				res, err := exec.Run(ctx, command, opts...)
				if res != nil {
					_, _ = os.Stdout.Write(res.Stdout)
					_, _ = os.Stderr.Write(res.Stderr)
				}

				return err
			})
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&shell, "shell", false, "Run the arguments as a sh -c script")
	fl.BoolVarP(&follow, "follow", "f", false, "Print stdout line by line as it arrives")
	fl.BoolVar(&sudo, "sudo", false, "Run through sudo -n")
	fl.StringVar(&sudoUser, "sudo-user", "", "Run through sudo as this user")
	fl.IntVar(&retries, "retries", 1, "Attempts before giving up")
	fl.DurationVar(&retryDelay, "retry-delay", time.Second, "Delay between attempts")
	fl.BoolVar(&stdin, "stdin", false, "Forward local stdin to the command")

	return cmd
}
