// Command sshkit runs commands and moves files on a remote host through an
// sshkit.Session backed by the SSH engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruffel/sshkit"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, os.Args[1:])

	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *sshkit.ExitError
	if errors.As(err, &exitErr) {
		if code, ok := exitErr.Status.ExitCode(); ok {
			return code
		}

		return 128
	}

	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))

	return 1
}

func newRootCmd() *cobra.Command {
	var f connFlags

	root := &cobra.Command{
		Use:           "sshkit",
		Short:         "Run commands and transfer files over SSH",
		Long:          `sshkit drives a remote host through one serialized SSH session: command execution, SFTP file operations and pipelined transfers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f.register(root)

	root.AddCommand(
		newExecCmd(&f),
		newGetCmd(&f),
		newPutCmd(&f),
		newLsCmd(&f),
		newStatCmd(&f),
		newRmCmd(&f),
		newMkdirCmd(&f),
		newCatCmd(&f),
		newKeyCmd(),
	)

	return root
}
