package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ruffel/sshkit"
	"github.com/ruffel/sshkit/engine"
	"github.com/spf13/cobra"
)

// transferFlags configure get and put.
type transferFlags struct {
	concurrency int
	chunk       int
	depth       int
	quiet       bool
}

func (t *transferFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&t.concurrency, "concurrency", "c", 4, "Files transferred in parallel for directories")
	fl.IntVar(&t.chunk, "chunk", 0, "Request size in bytes (default: server limit)")
	fl.IntVar(&t.depth, "queue", sshkit.DefaultQueueDepth, "Requests kept in flight per file")
	fl.BoolVarP(&t.quiet, "quiet", "q", false, "Do not report progress")
}

func (t *transferFlags) options(out io.Writer) []sshkit.TransferOption {
	opts := []sshkit.TransferOption{
		sshkit.WithConcurrency(t.concurrency),
		sshkit.WithStreamOptions(sshkit.WithQueueDepth(t.depth)),
	}

	if t.chunk > 0 {
		opts = append(opts, sshkit.WithStreamOptions(sshkit.WithChunkSize(t.chunk)))
	}

	if !t.quiet {
		opts = append(opts, sshkit.WithProgress(progressPrinter(out)))
	}

	return opts
}

// progressPrinter redraws one status line at most every 100ms.
func progressPrinter(out io.Writer) sshkit.ProgressFunc {
	var last time.Time

	return func(current, total int64) {
		done := total > 0 && current >= total
		if !done && time.Since(last) < 100*time.Millisecond {
			return
		}

		last = time.Now()

		line := humanize.IBytes(uint64(current)) //nolint:gosec // progress is never negative
		if total > 0 {
			line += " / " + humanize.IBytes(uint64(total)) //nolint:gosec // sizes are never negative
		}

		fmt.Fprint(out, "\r"+infoStyle.Render(line)+"\033[K")

		if done {
			fmt.Fprintln(out)
		}
	}
}

func newGetCmd(f *connFlags) *cobra.Command {
	var t transferFlags

	cmd := &cobra.Command{
		Use:   "get remote-path [local-path]",
		Short: "Download a file or directory tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			remote := args[0]
			local := path.Base(remote)

			if len(args) == 2 {
				local = args[1]
			}

			start := time.Now()

			return f.withSftp(c.Context(), func(sc sshkit.SftpClient) error {
				if err := sc.Download(c.Context(), remote, local, t.options(os.Stderr)...); err != nil {
					return err
				}

				fmt.Fprintln(os.Stderr, okStyle.Render(fmt.Sprintf("%s -> %s in %s", remote, local, time.Since(start).Round(time.Millisecond))))

				return nil
			})
		},
	}

	t.register(cmd)

	return cmd
}

func newPutCmd(f *connFlags) *cobra.Command {
	var (
		t    transferFlags
		mode uint32
	)

	cmd := &cobra.Command{
		Use:   "put local-path remote-path",
		Short: "Upload a file or directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			opts := t.options(os.Stderr)
			if mode != 0 {
				opts = append(opts, sshkit.WithPermissions(os.FileMode(mode)))
			}

			start := time.Now()

			return f.withSftp(c.Context(), func(sc sshkit.SftpClient) error {
				if err := sc.Upload(c.Context(), args[0], args[1], opts...); err != nil {
					return err
				}

				fmt.Fprintln(os.Stderr, okStyle.Render(fmt.Sprintf("%s -> %s in %s", args[0], args[1], time.Since(start).Round(time.Millisecond))))

				return nil
			})
		},
	}

	t.register(cmd)
	cmd.Flags().Uint32Var(&mode, "mode", 0, "Permissions for created files, e.g. 0644")

	return cmd
}

func newLsCmd(f *connFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ls [remote-dir]",
		Short: "List a remote directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			return f.withSftp(c.Context(), func(sc sshkit.SftpClient) error {
				return list(c.Context(), sc, dir, all, os.Stdout)
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include entries starting with a dot")

	return cmd
}

// list streams entries as the server returns them instead of collecting the
// whole listing first.
func list(ctx context.Context, sc sshkit.SftpClient, dir string, all bool, out io.Writer) error {
	return sc.WithDirectory(ctx, dir, func(d sshkit.Dir) error {
		for attrs, err := range d.Entries(ctx) {
			if err != nil {
				return err
			}

			if !all && strings.HasPrefix(attrs.Name, ".") {
				continue
			}

			fmt.Fprintln(out, formatEntry(attrs))
		}

		return nil
	})
}

func formatEntry(a sshkit.Attributes) string {
	name := a.Name

	switch {
	case a.IsDir():
		name = dirStyle.Render(name + "/")
	case a.Type == engine.TypeSymlink:
		name = linkStyle.Render(name)
	}

	return fmt.Sprintf("%s %s %-14s %s",
		a.Mode().String(),
		sizeStyle.Render(humanize.IBytes(a.Size)),
		humanize.Time(a.ModifyTime),
		name,
	)
}

func newStatCmd(f *connFlags) *cobra.Command {
	var noFollow bool

	cmd := &cobra.Command{
		Use:   "stat remote-path",
		Short: "Show file attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			return f.withSftp(ctx, func(sc sshkit.SftpClient) error {
				stat := sc.Attributes
				if noFollow {
					stat = sc.LinkAttributes
				}

				a, err := stat(ctx, args[0])
				if err != nil {
					return err
				}

				resolved, err := sc.RealPath(ctx, args[0])
				if err != nil {
					resolved = args[0]
				}

				fmt.Println(titleStyle.Render(resolved))
				printField("type", a.Type.String())
				printField("size", fmt.Sprintf("%s (%s bytes)", humanize.IBytes(a.Size), humanize.Comma(int64(a.Size)))) //nolint:gosec // sizes fit in int64
				printField("mode", a.Mode().String())
				printField("owner", fmt.Sprintf("%d:%d", a.UID, a.GID))
				printField("modified", fmt.Sprintf("%s (%s)", a.ModifyTime.Format(time.RFC3339), humanize.Time(a.ModifyTime)))
				printField("accessed", a.AccessTime.Format(time.RFC3339))

				if a.Type == engine.TypeSymlink {
					if target, err := sc.ReadLink(ctx, args[0]); err == nil {
						printField("target", target)
					}
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&noFollow, "no-dereference", "L", false, "Describe a symbolic link itself")

	return cmd
}

func printField(label, value string) {
	fmt.Println(labelStyle.Render(label) + value)
}

func newRmCmd(f *connFlags) *cobra.Command {
	var dir bool

	cmd := &cobra.Command{
		Use:   "rm remote-path...",
		Short: "Remove files, or empty directories with -d",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			return f.withSftp(ctx, func(sc sshkit.SftpClient) error {
				for _, p := range args {
					remove := sc.RemoveFile
					if dir {
						remove = sc.RemoveDirectory
					}

					if err := remove(ctx, p); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&dir, "dir", "d", false, "Remove empty directories")

	return cmd
}

func newMkdirCmd(f *connFlags) *cobra.Command {
	var (
		parents bool
		mode    uint32
	)

	cmd := &cobra.Command{
		Use:   "mkdir remote-dir...",
		Short: "Create remote directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			perm := os.FileMode(mode)

			return f.withSftp(ctx, func(sc sshkit.SftpClient) error {
				for _, p := range args {
					mkdir := sc.CreateDirectory
					if parents {
						mkdir = sc.MkdirAll
					}

					if err := mkdir(ctx, p, perm); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&parents, "parents", false, "Create missing parents, no error if existing")
	cmd.Flags().Uint32VarP(&mode, "mode", "m", 0o755, "Permissions for new directories")

	return cmd
}

func newCatCmd(f *connFlags) *cobra.Command {
	var (
		offset int64
		length int64
	)

	cmd := &cobra.Command{
		Use:   "cat remote-path",
		Short: "Stream a remote file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			return f.withSftp(ctx, func(sc sshkit.SftpClient) error {
				return sc.WithFile(ctx, args[0], os.O_RDONLY, 0, func(file sshkit.File) error {
					for chunk, err := range file.Stream(ctx, offset, length) {
						if err != nil {
							return err
						}

						if _, err := os.Stdout.Write(chunk); err != nil {
							return err
						}
					}

					return nil
				})
			})
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "Byte offset to start at")
	cmd.Flags().Int64VarP(&length, "bytes", "n", -1, "Bytes to read (-1 for all)")

	return cmd
}
