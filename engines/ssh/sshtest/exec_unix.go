//go:build unix

package sshtest

import (
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

var signals = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"TERM": syscall.SIGTERM,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"PIPE": syscall.SIGPIPE,
	"ALRM": syscall.SIGALRM,
}

func signalName(sig syscall.Signal) string {
	for name, s := range signals {
		if s == sig {
			return name
		}
	}

	return "KILL"
}

// exec runs command with sh in its own process group so signals reach every
// process the shell started.
func (s *Server) exec(ch ssh.Channel, command string, sigs <-chan string) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.Root
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		sendExit(ch, 127, "", false)

		return
	}

	if err := cmd.Start(); err != nil {
		_, _ = io.WriteString(ch.Stderr(), err.Error()+"\n")
		sendExit(ch, 127, "", false)

		return
	}

	go func() {
		_, _ = io.Copy(stdin, ch)
		_ = stdin.Close()
	}()

	exited := make(chan struct{})

	go func() {
		for {
			select {
			case <-exited:
				return
			case name := <-sigs:
				if sig, ok := signals[name]; ok {
					_ = syscall.Kill(-cmd.Process.Pid, sig)
				}
			}
		}
	}()

	err = cmd.Wait()
	close(exited)

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		sendExit(ch, 0, "", false)
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sendExit(ch, 0, signalName(ws.Signal()), ws.CoreDump())

			return
		}

		sendExit(ch, exitErr.ExitCode(), "", false)
	default:
		s.log.Debug("command wait failed", zap.Error(err))
		sendExit(ch, 255, "", false)
	}
}
