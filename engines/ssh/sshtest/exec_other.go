//go:build !unix

package sshtest

import (
	"io"

	"golang.org/x/crypto/ssh"
)

func (s *Server) exec(ch ssh.Channel, _ string, _ <-chan string) {
	_, _ = io.WriteString(ch.Stderr(), "exec is not supported on this platform\n")
	sendExit(ch, 127, "", false)
}
