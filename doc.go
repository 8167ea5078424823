// Package sshkit is a concurrency-safe layer over a synchronous SSH/SFTP
// engine.
//
// # Sessions
//
// A Session owns one engine connection and runs every engine call on a
// single actor goroutine. Any number of goroutines may share it. Handles
// (keys, channels, SFTP clients, files, directories, AIO operations) are
// registered with the session and referred to by opaque ResourceIDs; the
// Key, Channel, SftpClient, File and Dir values are lightweight wrappers
// around those ids.
//
// # Scoped resources
//
// Every resource has a WithX helper that opens it, runs a function and
// closes it afterwards, including when the function fails:
//
//	err := s.WithSftp(ctx, func(c sshkit.SftpClient) error {
//		return c.WithFile(ctx, "/etc/hostname", os.O_RDONLY, 0, func(f sshkit.File) error {
//			_, err := f.Download(ctx, os.Stdout)
//			return err
//		})
//	})
//
// # Streaming
//
// Channel.Stream and File.Stream return iter.Seq2 sequences. Both check the
// context before every engine call and release what they hold when the loop
// ends early. File.Stream and File.Writer keep several asynchronous requests
// in flight; see WithQueueDepth.
//
// # Errors
//
// Every failure is an *Error whose Kind classifies it; match with
// errors.Is against ErrConnection, ErrAuthentication, ErrSFTP (or a specific
// SFTP sentinel such as ErrNoSuchFile), ErrLibrary and ErrInvalidState.
package sshkit
