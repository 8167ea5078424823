package sshkit

import (
	"strconv"

	"github.com/ruffel/sshkit/engine"
)

// Types shared with the engine boundary.
type (
	Attributes = engine.Attributes
	ExitStatus = engine.ExitStatus
	Limits     = engine.Limits
	Stream     = engine.Stream
	FileType   = engine.FileType
	KeyType    = engine.KeyType
)

const (
	Stdout = engine.Stdout
	Stderr = engine.Stderr
)

// ResourceID identifies a resource registered with a Session. IDs are unique
// across every session in the process and are never reused; zero is never
// issued.
type ResourceID uint64

func (id ResourceID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// Family names the kind of resource an id refers to.
type Family int

const (
	FamilyKey Family = iota
	FamilyChannel
	FamilySftp
	FamilyFile
	FamilyDir
	FamilyAio
)

func (f Family) String() string {
	switch f {
	case FamilyKey:
		return "key"
	case FamilyChannel:
		return "channel"
	case FamilySftp:
		return "sftp"
	case FamilyFile:
		return "file"
	case FamilyDir:
		return "dir"
	case FamilyAio:
		return "aio"
	default:
		return "family(" + strconv.Itoa(int(f)) + ")"
	}
}

// ResourceCounts is a snapshot of how many handles of each family are
// registered with a session.
type ResourceCounts struct {
	Keys     int
	Channels int
	Sftp     int
	Files    int
	Dirs     int
	Aio      int
}

// Total returns the number of registered handles.
func (c ResourceCounts) Total() int {
	return c.Keys + c.Channels + c.Sftp + c.Files + c.Dirs + c.Aio
}
