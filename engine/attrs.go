package engine

import (
	"io/fs"
	"time"
)

// FileType is the SFTP file type of an entry.
type FileType uint8

const (
	TypeRegular   FileType = 1
	TypeDirectory FileType = 2
	TypeSymlink   FileType = 3
	TypeSpecial   FileType = 4
	TypeUnknown   FileType = 5
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// AttrFlags marks which fields of an Attributes value are present.
// The values match the SFTP attribute flag bits.
type AttrFlags uint32

const (
	AttrSize           AttrFlags = 0x00000001
	AttrUIDGID         AttrFlags = 0x00000002
	AttrPermissions    AttrFlags = 0x00000004
	AttrAccessTime     AttrFlags = 0x00000008
	AttrCreateTime     AttrFlags = 0x00000010
	AttrModifyTime     AttrFlags = 0x00000020
	AttrOwnerGroup     AttrFlags = 0x00000080
	AttrSubsecondTimes AttrFlags = 0x00000100
	AttrExtended       AttrFlags = 0x80000000
)

// Has reports whether every bit of f is set.
func (a AttrFlags) Has(f AttrFlags) bool {
	return a&f == f
}

// POSIX mode bits as carried in the SFTP permissions field.
const (
	modeTypeMask uint32 = 0o170000
	modeSocket   uint32 = 0o140000
	modeSymlink  uint32 = 0o120000
	modeRegular  uint32 = 0o100000
	modeBlock    uint32 = 0o060000
	modeDir      uint32 = 0o040000
	modeChar     uint32 = 0o020000
	modeFIFO     uint32 = 0o010000
	modeSetuid   uint32 = 0o4000
	modeSetgid   uint32 = 0o2000
	modeSticky   uint32 = 0o1000
)

// Attributes is an immutable snapshot of file metadata. Methods that change
// a field return a modified copy with the matching flag set.
type Attributes struct {
	Name          string
	Flags         AttrFlags
	Type          FileType
	Size          uint64
	UID           uint32
	GID           uint32
	Owner         string
	Group         string
	Permissions   uint32
	AccessTime    time.Time
	CreateTime    time.Time
	ModifyTime    time.Time
	ExtendedCount uint32
}

// Mode converts the permission bits into an fs.FileMode.
func (a Attributes) Mode() fs.FileMode {
	return ToFileMode(a.Permissions)
}

func (a Attributes) IsDir() bool {
	return a.Type == TypeDirectory
}

func (a Attributes) IsRegular() bool {
	return a.Type == TypeRegular
}

// WithSize returns a copy with the size set.
func (a Attributes) WithSize(size uint64) Attributes {
	a.Size = size
	a.Flags |= AttrSize

	return a
}

// WithPermissions returns a copy with the permission bits set from mode.
func (a Attributes) WithPermissions(mode fs.FileMode) Attributes {
	a.Permissions = FromFileMode(mode)
	a.Flags |= AttrPermissions

	return a
}

// WithOwner returns a copy with numeric ownership set.
func (a Attributes) WithOwner(uid, gid uint32) Attributes {
	a.UID = uid
	a.GID = gid
	a.Flags |= AttrUIDGID

	return a
}

// WithTimes returns a copy with access and modification times set.
func (a Attributes) WithTimes(atime, mtime time.Time) Attributes {
	a.AccessTime = atime
	a.ModifyTime = mtime
	a.Flags |= AttrAccessTime | AttrModifyTime

	return a
}

// FileInfo adapts the snapshot to fs.FileInfo.
func (a Attributes) FileInfo() fs.FileInfo {
	return fileInfo{a}
}

type fileInfo struct {
	a Attributes
}

func (fi fileInfo) Name() string       { return fi.a.Name }
func (fi fileInfo) Size() int64        { return int64(fi.a.Size) } //nolint:gosec // sizes beyond 2^63 do not occur
func (fi fileInfo) Mode() fs.FileMode  { return fi.a.Mode() }
func (fi fileInfo) ModTime() time.Time { return fi.a.ModifyTime }
func (fi fileInfo) IsDir() bool        { return fi.a.IsDir() }
func (fi fileInfo) Sys() any           { return fi.a }

// TypeFromMode derives the SFTP file type from POSIX mode bits.
func TypeFromMode(perm uint32) FileType {
	switch perm & modeTypeMask {
	case modeRegular:
		return TypeRegular
	case modeDir:
		return TypeDirectory
	case modeSymlink:
		return TypeSymlink
	case modeSocket, modeBlock, modeChar, modeFIFO:
		return TypeSpecial
	default:
		return TypeUnknown
	}
}

// ToFileMode converts POSIX mode bits to an fs.FileMode.
func ToFileMode(perm uint32) fs.FileMode {
	mode := fs.FileMode(perm & 0o777)

	switch perm & modeTypeMask {
	case modeDir:
		mode |= fs.ModeDir
	case modeSymlink:
		mode |= fs.ModeSymlink
	case modeSocket:
		mode |= fs.ModeSocket
	case modeFIFO:
		mode |= fs.ModeNamedPipe
	case modeChar:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case modeBlock:
		mode |= fs.ModeDevice
	}

	if perm&modeSetuid != 0 {
		mode |= fs.ModeSetuid
	}

	if perm&modeSetgid != 0 {
		mode |= fs.ModeSetgid
	}

	if perm&modeSticky != 0 {
		mode |= fs.ModeSticky
	}

	return mode
}

// FromFileMode converts an fs.FileMode to POSIX mode bits.
func FromFileMode(mode fs.FileMode) uint32 {
	perm := uint32(mode.Perm())

	switch {
	case mode.IsDir():
		perm |= modeDir
	case mode&fs.ModeSymlink != 0:
		perm |= modeSymlink
	case mode&fs.ModeSocket != 0:
		perm |= modeSocket
	case mode&fs.ModeNamedPipe != 0:
		perm |= modeFIFO
	case mode&fs.ModeCharDevice != 0:
		perm |= modeChar
	case mode&fs.ModeDevice != 0:
		perm |= modeBlock
	case mode.IsRegular():
		perm |= modeRegular
	}

	if mode&fs.ModeSetuid != 0 {
		perm |= modeSetuid
	}

	if mode&fs.ModeSetgid != 0 {
		perm |= modeSetgid
	}

	if mode&fs.ModeSticky != 0 {
		perm |= modeSticky
	}

	return perm
}

// Limits are the transfer limits advertised by the SFTP server.
// Zero means the server did not report a value.
type Limits struct {
	MaxPacketLength uint64
	MaxReadLength   uint64
	MaxWriteLength  uint64
	MaxOpenHandles  uint64
}

// ExitStatus describes how a remote process terminated. Code is nil when the
// process was killed by a signal.
type ExitStatus struct {
	Code       *int
	Signal     string
	CoreDumped bool
}

// Exited returns an ExitStatus for a normal exit.
func Exited(code int) ExitStatus {
	return ExitStatus{Code: &code}
}

// Signaled returns an ExitStatus for a process killed by signal.
func Signaled(signal string, coreDumped bool) ExitStatus {
	return ExitStatus{Signal: signal, CoreDumped: coreDumped}
}

// ExitCode returns the numeric code and whether one was reported.
func (s ExitStatus) ExitCode() (int, bool) {
	if s.Code == nil {
		return 0, false
	}

	return *s.Code, true
}

// Success reports a normal exit with code zero.
func (s ExitStatus) Success() bool {
	code, ok := s.ExitCode()

	return ok && code == 0
}
