package sshkit

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/ruffel/sshkit/engine"
)

var lastResourceID atomic.Uint64

func nextResourceID() ResourceID {
	return ResourceID(lastResourceID.Add(1))
}

// handleMap is one resource family: opaque ids to native handles.
type handleMap[T any] struct {
	family Family
	m      map[ResourceID]T
}

func newHandleMap[T any](f Family) *handleMap[T] {
	return &handleMap[T]{family: f, m: make(map[ResourceID]T)}
}

func (h *handleMap[T]) add(v T) ResourceID {
	id := nextResourceID()
	h.m[id] = v

	return id
}

func (h *handleMap[T]) get(id ResourceID) (T, error) {
	v, ok := h.m[id]
	if !ok {
		return v, fmt.Errorf("%w: %s %s", ErrUnknownResource, h.family, id)
	}

	return v, nil
}

func (h *handleMap[T]) remove(id ResourceID) (T, bool) {
	v, ok := h.m[id]
	if ok {
		delete(h.m, id)
	}

	return v, ok
}

func (h *handleMap[T]) len() int {
	return len(h.m)
}

// ids returns the registered ids in issue order.
func (h *handleMap[T]) ids() []ResourceID {
	return slices.Sorted(maps.Keys(h.m))
}

type channelState int

const (
	channelCreated channelState = iota
	channelOpened
	channelExecuting
	channelClosed
)

func (s channelState) String() string {
	switch s {
	case channelCreated:
		return "created"
	case channelOpened:
		return "session-opened"
	case channelExecuting:
		return "executing"
	default:
		return "closed"
	}
}

type channelEntry struct {
	h     engine.Channel
	state channelState
	exit  *engine.ExitStatus
}

type sftpEntry struct {
	h      engine.SFTP
	files  map[ResourceID]struct{}
	dirs   map[ResourceID]struct{}
	limits *engine.Limits
}

type fileEntry struct {
	h    engine.File
	sftp ResourceID
	path string
}

type dirEntry struct {
	h    engine.Dir
	sftp ResourceID
	path string
}

type aioKind int

const (
	aioRead aioKind = iota
	aioWrite
)

type aioEntry struct {
	h    engine.AIO
	kind aioKind
	size int
}

// aioMap holds in-flight AIO operations keyed by owning file, then op id.
type aioMap struct {
	m map[ResourceID]map[ResourceID]*aioEntry
}

func (a *aioMap) add(file ResourceID, e *aioEntry) ResourceID {
	if a.m == nil {
		a.m = make(map[ResourceID]map[ResourceID]*aioEntry)
	}

	ops, ok := a.m[file]
	if !ok {
		ops = make(map[ResourceID]*aioEntry)
		a.m[file] = ops
	}

	id := nextResourceID()
	ops[id] = e

	return id
}

func (a *aioMap) get(file, op ResourceID) (*aioEntry, error) {
	e, ok := a.m[file][op]
	if !ok {
		return nil, fmt.Errorf("%w: aio %s on file %s", ErrUnknownResource, op, file)
	}

	return e, nil
}

func (a *aioMap) remove(file, op ResourceID) (*aioEntry, bool) {
	ops, ok := a.m[file]
	if !ok {
		return nil, false
	}

	e, ok := ops[op]
	if !ok {
		return nil, false
	}

	delete(ops, op)

	if len(ops) == 0 {
		delete(a.m, file)
	}

	return e, true
}

// drain removes and returns every operation owned by file.
func (a *aioMap) drain(file ResourceID) []*aioEntry {
	ops := a.m[file]
	delete(a.m, file)

	out := make([]*aioEntry, 0, len(ops))
	for _, id := range slices.Sorted(maps.Keys(ops)) {
		out = append(out, ops[id])
	}

	return out
}

func (a *aioMap) count(file ResourceID) int {
	return len(a.m[file])
}

func (a *aioMap) len() int {
	n := 0
	for _, ops := range a.m {
		n += len(ops)
	}

	return n
}

// registry is every native handle owned by a session. It is only touched
// from the session's actor goroutine.
type registry struct {
	keys     *handleMap[engine.Key]
	channels *handleMap[*channelEntry]
	sftp     *handleMap[*sftpEntry]
	files    *handleMap[*fileEntry]
	dirs     *handleMap[*dirEntry]
	aio      aioMap
}

func newRegistry() *registry {
	return &registry{
		keys:     newHandleMap[engine.Key](FamilyKey),
		channels: newHandleMap[*channelEntry](FamilyChannel),
		sftp:     newHandleMap[*sftpEntry](FamilySftp),
		files:    newHandleMap[*fileEntry](FamilyFile),
		dirs:     newHandleMap[*dirEntry](FamilyDir),
	}
}

func (r *registry) counts() ResourceCounts {
	return ResourceCounts{
		Keys:     r.keys.len(),
		Channels: r.channels.len(),
		Sftp:     r.sftp.len(),
		Files:    r.files.len(),
		Dirs:     r.dirs.len(),
		Aio:      r.aio.len(),
	}
}

func sortedIDs(m map[ResourceID]struct{}) []ResourceID {
	return slices.Sorted(maps.Keys(m))
}
