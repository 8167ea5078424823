package memory

import (
	"io/fs"
	"maps"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruffel/sshkit/engine"
)

const maxSymlinkDepth = 8

// FS is an in-memory POSIX-like file tree. It is safe for concurrent use, so
// tests can inspect it while an engine is serving it.
type FS struct {
	mu    sync.Mutex
	nodes map[string]*node
	now   func() time.Time
}

type node struct {
	mode   fs.FileMode
	data   []byte
	target string
	uid    uint32
	gid    uint32
	atime  time.Time
	mtime  time.Time
}

// NewFS returns a tree containing only the root directory.
func NewFS() *FS {
	f := &FS{nodes: make(map[string]*node), now: time.Now}
	t := f.now()
	f.nodes["/"] = &node{mode: fs.ModeDir | 0o755, atime: t, mtime: t}

	return f
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return path.Clean(p)
}

// WriteFile creates or replaces a regular file, creating missing parents.
func (f *FS) WriteFile(p string, data []byte, perm fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	f.mkdirAll(path.Dir(p))

	t := f.now()
	f.nodes[p] = &node{mode: perm.Perm(), data: slices.Clone(data), atime: t, mtime: t}
}

// ReadFile returns a copy of a regular file's content.
func (f *FS) ReadFile(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(clean(p), true)
	if err != nil || !n.mode.IsRegular() {
		return nil, false
	}

	return slices.Clone(n.data), true
}

// MkdirAll creates a directory and any missing parents.
func (f *FS) MkdirAll(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mkdirAll(clean(p))
}

// Exists reports whether p exists, without following a final symlink.
func (f *FS) Exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.nodes[clean(p)]

	return ok
}

func (f *FS) mkdirAll(p string) {
	if _, ok := f.nodes[p]; ok {
		return
	}

	f.mkdirAll(path.Dir(p))

	t := f.now()
	f.nodes[p] = &node{mode: fs.ModeDir | 0o755, atime: t, mtime: t}
}

// resolve looks p up, following symlinks in the final component when follow
// is set. Intermediate components are always followed.
func (f *FS) resolve(p string, follow bool) (*node, error) {
	resolved, err := f.realpath(p, follow, 0)
	if err != nil {
		return nil, err
	}

	n, ok := f.nodes[resolved]
	if !ok {
		return nil, engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", p)
	}

	return n, nil
}

func (f *FS) realpath(p string, follow bool, depth int) (string, error) {
	if depth > maxSymlinkDepth {
		return "", engine.StatusErrorf(engine.StatusFailure, "too many levels of symbolic links: %s", p)
	}

	if p == "/" {
		return p, nil
	}

	parent, err := f.realpath(path.Dir(p), true, depth)
	if err != nil {
		return "", err
	}

	full := path.Join(parent, path.Base(p))

	n, ok := f.nodes[full]
	if !ok || !follow || n.mode&fs.ModeSymlink == 0 {
		return full, nil
	}

	target := n.target
	if !strings.HasPrefix(target, "/") {
		target = path.Join(parent, target)
	}

	return f.realpath(clean(target), true, depth+1)
}

func (f *FS) parentDir(p string) error {
	n, err := f.resolve(path.Dir(p), true)
	if err != nil {
		return engine.StatusErrorf(engine.StatusNoSuchFile, "no such directory: %s", path.Dir(p))
	}

	if !n.mode.IsDir() {
		return engine.StatusErrorf(engine.StatusFailure, "not a directory: %s", path.Dir(p))
	}

	return nil
}

func (f *FS) attrs(name string, n *node) engine.Attributes {
	mode := engine.FromFileMode(n.mode)

	return engine.Attributes{
		Name: name,
		Flags: engine.AttrSize | engine.AttrUIDGID | engine.AttrPermissions |
			engine.AttrAccessTime | engine.AttrModifyTime,
		Type:        engine.TypeFromMode(mode),
		Size:        uint64(len(n.data)),
		UID:         n.uid,
		GID:         n.gid,
		Permissions: mode,
		AccessTime:  n.atime,
		ModifyTime:  n.mtime,
	}
}

func (f *FS) stat(p string, follow bool) (engine.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)

	n, err := f.resolve(p, follow)
	if err != nil {
		return engine.Attributes{}, err
	}

	return f.attrs(path.Base(p), n), nil
}

func (f *FS) mkdir(p string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)

	if _, ok := f.nodes[p]; ok {
		return engine.StatusErrorf(engine.StatusFileAlreadyExists, "file exists: %s", p)
	}

	if err := f.parentDir(p); err != nil {
		return err
	}

	t := f.now()
	f.nodes[p] = &node{mode: fs.ModeDir | perm.Perm(), atime: t, mtime: t}

	return nil
}

func (f *FS) rmdir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)

	n, ok := f.nodes[p]
	if !ok {
		return engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", p)
	}

	if !n.mode.IsDir() {
		return engine.StatusErrorf(engine.StatusFailure, "not a directory: %s", p)
	}

	if p == "/" || len(f.children(p)) > 0 {
		return engine.StatusErrorf(engine.StatusFailure, "directory not empty: %s", p)
	}

	delete(f.nodes, p)

	return nil
}

func (f *FS) children(dir string) []string {
	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}

	var out []string

	for p := range f.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}

		if !strings.Contains(p[len(prefix):], "/") {
			out = append(out, p)
		}
	}

	slices.Sort(out)

	return out
}

func (f *FS) setstat(p string, a engine.Attributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(clean(p), true)
	if err != nil {
		return err
	}

	if a.Flags.Has(engine.AttrSize) {
		size := int(a.Size) //nolint:gosec // test filesystem
		if size <= len(n.data) {
			n.data = n.data[:size]
		} else {
			n.data = append(n.data, make([]byte, size-len(n.data))...)
		}
	}

	if a.Flags.Has(engine.AttrUIDGID) {
		n.uid, n.gid = a.UID, a.GID
	}

	if a.Flags.Has(engine.AttrPermissions) {
		n.mode = n.mode.Type() | engine.ToFileMode(a.Permissions).Perm()
	}

	if a.Flags.Has(engine.AttrAccessTime) {
		n.atime = a.AccessTime
	}

	if a.Flags.Has(engine.AttrModifyTime) {
		n.mtime = a.ModifyTime
	}

	return nil
}

func (f *FS) rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldpath, newpath = clean(oldpath), clean(newpath)

	if _, ok := f.nodes[oldpath]; !ok {
		return engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", oldpath)
	}

	if _, ok := f.nodes[newpath]; ok {
		return engine.StatusErrorf(engine.StatusFailure, "target exists: %s", newpath)
	}

	if err := f.parentDir(newpath); err != nil {
		return err
	}

	for _, p := range slices.Collect(maps.Keys(f.nodes)) {
		if p == oldpath || strings.HasPrefix(p, oldpath+"/") {
			f.nodes[newpath+p[len(oldpath):]] = f.nodes[p]
			delete(f.nodes, p)
		}
	}

	return nil
}

func (f *FS) remove(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)

	n, ok := f.nodes[p]
	if !ok {
		return engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", p)
	}

	if n.mode.IsDir() {
		return engine.StatusErrorf(engine.StatusFailure, "is a directory: %s", p)
	}

	delete(f.nodes, p)

	return nil
}

func (f *FS) symlink(target, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	link = clean(link)

	if _, ok := f.nodes[link]; ok {
		return engine.StatusErrorf(engine.StatusFailure, "file exists: %s", link)
	}

	if err := f.parentDir(link); err != nil {
		return err
	}

	t := f.now()
	f.nodes[link] = &node{mode: fs.ModeSymlink | 0o777, target: target, atime: t, mtime: t}

	return nil
}

func (f *FS) readlink(p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[clean(p)]
	if !ok {
		return "", engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", p)
	}

	if n.mode&fs.ModeSymlink == 0 {
		return "", engine.StatusErrorf(engine.StatusFailure, "not a symbolic link: %s", p)
	}

	return n.target, nil
}

func (f *FS) realPath(p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.realpath(clean(p), true, 0)
}

// open resolves p for an open call, creating or truncating per flag.
func (f *FS) open(p string, flag int, perm fs.FileMode) (*node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)

	resolved, err := f.realpath(p, true, 0)
	if err != nil {
		return nil, err
	}

	n, ok := f.nodes[resolved]

	switch {
	case ok && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, engine.StatusErrorf(engine.StatusFileAlreadyExists, "file exists: %s", p)
	case !ok && flag&os.O_CREATE == 0:
		return nil, engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", p)
	case !ok:
		if err := f.parentDir(resolved); err != nil {
			return nil, err
		}

		t := f.now()
		n = &node{mode: perm.Perm(), atime: t, mtime: t}
		f.nodes[resolved] = n
	case n.mode.IsDir():
		return nil, engine.StatusErrorf(engine.StatusFailure, "is a directory: %s", p)
	}

	if (writable(flag) && n.mode&0o200 == 0) || (!writeOnly(flag) && n.mode&0o400 == 0) {
		return nil, engine.StatusErrorf(engine.StatusPermissionDenied, "permission denied: %s", p)
	}

	if flag&os.O_TRUNC != 0 && writable(flag) {
		n.data = n.data[:0]
	}

	return n, nil
}

func (f *FS) readdir(p string) ([]engine.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)

	resolved, err := f.realpath(p, true, 0)
	if err != nil {
		return nil, err
	}

	n, ok := f.nodes[resolved]
	if !ok {
		return nil, engine.StatusErrorf(engine.StatusNoSuchFile, "no such file: %s", p)
	}

	if !n.mode.IsDir() {
		return nil, engine.StatusErrorf(engine.StatusFailure, "not a directory: %s", p)
	}

	out := []engine.Attributes{f.attrs(".", n), f.attrs("..", f.nodes[path.Dir(resolved)])}
	for _, c := range f.children(resolved) {
		out = append(out, f.attrs(path.Base(c), f.nodes[c]))
	}

	return out, nil
}

func (f *FS) readAt(n *node, p []byte, off int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off >= int64(len(n.data)) {
		return 0
	}

	n.atime = f.now()

	return copy(p, n.data[off:])
}

func (f *FS) writeAt(n *node, p []byte, off int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := int(off) + len(p)
	if end > len(n.data) {
		n.data = append(n.data, make([]byte, end-len(n.data))...)
	}

	copy(n.data[off:], p)
	n.mtime = f.now()

	return len(p)
}

func (f *FS) nodeAttrs(n *node, name string) engine.Attributes {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attrs(name, n)
}

func writable(flag int) bool { return flag&(os.O_WRONLY|os.O_RDWR) != 0 }

func writeOnly(flag int) bool { return flag&os.O_WRONLY != 0 }

func (f *FS) snapshot(n *node) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(n.data)
}
