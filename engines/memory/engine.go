// Package memory provides a deterministic in-process engine.Engine.
//
// It serves an in-memory file tree (FS) over its SFTP handles and runs
// commands from a table of Go functions. Every engine method counts itself in
// and out, so tests can check how many calls were ever in flight at once.
package memory

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/internal/sshkey"
)

// Engine is an in-memory engine.Engine.
type Engine struct {
	fs       *FS
	cmds     map[string]CommandFunc
	limits   engine.Limits
	latency  time.Duration
	password map[string]string
	keys     map[string][][]byte
	agent    bool
	refused  map[string]bool

	cfg           engine.Config
	connected     bool
	authenticated bool
	freed         bool

	inflight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int64

	mu       sync.Mutex
	failures map[string]error
	live     Counts
}

var _ engine.Engine = (*Engine)(nil)

// Counts is the number of live engine-side handles per family.
type Counts struct {
	Keys     int
	Channels int
	Sftp     int
	Files    int
	Dirs     int
	Aio      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithFS serves fsys instead of a fresh tree.
func WithFS(fsys *FS) Option {
	return func(e *Engine) { e.fs = fsys }
}

// WithPassword accepts password for user.
func WithPassword(user, password string) Option {
	return func(e *Engine) { e.password[user] = password }
}

// WithAuthorizedKey accepts the public key, in authorized_keys format, for
// user.
func WithAuthorizedKey(user string, authorizedKey []byte) Option {
	return func(e *Engine) { e.keys[user] = append(e.keys[user], authorizedKey) }
}

// WithAgent makes agent authentication succeed for any user.
func WithAgent() Option {
	return func(e *Engine) { e.agent = true }
}

// WithRefusedHost makes Connect to host fail.
func WithRefusedHost(host string) Option {
	return func(e *Engine) { e.refused[host] = true }
}

// WithCommand registers fn under name, replacing any builtin.
func WithCommand(name string, fn CommandFunc) Option {
	return func(e *Engine) { e.cmds[name] = fn }
}

// WithLimits sets the limits reported by SFTP handles.
func WithLimits(l engine.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithLatency makes every engine call take at least d.
func WithLatency(d time.Duration) Option {
	return func(e *Engine) { e.latency = d }
}

// New creates an engine. Without options it has an empty tree, the builtin
// commands, and accepts no credentials.
func New(opts ...Option) *Engine {
	e := &Engine{
		fs:       NewFS(),
		cmds:     builtins(),
		password: make(map[string]string),
		keys:     make(map[string][][]byte),
		refused:  make(map[string]bool),
		failures: make(map[string]error),
		limits: engine.Limits{
			MaxPacketLength: 34000,
			MaxReadLength:   32768,
			MaxWriteLength:  32768,
			MaxOpenHandles:  64,
		},
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

// FS returns the served tree.
func (e *Engine) FS() *FS { return e.fs }

// Fail makes the next calls of op return err until Recover(op) is called. op
// names the method, e.g. "channel.open_session" or "sftp.stat".
func (e *Engine) Fail(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures[op] = err
}

// Recover clears an injected failure.
func (e *Engine) Recover(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.failures, op)
}

// PeakInFlight returns the highest number of engine calls ever observed
// running at the same time.
func (e *Engine) PeakInFlight() int {
	return int(e.peak.Load())
}

// Calls returns the total number of engine calls made.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

// Live returns the number of handles created and not yet released.
func (e *Engine) Live() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.live
}

// Freed reports whether Free has been called.
func (e *Engine) Freed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.freed
}

func (e *Engine) track(fn func(*Counts)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn(&e.live)
}

// enter accounts for one engine call and returns the injected failure for
// op, if any. The returned func must be deferred.
func (e *Engine) enter(op string) (func(), error) {
	n := e.inflight.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}

	e.calls.Add(1)

	if e.latency > 0 {
		time.Sleep(e.latency)
	}

	e.mu.Lock()
	err := e.failures[op]
	e.mu.Unlock()

	return func() { e.inflight.Add(-1) }, err
}

func (e *Engine) Configure(cfg engine.Config) error {
	done, err := e.enter("configure")
	defer done()

	if err != nil {
		return err
	}

	if e.connected {
		return engine.Errorf(engine.CodeRequestDenied, "cannot reconfigure a connected session")
	}

	e.cfg = cfg

	return nil
}

func (e *Engine) Connect() error {
	done, err := e.enter("connect")
	defer done()

	if err != nil {
		return err
	}

	if e.connected {
		return nil
	}

	if e.cfg.Host == "" {
		return engine.Errorf(engine.CodeInvalidArgument, "hostname required")
	}

	if e.refused[e.cfg.Host] {
		return engine.Errorf(engine.CodeFatal, "failed to connect to %s: connection refused", e.cfg.Addr())
	}

	e.connected = true

	return nil
}

func (e *Engine) IsConnected() bool {
	done, _ := e.enter("is_connected")
	defer done()

	return e.connected && e.authenticated
}

func (e *Engine) Disconnect() error {
	done, err := e.enter("disconnect")
	defer done()

	if err != nil {
		return err
	}

	e.connected, e.authenticated = false, false

	return nil
}

func (e *Engine) auth(op string, ok func() bool) error {
	done, err := e.enter(op)
	defer done()

	if err != nil {
		return err
	}

	if !e.connected {
		return engine.Errorf(engine.CodeFatal, "not connected")
	}

	if !ok() {
		return engine.Errorf(engine.CodeRequestDenied, "access denied for user %s", e.cfg.User)
	}

	e.authenticated = true

	return nil
}

func (e *Engine) AuthenticatePassword(password string) error {
	return e.auth("auth_password", func() bool {
		want, ok := e.password[e.cfg.User]

		return ok && want == password
	})
}

func (e *Engine) AuthenticateKey(key engine.Key) error {
	return e.auth("auth_key", func() bool {
		if _, err := sshkey.From(key); err != nil {
			return false
		}

		return slices.ContainsFunc(e.keys[e.cfg.User], func(k []byte) bool {
			return string(k) == string(key.AuthorizedKey())
		})
	})
}

func (e *Engine) AuthenticateAgent() error {
	return e.auth("auth_agent", func() bool { return e.agent })
}

func (e *Engine) ImportKey(pem, passphrase []byte) (engine.Key, error) {
	done, err := e.enter("import_key")
	defer done()

	if err != nil {
		return nil, err
	}

	k, err := sshkey.Import(pem, passphrase)
	if err != nil {
		return nil, err
	}

	e.track(func(c *Counts) { c.Keys++ })

	return &key{Key: k, e: e}, nil
}

func (e *Engine) GenerateKey(kind engine.KeyType, bits int) (engine.Key, error) {
	done, err := e.enter("generate_key")
	defer done()

	if err != nil {
		return nil, err
	}

	k, err := sshkey.Generate(kind, bits)
	if err != nil {
		return nil, err
	}

	e.track(func(c *Counts) { c.Keys++ })

	return &key{Key: k, e: e}, nil
}

// key counts its release.
type key struct {
	*sshkey.Key

	e *Engine
}

func (k *key) Free() {
	done, _ := k.e.enter("key.free")
	defer done()

	if k.Signer() != nil {
		k.e.track(func(c *Counts) { c.Keys-- })
	}

	k.Key.Free()
}

func (e *Engine) requireSession(op string) (func(), error) {
	done, err := e.enter(op)
	if err != nil {
		return done, err
	}

	if !e.connected || !e.authenticated {
		return done, engine.Errorf(engine.CodeFatal, "session is not authenticated")
	}

	return done, nil
}

func (e *Engine) NewChannel() (engine.Channel, error) {
	done, err := e.requireSession("channel.new")
	defer done()

	if err != nil {
		return nil, err
	}

	e.track(func(c *Counts) { c.Channels++ })

	return &channel{e: e}, nil
}

func (e *Engine) NewSFTP() (engine.SFTP, error) {
	done, err := e.requireSession("sftp.new")
	defer done()

	if err != nil {
		return nil, err
	}

	e.track(func(c *Counts) { c.Sftp++ })

	return &sftpSession{e: e}, nil
}

func (e *Engine) Free() {
	done, _ := e.enter("free")
	defer done()

	e.connected, e.authenticated = false, false

	e.mu.Lock()
	e.freed = true
	e.mu.Unlock()
}
