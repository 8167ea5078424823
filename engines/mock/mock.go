package mock

import (
	"io/fs"

	"github.com/ruffel/sshkit/engine"
	"github.com/stretchr/testify/mock"
)

// Engine implements engine.Engine using testify/mock.
type Engine struct {
	mock.Mock
}

var _ engine.Engine = (*Engine)(nil)

// New creates a new mock engine.
func New() *Engine {
	return &Engine{}
}

func (m *Engine) Configure(cfg engine.Config) error {
	return m.Called(cfg).Error(0)
}

func (m *Engine) Connect() error {
	return m.Called().Error(0)
}

func (m *Engine) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *Engine) Disconnect() error {
	return m.Called().Error(0)
}

func (m *Engine) AuthenticatePassword(password string) error {
	return m.Called(password).Error(0)
}

func (m *Engine) AuthenticateKey(key engine.Key) error {
	return m.Called(key).Error(0)
}

func (m *Engine) AuthenticateAgent() error {
	return m.Called().Error(0)
}

func (m *Engine) ImportKey(pem, passphrase []byte) (engine.Key, error) {
	args := m.Called(pem, passphrase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.Key), args.Error(1)
}

func (m *Engine) GenerateKey(kind engine.KeyType, bits int) (engine.Key, error) {
	args := m.Called(kind, bits)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.Key), args.Error(1)
}

func (m *Engine) NewChannel() (engine.Channel, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.Channel), args.Error(1)
}

func (m *Engine) NewSFTP() (engine.SFTP, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.SFTP), args.Error(1)
}

func (m *Engine) Free() {
	m.Called()
}

// Key implements engine.Key.
type Key struct {
	mock.Mock
}

var _ engine.Key = (*Key)(nil)

func (m *Key) Type() string {
	return m.Called().String(0)
}

func (m *Key) AuthorizedKey() []byte {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]byte)
}

func (m *Key) Fingerprint() string {
	return m.Called().String(0)
}

func (m *Key) Free() {
	m.Called()
}

// Channel implements engine.Channel.
type Channel struct {
	mock.Mock
}

var _ engine.Channel = (*Channel)(nil)

func (m *Channel) OpenSession() error {
	return m.Called().Error(0)
}

func (m *Channel) Exec(command string) error {
	return m.Called(command).Error(0)
}

// Read mocks a stream read. Use Fill to copy scripted output into p.
func (m *Channel) Read(s engine.Stream, p []byte) (int, error) {
	args := m.Called(s, p)

	return args.Int(0), args.Error(1)
}

func (m *Channel) Write(p []byte) (int, error) {
	args := m.Called(p)

	return args.Int(0), args.Error(1)
}

func (m *Channel) SendEOF() error {
	return m.Called().Error(0)
}

func (m *Channel) Signal(name string) error {
	return m.Called(name).Error(0)
}

func (m *Channel) ExitStatus() (engine.ExitStatus, error) {
	args := m.Called()

	return args.Get(0).(engine.ExitStatus), args.Error(1)
}

func (m *Channel) Close() error {
	return m.Called().Error(0)
}

func (m *Channel) Free() {
	m.Called()
}

// SFTP implements engine.SFTP.
type SFTP struct {
	mock.Mock
}

var _ engine.SFTP = (*SFTP)(nil)

func (m *SFTP) Mkdir(path string, mode fs.FileMode) error {
	return m.Called(path, mode).Error(0)
}

func (m *SFTP) Rmdir(path string) error {
	return m.Called(path).Error(0)
}

func (m *SFTP) Stat(path string) (engine.Attributes, error) {
	args := m.Called(path)

	return args.Get(0).(engine.Attributes), args.Error(1)
}

func (m *SFTP) Lstat(path string) (engine.Attributes, error) {
	args := m.Called(path)

	return args.Get(0).(engine.Attributes), args.Error(1)
}

func (m *SFTP) SetStat(path string, attrs engine.Attributes) error {
	return m.Called(path, attrs).Error(0)
}

func (m *SFTP) Rename(oldpath, newpath string) error {
	return m.Called(oldpath, newpath).Error(0)
}

func (m *SFTP) Remove(path string) error {
	return m.Called(path).Error(0)
}

func (m *SFTP) Symlink(target, link string) error {
	return m.Called(target, link).Error(0)
}

func (m *SFTP) ReadLink(path string) (string, error) {
	args := m.Called(path)

	return args.String(0), args.Error(1)
}

func (m *SFTP) RealPath(path string) (string, error) {
	args := m.Called(path)

	return args.String(0), args.Error(1)
}

func (m *SFTP) Limits() (engine.Limits, error) {
	args := m.Called()

	return args.Get(0).(engine.Limits), args.Error(1)
}

func (m *SFTP) Open(path string, flag int, mode fs.FileMode) (engine.File, error) {
	args := m.Called(path, flag, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.File), args.Error(1)
}

func (m *SFTP) OpenDir(path string) (engine.Dir, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.Dir), args.Error(1)
}

func (m *SFTP) Free() {
	m.Called()
}

// File implements engine.File.
type File struct {
	mock.Mock
}

var _ engine.File = (*File)(nil)

func (m *File) Seek(offset int64) error {
	return m.Called(offset).Error(0)
}

func (m *File) Tell() int64 {
	return m.Called().Get(0).(int64)
}

func (m *File) Read(p []byte) (int, error) {
	args := m.Called(p)

	return args.Int(0), args.Error(1)
}

func (m *File) Write(p []byte) (int, error) {
	args := m.Called(p)

	return args.Int(0), args.Error(1)
}

func (m *File) Stat() (engine.Attributes, error) {
	args := m.Called()

	return args.Get(0).(engine.Attributes), args.Error(1)
}

func (m *File) BeginRead(n int) (engine.AIO, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.AIO), args.Error(1)
}

func (m *File) BeginWrite(p []byte) (engine.AIO, error) {
	args := m.Called(p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(engine.AIO), args.Error(1)
}

func (m *File) Close() error {
	return m.Called().Error(0)
}

// AIO implements engine.AIO.
type AIO struct {
	mock.Mock
}

var _ engine.AIO = (*AIO)(nil)

func (m *AIO) Wait(p []byte) (int, error) {
	args := m.Called(p)

	return args.Int(0), args.Error(1)
}

func (m *AIO) Free() {
	m.Called()
}

// Dir implements engine.Dir.
type Dir struct {
	mock.Mock
}

var _ engine.Dir = (*Dir)(nil)

func (m *Dir) Next() (*engine.Attributes, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.Attributes), args.Error(1)
}

func (m *Dir) Close() error {
	return m.Called().Error(0)
}

// Fill is a Run helper for Read mocks: it copies content into the buffer
// passed as argument index.
// Usage: ch.On("Read", engine.Stdout, mock.Anything).Run(mock.Fill(1, "out")).Return(3, nil).
func Fill(index int, content string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		if p, ok := args.Get(index).([]byte); ok {
			copy(p, content)
		}
	}
}
