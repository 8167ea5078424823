// Package mock provides testify/mock implementations of the engine
// interfaces.
//
// They let tests script individual engine replies, including failures that
// no real server produces on demand, and assert exactly which calls a Session
// made.
//
// Usage:
//
//	eng := mock.New()
//	eng.On("Configure", mock.Anything).Return(nil)
//	eng.On("Connect").Return(nil)
//	s := sshkit.NewSession(eng)
package mock
