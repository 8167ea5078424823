package sshkit

import (
	"context"
	"fmt"
	"os"

	"github.com/ruffel/sshkit/engine"
)

// KeySource describes where OpenKey gets a private key from. Exactly one of
// PEM, Path and Generate should be set.
type KeySource struct {
	PEM        []byte  // PEM encoded private key
	Path       string  // File holding a PEM encoded private key
	Passphrase []byte  // Optional, for encrypted keys
	Generate   KeyType // Generate a fresh key of this type
	Bits       int     // Key size for RSA and ECDSA; 0 picks the default
}

// Key is a private key registered with a Session.
type Key struct {
	s  *Session
	id ResourceID
}

// ID returns the key's resource id.
func (k Key) ID() ResourceID { return k.id }

// OpenKey imports or generates a private key and registers it.
func (s *Session) OpenKey(ctx context.Context, src KeySource) (Key, error) {
	const op = "key.open"

	pem := src.PEM

	if src.Path != "" {
		b, err := os.ReadFile(src.Path)
		if err != nil {
			return Key{}, &Error{Kind: KindLibrary, Code: engine.CodeInvalidArgument, Op: op, Err: err}
		}

		pem = b
	}

	if len(pem) == 0 && src.Generate == "" {
		return Key{}, &Error{
			Kind:    KindLibrary,
			Code:    engine.CodeInvalidArgument,
			Op:      op,
			Message: "key source is empty",
		}
	}

	id, err := query(ctx, s, op, func() (ResourceID, error) {
		var (
			h   engine.Key
			err error
		)

		if len(pem) > 0 {
			h, err = s.eng.ImportKey(pem, src.Passphrase)
		} else {
			h, err = s.eng.GenerateKey(src.Generate, src.Bits)
		}

		if err != nil {
			return 0, translate(classOther, op, err)
		}

		id := s.reg.keys.add(h)
		s.logOpened(FamilyKey, id)

		return id, nil
	})
	if err != nil {
		return Key{}, err
	}

	return Key{s: s, id: id}, nil
}

// WithKey opens a key, passes it to fn and closes it when fn returns, even if
// fn fails. fn's error takes precedence over the close error.
func (s *Session) WithKey(ctx context.Context, src KeySource, fn func(Key) error) (err error) {
	k, err := s.OpenKey(ctx, src)
	if err != nil {
		return err
	}

	defer release(ctx, &err, k.Close)

	return fn(k)
}

// CloseKey releases a key. Unknown ids are ignored.
func (s *Session) CloseKey(ctx context.Context, id ResourceID) error {
	return s.do(ctx, "key.close", func() error {
		s.releaseKey(id)

		return nil
	})
}

func (s *Session) releaseKey(id ResourceID) {
	if h, ok := s.reg.keys.remove(id); ok {
		h.Free()
		s.logClosed(FamilyKey, id)
	}
}

// Close releases the key.
func (k Key) Close(ctx context.Context) error {
	return k.s.CloseKey(ctx, k.id)
}

// Type returns the key algorithm, e.g. "ssh-ed25519".
func (k Key) Type(ctx context.Context) (string, error) {
	return keyQuery(ctx, k, "key.type", engine.Key.Type)
}

// AuthorizedKey returns the public half in authorized_keys format.
func (k Key) AuthorizedKey(ctx context.Context) (string, error) {
	return keyQuery(ctx, k, "key.authorized_key", func(h engine.Key) string {
		return string(h.AuthorizedKey())
	})
}

// Fingerprint returns the SHA256 fingerprint of the public half.
func (k Key) Fingerprint(ctx context.Context) (string, error) {
	return keyQuery(ctx, k, "key.fingerprint", engine.Key.Fingerprint)
}

func keyQuery[T any](ctx context.Context, k Key, op string, fn func(engine.Key) T) (T, error) {
	return query(ctx, k.s, op, func() (T, error) {
		h, err := k.s.reg.keys.get(k.id)
		if err != nil {
			var zero T

			return zero, invalidState(op, err)
		}

		return fn(h), nil
	})
}

// release runs closeFn with a context that survives cancellation of ctx and
// joins its error after *err, so the body's error is reported first. It is
// deferred by the With* helpers and so also runs when the body panics.
func release(ctx context.Context, err *error, closeFn func(context.Context) error) {
	cerr := closeFn(context.WithoutCancel(ctx))

	switch {
	case cerr == nil:
	case *err == nil:
		*err = cerr
	default:
		*err = fmt.Errorf("%w (close: %w)", *err, cerr)
	}
}
