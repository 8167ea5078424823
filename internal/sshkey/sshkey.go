// Package sshkey implements engine.Key on top of golang.org/x/crypto/ssh
// signers. Both bundled engines share it.
package sshkey

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/ruffel/sshkit/engine"
	"golang.org/x/crypto/ssh"
)

// DefaultRSABits is used when GenerateKey is asked for an RSA key of size 0.
const DefaultRSABits = 3072

// Key is a private key backed by an ssh.Signer.
type Key struct {
	signer ssh.Signer
	raw    crypto.Signer // only set for generated keys
}

var _ engine.Key = (*Key)(nil)

// New wraps an existing signer.
func New(s ssh.Signer) *Key {
	return &Key{signer: s}
}

// Signer returns the underlying signer, or nil once the key is freed.
func (k *Key) Signer() ssh.Signer {
	return k.signer
}

func (k *Key) Type() string {
	if k.signer == nil {
		return ""
	}

	return k.signer.PublicKey().Type()
}

// AuthorizedKey returns the public key as one authorized_keys line without
// the trailing newline.
func (k *Key) AuthorizedKey() []byte {
	if k.signer == nil {
		return nil
	}

	return bytes.TrimSpace(ssh.MarshalAuthorizedKey(k.signer.PublicKey()))
}

func (k *Key) Fingerprint() string {
	if k.signer == nil {
		return ""
	}

	return ssh.FingerprintSHA256(k.signer.PublicKey())
}

func (k *Key) Free() {
	k.signer = nil
	k.raw = nil
}

// MarshalPEM encodes a generated key in OpenSSH format, encrypted when
// passphrase is non-empty. Imported keys cannot be exported.
func (k *Key) MarshalPEM(comment string, passphrase []byte) ([]byte, error) {
	if k.raw == nil {
		return nil, engine.Errorf(engine.CodeInvalidArgument, "only generated keys can be exported")
	}

	var (
		block *pem.Block
		err   error
	)

	if len(passphrase) > 0 {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(k.raw, comment, passphrase)
	} else {
		block, err = ssh.MarshalPrivateKey(k.raw, comment)
	}

	if err != nil {
		return nil, &engine.Error{Code: engine.CodeFatal, Message: "marshal private key: " + err.Error(), Err: err}
	}

	return pem.EncodeToMemory(block), nil
}

// Import parses a PEM encoded private key.
func Import(data, passphrase []byte) (*Key, error) {
	var (
		s   ssh.Signer
		err error
	)

	if len(passphrase) > 0 {
		s, err = ssh.ParsePrivateKeyWithPassphrase(data, passphrase)
	} else {
		s, err = ssh.ParsePrivateKey(data)
	}

	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, &engine.Error{Code: engine.CodeInvalidArgument, Message: "private key is encrypted and no passphrase was given", Err: err}
		}

		return nil, &engine.Error{Code: engine.CodeInvalidArgument, Message: "failed to parse private key: " + err.Error(), Err: err}
	}

	return New(s), nil
}

// Generate creates a fresh private key. bits selects the RSA modulus size or
// the ECDSA curve (256, 384, 521); 0 picks the default.
func Generate(kind engine.KeyType, bits int) (*Key, error) {
	var (
		priv crypto.Signer
		err  error
	)

	switch kind {
	case engine.KeyEd25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case engine.KeyRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}

		priv, err = rsa.GenerateKey(rand.Reader, bits)
	case engine.KeyECDSA:
		var curve elliptic.Curve

		switch bits {
		case 0, 256:
			curve = elliptic.P256()
		case 384:
			curve = elliptic.P384()
		case 521:
			curve = elliptic.P521()
		default:
			return nil, engine.Errorf(engine.CodeInvalidArgument, "unsupported ecdsa key size %d", bits)
		}

		priv, err = ecdsa.GenerateKey(curve, rand.Reader)
	default:
		return nil, engine.Errorf(engine.CodeInvalidArgument, "unsupported key type %q", kind)
	}

	if err != nil {
		return nil, &engine.Error{Code: engine.CodeFatal, Message: fmt.Sprintf("generate %s key: %v", kind, err), Err: err}
	}

	s, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, &engine.Error{Code: engine.CodeFatal, Message: err.Error(), Err: err}
	}

	return &Key{signer: s, raw: priv}, nil
}

// From returns the signer behind an engine.Key produced by this package,
// including keys that embed *Key.
func From(k engine.Key) (ssh.Signer, error) {
	key, ok := k.(interface{ Signer() ssh.Signer })
	if !ok || key == nil {
		return nil, engine.Errorf(engine.CodeInvalidArgument, "key %T was not created by this engine", k)
	}

	s := key.Signer()
	if s == nil {
		return nil, engine.Errorf(engine.CodeInvalidArgument, "key has been freed")
	}

	return s, nil
}
