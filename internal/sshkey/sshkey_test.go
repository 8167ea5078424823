package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/engines/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     engine.KeyType
		bits     int
		wantType string
	}{
		{engine.KeyEd25519, 0, ssh.KeyAlgoED25519},
		{engine.KeyRSA, 2048, ssh.KeyAlgoRSA},
		{engine.KeyECDSA, 0, ssh.KeyAlgoECDSA256},
		{engine.KeyECDSA, 384, ssh.KeyAlgoECDSA384},
		{engine.KeyECDSA, 521, ssh.KeyAlgoECDSA521},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			t.Parallel()

			k, err := Generate(tt.kind, tt.bits)
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, k.Type())
			assert.True(t, strings.HasPrefix(string(k.AuthorizedKey()), tt.wantType+" "))
			assert.NotContains(t, string(k.AuthorizedKey()), "\n")
			assert.True(t, strings.HasPrefix(k.Fingerprint(), "SHA256:"))
		})
	}
}

func TestGenerateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind engine.KeyType
		bits int
		code engine.Code
	}{
		{"unknown type", engine.KeyType("dsa"), 0, engine.CodeInvalidArgument},
		{"ecdsa size", engine.KeyECDSA, 128, engine.CodeInvalidArgument},
		{"rsa too small", engine.KeyRSA, 512, engine.CodeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Generate(tt.kind, tt.bits)

			var ee *engine.Error
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.code, ee.Code)
		})
	}
}

func marshal(t *testing.T, passphrase string) ([]byte, ssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}

	require.NoError(t, err)

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	return pem.EncodeToMemory(block), sshPub
}

func TestImport(t *testing.T) {
	t.Parallel()

	plain, plainPub := marshal(t, "")

	k, err := Import(plain, nil)
	require.NoError(t, err)
	assert.Equal(t, ssh.FingerprintSHA256(plainPub), k.Fingerprint())

	encrypted, encPub := marshal(t, "correct horse")

	k, err = Import(encrypted, []byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, ssh.FingerprintSHA256(encPub), k.Fingerprint())

	var ee *engine.Error

	_, err = Import(encrypted, nil)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.CodeInvalidArgument, ee.Code)
	assert.Contains(t, ee.Message, "no passphrase")

	_, err = Import(encrypted, []byte("wrong"))
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Message, "failed to parse private key")

	_, err = Import([]byte("not a key"), nil)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.CodeInvalidArgument, ee.Code)
}

func TestFrom(t *testing.T) {
	t.Parallel()

	k, err := Generate(engine.KeyEd25519, 0)
	require.NoError(t, err)

	s, err := From(k)
	require.NoError(t, err)
	assert.Equal(t, k.Signer(), s)

	type wrapped struct{ *Key }

	s, err = From(wrapped{k})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = From(&mock.Key{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not created by this engine")

	k.Free()
	assert.Empty(t, k.Type())
	assert.Nil(t, k.AuthorizedKey())
	assert.Empty(t, k.Fingerprint())

	_, err = From(k)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "freed")
}

func TestMarshalPEM(t *testing.T) {
	t.Parallel()

	k, err := Generate(engine.KeyECDSA, 384)
	require.NoError(t, err)

	plain, err := k.MarshalPEM("ops@example", nil)
	require.NoError(t, err)

	back, err := Import(plain, nil)
	require.NoError(t, err)
	assert.Equal(t, k.Fingerprint(), back.Fingerprint())

	sealed, err := k.MarshalPEM("ops@example", []byte("pw"))
	require.NoError(t, err)

	_, err = Import(sealed, nil)
	require.Error(t, err)

	back, err = Import(sealed, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, k.Fingerprint(), back.Fingerprint())

	_, err = back.MarshalPEM("", nil)
	require.Error(t, err, "imported keys are not exportable")
}
