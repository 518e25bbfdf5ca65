package tests

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"district-relay/backend/pkg/teecrypto"
)

// hkdfInfo mirrors teecrypto's own domain-separation string (an unexported
// constant inside that package); duplicated here since this test lives
// outside the package and decrypts independently of it.
const hkdfInfo = "district-relay/teecrypto/v1"

func testKeyEnvelope(t *testing.T, keyID string) (*teecrypto.KeyEnvelope, *ecdh.PrivateKey) {
	t.Helper()
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate recipient key: %v", err)
	}
	return &teecrypto.KeyEnvelope{
		KeyID:     keyID,
		PublicKey: priv.PublicKey().Bytes(),
		Algorithm: "x25519-hkdf-sha256-xchacha20poly1305",
		ExpiresAt: time.Now().Add(time.Hour),
	}, priv
}

func decryptTestBlob(t *testing.T, blob *teecrypto.EncryptedBlob, recipient *ecdh.PrivateKey) []byte {
	t.Helper()
	ephemeralPub, err := ecdh.X25519().NewPublicKey(blob.EphemeralPublicKey)
	if err != nil {
		t.Fatalf("invalid ephemeral public key: %v", err)
	}
	sharedSecret, err := recipient.ECDH(ephemeralPub)
	if err != nil {
		t.Fatalf("ecdh failed: %v", err)
	}
	reader := hkdf.New(sha256.New, sharedSecret, []byte(blob.KeyID), []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		t.Fatalf("hkdf failed: %v", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		t.Fatalf("failed to construct AEAD: %v", err)
	}
	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	return plaintext
}
