// Package workers implements the post-submission workers (C8): the
// on-chain relayer (C8a) and the TEE delivery handoff (C8b), both driven
// from a bounded job queue the submission endpoint (C7) enqueues into.
package workers

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps a secp256k1 key the on-chain relayer uses to authorize the
// transactions it submits to the verifier contract. Adapted from the
// teacher's attester signer: the Clarity-specific SHA256/low-S signing path
// and its debug logging are dropped, since this relayer signs standard
// Ethereum transactions rather than a Clarity contract call.
type Signer struct {
	privateKey *ecdsa.PrivateKey
}

// NewSigner builds a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	return &Signer{privateKey: privateKey}, nil
}

// Sign produces a 65-byte (r || s || v) Ethereum-style signature over
// Keccak256(message).
func (s *Signer) Sign(message []byte) (string, error) {
	hash := crypto.Keccak256Hash(message)
	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing failed: %w", err)
	}
	return hex.EncodeToString(signature), nil
}

// Address returns the relayer's Ethereum address.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.privateKey.PublicKey).Hex()
}
