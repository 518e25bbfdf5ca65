package workers

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

const testPrivateKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewSignerDerivesConsistentAddress(t *testing.T) {
	signer, err := NewSigner(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	want, err := crypto.HexToECDSA(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("reference key parse failed: %v", err)
	}
	wantAddr := crypto.PubkeyToAddress(want.PublicKey).Hex()

	if signer.Address() != wantAddr {
		t.Errorf("expected address %s, got %s", wantAddr, signer.Address())
	}
}

func TestNewSignerRejectsMalformedKey(t *testing.T) {
	if _, err := NewSigner("not-a-hex-key"); err == nil {
		t.Error("expected error for malformed private key")
	}
}

func TestSignProducesRecoverableSignature(t *testing.T) {
	signer, err := NewSigner(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	message := []byte("submission:abc123")
	sigHex, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		t.Fatalf("signature is not valid hex: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}

	hash := crypto.Keccak256Hash(message)
	recoveredPub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		t.Fatalf("failed to recover public key: %v", err)
	}
	recoveredAddr := crypto.PubkeyToAddress(*recoveredPub).Hex()
	if !strings.EqualFold(recoveredAddr, signer.Address()) {
		t.Errorf("recovered address %s does not match signer address %s", recoveredAddr, signer.Address())
	}
}
