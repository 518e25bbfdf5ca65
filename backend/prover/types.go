package prover

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// BigIntString is a wrapper for big.Int that unmarshals from JSON strings,
// since field elements routinely exceed the range a JSON number can carry
// without loss.
type BigIntString struct {
	*big.Int
}

// UnmarshalJSON implements json.Unmarshaler to handle string JSON values.
func (b *BigIntString) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)

	if str == "" || str == "null" {
		b.Int = big.NewInt(0)
		return nil
	}

	b.Int = new(big.Int)
	if _, ok := b.Int.SetString(str, 10); !ok {
		var n json.Number
		if err := json.Unmarshal(data, &n); err == nil {
			tempInt := new(big.Int)
			if _, ok := tempInt.SetString(string(n), 10); ok {
				b.Int = tempInt
				return nil
			}
		}
		return fmt.Errorf("cannot parse %q as big.Int", str)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b BigIntString) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + b.Int.String() + `"`), nil
}

// ProveRequest is the witness plus the public-input fields the coordinator
// (C6) assembled, per the fixed layout [UserRoot, Nullifier, ActionDomain,
// AuthorityLevel]. Nullifier is precomputed off-circuit by the caller with
// the identical construction circuit.ComputeNullifier uses, and the circuit
// re-derives and asserts it against the witness.
type ProveRequest struct {
	// Private witness
	IdentitySecret BigIntString   `json:"identity_secret"`
	IdentitySalt   BigIntString   `json:"identity_salt"`
	MerklePath     []BigIntString `json:"merkle_path"`
	MerkleHelper   []BigIntString `json:"merkle_helper"`

	// Public inputs, fixed layout
	UserRoot       BigIntString `json:"user_root"`
	Nullifier      BigIntString `json:"nullifier"`
	ActionDomain   BigIntString `json:"action_domain"`
	AuthorityLevel BigIntString `json:"authority_level"`

	// IdempotencyKey is opaque to the prover; echoed back so the coordinator
	// can correlate async progress events with this request.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ProveResponse carries the proof and its public inputs in the exact order
// a verifier expects them.
type ProveResponse struct {
	Proof          string   `json:"proof"`
	PublicInputs   []string `json:"public_inputs"`
	Nullifier      string   `json:"nullifier"`
	CircuitVersion int      `json:"circuit_version"`
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
}

// ProgressEvent is delivered through an optional progress channel during
// init and proof generation. Delivery is best-effort and non-blocking: a
// slow consumer drops events rather than stalling the prover (spec §4.4).
type ProgressEvent struct {
	Stage   string `json:"stage"` // "init" | "proof"
	Percent int    `json:"percent"`
}
