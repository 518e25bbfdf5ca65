package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// ActionCircuit is the proof-bound submission circuit: it proves that the
// prover holds an identity secret committed into a leaf of the district
// registry's Merkle tree, that their authority level is within bounds, and
// that the public nullifier is the algebraic hash of that identity
// commitment and the action domain — all without revealing the identity
// secret, salt, or Merkle path.
type ActionCircuit struct {
	// Private inputs (witness)
	IdentitySecret frontend.Variable `gnark:",secret"`
	IdentitySalt   frontend.Variable `gnark:",secret"`

	// Merkle proof that MiMC(IdentitySecret, IdentitySalt) is a leaf of
	// the tree rooted at UserRoot.
	MerklePath   []frontend.Variable `gnark:",secret"`
	MerkleHelper []frontend.Variable `gnark:",secret"`

	// Public inputs, in the fixed order the prover and verifier both rely
	// on (SPEC_FULL.md §3): [UserRoot, Nullifier, ActionDomain, AuthorityLevel].
	UserRoot       frontend.Variable `gnark:",public"`
	Nullifier      frontend.Variable `gnark:",public"`
	ActionDomain   frontend.Variable `gnark:",public"`
	AuthorityLevel frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints.
func (circuit *ActionCircuit) Define(api frontend.API) error {
	mimcHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// 1. Recompute the identity commitment.
	mimcHash.Write(circuit.IdentitySecret)
	mimcHash.Write(circuit.IdentitySalt)
	identityCommitment := mimcHash.Sum()

	// 2. Assert the commitment is a member of the district tree.
	mimcHash.Reset()
	MembershipCheck(api, &mimcHash, identityCommitment, circuit.MerklePath, circuit.MerkleHelper, circuit.UserRoot)

	// 3. Assert the authority tier is in bounds.
	AuthorityBoundsCheck(api, circuit.AuthorityLevel)

	// 4. Recompute the nullifier and bind it to the public output. Using
	// the same MiMC construction in-circuit and off-circuit (see
	// circuit/nullifier.go) is what makes the nullifier a sound,
	// non-forgeable function of (identity, action scope).
	mimcHash.Reset()
	mimcHash.Write(identityCommitment)
	mimcHash.Write(circuit.ActionDomain)
	computedNullifier := mimcHash.Sum()

	api.AssertIsEqual(circuit.Nullifier, computedNullifier)

	return nil
}
