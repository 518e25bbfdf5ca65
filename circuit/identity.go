package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// IdentityCircuit binds a user-held identity secret and salt to a public
// commitment without revealing either.
type IdentityCircuit struct {
	// Private inputs
	IdentitySecret frontend.Variable `gnark:",secret"`
	IdentitySalt   frontend.Variable `gnark:",secret"`

	// Public inputs
	Commitment frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints
func (circuit *IdentityCircuit) Define(api frontend.API) error {
	// commitment = MiMC(identitySecret || identitySalt)
	mimcHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	mimcHash.Write(circuit.IdentitySecret)
	mimcHash.Write(circuit.IdentitySalt)
	computedCommitment := mimcHash.Sum()

	api.AssertIsEqual(circuit.Commitment, computedCommitment)

	return nil
}

// CreateCommitment computes MiMC(identitySecret, identitySalt) in-circuit.
func CreateCommitment(api frontend.API, identitySecret, identitySalt frontend.Variable) (frontend.Variable, error) {
	mimcHash, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}

	mimcHash.Write(identitySecret)
	mimcHash.Write(identitySalt)
	return mimcHash.Sum(), nil
}
