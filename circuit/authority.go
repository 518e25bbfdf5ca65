package circuit

import (
	"github.com/consensys/gnark/frontend"
)

// MinAuthorityLevel and MaxAuthorityLevel bound the verification-strength
// tier bound in-circuit (spec §3, §4.4.2): 1..5 inclusive.
const (
	MinAuthorityLevel = 1
	MaxAuthorityLevel = 5
)

// AuthorityCircuit asserts that a verification-strength tier falls within
// the bounded range, without revealing anything beyond the bound check
// itself (the tier is also re-exposed as a public input by the composing
// circuit; this type documents and unit-tests the bound in isolation).
type AuthorityCircuit struct {
	// Public inputs
	AuthorityLevel frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints: MinAuthorityLevel <= level <= MaxAuthorityLevel.
func (circuit *AuthorityCircuit) Define(api frontend.API) error {
	api.AssertIsLessOrEqual(MinAuthorityLevel, circuit.AuthorityLevel)
	api.AssertIsLessOrEqual(circuit.AuthorityLevel, MaxAuthorityLevel)
	return nil
}

// AuthorityBoundsCheck asserts MinAuthorityLevel <= level <= MaxAuthorityLevel.
func AuthorityBoundsCheck(api frontend.API, level frontend.Variable) {
	api.AssertIsLessOrEqual(MinAuthorityLevel, level)
	api.AssertIsLessOrEqual(level, MaxAuthorityLevel)
}
