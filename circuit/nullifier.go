package circuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/hash"
)

// fieldElementBytes is the BN254 scalar field element width used by MiMC.
const fieldElementBytes = 32

// ComputeIdentityCommitment computes MiMC(identitySecret, identitySalt),
// matching ActionCircuit.Define exactly so a prover can derive the
// commitment off-circuit before building a witness.
func ComputeIdentityCommitment(identitySecret, identitySalt *big.Int) *big.Int {
	return mimcHashPair(identitySecret, identitySalt)
}

// ComputeNullifier computes MiMC(identityCommitment, actionDomain), the
// same construction ActionCircuit.Define asserts in-circuit. Spec §4.4.3
// requires off-circuit dedup checks to use this identical construction —
// never a placeholder hash — so the public nullifier output is always
// reproducible from (identityCommitment, actionDomain) alone.
func ComputeNullifier(identityCommitment, actionDomain *big.Int) *big.Int {
	return mimcHashPair(identityCommitment, actionDomain)
}

func mimcHashPair(a, b *big.Int) *big.Int {
	mimc := hash.MIMC_BN254.New()

	mimc.Write(padField(a))
	mimc.Write(padField(b))

	return new(big.Int).SetBytes(mimc.Sum(nil))
}

// padField left-pads a field element to fieldElementBytes, matching the
// fixed-width encoding MiMC expects.
func padField(v *big.Int) []byte {
	buf := make([]byte, fieldElementBytes)
	vBytes := v.Bytes()
	copy(buf[fieldElementBytes-len(vBytes):], vBytes)
	return buf
}
