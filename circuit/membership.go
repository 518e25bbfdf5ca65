package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/accumulator/merkle"
	"github.com/consensys/gnark/std/hash/mimc"
)

// MembershipCircuit verifies that a leaf (an identity commitment) is a
// member of a district's Merkle tree without revealing its position or
// siblings. Unlike a linear scan, this scales to arbitrarily large
// registries without growing the circuit.
type MembershipCircuit struct {
	// Private inputs
	Leaf frontend.Variable `gnark:",secret"`

	// Merkle proof for Leaf (private): Path holds sibling hashes, Helper
	// holds the bit decomposition of the leaf index (little-endian).
	MerklePath   []frontend.Variable `gnark:",secret"`
	MerkleHelper []frontend.Variable `gnark:",secret"`

	// Public inputs
	Root frontend.Variable `gnark:",public"` // district Merkle root
}

// Define declares the circuit constraints.
func (circuit *MembershipCircuit) Define(api frontend.API) error {
	mimcHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	leafIndex, fullPath := reconstructMerklePath(api, circuit.Leaf, circuit.MerklePath, circuit.MerkleHelper)

	merkleProof := merkle.MerkleProof{
		RootHash: circuit.Root,
		Path:     fullPath,
	}
	merkleProof.VerifyProof(api, &mimcHash, leafIndex)

	return nil
}

// MembershipCheck verifies that leaf is a member of the tree rooted at
// root, given its Merkle path and helper bits. Shared by MembershipCircuit
// and ActionCircuit so both assert membership identically.
func MembershipCheck(api frontend.API, hasher *mimc.MiMC, leaf frontend.Variable, merklePath, merkleHelper []frontend.Variable, root frontend.Variable) {
	leafIndex, fullPath := reconstructMerklePath(api, leaf, merklePath, merkleHelper)

	merkleProof := merkle.MerkleProof{
		RootHash: root,
		Path:     fullPath,
	}
	merkleProof.VerifyProof(api, hasher, leafIndex)
}

// reconstructMerklePath builds gnark's expected [leaf, siblings...] path and
// recovers the leaf index from its bit decomposition.
func reconstructMerklePath(api frontend.API, leaf frontend.Variable, merklePath, merkleHelper []frontend.Variable) (frontend.Variable, []frontend.Variable) {
	fullPath := make([]frontend.Variable, len(merklePath)+1)
	fullPath[0] = leaf
	copy(fullPath[1:], merklePath)

	leafIndex := frontend.Variable(0)
	power := 1
	for _, bit := range merkleHelper {
		leafIndex = api.Add(leafIndex, api.Mul(bit, power))
		power <<= 1
	}

	return leafIndex, fullPath
}
