package circuit

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/assert"
)

// testTree is a depth-2 (4-leaf) Merkle tree built with the same MiMC
// construction ActionCircuit uses, so proofs generated here are accepted by
// MembershipCheck.
type testTree struct {
	leaves [4][]byte
	h12    []byte
	h34    []byte
	root   []byte
}

func hashLeafBytes(h *mimc.MiMC, b []byte) []byte {
	h.Reset()
	h.Write(b)
	return h.Sum(nil)
}

func hashUint(h *mimc.MiMC, val uint64) []byte {
	v := new(fr.Element).SetUint64(val).Bytes()
	return hashLeafBytes(h, v[:])
}

func hashNode(h *mimc.MiMC, left, right []byte) []byte {
	h.Reset()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// buildTestTreeWithLeaf0 builds a 4-leaf tree whose first leaf is the given
// pre-hashed commitment, and the remaining three are filler registry entries.
func buildTestTreeWithLeaf0(h *mimc.MiMC, leaf0 []byte) *testTree {
	tree := &testTree{}
	tree.leaves[0] = leaf0
	tree.leaves[1] = hashUint(h, 2)
	tree.leaves[2] = hashUint(h, 3)
	tree.leaves[3] = hashUint(h, 4)
	tree.h12 = hashNode(h, tree.leaves[0], tree.leaves[1])
	tree.h34 = hashNode(h, tree.leaves[2], tree.leaves[3])
	tree.root = hashNode(h, tree.h12, tree.h34)
	return tree
}

// pathFor returns (siblings, helperBits) for leaf index idx in {0,1,2,3}.
func (t *testTree) pathFor(idx int) ([2]fr.Element, [2]frontend.Variable) {
	var siblings [2]fr.Element
	var helper [2]frontend.Variable

	switch idx {
	case 0:
		siblings[0].SetBytes(t.leaves[1])
		siblings[1].SetBytes(t.h34)
		helper = [2]frontend.Variable{0, 0}
	case 1:
		siblings[0].SetBytes(t.leaves[0])
		siblings[1].SetBytes(t.h34)
		helper = [2]frontend.Variable{1, 0}
	case 2:
		siblings[0].SetBytes(t.leaves[3])
		siblings[1].SetBytes(t.h12)
		helper = [2]frontend.Variable{0, 1}
	case 3:
		siblings[0].SetBytes(t.leaves[2])
		siblings[1].SetBytes(t.h12)
		helper = [2]frontend.Variable{1, 1}
	}
	return siblings, helper
}

func newActionCircuitTemplate(depth int) *ActionCircuit {
	return &ActionCircuit{
		MerklePath:   make([]frontend.Variable, depth),
		MerkleHelper: make([]frontend.Variable, depth),
	}
}

// buildValidAssignment constructs a registry tree containing the prover's
// identity commitment at leaf 0 and returns a fully-populated ActionCircuit
// witness plus the nullifier that a conforming prover would submit alongside it.
func buildValidAssignment(identitySecret, identitySalt, actionDomainVal uint64, authorityLevel int) *ActionCircuit {
	h := mimc.NewMiMC()

	identityCommitment := ComputeIdentityCommitment(new(big.Int).SetUint64(identitySecret), new(big.Int).SetUint64(identitySalt))
	leaf0 := hashLeafBytes(&h, padField(identityCommitment))

	tree := buildTestTreeWithLeaf0(&h, leaf0)
	siblings, helper := tree.pathFor(0)

	var root fr.Element
	root.SetBytes(tree.root)

	actionDomain := new(big.Int).SetUint64(actionDomainVal)
	nullifier := ComputeNullifier(identityCommitment, actionDomain)

	return &ActionCircuit{
		IdentitySecret: identitySecret,
		IdentitySalt:   identitySalt,
		MerklePath:     []frontend.Variable{siblings[0], siblings[1]},
		MerkleHelper:   []frontend.Variable{helper[0], helper[1]},
		UserRoot:       root,
		Nullifier:      nullifier,
		ActionDomain:   actionDomain,
		AuthorityLevel: authorityLevel,
	}
}

func TestActionCircuitValidProof(t *testing.T) {
	assignment := buildValidAssignment(12345, 67890, 999, 3)

	circuit := newActionCircuitTemplate(2)

	field := ecc.BN254.ScalarField()
	ccs, err := frontend.Compile(field, r1cs.NewBuilder, circuit)
	assert.NoError(t, err)

	pk, vk, err := groth16.Setup(ccs)
	assert.NoError(t, err)

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	assert.NoError(t, err)

	proof, err := groth16.Prove(ccs, pk, witness)
	assert.NoError(t, err)

	pubWitness, err := witness.Public()
	assert.NoError(t, err)
	err = groth16.Verify(proof, vk, pubWitness)
	assert.NoError(t, err)
}

func TestActionCircuitRejectsWrongNullifier(t *testing.T) {
	assignment := buildValidAssignment(12345, 67890, 999, 3)
	// Tamper with the nullifier: no longer MiMC(commitment, actionDomain).
	assignment.Nullifier = 1

	circuit := newActionCircuitTemplate(2)
	field := ecc.BN254.ScalarField()
	ccs, err := frontend.Compile(field, r1cs.NewBuilder, circuit)
	assert.NoError(t, err)

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	assert.NoError(t, err)

	assert.Error(t, ccs.IsSolved(witness))
}

func TestActionCircuitRejectsWrongRoot(t *testing.T) {
	assignment := buildValidAssignment(12345, 67890, 999, 3)
	// A root that does not match the supplied Merkle path.
	assignment.UserRoot = 42

	circuit := newActionCircuitTemplate(2)
	field := ecc.BN254.ScalarField()
	ccs, err := frontend.Compile(field, r1cs.NewBuilder, circuit)
	assert.NoError(t, err)

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	assert.NoError(t, err)

	assert.Error(t, ccs.IsSolved(witness))
}

func TestActionCircuitRejectsOutOfRangeAuthority(t *testing.T) {
	assignment := buildValidAssignment(12345, 67890, 999, 9) // outside [MinAuthorityLevel, MaxAuthorityLevel]

	circuit := newActionCircuitTemplate(2)
	field := ecc.BN254.ScalarField()
	ccs, err := frontend.Compile(field, r1cs.NewBuilder, circuit)
	assert.NoError(t, err)

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	assert.NoError(t, err)

	assert.Error(t, ccs.IsSolved(witness))
}

func TestComputeNullifierIsDeterministicAndDomainSeparated(t *testing.T) {
	commitment := ComputeIdentityCommitment(big.NewInt(111), big.NewInt(222))

	n1 := ComputeNullifier(commitment, big.NewInt(1))
	n1Again := ComputeNullifier(commitment, big.NewInt(1))
	n2 := ComputeNullifier(commitment, big.NewInt(2))

	assert.Equal(t, n1, n1Again)
	assert.NotEqual(t, n1, n2)
}
