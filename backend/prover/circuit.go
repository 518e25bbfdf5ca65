package prover

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"district-relay/backend/pkg/apierr"
	"district-relay/circuit"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// CircuitVersion is pinned and must match on both the prover and the relay
// (spec §4.4.4, §6). Bumping it is a breaking change to the public-input
// layout.
const CircuitVersion = 1

// MerkleDepth is the registry tree depth this circuit version is compiled
// for. A witness whose merkle path length differs is rejected up front with
// WitnessInvalid (spec §4.4 invariant 1), rather than failing deep inside
// witness construction.
const MerkleDepth = 20

// CircuitManager owns the compiled constraint system and Groth16 keys, and
// serializes proof generation per process: at most one proof is generated
// at a time, matching spec §4.4's "ProverBusy" contract and §5's "prover
// instance shared within a process, serialized" resource model.
type CircuitManager struct {
	ccs         constraint.ConstraintSystem
	pk          groth16.ProvingKey
	vk          groth16.VerifyingKey
	initialized bool
	busy        chan struct{} // capacity-1 semaphore; acquiring it is the "serialize per process" lock
	config      *Config
}

// NewCircuitManager creates an uninitialized circuit manager.
func NewCircuitManager(cfg *Config) *CircuitManager {
	return &CircuitManager{
		busy:   make(chan struct{}, 1),
		config: cfg,
	}
}

// Initialize compiles ActionCircuit for MerkleDepth and loads or generates
// the Groth16 proving/verifying key pair. Cost-dominant step (single-digit
// seconds on desktop); callers invoke it once at process startup.
func (cm *CircuitManager) Initialize(progress chan<- ProgressEvent) error {
	emit(progress, "init", 5)

	template := &circuit.ActionCircuit{
		MerklePath:   make([]frontend.Variable, MerkleDepth),
		MerkleHelper: make([]frontend.Variable, MerkleDepth),
	}

	field := ecc.BN254.ScalarField()
	var err error
	cm.ccs, err = frontend.Compile(field, r1cs.NewBuilder, template)
	if err != nil {
		return apierr.Wrap(apierr.KindInitFailed, "circuit compilation failed", err)
	}
	emit(progress, "init", 40)

	if err := cm.loadKeys(); err != nil {
		cm.pk, cm.vk, err = groth16.Setup(cm.ccs)
		if err != nil {
			return apierr.Wrap(apierr.KindInitFailed, "groth16 setup failed", err)
		}
		cm.initialized = true
		emit(progress, "init", 80)

		if err := cm.SaveKeys(cm.config.ProvingKeyPath, cm.config.VerifyingKeyPath); err != nil {
			return apierr.Wrap(apierr.KindInitFailed, "failed to persist generated keys", err)
		}
	} else {
		cm.initialized = true
	}

	emit(progress, "init", 100)
	return nil
}

func (cm *CircuitManager) loadKeys() error {
	if _, err := os.Stat(cm.config.ProvingKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("proving key file does not exist")
	}
	if _, err := os.Stat(cm.config.VerifyingKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("verifying key file does not exist")
	}

	pkFile, err := os.Open(cm.config.ProvingKeyPath)
	if err != nil {
		return fmt.Errorf("failed to open proving key file: %w", err)
	}
	defer pkFile.Close()

	cm.pk = groth16.NewProvingKey(ecc.BN254)
	if _, err := cm.pk.ReadFrom(pkFile); err != nil {
		return fmt.Errorf("failed to read proving key: %w", err)
	}

	vkFile, err := os.Open(cm.config.VerifyingKeyPath)
	if err != nil {
		return fmt.Errorf("failed to open verifying key file: %w", err)
	}
	defer vkFile.Close()

	cm.vk = groth16.NewVerifyingKey(ecc.BN254)
	if _, err := cm.vk.ReadFrom(vkFile); err != nil {
		return fmt.Errorf("failed to read verifying key: %w", err)
	}

	return nil
}

// SaveKeys persists the proving/verifying keys to disk.
func (cm *CircuitManager) SaveKeys(provingKeyPath, verifyingKeyPath string) error {
	if !cm.initialized {
		return fmt.Errorf("circuit manager not initialized")
	}

	if err := os.MkdirAll(filepath.Dir(provingKeyPath), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	pkFile, err := os.OpenFile(provingKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create proving key file: %w", err)
	}
	defer pkFile.Close()
	if _, err := cm.pk.WriteTo(pkFile); err != nil {
		return fmt.Errorf("failed to write proving key: %w", err)
	}

	vkFile, err := os.OpenFile(verifyingKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create verifying key file: %w", err)
	}
	defer vkFile.Close()
	if _, err := cm.vk.WriteTo(vkFile); err != nil {
		return fmt.Errorf("failed to write verifying key: %w", err)
	}

	return nil
}

// GenerateProof builds the witness from req, asserts witness shape matches
// MerkleDepth, and produces a Groth16 proof plus its ordered public inputs.
// Only one proof generates at a time per process; a concurrent caller
// receives a KindProverBusy error immediately rather than queueing silently.
func (cm *CircuitManager) GenerateProof(ctx context.Context, req *ProveRequest, progress chan<- ProgressEvent) (*ProveResponse, error) {
	if !cm.initialized {
		return nil, apierr.New(apierr.KindInitFailed, "circuit manager not initialized")
	}

	select {
	case cm.busy <- struct{}{}:
		defer func() { <-cm.busy }()
	default:
		return nil, apierr.New(apierr.KindProverBusy, "a proof is already being generated")
	}

	if err := ctx.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindCancelled, "cancelled before start", err)
	}

	if len(req.MerklePath) != MerkleDepth || len(req.MerkleHelper) != MerkleDepth {
		return nil, apierr.New(apierr.KindWitnessInvalid, fmt.Sprintf("merkle path length must equal registry depth %d", MerkleDepth))
	}

	emit(progress, "proof", 10)

	merklePath := make([]frontend.Variable, MerkleDepth)
	merkleHelper := make([]frontend.Variable, MerkleDepth)
	for i := 0; i < MerkleDepth; i++ {
		merklePath[i] = req.MerklePath[i].Int
		merkleHelper[i] = req.MerkleHelper[i].Int
	}

	assignment := &circuit.ActionCircuit{
		IdentitySecret: req.IdentitySecret.Int,
		IdentitySalt:   req.IdentitySalt.Int,
		MerklePath:     merklePath,
		MerkleHelper:   merkleHelper,
		UserRoot:       req.UserRoot.Int,
		Nullifier:      req.Nullifier.Int,
		ActionDomain:   req.ActionDomain.Int,
		AuthorityLevel: req.AuthorityLevel.Int,
	}

	field := ecc.BN254.ScalarField()
	witness, err := frontend.NewWitness(assignment, field)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindWitnessInvalid, "failed to build witness", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindCancelled, "cancelled before proving", err)
	}
	emit(progress, "proof", 30)

	type proveResult struct {
		proof groth16.Proof
		err   error
	}
	resultCh := make(chan proveResult, 1)
	go func() {
		proof, err := groth16.Prove(cm.ccs, cm.pk, witness)
		resultCh <- proveResult{proof, err}
	}()

	var proof groth16.Proof
	select {
	case <-ctx.Done():
		// Cooperative cancellation: groth16.Prove has no preemption point,
		// so the goroutine runs to completion in the background and its
		// result is discarded; the caller observes Cancelled immediately.
		return nil, apierr.Wrap(apierr.KindCancelled, "proof generation cancelled", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "proof generation failed", res.err)
		}
		proof = res.proof
	}
	emit(progress, "proof", 80)

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "proof serialization failed", err)
	}

	publicInputsHex, err := publicInputsHex(req)
	if err != nil {
		return nil, err
	}

	emit(progress, "proof", 100)
	zeroize(assignment)

	return &ProveResponse{
		Proof:          base64.StdEncoding.EncodeToString(proofBuf.Bytes()),
		PublicInputs:   publicInputsHex,
		Nullifier:      padHex(req.Nullifier.Int.Text(16)),
		CircuitVersion: CircuitVersion,
		Success:        true,
	}, nil
}

// VerifyProofFromBase64 verifies a base64-encoded proof against the given
// ordered public inputs. Exposed for local/dev verification; the system of
// record verifier is external (spec §6).
func (cm *CircuitManager) VerifyProofFromBase64(proofBase64 string, pub *circuit.ActionCircuit) error {
	if !cm.initialized {
		return fmt.Errorf("circuit manager not initialized")
	}

	proofBytes, err := base64.StdEncoding.DecodeString(proofBase64)
	if err != nil {
		return fmt.Errorf("failed to decode proof: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("failed to deserialize proof: %w", err)
	}

	field := ecc.BN254.ScalarField()
	witness, err := frontend.NewWitness(pub, field, frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to build public witness: %w", err)
	}

	return groth16.Verify(proof, cm.vk, witness)
}

// publicInputsHex renders the fixed-order public-input vector
// [UserRoot, Nullifier, ActionDomain, AuthorityLevel] as even-length hex
// strings, matching the vector circuit.ActionCircuit exposes publicly.
func publicInputsHex(req *ProveRequest) ([]string, error) {
	if req.UserRoot.Int == nil || req.Nullifier.Int == nil || req.ActionDomain.Int == nil || req.AuthorityLevel.Int == nil {
		return nil, apierr.New(apierr.KindWitnessInvalid, "missing public input field")
	}
	return []string{
		padHex(req.UserRoot.Text(16)),
		padHex(req.Nullifier.Text(16)),
		padHex(req.ActionDomain.Text(16)),
		padHex(req.AuthorityLevel.Text(16)),
	}, nil
}

func padHex(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}

// zeroize drops references to witness fields after proof emission (spec
// §4.4, §5), so the secret material is only reachable for as long as the GC
// takes to reclaim it rather than for the lifetime of the CircuitManager call.
func zeroize(a *circuit.ActionCircuit) {
	a.IdentitySecret = nil
	a.IdentitySalt = nil
	for i := range a.MerklePath {
		a.MerklePath[i] = nil
	}
}

func emit(progress chan<- ProgressEvent, stage string, percent int) {
	if progress == nil {
		return
	}
	select {
	case progress <- ProgressEvent{Stage: stage, Percent: percent}:
	default:
		// best-effort, non-blocking: drop if the consumer is slow
	}
}
