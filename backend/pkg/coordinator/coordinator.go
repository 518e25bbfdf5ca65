// Package coordinator implements the submission coordinator (C6): the state
// machine that walks one user's send from a cached credential through proof
// generation, witness encryption, and submission. It is the only component
// permitted to assemble the fixed public-input vector the prover and
// verifier both expect (spec §4.6).
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/credentialstore"
	"district-relay/backend/prover"
	"district-relay/circuit"
)

// State names the coordinator's position in its one-way state machine.
// States suffixed with `*` in the spec are terminal; Terminal() reports that.
type State string

const (
	StateIdle                State = "idle"
	StateLoadingCredential    State = "loading_credential"
	StateCredentialMissing    State = "credential_missing"
	StateInitializingProver   State = "initializing_prover"
	StateGeneratingProof      State = "generating_proof"
	StateCancelled            State = "cancelled"
	StateEncryptingWitness    State = "encrypting_witness"
	StateSubmitting           State = "submitting"
	StateComplete             State = "complete"
	StateError                State = "error"
)

// Terminal reports whether s is one of the state machine's terminal states.
func (s State) Terminal() bool {
	switch s {
	case StateCredentialMissing, StateCancelled, StateComplete, StateError:
		return true
	default:
		return false
	}
}

// ErrorKind classifies a terminal StateError for UI routing (spec §4.6:
// "exposes a kind for UI routing").
type ErrorKind string

const (
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindServer    ErrorKind = "server"
)

// Event reports a state transition. Delivery to Events is best-effort and
// non-blocking, matching the rest of this system's progress-callback style.
type Event struct {
	State     State
	Percent   int
	ErrorKind ErrorKind
	Err       error
}

// StartParams are the inputs to one coordinator run. AuthorityLevel is
// deliberately absent: it is registry-attested material that lives on the
// cached Credential, never a caller-supplied value, since the circuit binds
// and bounds authority_level as a public input and a caller-supplied tier
// would let a user assert a higher authority than the registry attested.
type StartParams struct {
	UserID         string
	IdentitySecret *big.Int
	IdentitySalt   *big.Int
	ActionDomain   *big.Int
	AddressBlob    []byte
	MessageBlob    []byte
	TemplateID     string
	IdempotencyKey string
}

// SubmitRequest is what the coordinator hands to a Submitter once it has a
// proof and two sealed blobs.
type SubmitRequest struct {
	UserID               string
	TemplateID           string
	Proof                string
	PublicInputs         []string
	VerifierDepth        int
	EncryptedAddressBlob []byte
	EncryptedMessageBlob []byte
	IdempotencyKey       string
}

// SubmitResult is the C7 response shape.
type SubmitResult struct {
	SubmissionID string
	Status       string
	Nullifier    string
}

// Encryptor is the subset of teecrypto.Encryptor the coordinator depends on.
// It returns the encrypted blob pre-serialized to bytes, since the
// coordinator only ever forwards it opaquely to a Submitter; teecrypto's
// EncryptedBlob.Bytes method produces exactly this encoding.
type Encryptor interface {
	EncryptToTEE(ctx context.Context, plaintext []byte) ([]byte, error)
}

// Submitter sends an assembled submission to the submission endpoint (C7).
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

// Result is what Run returns once the state machine reaches a terminal state.
type Result struct {
	FinalState State
	ErrorKind  ErrorKind
	Submission *SubmitResult
	Nullifier  *big.Int
}

// Coordinator runs one state-machine instance per user session at a time;
// a second concurrent Run for the same userID is rejected with Busy rather
// than silently queued (spec §4.6 concurrency rule).
type Coordinator struct {
	credentials    credentialstore.Store
	circuitManager *prover.CircuitManager
	encryptor      Encryptor
	submitter      Submitter

	mu      sync.Mutex
	running map[string]struct{}
}

// New builds a Coordinator from its four collaborators.
func New(credentials credentialstore.Store, circuitManager *prover.CircuitManager, encryptor Encryptor, submitter Submitter) *Coordinator {
	return &Coordinator{
		credentials:    credentials,
		circuitManager: circuitManager,
		encryptor:      encryptor,
		submitter:      submitter,
		running:        make(map[string]struct{}),
	}
}

// Run drives one full state-machine pass for params.UserID, emitting
// transitions on events (which may be nil). It returns once a terminal
// state is reached.
func (c *Coordinator) Run(ctx context.Context, params StartParams, events chan<- Event) (*Result, error) {
	if !c.acquire(params.UserID) {
		return nil, apierr.New(apierr.KindBusy, "a submission is already running for this session")
	}
	defer c.release(params.UserID)

	emit(events, Event{State: StateLoadingCredential})
	cred, err := c.credentials.Get(ctx, params.UserID)
	if err == credentialstore.ErrNotFound {
		emit(events, Event{State: StateCredentialMissing})
		return &Result{FinalState: StateCredentialMissing}, nil
	}
	if err != nil {
		return c.fail(events, ErrorKindServer, fmt.Errorf("loading credential: %w", err))
	}

	emit(events, Event{State: StateInitializingProver})
	// The circuit manager's own Initialize is idempotent and called once at
	// process startup by the owning binary; the coordinator only waits on an
	// already-initialized manager here rather than re-triggering setup.

	emit(events, Event{State: StateGeneratingProof, Percent: 0})
	identityCommitment := circuit.ComputeIdentityCommitment(params.IdentitySecret, params.IdentitySalt)
	nullifier := circuit.ComputeNullifier(identityCommitment, params.ActionDomain)

	merklePath := make([]prover.BigIntString, len(cred.MerklePath))
	merkleHelper := make([]prover.BigIntString, len(cred.MerkleHelper))
	for i, v := range cred.MerklePath {
		merklePath[i] = bigIntStringFromDecimal(v)
	}
	for i, v := range cred.MerkleHelper {
		merkleHelper[i] = bigIntStringFromDecimal(v)
	}

	req := &prover.ProveRequest{
		IdentitySecret: prover.BigIntString{Int: params.IdentitySecret},
		IdentitySalt:   prover.BigIntString{Int: params.IdentitySalt},
		MerklePath:     merklePath,
		MerkleHelper:   merkleHelper,
		UserRoot:       bigIntStringFromDecimal(cred.MerkleRoot),
		Nullifier:      prover.BigIntString{Int: nullifier},
		ActionDomain:   prover.BigIntString{Int: params.ActionDomain},
		AuthorityLevel: prover.BigIntString{Int: big.NewInt(int64(cred.AuthorityLevel))},
		IdempotencyKey: params.IdempotencyKey,
	}

	proofResp, err := c.circuitManager.GenerateProof(ctx, req, nil)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindCancelled {
			emit(events, Event{State: StateCancelled})
			return &Result{FinalState: StateCancelled}, nil
		}
		return c.fail(events, ErrorKindServer, fmt.Errorf("generating proof: %w", err))
	}
	emit(events, Event{State: StateGeneratingProof, Percent: 100})

	emit(events, Event{State: StateEncryptingWitness})
	encryptedAddress, err := c.encryptor.EncryptToTEE(ctx, params.AddressBlob)
	if err != nil {
		return c.fail(events, classifyEncryptError(err), fmt.Errorf("encrypting address: %w", err))
	}
	encryptedMessage, err := c.encryptor.EncryptToTEE(ctx, params.MessageBlob)
	if err != nil {
		return c.fail(events, classifyEncryptError(err), fmt.Errorf("encrypting message: %w", err))
	}

	emit(events, Event{State: StateSubmitting})
	submission, err := c.submitter.Submit(ctx, SubmitRequest{
		UserID:               params.UserID,
		TemplateID:           params.TemplateID,
		Proof:                proofResp.Proof,
		PublicInputs:         proofResp.PublicInputs,
		VerifierDepth:        prover.MerkleDepth,
		EncryptedAddressBlob: encryptedAddress,
		EncryptedMessageBlob: encryptedMessage,
		IdempotencyKey:       params.IdempotencyKey,
	})
	if err != nil {
		return c.fail(events, classifySubmitError(err), fmt.Errorf("submitting: %w", err))
	}

	emit(events, Event{State: StateComplete})
	return &Result{FinalState: StateComplete, Submission: submission, Nullifier: nullifier}, nil
}

func (c *Coordinator) acquire(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.running[userID]; running {
		return false
	}
	c.running[userID] = struct{}{}
	return true
}

func (c *Coordinator) release(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, userID)
}

func (c *Coordinator) fail(events chan<- Event, kind ErrorKind, err error) (*Result, error) {
	emit(events, Event{State: StateError, ErrorKind: kind, Err: err})
	return &Result{FinalState: StateError, ErrorKind: kind}, err
}

func classifyEncryptError(err error) ErrorKind {
	switch apierr.KindOf(err) {
	case apierr.KindKeyFetchFailed, apierr.KindKeyExpired:
		return ErrorKindNetwork
	default:
		return ErrorKindServer
	}
}

func classifySubmitError(err error) ErrorKind {
	switch apierr.KindOf(err) {
	case apierr.KindUnauthorized:
		return ErrorKindAuth
	case apierr.KindNetworkError, apierr.KindTreeRebuilding:
		return ErrorKindNetwork
	case apierr.KindRateLimited:
		return ErrorKindRateLimit
	default:
		return ErrorKindServer
	}
}

func emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}

func bigIntStringFromDecimal(s string) prover.BigIntString {
	v := new(big.Int)
	v.SetString(s, 10)
	return prover.BigIntString{Int: v}
}
