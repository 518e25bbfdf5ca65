package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/logger"
)

// VerifierClient is the narrow seam onto the verifier contract (spec §4.8,
// C8a). The production implementation, EthVerifierClient (ethverifier.go),
// packs calls against the verifier contract's ABI by hand rather than
// through a generated binding; tests supply a fake.
type VerifierClient interface {
	// NullifierUsed re-checks, directly against the contract, whether
	// nullifierHex has already been consumed. This is the pre-flight check
	// the spec requires before spending gas on a doomed submission.
	NullifierUsed(ctx context.Context, nullifierHex string) (bool, error)

	// SubmitProof sends the proof/public-inputs to the verifier contract,
	// signed by signer, and returns the on-chain transaction hash once the
	// submission is accepted for inclusion.
	SubmitProof(ctx context.Context, signer *Signer, sub SubmissionView) (txHash string, err error)
}

// SubmissionView is the read-only projection of a submission a VerifierClient
// needs; it avoids a direct dependency from workers on the relay package's
// persisted row type.
type SubmissionView struct {
	ID            string
	Proof         string
	PublicInputs  []string
	VerifierDepth int
	Nullifier     string
}

// SubmissionStore is the subset of relay.Store the workers act against.
// cmd/relay wires *relay.Store in by converting its rows to SubmissionRecord,
// keeping workers free of a direct dependency on the relay package's types.
type SubmissionStore interface {
	GetByID(ctx context.Context, submissionID string) (*SubmissionRecord, error)
	MarkVerified(ctx context.Context, submissionID, onChainTx string) error
	MarkFailed(ctx context.Context, submissionID string) error
	MarkDelivered(ctx context.Context, submissionID string) error
}

// SubmissionRecord mirrors the fields of relay.Submission the workers read.
type SubmissionRecord struct {
	ID                   string
	Proof                string
	PublicInputs         []string
	VerifierDepth        int
	Nullifier            string
	EncryptedAddressBlob []byte
	EncryptedMessageBlob []byte
}

const (
	onChainMaxRetries = 5
	onChainBaseDelay  = 500 * time.Millisecond
	onChainMaxDelay   = 30 * time.Second
)

// OnChainWorker implements C8a: submit the proof to the verifier contract,
// record the outcome, and never double-spend a nullifier that pre-flight
// already shows as used.
type OnChainWorker struct {
	store    SubmissionStore
	verifier VerifierClient
	signer   *Signer
}

// NewOnChainWorker builds an OnChainWorker.
func NewOnChainWorker(store SubmissionStore, verifier VerifierClient, signer *Signer) *OnChainWorker {
	return &OnChainWorker{store: store, verifier: verifier, signer: signer}
}

// Process drives submissionID through pre-flight check, signed submission,
// and outcome recording, retrying transient failures with bounded backoff.
func (w *OnChainWorker) Process(ctx context.Context, submissionID string) {
	sub, err := w.store.GetByID(ctx, submissionID)
	if err != nil {
		logger.Error("on-chain worker: submission lookup failed", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	var used bool
	err = retryWithBackoff(ctx, backoffSchedule(onChainMaxRetries, onChainBaseDelay, onChainMaxDelay), isTransientChainError, func(ctx context.Context) error {
		var checkErr error
		used, checkErr = w.verifier.NullifierUsed(ctx, sub.Nullifier)
		return checkErr
	})
	if err != nil {
		logger.Error("on-chain worker: pre-flight nullifier check failed", zap.String("submission_id", submissionID), zap.Error(err))
		_ = w.store.MarkFailed(ctx, submissionID)
		return
	}
	if used {
		logger.Warn("on-chain worker: nullifier already used on-chain, failing submission", zap.String("submission_id", submissionID))
		_ = w.store.MarkFailed(ctx, submissionID)
		return
	}

	view := SubmissionView{
		ID:            sub.ID,
		Proof:         sub.Proof,
		PublicInputs:  sub.PublicInputs,
		VerifierDepth: sub.VerifierDepth,
		Nullifier:     sub.Nullifier,
	}

	schedule := backoffSchedule(onChainMaxRetries, onChainBaseDelay, onChainMaxDelay)
	var txHash string
	err = retryWithBackoff(ctx, schedule, isTransientChainError, func(ctx context.Context) error {
		var submitErr error
		txHash, submitErr = w.verifier.SubmitProof(ctx, w.signer, view)
		return submitErr
	})
	if err != nil {
		logger.Error("on-chain worker: submission permanently failed", zap.String("submission_id", submissionID), zap.Error(err))
		_ = w.store.MarkFailed(ctx, submissionID)
		return
	}

	if err := w.store.MarkVerified(ctx, submissionID, txHash); err != nil {
		logger.Error("on-chain worker: failed to record verified status", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

// isTransientChainError distinguishes network/congestion failures (retry)
// from contract-level rejections (permanent failure) per spec §4.8.
func isTransientChainError(err error) bool {
	apiErr, ok := apierr.As(err)
	if !ok {
		return true // unclassified errors are assumed transient network noise
	}
	switch apiErr.Kind {
	case apierr.KindNetworkError, apierr.KindBusy, apierr.KindTreeRebuilding:
		return true
	default:
		return false
	}
}
