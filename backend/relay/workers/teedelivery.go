package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/logger"
)

// TEEClient is the narrow seam onto the TEE worker that ultimately delivers
// the decrypted address/message pair (spec §4.8, C8b).
type TEEClient interface {
	// Deliver forwards the already-encrypted blobs; the TEE worker holds the
	// decryption key and this relayer never sees plaintext.
	Deliver(ctx context.Context, submissionID string, encryptedAddressBlob, encryptedMessageBlob []byte) error
}

const (
	teeMaxRetries = 6
	teeBaseDelay  = 1 * time.Second
	teeMaxDelay   = 60 * time.Second
)

// TEEDeliveryWorker implements C8b: hand the encrypted blobs to the TEE
// worker and record confirmed delivery.
type TEEDeliveryWorker struct {
	store SubmissionStore
	tee   TEEClient
}

// NewTEEDeliveryWorker builds a TEEDeliveryWorker.
func NewTEEDeliveryWorker(store SubmissionStore, tee TEEClient) *TEEDeliveryWorker {
	return &TEEDeliveryWorker{store: store, tee: tee}
}

// Process drives submissionID through bounded, jittered retry until the TEE
// worker confirms delivery or a permanent failure is reached.
func (w *TEEDeliveryWorker) Process(ctx context.Context, submissionID string) {
	sub, err := w.store.GetByID(ctx, submissionID)
	if err != nil {
		logger.Error("tee delivery worker: submission lookup failed", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	schedule := backoffSchedule(teeMaxRetries, teeBaseDelay, teeMaxDelay)
	err = retryWithBackoff(ctx, schedule, isTransientTEEError, func(ctx context.Context) error {
		return w.tee.Deliver(ctx, sub.ID, sub.EncryptedAddressBlob, sub.EncryptedMessageBlob)
	})
	if err != nil {
		logger.Error("tee delivery worker: delivery permanently failed", zap.String("submission_id", submissionID), zap.Error(err))
		_ = w.store.MarkFailed(ctx, submissionID)
		return
	}

	if err := w.store.MarkDelivered(ctx, submissionID); err != nil {
		logger.Error("tee delivery worker: failed to record delivered status", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

// isTransientTEEError distinguishes connectivity/availability failures
// (retry) from the TEE worker rejecting the payload outright (permanent).
func isTransientTEEError(err error) bool {
	apiErr, ok := apierr.As(err)
	if !ok {
		return true
	}
	switch apiErr.Kind {
	case apierr.KindNetworkError, apierr.KindBusy, apierr.KindKeyFetchFailed, apierr.KindKeyExpired:
		return true
	default:
		return false
	}
}
