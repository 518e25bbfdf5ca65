package relay

import (
	"context"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/logger"
	"district-relay/backend/pkg/metrics"
)

// fixedPublicInputCount mirrors circuit.ActionCircuit's public-input layout
// [UserRoot, Nullifier, ActionDomain, AuthorityLevel] (spec §4.7 policy 2).
const fixedPublicInputCount = 4

const (
	publicInputUserRoot = iota
	publicInputNullifier
	publicInputActionDomain
	publicInputAuthorityLevel
)

// maxBlobBytes bounds encrypted_address_blob / encrypted_message_blob sizes
// (spec §4.7 policy 2: "all blob sizes are within caps").
const maxBlobBytes = 4096

// JobEnqueuer hands a committed submission off to the async workers (C8a,
// C8b). Enqueue failures (a full queue) are logged and the job is dropped,
// not retried; they never block the HTTP response (spec §4.7 policy 5).
type JobEnqueuer interface {
	EnqueueOnChainVerify(submissionID string)
	EnqueueTEEDelivery(submissionID string)
}

// API exposes the relay's HTTP surface: the submission endpoint (C7).
type API struct {
	store  *Store
	auth   Authenticator
	config *Config
	jobs   JobEnqueuer
}

// NewAPI builds an API bound to its collaborators.
func NewAPI(store *Store, auth Authenticator, config *Config, jobs JobEnqueuer) *API {
	return &API{store: store, auth: auth, config: config, jobs: jobs}
}

// Submit handles POST /submit (spec §4.7).
func (api *API) Submit(c *gin.Context) {
	userID, err := api.auth.Authenticate(c.Request)
	if err != nil {
		writeError(c, err)
		return
	}

	var req SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "malformed request body", err))
		return
	}

	sub, wasExisting, err := api.commit(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmissionResponse{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		Nullifier:    sub.Nullifier,
	})
}

// commit runs spec §4.7 policy 2-5 against an already-parsed
// SubmissionRequest: shape validation, domain allowlisting, atomic
// persistence, and worker enqueue. Both the HTTP Submit handler and the
// coordinator-driven submit path (send.go's coordinatorSubmitter) funnel
// through this single implementation so the two entrypoints can never
// silently diverge in what they enforce.
func (api *API) commit(ctx context.Context, userID string, req SubmissionRequest) (*Submission, bool, error) {
	nullifier, actionDomain, err := validateShape(&req, api.config)
	if err != nil {
		return nil, false, err
	}

	if !api.config.DomainAllowed(actionDomain) {
		return nil, false, apierr.New(apierr.KindPolicyViolation, "unknown campaign")
	}

	sub, wasExisting, err := api.store.CreateOrGetExisting(ctx, userID, req, nullifier, actionDomain)
	if err != nil {
		metrics.RecordSubmission("rejected")
		return nil, false, err
	}

	if !wasExisting {
		metrics.RecordSubmission("accepted")
		api.jobs.EnqueueOnChainVerify(sub.ID)
		api.jobs.EnqueueTEEDelivery(sub.ID)
	}

	logger.Info("submission accepted", zap.String("submission_id", sub.ID), zap.Bool("idempotent_replay", wasExisting))
	return sub, wasExisting, nil
}

// HealthCheck returns service health status.
func (api *API) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "district-relay-relay",
	})
}

// validateShape implements spec §4.7 policy 2: public-input count, verifier
// depth, blob size caps, and nullifier syntactic validity. It returns the
// nullifier and action-domain fields extracted from public_inputs so the
// caller never has to re-parse them.
func validateShape(req *SubmissionRequest, cfg *Config) (nullifier, actionDomain string, err error) {
	if len(req.PublicInputs) != fixedPublicInputCount {
		return "", "", apierr.New(apierr.KindInvalidShape, "public_inputs length does not match circuit layout")
	}
	if !cfg.DepthAllowed(req.VerifierDepth) {
		return "", "", apierr.New(apierr.KindInvalidShape, "verifier_depth is not an allowed depth")
	}
	if len(req.EncryptedAddressBlob) == 0 || len(req.EncryptedAddressBlob) > maxBlobBytes {
		return "", "", apierr.New(apierr.KindInvalidShape, "encrypted_address_blob size out of bounds")
	}
	if len(req.EncryptedMessageBlob) == 0 || len(req.EncryptedMessageBlob) > maxBlobBytes {
		return "", "", apierr.New(apierr.KindInvalidShape, "encrypted_message_blob size out of bounds")
	}

	nullifierHex := req.PublicInputs[publicInputNullifier]
	if _, ok := new(big.Int).SetString(nullifierHex, 16); !ok {
		return "", "", apierr.New(apierr.KindInvalidShape, "nullifier is not a syntactically valid field element")
	}

	return nullifierHex, req.PublicInputs[publicInputActionDomain], nil
}

func writeError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	c.JSON(apierr.HTTPStatus(kind), gin.H{
		"success": false,
		"error":   apierr.UserMessage(kind),
		"kind":    string(kind),
	})
}
