package relay

import (
	"context"
	"encoding/base64"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/coordinator"
)

// SendRequest is the C6 send input (spec §4.6): the private witness
// material plus the recipient blobs to be sealed to the TEE, all of which
// the coordinator threads through proof generation, encryption, and
// submission in one call.
type SendRequest struct {
	IdentitySecret string `json:"identity_secret" binding:"required"`
	IdentitySalt   string `json:"identity_salt" binding:"required"`
	ActionDomain   string `json:"action_domain" binding:"required"`
	AddressBlob    string `json:"address_blob" binding:"required"` // base64
	MessageBlob    string `json:"message_blob" binding:"required"` // base64
	TemplateID     string `json:"template_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SendResponse reports the coordinator's terminal state and, on success,
// the resulting submission.
type SendResponse struct {
	State        string `json:"state"`
	ErrorKind    string `json:"error_kind,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Nullifier    string `json:"nullifier,omitempty"`
}

// SendAPI exposes the coordinator (C6) over HTTP: a single synchronous call
// that drives one user's send from a cached credential through to a
// committed submission.
type SendAPI struct {
	coordinator *coordinator.Coordinator
	auth        Authenticator
}

// NewSendAPI builds a SendAPI bound to its collaborators.
func NewSendAPI(coord *coordinator.Coordinator, auth Authenticator) *SendAPI {
	return &SendAPI{coordinator: coord, auth: auth}
}

// Send handles POST /send.
func (api *SendAPI) Send(c *gin.Context) {
	userID, err := api.auth.Authenticate(c.Request)
	if err != nil {
		writeError(c, err)
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "malformed send request", err))
		return
	}

	identitySecret, ok := new(big.Int).SetString(req.IdentitySecret, 10)
	if !ok {
		writeError(c, apierr.New(apierr.KindInvalidInput, "identity_secret is not a valid decimal integer"))
		return
	}
	identitySalt, ok := new(big.Int).SetString(req.IdentitySalt, 10)
	if !ok {
		writeError(c, apierr.New(apierr.KindInvalidInput, "identity_salt is not a valid decimal integer"))
		return
	}
	actionDomain, ok := new(big.Int).SetString(req.ActionDomain, 10)
	if !ok {
		writeError(c, apierr.New(apierr.KindInvalidInput, "action_domain is not a valid decimal integer"))
		return
	}

	addressBlob, err := base64.StdEncoding.DecodeString(req.AddressBlob)
	if err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "address_blob is not valid base64", err))
		return
	}
	messageBlob, err := base64.StdEncoding.DecodeString(req.MessageBlob)
	if err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "message_blob is not valid base64", err))
		return
	}

	params := coordinator.StartParams{
		UserID:         userID,
		IdentitySecret: identitySecret,
		IdentitySalt:   identitySalt,
		ActionDomain:   actionDomain,
		AddressBlob:    addressBlob,
		MessageBlob:    messageBlob,
		TemplateID:     req.TemplateID,
		IdempotencyKey: req.IdempotencyKey,
	}

	result, err := api.coordinator.Run(c.Request.Context(), params, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := SendResponse{State: string(result.FinalState), ErrorKind: string(result.ErrorKind)}
	if result.Submission != nil {
		resp.SubmissionID = result.Submission.SubmissionID
		resp.Status = result.Submission.Status
		resp.Nullifier = result.Submission.Nullifier
	}
	c.JSON(http.StatusOK, resp)
}

// coordinatorSubmitter adapts API.commit to coordinator.Submitter, so a
// coordinator-driven send (C6) persists and enqueues a submission through
// the exact same path an HTTP /submit call does (C7), never a parallel
// reimplementation of spec §4.7's persistence and enqueue rules.
type coordinatorSubmitter struct {
	api *API
}

// NewCoordinatorSubmitter builds a coordinator.Submitter backed by api, so a
// deployment can wire the same persistence/enqueue path into both the HTTP
// submit endpoint and the coordinator's send flow.
func NewCoordinatorSubmitter(api *API) coordinator.Submitter {
	return &coordinatorSubmitter{api: api}
}

func (s *coordinatorSubmitter) Submit(ctx context.Context, req coordinator.SubmitRequest) (*coordinator.SubmitResult, error) {
	sub, _, err := s.api.commit(ctx, req.UserID, SubmissionRequest{
		TemplateID:           req.TemplateID,
		Proof:                req.Proof,
		PublicInputs:         req.PublicInputs,
		VerifierDepth:        req.VerifierDepth,
		EncryptedAddressBlob: req.EncryptedAddressBlob,
		EncryptedMessageBlob: req.EncryptedMessageBlob,
		IdempotencyKey:       req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return &coordinator.SubmitResult{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		Nullifier:    sub.Nullifier,
	}, nil
}
