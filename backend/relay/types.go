package relay

import "time"

// SubmissionRequest is the C7 input shape (spec §4.7).
type SubmissionRequest struct {
	TemplateID           string   `json:"template_id" binding:"required"`
	Proof                string   `json:"proof" binding:"required"`
	PublicInputs         []string `json:"public_inputs" binding:"required"`
	VerifierDepth        int      `json:"verifier_depth" binding:"required"`
	EncryptedAddressBlob []byte   `json:"encrypted_address_blob" binding:"required"`
	EncryptedMessageBlob []byte   `json:"encrypted_message_blob" binding:"required"`
	IdempotencyKey       string   `json:"idempotency_key,omitempty"`
}

// SubmissionResponse is the C7 success shape.
type SubmissionResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Nullifier    string `json:"nullifier"`
}

// Submission statuses, spanning C7's initial insert through both C8 workers.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusFailed   = "failed"
	StatusDelivered = "delivered"
)

// Submission is the persisted row C7 creates and both C8 workers update.
type Submission struct {
	ID                   string
	UserID               string
	TemplateID           string
	Proof                string
	PublicInputs         []string
	VerifierDepth        int
	Nullifier            string
	ActionDomain         string
	EncryptedAddressBlob []byte
	EncryptedMessageBlob []byte
	IdempotencyKey       string
	Status               string
	OnChainTx            string
	DeliveredAt          *time.Time
	CreatedAt            time.Time
}
