package workers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"district-relay/backend/pkg/apierr"
)

// HTTPTEEClient is the production TEEClient: it forwards encrypted blobs to
// the TEE worker's delivery endpoint over HTTP, in the request/response
// style registryclient.Client uses against the district-registry.
type HTTPTEEClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPTEEClient builds an HTTPTEEClient against baseURL.
func NewHTTPTEEClient(baseURL string, httpClient *http.Client) *HTTPTEEClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTEEClient{baseURL: baseURL, http: httpClient}
}

type teeDeliverRequest struct {
	SubmissionID         string `json:"submission_id"`
	EncryptedAddressBlob string `json:"encrypted_address_blob"`
	EncryptedMessageBlob string `json:"encrypted_message_blob"`
}

// Deliver implements TEEClient.
func (c *HTTPTEEClient) Deliver(ctx context.Context, submissionID string, encryptedAddressBlob, encryptedMessageBlob []byte) error {
	body := teeDeliverRequest{
		SubmissionID:         submissionID,
		EncryptedAddressBlob: base64.StdEncoding.EncodeToString(encryptedAddressBlob),
		EncryptedMessageBlob: base64.StdEncoding.EncodeToString(encryptedMessageBlob),
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to encode tee delivery request", err)
	}

	target, err := url.JoinPath(c.baseURL, "/deliver")
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to build tee delivery URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to build tee delivery request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindNetworkError, "tee delivery request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return apierr.New(apierr.KindBusy, "tee worker temporarily unavailable")
	case resp.StatusCode >= 500:
		return apierr.New(apierr.KindNetworkError, fmt.Sprintf("tee worker server error: %d", resp.StatusCode))
	default:
		return apierr.New(apierr.KindWitnessInvalid, fmt.Sprintf("tee worker rejected delivery: %d", resp.StatusCode))
	}
}
