package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/teecrypto"
)

// HTTPTEEKeyFetcher is the production teecrypto.KeyFetcher: it reads the
// TEE worker's published public-key envelope over HTTP, in the same
// request/response style as HTTPTEEClient's delivery call.
type HTTPTEEKeyFetcher struct {
	baseURL string
	http    *http.Client
}

// NewHTTPTEEKeyFetcher builds an HTTPTEEKeyFetcher against baseURL.
func NewHTTPTEEKeyFetcher(baseURL string, httpClient *http.Client) *HTTPTEEKeyFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTEEKeyFetcher{baseURL: baseURL, http: httpClient}
}

type teePublicKeyResponse struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"` // base64-encoded raw X25519 key
	Algorithm string `json:"algorithm"`
	ExpiresAt string `json:"expires_at"` // RFC3339
}

// FetchPublicKey implements teecrypto.KeyFetcher.
func (f *HTTPTEEKeyFetcher) FetchPublicKey(ctx context.Context) (*teecrypto.KeyEnvelope, error) {
	target, err := url.JoinPath(f.baseURL, "/tee/public-key")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "failed to build tee public-key URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "failed to build tee public-key request", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindKeyFetchFailed, "tee public-key request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil, apierr.New(apierr.KindKeyFetchFailed, fmt.Sprintf("tee worker returned status %d", resp.StatusCode))
	}

	var wire teePublicKeyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&wire); err != nil {
		return nil, apierr.Wrap(apierr.KindKeyFetchFailed, "malformed tee public-key response", err)
	}

	rawKey, err := base64.StdEncoding.DecodeString(wire.PublicKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindKeyFetchFailed, "tee public key is not valid base64", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, wire.ExpiresAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindKeyFetchFailed, "tee key expires_at is not a valid timestamp", err)
	}

	return &teecrypto.KeyEnvelope{
		KeyID:     wire.KeyID,
		PublicKey: rawKey,
		Algorithm: wire.Algorithm,
		ExpiresAt: expiresAt,
	}, nil
}
