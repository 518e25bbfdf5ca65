// Package registryclient implements the district-registry client (C3): an
// allowlisted, schema-validated, rate-limited HTTP client for the three
// external registry operations the coordinator needs. Grounded on the
// ambient middleware.RateLimiter (for the "must actually decrement" token
// bucket invariant) and a hand-rolled retry loop in the teacher's
// network-call style, since nothing in the pack carries a dedicated HTTP
// retry library.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/middleware"
)

// LookupResult is the response to lookup(coords).
type LookupResult struct {
	DistrictID string `json:"district_id"`
	MerkleRoot string `json:"merkle_root"`
}

// RegisterResult is the response to register(commitment, coords_or_district).
type RegisterResult struct {
	LeafIndex  uint64   `json:"leaf_index"`
	MerklePath []string `json:"merkle_path"`
	MerkleRoot string   `json:"merkle_root"`
	DistrictID string   `json:"district_id"`
	Depth      int      `json:"depth"`
}

// PathResult is the response to get_path(district_id, commitment).
type PathResult struct {
	LeafIndex  uint64   `json:"leaf_index"`
	MerklePath []string `json:"merkle_path"`
	MerkleRoot string   `json:"merkle_root"`
	Depth      int      `json:"depth"`
}

// Coords identifies a recipient's location for district lookup.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Config configures a Client.
type Config struct {
	BaseURL          string
	AllowedHosts     []string // hostnames permitted as the registry endpoint
	RequestsPerSec   float64
	Burst            int
	MaxRetries       int
	RequestTimeout   time.Duration
	HTTPClient       *http.Client
}

// Client is the C3 district-registry client.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *middleware.RateLimiter
	allowed map[string]struct{}
}

// New builds a Client. It validates cfg.BaseURL against cfg.AllowedHosts
// immediately, so a misconfigured deployment fails at startup rather than on
// the first request (spec §4.3 integrity rule 1).
func New(cfg Config) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindPolicyViolation, "invalid registry base URL", err)
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[h] = struct{}{}
	}
	if _, ok := allowed[parsed.Hostname()]; !ok {
		return nil, apierr.New(apierr.KindPolicyViolation, "registry base URL host is not in the allowlist")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSec
	if rps == 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 5
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: middleware.NewRateLimiter(rps, burst),
		allowed: allowed,
	}, nil
}

// callerKey serializes all calls from this client instance under one token
// bucket; a server embedding one Client per caller gets per-caller limiting
// for free.
const callerKey = "registryclient"

// Lookup resolves coords to a district and its current merkle root. May be
// invoked without an identity (spec §4.3).
func (c *Client) Lookup(ctx context.Context, coords Coords) (*LookupResult, error) {
	var out LookupResult
	err := c.doIdempotent(ctx, http.MethodPost, "/registry/lookup", coords, &out)
	return &out, err
}

// Register writes commitment into the registry tree for the given district,
// returning its leaf index and inclusion path. Not auto-retried: the spec
// forbids retrying register on ambiguous failure to avoid double-inserting
// the same commitment (§4.3).
func (c *Client) Register(ctx context.Context, commitment string, districtID string) (*RegisterResult, error) {
	body := map[string]string{"commitment": commitment, "district_id": districtID}
	var out RegisterResult
	if err := c.do(ctx, http.MethodPost, "/registry/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPath idempotently recovers the inclusion path for an already-registered
// commitment.
func (c *Client) GetPath(ctx context.Context, districtID, commitment string) (*PathResult, error) {
	body := map[string]string{"district_id": districtID, "commitment": commitment}
	var out PathResult
	err := c.doIdempotent(ctx, http.MethodPost, "/registry/path", body, &out)
	return &out, err
}

// doIdempotent retries transient failures with bounded exponential backoff
// plus jitter; only safe for operations the spec marks idempotent (lookup,
// get_path).
func (c *Client) doIdempotent(ctx context.Context, method, path string, body, out interface{}) error {
	maxRetries := c.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			select {
			case <-ctx.Done():
				return apierr.Wrap(apierr.KindCancelled, "registry call cancelled during backoff", ctx.Err())
			case <-time.After(backoff + jitter):
			}
		}

		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := apierr.KindOf(err)
		if kind != apierr.KindTreeRebuilding && kind != apierr.KindNetworkError {
			return err
		}
	}
	return lastErr
}

// do performs a single allowlisted, rate-limited, schema-validated call.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if !c.limiter.Consume(callerKey) {
		return apierr.New(apierr.KindRateLimited, "registry client rate limit exceeded")
	}

	fullURL, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return apierr.Wrap(apierr.KindPolicyViolation, "failed to build registry URL", err)
	}
	parsed, err := url.Parse(fullURL)
	if err != nil {
		return apierr.Wrap(apierr.KindPolicyViolation, "invalid registry URL", err)
	}
	if _, ok := c.allowed[parsed.Hostname()]; !ok {
		return apierr.New(apierr.KindPolicyViolation, "registry URL host is not in the allowlist")
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.KindInvalidInput, "failed to encode request body", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindNetworkError, "registry request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apierr.Wrap(apierr.KindNetworkError, "failed to read registry response", err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	// Schema validation: reject unknown fields so a registry response can
	// never widen trust beyond what out declares (spec §4.3 integrity rule).
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return apierr.Wrap(apierr.KindInvalidShape, "registry response failed schema validation", err)
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return apierr.New(apierr.KindUnauthorized, "registry rejected credentials")
	case status == http.StatusTooManyRequests:
		return apierr.New(apierr.KindRateLimited, "registry rate limit exceeded")
	case status == http.StatusConflict:
		return apierr.New(apierr.KindDuplicateAction, "commitment already registered")
	case status == http.StatusServiceUnavailable:
		return apierr.New(apierr.KindTreeRebuilding, "registry tree is rebuilding")
	case status >= 500:
		return apierr.New(apierr.KindNetworkError, "registry server error: "+strconv.Itoa(status))
	default:
		return apierr.New(apierr.KindInvalidInput, "registry rejected request: "+strconv.Itoa(status))
	}
}
