package prover

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"district-relay/backend/pkg/actiondomain"
	"district-relay/backend/pkg/apierr"
	"district-relay/backend/pkg/logger"
	"district-relay/backend/pkg/metrics"
)

// proofRequestTimeout bounds how long an HTTP caller waits for a proof
// before the handler reports Cancelled; the background computation in
// CircuitManager.GenerateProof may still run to completion (spec §4.4).
const proofRequestTimeout = 30 * time.Second

// API exposes the prover's HTTP surface. In production the coordinator (C6)
// talks to GenerateProof directly in-process; these handlers exist for
// local/dev use and for any deployment that runs the prover as a separate
// service reachable over HTTP (spec §0, §4.4).
type API struct {
	circuitManager *CircuitManager
}

// NewAPI creates an API handler bound to cfg.
func NewAPI(cfg *Config) *API {
	return &API{circuitManager: NewCircuitManager(cfg)}
}

// Initialize initializes the underlying circuit manager. progress may be nil.
func (api *API) Initialize(progress chan<- ProgressEvent) error {
	return api.circuitManager.Initialize(progress)
}

// GenerateProof handles POST /proof/generate.
func (api *API) GenerateProof(c *gin.Context) {
	var req ProveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "malformed request body", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), proofRequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := api.circuitManager.GenerateProof(ctx, &req, nil)
	if err != nil {
		metrics.RecordSubmission("proof_failed")
		logger.Error("proof generation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		writeError(c, err)
		return
	}

	metrics.RecordSubmission("proof_generated")
	c.JSON(http.StatusOK, resp)
}

// BuildActionDomain handles POST /action-domain/build, a thin wrapper around
// actiondomain.BuildActionDomain (C1) so a local client can obtain the
// exact scalar the coordinator will bind into the proof without
// reimplementing the framing rules itself.
func (api *API) BuildActionDomain(c *gin.Context) {
	var req actiondomain.Params
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Wrap(apierr.KindInvalidShape, "malformed request body", err))
		return
	}

	domain, err := actiondomain.BuildActionDomain(req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"action_domain": domain.String()})
}

// HealthCheck returns service health status.
func (api *API) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "district-relay-prover",
	})
}

// writeError renders an apierr.Error (or any error, defaulting to Internal)
// using the shared HTTP-status and user-message mapping (spec §4.7, §7), so
// no handler ever hand-rolls its own status-code logic.
func writeError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	c.JSON(apierr.HTTPStatus(kind), gin.H{
		"success": false,
		"error":   apierr.UserMessage(kind),
		"kind":    string(kind),
	})
}
