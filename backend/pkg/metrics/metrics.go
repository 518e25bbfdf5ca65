package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
		[]string{"service"},
	)

	// Proof generation metrics
	proofGenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_generation_total",
			Help: "Total number of proof generation attempts",
		},
		[]string{"service", "status"},
	)

	proofGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proof_generation_duration_seconds",
			Help:    "Proof generation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service"},
	)

	// Proof verification metrics
	proofVerificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_verification_total",
			Help: "Total number of proof verification attempts",
		},
		[]string{"service", "status"},
	)

	proofVerificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proof_verification_duration_seconds",
			Help:    "Proof verification duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"service"},
	)

	// Circuit metrics
	circuitInitialized = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_initialized",
			Help: "Whether the circuit is initialized (1) or not (0)",
		},
		[]string{"service"},
	)

	// Submission metrics (C7)
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Total number of submission attempts by outcome",
		},
		[]string{"service", "outcome"}, // outcome: accepted, rejected (relay); proof_generated, proof_failed (prover)
	)

	nullifierChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nullifier_checks_total",
			Help: "Total number of nullifier-uniqueness checks by result",
		},
		[]string{"service", "result"}, // result: unique, duplicate
	)

	submissionStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "submissions_by_status",
			Help: "Current count of submissions in each status",
		},
		[]string{"service", "status"},
	)

	// Post-submission worker metrics (C8a/C8b)
	workerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Total number of post-submission worker job attempts",
		},
		[]string{"service", "worker", "outcome"}, // worker: onchain_relayer, tee_delivery; outcome: success, retry, failed
	)

	workerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Post-submission worker job duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "worker"},
	)
)

// Config holds metrics configuration
type Config struct {
	ServiceName string
}

var config Config

// Initialize sets up metrics with service name
func Initialize(cfg Config) {
	config = cfg
}

// HTTPMiddleware returns a gin middleware for collecting HTTP metrics
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Increment in-flight requests
		httpRequestsInFlight.WithLabelValues(config.ServiceName).Inc()
		defer httpRequestsInFlight.WithLabelValues(config.ServiceName).Dec()

		// Process request
		c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		status := c.Writer.Status()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		httpRequestsTotal.WithLabelValues(
			config.ServiceName,
			method,
			path,
			http.StatusText(status),
		).Inc()

		httpRequestDuration.WithLabelValues(
			config.ServiceName,
			method,
			path,
			http.StatusText(status),
		).Observe(duration)
	}
}

// RecordProofGeneration records proof generation metrics
func RecordProofGeneration(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	proofGenerationTotal.WithLabelValues(config.ServiceName, status).Inc()
	proofGenerationDuration.WithLabelValues(config.ServiceName).Observe(duration.Seconds())
}

// RecordProofVerification records proof verification metrics
func RecordProofVerification(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	proofVerificationTotal.WithLabelValues(config.ServiceName, status).Inc()
	proofVerificationDuration.WithLabelValues(config.ServiceName).Observe(duration.Seconds())
}

// SetCircuitInitialized sets the circuit initialization status
func SetCircuitInitialized(initialized bool) {
	value := 0.0
	if initialized {
		value = 1.0
	}
	circuitInitialized.WithLabelValues(config.ServiceName).Set(value)
}

// RecordSubmission records a submission attempt outcome.
func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(config.ServiceName, outcome).Inc()
}

// RecordNullifierCheck records the result of a nullifier-uniqueness check.
func RecordNullifierCheck(result string) {
	nullifierChecksTotal.WithLabelValues(config.ServiceName, result).Inc()
}

// SetSubmissionStatusCount sets the current gauge for a submission status bucket.
func SetSubmissionStatusCount(status string, count float64) {
	submissionStatusGauge.WithLabelValues(config.ServiceName, status).Set(count)
}

// RecordWorkerJob records a post-submission worker job outcome and duration.
func RecordWorkerJob(worker, outcome string, duration time.Duration) {
	workerJobsTotal.WithLabelValues(config.ServiceName, worker, outcome).Inc()
	workerJobDuration.WithLabelValues(config.ServiceName, worker).Observe(duration.Seconds())
}

// Handler returns the prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
