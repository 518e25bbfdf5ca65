package workers

import (
	"context"

	"district-relay/backend/pkg/logger"
	"go.uber.org/zap"
)

// queueCapacity bounds in-memory backpressure; a full queue means the
// enqueue is logged and dropped rather than blocking the HTTP response
// (spec §4.7 policy 5: "neither enqueue failure blocks the response").
const queueCapacity = 256

// Queue implements relay.JobEnqueuer over two buffered channels, one per
// worker kind, and owns the goroutines that drain them.
type Queue struct {
	onChain chan string
	teeJobs chan string

	onChainWorker *OnChainWorker
	teeWorker     *TEEDeliveryWorker
}

// NewQueue builds a Queue that dispatches to the given workers.
func NewQueue(onChainWorker *OnChainWorker, teeWorker *TEEDeliveryWorker) *Queue {
	return &Queue{
		onChain:       make(chan string, queueCapacity),
		teeJobs:       make(chan string, queueCapacity),
		onChainWorker: onChainWorker,
		teeWorker:     teeWorker,
	}
}

// EnqueueOnChainVerify schedules submissionID for C8a.
func (q *Queue) EnqueueOnChainVerify(submissionID string) {
	select {
	case q.onChain <- submissionID:
	default:
		logger.Error("on-chain verify queue full, dropping job", zap.String("submission_id", submissionID))
	}
}

// EnqueueTEEDelivery schedules submissionID for C8b.
func (q *Queue) EnqueueTEEDelivery(submissionID string) {
	select {
	case q.teeJobs <- submissionID:
	default:
		logger.Error("tee delivery queue full, dropping job", zap.String("submission_id", submissionID))
	}
}

// Run drains both queues with a configurable number of concurrent workers
// per kind, until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, onChainConcurrency, teeConcurrency int) {
	for i := 0; i < onChainConcurrency; i++ {
		go q.drainOnChain(ctx)
	}
	for i := 0; i < teeConcurrency; i++ {
		go q.drainTEE(ctx)
	}
}

func (q *Queue) drainOnChain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case submissionID := <-q.onChain:
			q.onChainWorker.Process(ctx, submissionID)
		}
	}
}

func (q *Queue) drainTEE(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case submissionID := <-q.teeJobs:
			q.teeWorker.Process(ctx, submissionID)
		}
	}
}
