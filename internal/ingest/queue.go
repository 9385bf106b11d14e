package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when a submission would block.
	ErrQueueFull = errors.New("ingest queue full")
	// ErrQueueClosed is returned for submissions after shutdown started.
	ErrQueueClosed = errors.New("ingest queue closed")
)

// Queue accepts raw footprint payloads for processing. The HTTP handler
// only sees this interface; whether processing is inline or on a worker
// pool is a deployment choice.
type Queue interface {
	Submit(payload map[string]any) error
}

// NewQueue picks the queue implementation from the configured worker
// count. Zero workers means synchronous inline processing, which some
// small deployments prefer for its strict request/response coupling.
func NewQueue(pipeline *Pipeline, workers, size int, logger zerolog.Logger) Queue {
	if workers <= 0 {
		return &InlineQueue{pipeline: pipeline}
	}
	return NewWorkerQueue(pipeline, workers, size, logger)
}

// InlineQueue processes every payload synchronously on the caller's
// goroutine.
type InlineQueue struct {
	pipeline *Pipeline
}

func (q *InlineQueue) Submit(payload map[string]any) error {
	return q.pipeline.Ingest(context.Background(), payload)
}

// WorkerQueue buffers payloads on a channel drained by a fixed worker
// pool. Submissions never block: when the buffer is full the payload is
// rejected and counted, favoring ingest liveness over completeness.
type WorkerQueue struct {
	pipeline *Pipeline
	jobs     chan map[string]any
	workers  int
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewWorkerQueue creates a queue with the given worker count and buffer
// size. Call Run to start the workers.
func NewWorkerQueue(pipeline *Pipeline, workers, size int, logger zerolog.Logger) *WorkerQueue {
	if size < 1 {
		size = 1
	}
	return &WorkerQueue{
		pipeline: pipeline,
		jobs:     make(chan map[string]any, size),
		workers:  workers,
		logger:   logger,
	}
}

// Submit enqueues one payload without blocking.
func (q *WorkerQueue) Submit(payload map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		Metrics().observeRejected()
		return ErrQueueClosed
	}

	select {
	case q.jobs <- payload:
		Metrics().setQueueDepth(len(q.jobs))
		return nil
	default:
		Metrics().observeRejected()
		q.logger.Warn().Int("capacity", cap(q.jobs)).Msg("Ingest queue full, dropping payload")
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until the queue is closed and drained,
// or ctx is cancelled. Pipeline errors are logged, never fatal.
func (q *WorkerQueue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case payload, ok := <-q.jobs:
					if !ok {
						return nil
					}
					Metrics().setQueueDepth(len(q.jobs))
					if err := q.pipeline.Ingest(ctx, payload); err != nil {
						q.logger.Error().Err(err).Int("worker", worker).Msg("Failed to process footprint")
					}
				}
			}
		})
	}

	return g.Wait()
}

// Close stops accepting submissions. Buffered payloads are still drained
// by the workers before Run returns.
func (q *WorkerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
