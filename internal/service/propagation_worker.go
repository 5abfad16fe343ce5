package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shinyyama/referral-backend/internal/metrics"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/reqctx"
)

// Propagator recomputes the upline of a newly joined user. RecomputeAncestors
// retries a subset of that upline after a partial failure.
type Propagator interface {
	OnUserJoined(ctx context.Context, newUserID string) error
	RecomputeAncestors(ctx context.Context, newUserID string, ancestors []string) error
}

// PropagationQueue defers upline propagation out of the join path. Enqueue
// reports false when the job could not be accepted.
type PropagationQueue interface {
	Enqueue(ctx context.Context, userID string) bool
}

type PropagationOptions struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

type propagationJob struct {
	id     string
	userID string
	uid    string
}

// PropagationWorker runs upline propagation on a fixed pool of goroutines.
// A failed job is retried up to MaxAttempts; a job that still fails leaves
// stats stale, never the join itself. A retry after a partial failure only
// recomputes the ancestors that failed, so no ancestor is written twice for
// one join event.
type PropagationWorker struct {
	propagator Propagator
	opts       PropagationOptions
	jobs       chan propagationJob
	wg         sync.WaitGroup
}

func NewPropagationWorker(p Propagator, opts PropagationOptions) *PropagationWorker {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &PropagationWorker{
		propagator: p,
		opts:       opts,
		jobs:       make(chan propagationJob, opts.QueueSize),
	}
}

// Start launches the workers. They exit when ctx is done; Wait blocks until then.
func (w *PropagationWorker) Start(ctx context.Context) {
	log.Printf("[propagation] started %d workers, queue size %d", w.opts.Workers, w.opts.QueueSize)
	for i := 0; i < w.opts.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				if ctx.Err() != nil {
					w.drain()
					return
				}
				select {
				case <-ctx.Done():
					w.drain()
					return
				case job := <-w.jobs:
					metrics.PropagationQueueDepth.Set(float64(len(w.jobs)))
					w.run(ctx, job)
				}
			}
		}()
	}
}

// drain discards jobs still queued at shutdown and counts them as dropped.
func (w *PropagationWorker) drain() int {
	n := 0
	for {
		select {
		case job := <-w.jobs:
			n++
			log.Printf("[propagation] shutdown, dropped job for %s", job.userID)
		default:
			if n > 0 {
				metrics.PropagationJobs.WithLabelValues("dropped").Add(float64(n))
				metrics.PropagationQueueDepth.Set(0)
				log.Printf("[propagation] %d queued job(s) dropped at shutdown; run cmd/recompute to repair stats", n)
			}
			return n
		}
	}
}

func (w *PropagationWorker) Wait() {
	w.wg.Wait()
	log.Println("[propagation] stopped")
}

func (w *PropagationWorker) Enqueue(ctx context.Context, userID string) bool {
	job := propagationJob{id: uuid.NewString(), userID: userID, uid: reqctx.UID(ctx)}
	select {
	case w.jobs <- job:
		metrics.PropagationQueueDepth.Set(float64(len(w.jobs)))
		return true
	default:
		metrics.PropagationJobs.WithLabelValues("dropped").Inc()
		log.Printf("[propagation] queue full, dropped job for %s", userID)
		return false
	}
}

func (w *PropagationWorker) run(ctx context.Context, job propagationJob) {
	ctx = reqctx.WithJobID(ctx, job.id)
	if job.uid != "" {
		ctx = reqctx.WithUID(ctx, job.uid)
	}
	// pending is nil until an attempt fails part way; then it holds the
	// ancestors still to recompute.
	var pending []string
	for attempt := 1; ; attempt++ {
		start := time.Now()
		var err error
		if pending == nil {
			err = w.propagator.OnUserJoined(ctx, job.userID)
		} else {
			err = w.propagator.RecomputeAncestors(ctx, job.userID, pending)
		}
		metrics.PropagationDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.PropagationJobs.WithLabelValues("ok").Inc()
			return
		}
		var pe *referral.PropagationError
		if errors.As(err, &pe) {
			pending = pe.FailedIDs()
		}
		if errors.Is(err, context.Canceled) || attempt >= w.opts.MaxAttempts {
			metrics.PropagationJobs.WithLabelValues("failed").Inc()
			log.Printf("[propagation] job=%s user=%s gave up after %d attempt(s): %v", job.id, job.userID, attempt, err)
			return
		}
		metrics.PropagationJobs.WithLabelValues("retried").Inc()
		log.Printf("[propagation] job=%s user=%s attempt %d failed, retrying: %v", job.id, job.userID, attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.RetryDelay):
		}
	}
}

// InlinePropagation runs propagation synchronously. Used by batch commands
// where there is no request latency to protect.
type InlinePropagation struct {
	Propagator Propagator
}

func (p InlinePropagation) Enqueue(ctx context.Context, userID string) bool {
	ctx = reqctx.WithJobID(ctx, uuid.NewString())
	if err := p.Propagator.OnUserJoined(ctx, userID); err != nil {
		log.Printf("[propagation] inline job=%s user=%s failed: %v", reqctx.JobID(ctx), userID, err)
	}
	return true
}
